package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"progkeeper/api/internal/config"
	"progkeeper/api/internal/models"
	"progkeeper/api/internal/repository"
	"progkeeper/api/internal/security"
)

type SessionRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, session models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	Refresh(ctx context.Context, id, ip string, now, expiry time.Time, maxIPs int) (models.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Session, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

var errTokenExhausted = errors.New("no unused session token after bounded attempts")

// SessionInfo is the owner's view of a session. The token is cut to a
// prefix so listings never hand out live credentials.
type SessionInfo struct {
	TokenPrefix string
	Expiry      time.Time
	CreatedAt   time.Time
	IPAudit     []string
	Active      bool
}

type SessionOption func(*SessionStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionStore) { s.now = now }
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(gen func(n int) (string, error)) SessionOption {
	return func(s *SessionStore) { s.newToken = gen }
}

type SessionStore struct {
	creds         *CredentialStore
	sessions      SessionRepository
	ttl           time.Duration
	tokenBytes    int
	tokenAttempts int
	maxIPAudit    int
	retry         RetryPolicy
	log           zerolog.Logger

	now      func() time.Time
	newToken func(n int) (string, error)

	dummyOnce sync.Once
	dummyHash []byte
}

func NewSessionStore(
	creds *CredentialStore,
	sessions SessionRepository,
	cfg config.SessionConfig,
	retry RetryPolicy,
	log zerolog.Logger,
	opts ...SessionOption,
) *SessionStore {
	s := &SessionStore{
		creds:         creds,
		sessions:      sessions,
		ttl:           cfg.TTL,
		tokenBytes:    cfg.TokenBytes,
		tokenAttempts: cfg.TokenAttempts,
		maxIPAudit:    cfg.MaxIPAudit,
		retry:         retry,
		log:           log,
		now:           time.Now,
		newToken:      security.GenerateSessionToken,
	}
	if s.tokenAttempts < 1 {
		s.tokenAttempts = 1
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateToken returns a fresh token not currently present in storage.
// The check is advisory; the primary key decides on insert.
func (s *SessionStore) GenerateToken(ctx context.Context) (string, error) {
	const op = "sessions.GenerateToken"

	for attempt := 0; attempt < s.tokenAttempts; attempt++ {
		token, err := s.newToken(s.tokenBytes)
		if err != nil {
			return "", newError(op, KindUnknown, "could not generate token", err)
		}
		exists, err := retry(ctx, s.retry, func(ctx context.Context) (bool, error) {
			return s.sessions.Exists(ctx, token)
		})
		if err != nil {
			return "", storageError(op, err)
		}
		if !exists {
			return token, nil
		}
		s.log.Warn().Str("token_prefix", security.TokenPrefix(token)).Msg("session token collision, regenerating")
	}
	return "", storageError(op, errTokenExhausted)
}

// CreateSession logs a user in and returns the new token with its stored
// expiry. Unknown users and wrong passwords fail with the same error after the
// same amount of hashing work.
func (s *SessionStore) CreateSession(ctx context.Context, username, password, ip string) (string, time.Time, error) {
	const op = "sessions.CreateSession"
	invalid := newError(op, KindInvalidCredentials, "invalid username or password", nil)

	normalized := NormalizeUsername(username)
	if ValidateUsername(normalized) != nil {
		s.burnDummyHash(password)
		return "", time.Time{}, invalid
	}

	user, err := s.creds.lookup(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.burnDummyHash(password)
			return "", time.Time{}, invalid
		}
		return "", time.Time{}, storageError(op, err)
	}

	ok, err := s.creds.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", user.ID).Msg("stored password hash is unreadable")
		return "", time.Time{}, invalid
	}
	if !ok {
		return "", time.Time{}, invalid
	}

	for attempt := 0; attempt < s.tokenAttempts; attempt++ {
		token, err := s.GenerateToken(ctx)
		if err != nil {
			var serr *Error
			if errors.As(err, &serr) {
				serr.Op = op
			}
			return "", time.Time{}, err
		}

		session := models.Session{
			ID:      token,
			UserID:  user.ID,
			Expiry:  s.now().Add(s.ttl),
			IPAudit: ipAudit(ip),
		}
		_, err = retry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.sessions.Create(ctx, session)
		})
		switch {
		case err == nil:
			s.log.Info().
				Int64("user_id", user.ID).
				Str("token_prefix", security.TokenPrefix(token)).
				Str("ip", ip).
				Msg("session created")
			return token, session.Expiry, nil
		case errors.Is(err, repository.ErrSessionExists):
			continue
		case errors.Is(err, repository.ErrUserNotFound):
			// account removed between lookup and insert
			return "", time.Time{}, invalid
		default:
			return "", time.Time{}, storageError(op, err)
		}
	}
	return "", time.Time{}, storageError(op, errTokenExhausted)
}

// Validate reports whether token names a live session. It never extends it.
func (s *SessionStore) Validate(ctx context.Context, token string) (bool, error) {
	if !security.WellFormedToken(token) {
		return false, nil
	}
	session, err := retry(ctx, s.retry, func(ctx context.Context) (models.Session, error) {
		return s.sessions.GetByID(ctx, token)
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, nil
		}
		return false, storageError("sessions.Validate", err)
	}
	return session.Active(s.now()), nil
}

// Refresh slides a live session forward by the TTL and records ip. It
// returns false for unknown or already expired tokens.
func (s *SessionStore) Refresh(ctx context.Context, token, ip string) (bool, error) {
	_, ok, err := s.refresh(ctx, token, ip)
	return ok, err
}

func (s *SessionStore) refresh(ctx context.Context, token, ip string) (models.Session, bool, error) {
	if !security.WellFormedToken(token) {
		return models.Session{}, false, nil
	}
	now := s.now()
	session, err := retry(ctx, s.retry, func(ctx context.Context) (models.Session, error) {
		return s.sessions.Refresh(ctx, token, ip, now, now.Add(s.ttl), s.maxIPAudit)
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return models.Session{}, false, nil
		}
		return models.Session{}, false, storageError("sessions.Refresh", err)
	}
	return session, true, nil
}

// Revoke deletes the session and returns its token, or "" when there was
// nothing to delete.
func (s *SessionStore) Revoke(ctx context.Context, token string) (string, error) {
	if !security.WellFormedToken(token) {
		return "", nil
	}
	_, err := retry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.sessions.DeleteByID(ctx, token)
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "", nil
		}
		return "", storageError("sessions.Revoke", err)
	}
	s.log.Info().Str("token_prefix", security.TokenPrefix(token)).Msg("session revoked")
	return token, nil
}

func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	n, err := retry(ctx, s.retry, func(ctx context.Context) (int64, error) {
		return s.sessions.DeleteByUser(ctx, userID)
	})
	if err != nil {
		return 0, storageError("sessions.RevokeAllForUser", err)
	}
	s.log.Info().Int64("user_id", userID).Int64("count", n).Msg("sessions revoked")
	return n, nil
}

// RevokeAllForToken revokes every session of the token's owner. An unknown
// token revokes nothing.
func (s *SessionStore) RevokeAllForToken(ctx context.Context, token string) (int64, error) {
	owner, err := s.ResolveOwner(ctx, token)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return 0, nil
		}
		return 0, err
	}
	return s.RevokeAllForUser(ctx, owner)
}

// ResolveOwner maps a token to its user. Expired sessions still resolve;
// callers needing liveness call Validate first.
func (s *SessionStore) ResolveOwner(ctx context.Context, token string) (int64, error) {
	const op = "sessions.ResolveOwner"
	if !security.WellFormedToken(token) {
		return 0, newError(op, KindNotFound, "session not found", nil)
	}
	session, err := retry(ctx, s.retry, func(ctx context.Context) (models.Session, error) {
		return s.sessions.GetByID(ctx, token)
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return 0, newError(op, KindNotFound, "session not found", err)
		}
		return 0, storageError(op, err)
	}
	return session.UserID, nil
}

func (s *SessionStore) ListSessions(ctx context.Context, userID int64) ([]SessionInfo, error) {
	sessions, err := retry(ctx, s.retry, func(ctx context.Context) ([]models.Session, error) {
		return s.sessions.ListByUser(ctx, userID)
	})
	if err != nil {
		return nil, storageError("sessions.ListSessions", err)
	}

	now := s.now()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			TokenPrefix: security.TokenPrefix(sess.ID),
			Expiry:      sess.Expiry,
			CreatedAt:   sess.CreatedAt,
			IPAudit:     sess.IPAudit,
			Active:      sess.Active(now),
		})
	}
	return out, nil
}

// PruneExpired removes sessions that expired at or before now. Expiry is
// enforced on every read, so this only reclaims space.
func (s *SessionStore) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := retry(ctx, s.retry, func(ctx context.Context) (int64, error) {
		return s.sessions.DeleteExpired(ctx, now)
	})
	if err != nil {
		return 0, storageError("sessions.PruneExpired", err)
	}
	return n, nil
}

// burnDummyHash spends one bcrypt comparison so failed lookups take as long
// as wrong passwords.
func (s *SessionStore) burnDummyHash(password string) {
	s.dummyOnce.Do(func() {
		hash, err := security.HashPassword("progkeeper-dummy-password", s.creds.bcryptCost)
		if err != nil {
			s.log.Error().Err(err).Msg("dummy hash generation failed")
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != nil {
		_, _ = security.VerifyPassword(password, s.dummyHash)
	}
}

func ipAudit(ip string) []string {
	if ip == "" {
		return []string{}
	}
	return []string{ip}
}
