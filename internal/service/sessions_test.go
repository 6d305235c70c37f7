package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"progkeeper/api/internal/models"
)

func TestSessionScenarios(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 1: register and log in case-insensitively
	uid, err := env.creds.CreateUser(ctx, "Alice123", "secret1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), uid)

	tok, _, err := env.sessions.CreateSession(ctx, "alice123", "secret1", "1.2.3.4")
	require.NoError(t, err)
	ok, err := env.sessions.Validate(ctx, tok)
	require.NoError(t, err)
	assert.True(t, ok)

	// 2: wrong password
	_, _, err = env.sessions.CreateSession(ctx, "alice123", "wrong-pass", "1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// 3: refresh from a new address
	ok, err = env.sessions.Refresh(ctx, tok, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.8"}, env.session(t, tok).IPAudit)

	// 4: revoke is idempotent
	revoked, err := env.sessions.Revoke(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, tok, revoked)
	ok, err = env.sessions.Validate(ctx, tok)
	require.NoError(t, err)
	assert.False(t, ok)
	revoked, err = env.sessions.Revoke(ctx, tok)
	require.NoError(t, err)
	assert.Empty(t, revoked)

	// 5: three logins, one revoke-all
	var tokens []string
	for i := 0; i < 3; i++ {
		tokens = append(tokens, env.mustLogin(t, "alice123", "secret1", "1.2.3.4"))
	}
	n, err := env.sessions.RevokeAllForUser(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	for _, tk := range tokens {
		ok, err := env.sessions.Validate(ctx, tk)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestCreateSession_UnknownUserMatchesWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreateUser(t, "alice", "secret1")

	_, _, errUnknown := env.sessions.CreateSession(ctx, "mallory", "secret1", "")
	_, _, errWrong := env.sessions.CreateSession(ctx, "alice", "nope-nope", "")
	_, _, errBadName := env.sessions.CreateSession(ctx, "not valid!", "secret1", "")

	for _, err := range []error{errUnknown, errWrong, errBadName} {
		require.ErrorIs(t, err, ErrInvalidCredentials)
		var serr *Error
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, "invalid username or password", serr.Message())
	}
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestCreateSession_SessionsAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "secret1")

	t1 := env.mustLogin(t, "alice", "secret1", "1.1.1.1")
	t2 := env.mustLogin(t, "alice", "secret1", "2.2.2.2")
	assert.NotEqual(t, t1, t2)

	_, err := env.sessions.Revoke(context.Background(), t1)
	require.NoError(t, err)

	ok, err := env.sessions.Validate(context.Background(), t2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateSession_SetsExpiryAndAudit(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "secret1")

	tok := env.mustLogin(t, "alice", "secret1", "9.9.9.9")
	s := env.session(t, tok)
	assert.Equal(t, env.clock.Now().Add(14*24*time.Hour), s.Expiry)
	assert.Equal(t, []string{"9.9.9.9"}, s.IPAudit)
	assert.Len(t, tok, 64)
}

func TestGenerateToken_RegeneratesOnCollision(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	fixed := strings.Repeat("ab", 32)
	gen := func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return fixed, nil
		}
		return fmt.Sprintf("%064x", calls), nil
	}
	env := newTestEnv(t, WithTokenSource(gen))
	uid := env.mustCreateUser(t, "alice", "secret1")
	require.NoError(t, env.store.Sessions().Create(context.Background(), models.Session{ID: fixed, UserID: uid, Expiry: env.clock.Now().Add(time.Hour)}))

	tok, err := env.sessions.GenerateToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, fixed, tok)
	assert.Equal(t, 3, calls)
}

func TestGenerateToken_GivesUpAfterBoundedAttempts(t *testing.T) {
	fixed := strings.Repeat("cd", 32)
	env := newTestEnv(t, WithTokenSource(func(int) (string, error) { return fixed, nil }))
	uid := env.mustCreateUser(t, "alice", "secret1")
	require.NoError(t, env.store.Sessions().Create(context.Background(), models.Session{ID: fixed, UserID: uid, Expiry: env.clock.Now().Add(time.Hour)}))

	_, err := env.sessions.GenerateToken(context.Background())
	assert.ErrorIs(t, err, ErrStorage)

	_, _, err = env.sessions.CreateSession(context.Background(), "alice", "secret1", "")
	assert.ErrorIs(t, err, ErrStorage)
}

// collidingExists hides existing rows from the pre-check so the insert is
// the one that detects the collision.
type collidingExists struct {
	SessionRepository
}

func (collidingExists) Exists(context.Context, string) (bool, error) { return false, nil }

func TestCreateSession_InsertCollisionRegenerates(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	fixed := strings.Repeat("ef", 32)
	gen := func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return fixed, nil
		}
		return fmt.Sprintf("%064x", calls), nil
	}
	env := newTestEnvWith(t, func(r SessionRepository) SessionRepository { return collidingExists{r} }, WithTokenSource(gen))
	uid := env.mustCreateUser(t, "alice", "secret1")
	require.NoError(t, env.store.Sessions().Create(context.Background(), models.Session{ID: fixed, UserID: uid, Expiry: env.clock.Now().Add(time.Hour)}))

	tok := env.mustLogin(t, "alice", "secret1", "")
	assert.NotEqual(t, fixed, tok)
}

func TestGenerateToken_ConcurrentUniqueness(t *testing.T) {
	env := newTestEnv(t)

	const total = 10000
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, total)
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(64)
	for i := 0; i < total; i++ {
		g.Go(func() error {
			tok, err := env.sessions.GenerateToken(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[tok]; dup {
				return fmt.Errorf("duplicate token %s", tok)
			}
			seen[tok] = struct{}{}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, total)
}

func TestRefresh_NeverDecreasesExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "secret1")
	tok := env.mustLogin(t, "alice", "secret1", "1.1.1.1")
	ctx := context.Background()

	prev := env.session(t, tok).Expiry
	for i := 0; i < 5; i++ {
		env.clock.Advance(time.Hour)
		ok, err := env.sessions.Refresh(ctx, tok, "1.1.1.1")
		require.NoError(t, err)
		require.True(t, ok)

		cur := env.session(t, tok).Expiry
		assert.False(t, cur.Before(prev))
		assert.Equal(t, env.clock.Now().Add(14*24*time.Hour), cur)
		prev = cur
	}

	// a refresh computed against an earlier clock holds expiry
	slow := NewSessionStore(env.creds, env.store.Sessions(), testSessionConfig, fastRetry, env.sessions.log,
		WithClock(func() time.Time { return env.clock.Now().Add(-3 * time.Hour) }))
	ok, err := slow.Refresh(ctx, tok, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, prev, env.session(t, tok).Expiry)
}

func TestExpiredSessionIsNotRevived(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "secret1")
	tok := env.mustLogin(t, "alice", "secret1", "1.1.1.1")
	ctx := context.Background()

	env.clock.Advance(14*24*time.Hour + time.Second)

	ok, err := env.sessions.Validate(ctx, tok)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.sessions.Refresh(ctx, tok, "2.2.2.2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"1.1.1.1"}, env.session(t, tok).IPAudit)

	// expired rows still resolve to their owner
	owner, err := env.sessions.ResolveOwner(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, int64(1), owner)
}

func TestExpiryBoundaryIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "secret1")
	tok := env.mustLogin(t, "alice", "secret1", "")

	env.clock.Advance(14 * 24 * time.Hour)
	ok, err := env.sessions.Validate(context.Background(), tok)
	require.NoError(t, err)
	assert.False(t, ok, "expiry == now is expired")
}

func TestRefresh_ConcurrentAddressesAccumulate(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "secret1")
	tok := env.mustLogin(t, "alice", "secret1", "10.0.0.0")

	var g errgroup.Group
	for i := 1; i <= 20; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i)
		g.Go(func() error {
			_, err := env.sessions.Refresh(context.Background(), tok, ip)
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, env.session(t, tok).IPAudit, 21)
}

func TestRefresh_IPAuditIsCapped(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "secret1")
	tok := env.mustLogin(t, "alice", "secret1", "ip-0")

	for i := 1; i <= 70; i++ {
		_, err := env.sessions.Refresh(context.Background(), tok, fmt.Sprintf("ip-%d", i))
		require.NoError(t, err)
	}
	audit := env.session(t, tok).IPAudit
	require.Len(t, audit, 64)
	assert.Equal(t, "ip-7", audit[0])
	assert.Equal(t, "ip-70", audit[63])
}

func TestRevokeAllForUser_OnlyOwnSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.mustCreateUser(t, "alice", "secret1")
	env.mustCreateUser(t, "bob", "secret1")

	env.mustLogin(t, "alice", "secret1", "")
	env.mustLogin(t, "alice", "secret1", "")
	bobTok := env.mustLogin(t, "bob", "secret1", "")

	n, err := env.sessions.RevokeAllForUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ok, err := env.sessions.Validate(ctx, bobTok)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = env.sessions.RevokeAllForUser(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRevokeAllForToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreateUser(t, "alice", "secret1")
	t1 := env.mustLogin(t, "alice", "secret1", "")
	env.mustLogin(t, "alice", "secret1", "")

	n, err := env.sessions.RevokeAllForToken(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = env.sessions.RevokeAllForToken(ctx, t1)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.sessions.RevokeAllForToken(ctx, "garbage")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResolveOwner_Unknown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sessions.ResolveOwner(context.Background(), strings.Repeat("0", 64))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.sessions.ResolveOwner(context.Background(), "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions_HidesTokens(t *testing.T) {
	env := newTestEnv(t)
	uid := env.mustCreateUser(t, "alice", "secret1")
	tok := env.mustLogin(t, "alice", "secret1", "1.1.1.1")
	env.mustLogin(t, "alice", "secret1", "2.2.2.2")

	list, err := env.sessions.ListSessions(context.Background(), uid)
	require.NoError(t, err)
	require.Len(t, list, 2)

	var prefixes []string
	for _, s := range list {
		assert.Len(t, s.TokenPrefix, 8)
		assert.True(t, s.Active)
		prefixes = append(prefixes, s.TokenPrefix)
	}
	assert.Contains(t, prefixes, tok[:8])
}

func TestPruneExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustCreateUser(t, "alice", "secret1")
	old := env.mustLogin(t, "alice", "secret1", "")

	env.clock.Advance(10 * 24 * time.Hour)
	fresh := env.mustLogin(t, "alice", "secret1", "")

	env.clock.Advance(5 * 24 * time.Hour)
	n, err := env.sessions.PruneExpired(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = env.sessions.ResolveOwner(ctx, old)
	assert.ErrorIs(t, err, ErrNotFound)
	ok, err := env.sessions.Validate(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorageFailures(t *testing.T) {
	t.Run("transient failures are retried", func(t *testing.T) {
		env := newTestEnvWith(t, func(r SessionRepository) SessionRepository {
			return &failingSessions{SessionRepository: r, err: errors.New("conn reset"), failures: 2}
		})
		env.mustCreateUser(t, "alice", "secret1")
		tok := env.mustLogin(t, "alice", "secret1", "")

		ok, err := env.sessions.Validate(context.Background(), tok)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("exhausted retries surface as storage errors", func(t *testing.T) {
		env := newTestEnvWith(t, func(r SessionRepository) SessionRepository {
			return &failingSessions{SessionRepository: r, err: errors.New("db down"), failures: -1}
		})
		env.mustCreateUser(t, "alice", "secret1")

		_, _, err := env.sessions.CreateSession(context.Background(), "alice", "secret1", "")
		assert.ErrorIs(t, err, ErrStorage)

		_, err = env.sessions.Validate(context.Background(), strings.Repeat("a", 64))
		assert.ErrorIs(t, err, ErrStorage)
		assert.Equal(t, KindStorage, KindOf(err))
	})
}

func TestCreateSession_ReturnsStoredExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "secret1")

	tok, expiry, err := env.sessions.CreateSession(context.Background(), "alice", "secret1", "")
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(testSessionConfig.TTL), expiry)
	assert.True(t, expiry.Equal(env.session(t, tok).Expiry))

	_, expiry, err = env.sessions.CreateSession(context.Background(), "alice", "wrong-pass", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, expiry.IsZero())
}
