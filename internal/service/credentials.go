package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"progkeeper/api/internal/models"
	"progkeeper/api/internal/repository"
	"progkeeper/api/internal/security"
)

// UserRepository is the persistence the credential and session stores need.
type UserRepository interface {
	Create(ctx context.Context, user models.User) (int64, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	GetByID(ctx context.Context, id int64) (models.User, error)
	MarkDeleted(ctx context.Context, id int64) error
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9._-]{1,50}$`)

// NormalizeUsername trims and lower-cases a username. It does not validate.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidateUsername checks an already normalized username.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 1 to 50 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

type CredentialStore struct {
	users      UserRepository
	bcryptCost int
	retry      RetryPolicy
	log        zerolog.Logger
}

func NewCredentialStore(users UserRepository, bcryptCost int, retry RetryPolicy, log zerolog.Logger) *CredentialStore {
	return &CredentialStore{
		users:      users,
		bcryptCost: bcryptCost,
		retry:      retry,
		log:        log,
	}
}

func (s *CredentialStore) HashPassword(password string) ([]byte, error) {
	const op = "credentials.HashPassword"
	hash, err := security.HashPassword(password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, security.ErrPasswordLength) || errors.Is(err, security.ErrPasswordBytes) {
			return nil, newError(op, KindValidation, err.Error(), err)
		}
		return nil, newError(op, KindUnknown, "could not hash password", err)
	}
	return hash, nil
}

func (s *CredentialStore) VerifyPassword(password string, hash []byte) (bool, error) {
	ok, err := security.VerifyPassword(password, hash)
	if err != nil {
		return false, newError("credentials.VerifyPassword", KindValidation, "stored password hash is malformed", err)
	}
	return ok, nil
}

// CreateUser registers a new account and returns its id. A nil or blank
// nickname defaults to the trimmed username as typed.
func (s *CredentialStore) CreateUser(ctx context.Context, username, password string, nickname *string) (int64, error) {
	const op = "credentials.CreateUser"

	display := strings.TrimSpace(username)
	normalized := NormalizeUsername(username)
	if err := ValidateUsername(normalized); err != nil {
		return 0, newError(op, KindValidation, err.Error(), nil)
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) {
			serr.Op = op
		}
		return 0, err
	}

	if nickname != nil {
		if trimmed := strings.TrimSpace(*nickname); trimmed != "" {
			display = trimmed
		}
	}
	if utf8.RuneCountInString(display) > models.MaxNicknameLength {
		return 0, newError(op, KindValidation, fmt.Sprintf("nickname must be at most %d characters", models.MaxNicknameLength), nil)
	}

	user := models.User{
		Username:     normalized,
		PasswordHash: hash,
		Nickname:     &display,
	}

	// a lost commit acknowledgement would come back as a duplicate on retry
	id, err := retryUnsent(ctx, s.retry, func(ctx context.Context) (int64, error) {
		return s.users.Create(ctx, user)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUsernameTaken):
			return 0, newError(op, KindDuplicateUsername, "username already exists", err)
		case errors.Is(err, repository.ErrValueTooLong):
			return 0, newError(op, KindValidation, "nickname is too long", err)
		}
		return 0, storageError(op, err)
	}

	s.log.Info().Int64("user_id", id).Str("username", normalized).Msg("user created")
	return id, nil
}

// GetUser returns a live account. Deleted accounts are reported as missing.
func (s *CredentialStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	const op = "credentials.GetUser"

	user, err := retry(ctx, s.retry, func(ctx context.Context) (models.User, error) {
		return s.users.GetByID(ctx, id)
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, newError(op, KindNotFound, "user not found", err)
		}
		return models.User{}, storageError(op, err)
	}
	if user.Deleted {
		return models.User{}, newError(op, KindNotFound, "user not found", nil)
	}
	return user, nil
}

// DeleteUser soft-deletes the account. The username stays reserved.
func (s *CredentialStore) DeleteUser(ctx context.Context, id int64) error {
	const op = "credentials.DeleteUser"

	_, err := retry(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.users.MarkDeleted(ctx, id)
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return newError(op, KindNotFound, "user not found", err)
		}
		return storageError(op, err)
	}

	s.log.Info().Int64("user_id", id).Msg("user deleted")
	return nil
}

// lookup finds a live account by normalized username.
func (s *CredentialStore) lookup(ctx context.Context, username string) (models.User, error) {
	return retry(ctx, s.retry, func(ctx context.Context) (models.User, error) {
		return s.users.FindByUsername(ctx, username)
	})
}
