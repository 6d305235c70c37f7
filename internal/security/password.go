package security

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	PasswordMinLength = 6
	PasswordMaxLength = 72
)

var (
	ErrPasswordLength = errors.New("password must be between 6 and 72 characters long")
	ErrPasswordBytes  = errors.New("password must not exceed 72 bytes")
	ErrMalformedHash  = errors.New("malformed password hash")
)

// ValidatePassword enforces the length bounds imposed by bcrypt, counted in
// characters and additionally capped at bcrypt's 72 byte input limit.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < PasswordMinLength || n > PasswordMaxLength {
		return ErrPasswordLength
	}
	if len(password) > PasswordMaxLength {
		return ErrPasswordBytes
	}
	return nil
}

func HashPassword(password string, cost int) ([]byte, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// VerifyPassword returns (false, nil) on mismatch and ErrMalformedHash when
// the stored hash cannot be parsed.
func VerifyPassword(password string, hash []byte) (bool, error) {
	if _, err := bcrypt.Cost(hash); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if len(password) > PasswordMaxLength {
		// never hashed, so it cannot match
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}
