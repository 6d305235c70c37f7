package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameTaken   = errors.New("username already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session token already exists")
	ErrValueTooLong    = errors.New("value too long for column")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgStringTooLong       = "22001"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// SafeToRetry reports a failure that happened before any part of the
// statement was sent, so repeating it cannot apply a write twice.
func SafeToRetry(err error) bool {
	return pgconn.SafeToRetry(err)
}

// IsPermanent reports errors that retrying cannot fix.
func IsPermanent(err error) bool {
	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionExists),
		errors.Is(err, ErrValueTooLong):
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// constraint and syntax classes
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "23" || pgErr.Code[:2] == "42" || pgErr.Code[:2] == "22")
	}
	return false
}
