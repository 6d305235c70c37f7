package service

import (
	"errors"
	"fmt"
)

// Kind classifies service failures. The set is closed; HTTP handlers map
// each kind to one status code.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindDuplicateUsername
	KindInvalidCredentials
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindStorage
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicateUsername:
		return "duplicate username"
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindStorage:
		return "storage"
	case KindRateLimited:
		return "rate limited"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Each matches any *Error of the same kind.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrDuplicateUsername  = &Error{Kind: KindDuplicateUsername}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrStorage            = &Error{Kind: KindStorage}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
)

// Error is returned by every exported service operation. Msg is safe to show
// to clients; Err carries the underlying cause for logs and is never shown.
type Error struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Message is the client-facing text.
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// LoginThrottled reports a login refused because the caller used up its
// failed-attempt budget.
func LoginThrottled(op string) *Error {
	return newError(op, KindRateLimited, "too many failed login attempts, try again later", nil)
}

func newError(op string, kind Kind, msg string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg, Err: cause}
}

func storageError(op string, cause error) *Error {
	return &Error{Op: op, Kind: KindStorage, Msg: "storage unavailable", Err: cause}
}
