package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Match with errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limited")
)

const (
	KindValidation   = "validation"
	KindNotFound     = "not_found"
	KindForbidden    = "forbidden"
	KindInvalidState = "invalid_state"
	KindConflict     = "conflict"
	KindRateLimited  = "rate_limited"
	KindInternal     = "internal"
)

// Error carries a caller-facing message together with its kind.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.kind }

func newError(kind error, format string, args ...interface{}) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...interface{}) error {
	return newError(ErrValidation, format, args...)
}

func NotFoundf(format string, args ...interface{}) error {
	return newError(ErrNotFound, format, args...)
}

func Forbiddenf(format string, args ...interface{}) error {
	return newError(ErrForbidden, format, args...)
}

func InvalidStatef(format string, args ...interface{}) error {
	return newError(ErrInvalidState, format, args...)
}

func Conflictf(format string, args ...interface{}) error {
	return newError(ErrConflict, format, args...)
}

func RateLimitedf(format string, args ...interface{}) error {
	return newError(ErrRateLimited, format, args...)
}

// Kind maps an error to its stable kind name. Anything outside the
// taxonomy is internal.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}
