// Package fault defines the error taxonomy shared by services, bulk
// processors, and the HTTP error mapper.
package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies an error for callers and for the HTTP boundary.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindInvalidState  Kind = "invalid_state"
	KindExpired       Kind = "expired"
	KindConflict      Kind = "conflict"
	KindAuthorization Kind = "authorization"
	KindRateLimited   Kind = "rate_limited"
	KindDependency    Kind = "dependency"
	KindInternal      Kind = "internal"
)

// Error carries a Kind alongside a caller-facing message.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// Message returns the caller-facing message without the cause chain.
func (e *Error) Message() string { return e.message }

// KindOf walks the error chain and returns the first tagged kind.
// Untagged storage errors are classified by their well-known sentinels;
// anything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.kind
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return KindNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return KindConflict
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDependency
	}
	return KindInternal
}

// Message returns the caller-facing message for err. Internal and dependency
// errors get a generic message so storage details never leak into bulk
// failure reports or API responses.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.message
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "not found"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "conflict"
	}
	switch KindOf(err) {
	case KindInternal, KindDependency:
		return "internal error"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "internal error"
	}
	return msg
}
