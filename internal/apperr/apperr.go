// Package apperr defines the error kinds that cross the service boundary.
// Handlers map a Kind to an HTTP status; the Message is safe to show to a
// client, the Cause is only ever logged.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	Duplicate
	Auth
	NotFound
	InsufficientFunds
	InsufficientShares
	Decryption
	Unavailable // an upstream service did not answer
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Duplicate:
		return "duplicate"
	case Auth:
		return "auth"
	case NotFound:
		return "not_found"
	case InsufficientFunds:
		return "insufficient_funds"
	case InsufficientShares:
		return "insufficient_shares"
	case Decryption:
		return "decryption"
	case Unavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on kind, e.g. errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind-only targets for errors.Is.
var (
	ErrValidation         = &Error{Kind: Validation}
	ErrDuplicate          = &Error{Kind: Duplicate}
	ErrAuth               = &Error{Kind: Auth}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrInsufficientFunds  = &Error{Kind: InsufficientFunds}
	ErrInsufficientShares = &Error{Kind: InsufficientShares}
	ErrDecryption         = &Error{Kind: Decryption}
	ErrUnavailable        = &Error{Kind: Unavailable}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validationf(format string, args ...interface{}) *Error {
	return &Error{Kind: Validation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

// Internalf wraps an unexpected failure. The message is kept for logs; clients
// only ever see a generic text.
func Internalf(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: Internal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Internal {
		return e.Message
	}
	return "internal server error"
}
