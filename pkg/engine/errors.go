package engine

import (
	"errors"
	"net/http"
)

// Kind classifies a failure. Transports map a Kind to their own status space
// instead of inspecting message text.
type Kind string

const (
	KindInternal        Kind = "INTERNAL"
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindNotFound        Kind = "NOT_FOUND"
	KindAlreadyShared   Kind = "ALREADY_SHARED"
	KindValidation      Kind = "VALIDATION"
)

// HTTPStatus returns the REST status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyShared, KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is the tagged error type used across the board.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind and message, so a sentinel rebuilt from
// a response body still matches. Use KindOf to match on kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind && e.Message == t.Message
	}
	return false
}

// NewError creates an error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var (
	// ErrUnauthenticated is returned for any missing, malformed, expired or unresolvable credential.
	ErrUnauthenticated = NewError(KindUnauthenticated, "authentication failed")
	// ErrForbidden is returned when the caller is neither owner nor collaborator.
	ErrForbidden = NewError(KindForbidden, "you do not have permission to access this canvas")
	// ErrCanvasNotFound is returned when a canvas id does not exist.
	ErrCanvasNotFound = NewError(KindNotFound, "canvas not found")
	// ErrPrincipalNotFound is returned when an id or email resolves to no principal.
	ErrPrincipalNotFound = NewError(KindNotFound, "user not found")
	// ErrAlreadyShared is returned when the target already has access.
	ErrAlreadyShared = NewError(KindAlreadyShared, "user is already shared with this canvas")
	// ErrPrincipalExists is returned when registering a duplicate email.
	ErrPrincipalExists = NewError(KindValidation, "email is already registered")
)
