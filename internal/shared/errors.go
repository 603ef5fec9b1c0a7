package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition indicates the request was rejected before any write.
	ErrPrecondition = errors.New("precondition violated")
	// ErrConflict indicates a uniqueness race lost against the store. Retryable.
	ErrConflict = errors.New("integrity conflict")
	// ErrForbidden indicates the actor lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Error carries a human readable reason together with its taxonomy kind.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// Unwrap exposes the kind so callers can use errors.Is(err, shared.ErrNotFound).
func (e *Error) Unwrap() error {
	return e.Kind
}

// NotFound builds an ErrNotFound error with a reason.
func NotFound(reason string) error {
	return &Error{Kind: ErrNotFound, Reason: reason}
}

// Precondition builds an ErrPrecondition error with a reason.
func Precondition(reason string) error {
	return &Error{Kind: ErrPrecondition, Reason: reason}
}

// Conflict builds an ErrConflict error with a reason.
func Conflict(reason string) error {
	return &Error{Kind: ErrConflict, Reason: reason}
}

// Forbidden builds an ErrForbidden error with a reason.
func Forbidden(reason string) error {
	return &Error{Kind: ErrForbidden, Reason: reason}
}

// IsRetryable reports whether the caller may retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
