package shared

import "errors"

// Error classes. Every domain error wraps exactly one of these so the
// transport layer can pick a status code without knowing the domain.
var (
	// ErrAuthentication indicates a missing, malformed or expired credential.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization indicates the caller is known but not allowed.
	ErrAuthorization = errors.New("not authorized")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input or a unique key conflict.
	ErrValidation = errors.New("validation failed")
	// ErrSystem indicates a storage or connectivity failure.
	ErrSystem = errors.New("system error")
)

// ErrInvalidCredentials indicates login failure.
var ErrInvalidCredentials = NewError(ErrAuthentication, "Invalid credentials")

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// NewError creates a sentinel that matches both itself and kind with errors.Is.
func NewError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Kind returns the error class of err, defaulting to ErrSystem.
func Kind(err error) error {
	for _, kind := range []error{ErrAuthentication, ErrAuthorization, ErrNotFound, ErrValidation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrSystem
}
