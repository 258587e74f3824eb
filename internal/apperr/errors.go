// Package apperr defines the error taxonomy shared by the GoChat relay
// components. Callers wrap these sentinels with fmt.Errorf("%w: ...") and
// classify failures with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks missing or malformed input. The request is rejected
	// before any side effect happens.
	ErrValidation = errors.New("validation error")

	// ErrAuth is the parent of every session credential failure.
	ErrAuth = errors.New("authentication error")

	// ErrMissingCredential is returned when no bearer credential was supplied.
	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrAuth)

	// ErrInvalidCredential is returned when the signature, issuer or expiry
	// check of a session token fails.
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", ErrAuth)

	// ErrStorage marks a persistence I/O failure.
	ErrStorage = errors.New("storage error")

	// ErrConnection marks a failed send to a real-time connection.
	ErrConnection = errors.New("connection error")

	// ErrUsernameTaken is returned by the identity store on duplicate usernames.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials is returned when a username/password pair does not
	// match a stored user. It deliberately does not say which half was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Validation wraps a human readable reason into an ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Storage wraps an underlying persistence failure into an ErrStorage while
// keeping the cause inspectable.
func Storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
