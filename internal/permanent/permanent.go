// Package permanent tags intake failures that retrying cannot fix.
// The HTTP handler maps tagged errors to client faults and the NATS
// consumer drops tagged messages instead of requesting redelivery.
package permanent

import "errors"

// Error wraps a root cause that no redelivery will cure, such as a
// profile that fails validation.
type Error struct {
	Err error
}

// Error returns the wrapped cause's message.
// Params: none.
// Returns: string representation.
func (e Error) Error() string {
	if e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

// Unwrap exposes the cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Permanent marks the error as non-retryable.
// Params: none.
// Returns: true.
func (Error) Permanent() bool {
	return true
}

// Mark wraps an error with the non-retryable marker.
// Params: source error.
// Returns: marked error, or nil for a nil source.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Is reports whether the error carries the non-retryable marker
// anywhere in its chain.
// Params: candidate error.
// Returns: true when a retry cannot succeed.
func Is(err error) bool {
	if err == nil {
		return false
	}
	type marker interface {
		Permanent() bool
	}
	var tagged marker
	if !errors.As(err, &tagged) {
		return false
	}
	return tagged.Permanent()
}
