// ABOUTME: Error taxonomy for the messaging core
// ABOUTME: Validation and authentication failures are rejected before any mutation

package chat

import "errors"

// ErrNotAuthenticated is returned when no active identity is attached to a
// request.
var ErrNotAuthenticated = errors.New("not authenticated")

// ValidationError rejects a request before any mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return "invalid " + e.Field + ": " + e.Reason
	}
	return "missing required field: " + e.Field
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
