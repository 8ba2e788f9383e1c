// Package enso provides a Go client for the Enso program-execution API.
package enso

import (
	"errors"
	"fmt"
)

// Error represents an error from the Enso API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string

	// RetryAfterSeconds is set on 429 responses when the server
	// suggests a backoff.
	RetryAfterSeconds int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("enso: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsSaturated returns true if the error is a 429, meaning the program's
// concurrency capacity is exhausted and the run should be retried after
// RetryAfterSeconds.
func IsSaturated(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

// IsExecutionFailure returns true if the error comes from the program
// routine itself rather than the transport or the server. The Result
// returned alongside it is fully populated.
func IsExecutionFailure(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "execution_error"
	}
	return false
}
