package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested program or trace does not
// exist. Terminal: callers must not retry.
var ErrNotFound = errors.New("model: not found")

// AdmissionError reports that a program's concurrency ceiling was
// reached and the wait budget expired before a slot opened. Transient:
// callers may retry after RetryAfter.
type AdmissionError struct {
	Program    string
	Capacity   int64
	RetryAfter time.Duration
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("model: admission exhausted for program %q (capacity %d, retry after %s)",
		e.Program, e.Capacity, e.RetryAfter)
}

// ExecutionError wraps an error raised by a routine. It is recorded
// in the trace and log with full text and surfaced verbatim to the
// caller; the core never retries automatically.
type ExecutionError struct {
	Program string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("model: program %q execution failed: %v", e.Program, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// API error codes, stable across the HTTP surface.
const (
	ErrCodeNotFound           = "not_found"
	ErrCodeAdmissionExhausted = "admission_exhausted"
	ErrCodeExecutionError     = "execution_error"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeInternal           = "internal_error"
)
