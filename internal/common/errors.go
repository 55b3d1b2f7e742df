package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Processing failure kinds. Callers classify with errors.Is; wrapped causes
// carry the detail.
var (
	// ErrHashing marks inputs whose content hash could not be computed
	// (unreadable file, I/O error). Raised before a job is ever queued.
	ErrHashing = errors.New("content hashing failed")

	// ErrUnsupportedType marks declared mime types outside application/pdf
	// and image/*. Raised before a job is ever queued.
	ErrUnsupportedType = errors.New("unsupported mime type")

	// ErrWorkerTimeout marks a recognition task that exceeded its per-format
	// deadline and was forcibly terminated.
	ErrWorkerTimeout = errors.New("worker timed out")

	// ErrWorkerCrashed marks abnormal worker termination: a panic in the
	// task goroutine or a non-zero exit from the recognition process.
	ErrWorkerCrashed = errors.New("worker crashed")

	// ErrAttemptsExhausted is the terminal failure surfaced to waiters once
	// a job has consumed every allowed attempt. The last attempt's cause is
	// wrapped inside.
	ErrAttemptsExhausted = errors.New("attempts exhausted")

	// ErrBackendUnavailable marks job store outages observed while
	// enqueueing or transitioning jobs.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Retryable reports whether a processing failure should be fed back through
// the retry path. Input validation failures and terminal verdicts are not
// retryable; everything a worker can transiently fail on is.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrHashing),
		errors.Is(err, ErrUnsupportedType),
		errors.Is(err, ErrAttemptsExhausted),
		errors.Is(err, ErrInvalidInput):
		return false
	}
	return true
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
