package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"hashing", fmt.Errorf("%w: open /x", ErrHashing), false},
		{"unsupported", fmt.Errorf("%w: audio/ogg", ErrUnsupportedType), false},
		{"exhausted", fmt.Errorf("%w after 3 attempts", ErrAttemptsExhausted), false},
		{"invalid input", fmt.Errorf("%w: path is required", ErrInvalidInput), false},
		{"timeout", fmt.Errorf("%w: pdf deadline", ErrWorkerTimeout), true},
		{"crash", fmt.Errorf("%w: exit status 139", ErrWorkerCrashed), true},
		{"backend", fmt.Errorf("%w: connection refused", ErrBackendUnavailable), true},
		{"plain", errors.New("tesseract: something odd"), true},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable(%v) = %v, want %v", tc.name, tc.err, got, tc.want)
		}
	}
}

func TestExhaustedWrappingKeepsCause(t *testing.T) {
	cause := fmt.Errorf("%w: image deadline", ErrWorkerTimeout)
	final := fmt.Errorf("%w after 3 attempts: %w", ErrAttemptsExhausted, cause)

	if !errors.Is(final, ErrAttemptsExhausted) {
		t.Error("final verdict lost the exhausted sentinel")
	}
	if !errors.Is(final, ErrWorkerTimeout) {
		t.Error("final verdict lost the last attempt's cause")
	}
	if Retryable(final) {
		t.Error("exhausted verdict must not be retryable even with a retryable cause inside")
	}
}

func TestAppError(t *testing.T) {
	err := NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("AppError does not unwrap to its cause")
	}
	if err.Error() != "CONFIG_ERROR: DB_URL is required: invalid input" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
