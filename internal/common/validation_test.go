package common

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatorPasses(t *testing.T) {
	err := NewValidator().
		Field("path", "/docs/a.pdf", Required, MaxLen(100)).
		Error()
	if err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
}

func TestValidatorCollectsEveryFailure(t *testing.T) {
	err := NewValidator().
		Field("path", "   ", Required).
		Field("name", strings.Repeat("x", 20), MaxLen(10)).
		Error()
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "path is required") {
		t.Errorf("missing path failure in %q", msg)
	}
	if !strings.Contains(msg, "name must be at most 10 characters") {
		t.Errorf("missing length failure in %q", msg)
	}
}

func TestMaxLenCountsRunes(t *testing.T) {
	if err := MaxLen(3)("name", "héllo"); err == nil {
		t.Error("5 runes should fail MaxLen(3)")
	}
	if err := MaxLen(5)("name", "héllo"); err != nil {
		t.Errorf("5 runes should pass MaxLen(5): %v", err)
	}
}
