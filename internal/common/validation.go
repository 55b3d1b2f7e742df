package common

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Validator collects field-level failures so a request reports everything
// wrong with it at once.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator { return &Validator{} }

// Field runs rules against one value and records any failures.
func (v *Validator) Field(name, value string, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(name, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

// Error folds the collected failures into a single ErrInvalidInput, or
// returns nil when every field passed.
func (v *Validator) Error() error {
	if len(v.errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(v.errors))
	for _, e := range v.errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}

// ValidationRule checks one field value.
type ValidationRule func(name, value string) *ValidationError

// Required rejects empty or all-whitespace values.
func Required(name, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: name, Message: "is required"}
	}
	return nil
}

// MaxLen bounds the rune length of a value.
func MaxLen(max int) ValidationRule {
	return func(name, value string) *ValidationError {
		if utf8.RuneCountInString(value) > max {
			return &ValidationError{Field: name, Message: fmt.Sprintf("must be at most %d characters", max)}
		}
		return nil
	}
}
