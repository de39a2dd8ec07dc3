package model

import (
	"errors"
	"sort"
	"strings"
)

// ErrValidation is the kind every ValidationError matches with errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError carries per-field messages. It is also the structured error
// payload sent over the channel.
type ValidationError struct {
	Message     string              `json:"message"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
}

// NewValidationError returns an empty error with a summary message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// Add records msg against field.
func (v *ValidationError) Add(field, msg string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string][]string)
	}
	v.FieldErrors[field] = append(v.FieldErrors[field], msg)
}

// OrNil returns nil when no field failed.
func (v *ValidationError) OrNil() error {
	if len(v.FieldErrors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	if len(v.FieldErrors) == 0 {
		return v.Message
	}
	return v.Message + ": " + FormatFieldErrors(v.FieldErrors)
}

// Is makes errors.Is(err, ErrValidation) hold.
func (v *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FormatFieldErrors renders field errors as "field: msg1, msg2; field2: msg".
// Fields are sorted so the output is stable.
func FormatFieldErrors(fieldErrors map[string][]string) string {
	fields := make([]string, 0, len(fieldErrors))
	for f := range fieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(fieldErrors[f], ", "))
	}
	return strings.Join(parts, "; ")
}
