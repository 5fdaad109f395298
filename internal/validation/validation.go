// Package validation carries the field-level failure type raised by hooks
// and schema validation. Every failure keeps enough structure to render a
// form error: one or more (field, message) pairs.
package validation

import (
	"fmt"
	"strings"
)

type Violation struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Field != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
			continue
		}
		parts = append(parts, v.Message)
	}
	return strings.Join(parts, "; ")
}

// Failf builds a single-violation error against one field.
func Failf(field, format string, args ...any) *Error {
	return &Error{Violations: []Violation{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// Merge appends the violations of src, returning a non-nil error when any
// violation exists.
func Merge(dst *Error, src *Error) *Error {
	if src == nil || len(src.Violations) == 0 {
		return dst
	}
	if dst == nil {
		dst = &Error{}
	}
	dst.Violations = append(dst.Violations, src.Violations...)
	return dst
}
