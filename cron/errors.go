package cron

import (
	"errors"
	"fmt"
)

// ErrInvalidExpression is returned when an expression cannot be parsed as a
// whole (wrong field count, empty input, unknown keyword).
var ErrInvalidExpression = errors.New("invalid cron expression")

// ErrNoNextDate is returned when the schedule has no occurrence left inside
// the year range.
var ErrNoNextDate = errors.New("no next date")

// ErrTooComplex is returned when the search for the next occurrence exceeds
// its iteration budget.
var ErrTooComplex = errors.New("too complex to calculate")

// ErrInvalidCount is returned when fewer than one occurrence is requested.
var ErrInvalidCount = errors.New("count must be at least 1")

// FieldError reports a syntax error in a single field.
type FieldError struct {
	Field  Field
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Field.Valid() {
		return fmt.Sprintf("invalid field '%s' value (%s): %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid value (%s): %s", e.Value, e.Reason)
}

// RangeError reports a numeric literal or increment outside its bounds.
type RangeError struct {
	Field Field
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("Error in field '%s' value (%d) out of range %d to %d", e.Field, e.Value, e.Min, e.Max)
}

func checkBounds(f Field, b Bounds, v int) error {
	if b.Contains(v) {
		return nil
	}
	return &RangeError{Field: f, Value: v, Min: b.Min, Max: b.Max}
}

// Unwrap lets callers match every field failure with ErrInvalidExpression.
func (e *FieldError) Unwrap() error { return ErrInvalidExpression }

// Unwrap lets callers match every range failure with ErrInvalidExpression.
func (e *RangeError) Unwrap() error { return ErrInvalidExpression }
