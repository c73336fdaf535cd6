package cron

import "fmt"

// Field identifies one position of a cron expression.
type Field int

const (
	// Minute is the first field (0-59).
	Minute Field = iota
	// Hour is the second field (0-23).
	Hour
	// DayOfMonth is the third field (1-31).
	DayOfMonth
	// Month is the fourth field (1-12).
	Month
	// DayOfWeek is the fifth field (0-6, 0 = Sunday).
	DayOfWeek
	// Year is the optional sixth field.
	Year
)

// FieldCount is the number of fields of the long form including the year.
const FieldCount = 6

// RequiredFields is the number of fields of the short form.
const RequiredFields = 5

// Bounds is an inclusive numeric interval.
type Bounds struct {
	Min int
	Max int
}

// Contains reports whether v lies inside the interval.
func (b Bounds) Contains(v int) bool {
	return v >= b.Min && v <= b.Max
}

// NthBounds limits the occurrence index of a "weekday#n" part.
var NthBounds = Bounds{Min: 1, Max: 5}

type fieldSpec struct {
	name      string
	key       string
	values    Bounds
	increment Bounds
	extra     string
}

var fieldSpecs = [FieldCount]fieldSpec{
	Minute:     {name: "minute", key: "minute", values: Bounds{0, 59}, increment: Bounds{1, 30}},
	Hour:       {name: "hour", key: "hour", values: Bounds{0, 23}, increment: Bounds{1, 12}},
	DayOfMonth: {name: "day of month", key: "day_of_month", values: Bounds{1, 31}, increment: Bounds{1, 16}, extra: "LW?"},
	Month:      {name: "month", key: "month", values: Bounds{1, 12}, increment: Bounds{1, 6}},
	DayOfWeek:  {name: "day of week", key: "day_of_week", values: Bounds{0, 6}, increment: Bounds{1, 3}, extra: "L#?"},
	Year:       {name: "year", key: "year", values: Bounds{2016, 2200}, increment: Bounds{1, 100}},
}

// Fields returns all fields in expression order.
func Fields() []Field {
	return []Field{Minute, Hour, DayOfMonth, Month, DayOfWeek, Year}
}

// Valid reports whether f names a known field.
func (f Field) Valid() bool {
	return f >= Minute && f <= Year
}

// String returns the name used in error messages.
func (f Field) String() string {
	if !f.Valid() {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldSpecs[f].name
}

// Range returns the inclusive bounds of literal values.
func (f Field) Range() Bounds {
	if !f.Valid() {
		return Bounds{}
	}
	return fieldSpecs[f].values
}

// IncrementRange returns the inclusive bounds of step values.
func (f Field) IncrementRange() Bounds {
	if !f.Valid() {
		return Bounds{}
	}
	return fieldSpecs[f].increment
}

// Required reports whether the field must be present in every expression.
func (f Field) Required() bool {
	return f.Valid() && f != Year
}

// Key returns the identifier used in block types and JSON payloads.
func (f Field) Key() string {
	if !f.Valid() {
		return ""
	}
	return fieldSpecs[f].key
}

// ParseFieldKey resolves a field from its key.
func ParseFieldKey(key string) (Field, bool) {
	for _, f := range Fields() {
		if fieldSpecs[f].key == key {
			return f, true
		}
	}
	return 0, false
}

// MarshalText encodes the field by key.
func (f Field) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("unknown field %d", int(f))
	}
	return []byte(f.Key()), nil
}

// UnmarshalText decodes a field key.
func (f *Field) UnmarshalText(text []byte) error {
	field, ok := ParseFieldKey(string(text))
	if !ok {
		return fmt.Errorf("unknown field %q", string(text))
	}
	*f = field
	return nil
}
