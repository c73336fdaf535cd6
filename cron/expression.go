package cron

import (
	"fmt"
	"slices"
	"strings"
)

// Expression is a parsed cron expression with five or six fields. It is
// immutable: accessors return copies and edits go through Draft and Build.
type Expression struct {
	fields   [FieldCount][]Part
	withYear bool
}

// Parse splits s on whitespace and parses every field. Five fields form the
// short expression, a sixth field is the year.
func Parse(s string) (Expression, error) {
	tokens := strings.Fields(s)
	if len(tokens) == 0 {
		return Expression{}, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	if len(tokens) != RequiredFields && len(tokens) != FieldCount {
		return Expression{}, fmt.Errorf("%w: expected %d or %d fields, got %d", ErrInvalidExpression, RequiredFields, FieldCount, len(tokens))
	}
	var expr Expression
	for i, raw := range tokens {
		f := Field(i)
		parts, err := ParseField(f, raw)
		if err != nil {
			return Expression{}, err
		}
		expr.fields[f] = parts
	}
	expr.withYear = len(tokens) == FieldCount
	if err := checkDayFields(expr.fields[DayOfMonth], expr.fields[DayOfWeek]); err != nil {
		return Expression{}, err
	}
	return expr, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package level tables.
func MustParse(s string) Expression {
	expr, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return expr
}

func checkDayFields(dom, dow []Part) error {
	if isNoSpecific(dom) && isNoSpecific(dow) {
		return &FieldError{Field: DayOfWeek, Value: "?", Reason: "'?' cannot be used for both day of month and day of week"}
	}
	return nil
}

func isNoSpecific(parts []Part) bool {
	return len(parts) == 1 && parts[0].Kind == NoSpecific
}

func isUnrestricted(parts []Part) bool {
	return len(parts) == 1 && (parts[0].Kind == All || parts[0].Kind == NoSpecific)
}

// Valid reports whether the expression holds parsed fields. The zero value
// is invalid.
func (e Expression) Valid() bool {
	for f := Minute; f <= DayOfWeek; f++ {
		if len(e.fields[f]) == 0 {
			return false
		}
	}
	return true
}

// HasYear reports whether the expression carries the optional year field.
func (e Expression) HasYear() bool {
	return e.withYear
}

// Field returns a copy of the parts of f. The year of a short expression is
// reported as empty.
func (e Expression) Field(f Field) []Part {
	if !f.Valid() {
		return nil
	}
	parts := make([]Part, 0, len(e.fields[f]))
	for _, part := range e.fields[f] {
		parts = append(parts, part.clone())
	}
	return parts
}

// Len returns the number of fields, 5 or 6, or 0 for an invalid expression.
func (e Expression) Len() int {
	switch {
	case !e.Valid():
		return 0
	case e.withYear:
		return FieldCount
	default:
		return RequiredFields
	}
}

// String formats the expression in canonical form.
func (e Expression) String() string {
	return Assemble(e.Draft()).Text
}

// Equal reports whether both expressions hold the same parts.
func (e Expression) Equal(other Expression) bool {
	if e.withYear != other.withYear {
		return false
	}
	for f := range e.fields {
		if !slices.EqualFunc(e.fields[f], other.fields[f], Part.Equal) {
			return false
		}
	}
	return true
}

// Draft returns an editable copy of the expression.
func (e Expression) Draft() Draft {
	var d Draft
	for _, f := range Fields() {
		d.Fields[f] = e.Field(f)
	}
	d.Year = e.withYear
	return d
}

// Draft is the structured, possibly incomplete, form an editor works on.
type Draft struct {
	Fields [FieldCount][]Part `json:"fields"`
	Year   bool               `json:"year"`
}

// Assembly is the outcome of formatting a draft.
type Assembly struct {
	Text  string `json:"expression"`
	Valid bool   `json:"valid"`
	// Missing names the first field without a usable value when Valid is
	// false: a required field without parts or a field with a malformed part.
	Missing string `json:"missing,omitempty"`
}

// Assemble formats the draft field by field. Assembly stops at the first
// required field without parts or at a field holding a malformed part; the
// text produced up to that point is still returned and the assembly is
// marked invalid.
func Assemble(d Draft) Assembly {
	var b strings.Builder
	last := DayOfWeek
	if d.Year {
		last = Year
	}
	for f := Minute; f <= last; f++ {
		parts := d.Fields[f]
		if len(parts) == 0 {
			if f.Required() {
				return Assembly{Text: strings.TrimRight(b.String(), " "), Valid: false, Missing: f.String()}
			}
			break
		}
		if slices.ContainsFunc(parts, func(p Part) bool { return !p.wellFormed() }) {
			return Assembly{Text: strings.TrimRight(b.String(), " "), Valid: false, Missing: f.String()}
		}
		b.WriteString(FormatParts(parts))
		b.WriteByte(' ')
	}
	return Assembly{Text: strings.TrimRight(b.String(), " "), Valid: true}
}

// Build assembles the draft and parses the result, producing an immutable
// expression or the first validation error.
func Build(d Draft) (Expression, error) {
	assembly := Assemble(d)
	if !assembly.Valid {
		return Expression{}, fmt.Errorf("%w: field '%s' is incomplete", ErrInvalidExpression, assembly.Missing)
	}
	return Parse(assembly.Text)
}
