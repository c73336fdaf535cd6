package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	atPattern        = regexp.MustCompile(`^(\d+)$`)
	eachFromPattern  = regexp.MustCompile(`^(\d+|\*)/(\d+)$`)
	fromToPattern    = regexp.MustCompile(`^(\d+)-(\d+)$`)
	rangeEachPattern = regexp.MustCompile(`^(\d+)-(\d+)/(\d+)$`)
	lastOfPattern    = regexp.MustCompile(`^(\d+)L$`)
	nearestPattern   = regexp.MustCompile(`^(\d+)W$`)
	nthPattern       = regexp.MustCompile(`^(\d+)#(\d+)$`)
)

// ValidField reports whether raw only uses characters allowed in field f.
// Minute, hour, month and year accept digits and ",-*/"; the day of month
// additionally accepts "LW?" and the day of week "L#?".
func ValidField(raw string, f Field) bool {
	if raw == "" || !f.Valid() {
		return false
	}
	extra := fieldSpecs[f].extra
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
		case r == ',' || r == '-' || r == '*' || r == '/':
		case strings.ContainsRune(extra, r):
		default:
			return false
		}
	}
	return true
}

// ParsePart turns one comma separated token into a Part. The field is only
// consulted to expand "*/n" into a series starting at the field minimum.
// The second return value is false when no pattern matches.
func ParsePart(f Field, token string) (Part, bool) {
	switch token {
	case "?":
		return Part{Kind: NoSpecific}, true
	case "*":
		return Part{Kind: All}, true
	case "L":
		return Part{Kind: Last}, true
	}
	if m := atPattern.FindStringSubmatch(token); m != nil {
		return partOf(At, m[1:]...)
	}
	if m := eachFromPattern.FindStringSubmatch(token); m != nil {
		if m[1] == "*" {
			m[1] = strconv.Itoa(f.Range().Min)
		}
		return partOf(EachFrom, m[1:]...)
	}
	if m := fromToPattern.FindStringSubmatch(token); m != nil {
		return partOf(FromTo, m[1:]...)
	}
	if m := rangeEachPattern.FindStringSubmatch(token); m != nil {
		return partOf(RangeEach, m[1:]...)
	}
	if m := lastOfPattern.FindStringSubmatch(token); m != nil {
		return partOf(Last, m[1:]...)
	}
	if m := nearestPattern.FindStringSubmatch(token); m != nil {
		return partOf(NearestWeekday, m[1:]...)
	}
	if m := nthPattern.FindStringSubmatch(token); m != nil {
		return partOf(NthWeekdayOfMonth, m[1:]...)
	}
	return Part{}, false
}

func partOf(kind Kind, digits ...string) (Part, bool) {
	values := make([]int, 0, len(digits))
	for _, raw := range digits {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return Part{}, false
		}
		values = append(values, v)
	}
	return Part{Kind: kind, Values: values}, true
}

// ParseField validates and parses the raw text of one field.
func ParseField(f Field, raw string) ([]Part, error) {
	if !ValidField(raw, f) {
		return nil, &FieldError{Field: f, Value: raw, Reason: "invalid characters"}
	}
	tokens := strings.Split(raw, ",")
	parts := make([]Part, 0, len(tokens))
	for _, token := range tokens {
		part, ok := ParsePart(f, token)
		if !ok {
			return nil, &FieldError{Field: f, Value: token, Reason: "unrecognized expression"}
		}
		if err := CheckPart(f, part); err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	if len(parts) > 1 {
		for _, part := range parts {
			if part.Kind == NoSpecific {
				return nil, &FieldError{Field: f, Value: raw, Reason: "'?' must be used alone"}
			}
		}
	}
	return parts, nil
}

// CheckPart verifies that the part is meaningful for f and that every value
// lies inside the field bounds.
func CheckPart(f Field, p Part) error {
	if !f.Valid() {
		return &FieldError{Field: f, Value: p.String(), Reason: "unknown field"}
	}
	if !p.wellFormed() {
		return &FieldError{Field: f, Value: p.Kind.String(), Reason: fmt.Sprintf("malformed part with %d values", len(p.Values))}
	}
	values, steps := f.Range(), f.IncrementRange()
	v := p.Values
	switch p.Kind {
	case All:
		return nil
	case NoSpecific:
		if f != DayOfMonth && f != DayOfWeek {
			return unsupported(f, p)
		}
		return nil
	case At:
		return checkBounds(f, values, v[0])
	case FromTo:
		return checkSpan(f, values, v[0], v[1])
	case EachFrom:
		if err := checkBounds(f, values, v[0]); err != nil {
			return err
		}
		return checkBounds(f, steps, v[1])
	case RangeEach:
		if err := checkSpan(f, values, v[0], v[1]); err != nil {
			return err
		}
		return checkBounds(f, steps, v[2])
	case Last:
		switch {
		case f == DayOfMonth && len(v) == 0:
			return nil
		case f == DayOfWeek && len(v) == 0:
			return nil
		case f == DayOfWeek:
			return checkBounds(f, values, v[0])
		}
		return unsupported(f, p)
	case NearestWeekday:
		if f != DayOfMonth {
			return unsupported(f, p)
		}
		return checkBounds(f, values, v[0])
	case NthWeekdayOfMonth:
		if f != DayOfWeek {
			return unsupported(f, p)
		}
		if err := checkBounds(f, values, v[0]); err != nil {
			return err
		}
		return checkBounds(f, NthBounds, v[1])
	default:
		return unsupported(f, p)
	}
}

func checkSpan(f Field, b Bounds, from, to int) error {
	if err := checkBounds(f, b, from); err != nil {
		return err
	}
	if err := checkBounds(f, b, to); err != nil {
		return err
	}
	if from > to {
		return &FieldError{Field: f, Value: fmt.Sprintf("%d-%d", from, to), Reason: "range start after range end"}
	}
	return nil
}

func unsupported(f Field, p Part) error {
	return &FieldError{Field: f, Value: p.String(), Reason: fmt.Sprintf("%s is not supported in this field", p.Kind)}
}
