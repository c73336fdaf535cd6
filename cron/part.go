package cron

import (
	"slices"
	"strconv"
	"strings"
)

// Kind describes the syntactic form of one comma separated piece of a field.
type Kind int

const (
	// All matches every value of the field ("*").
	All Kind = iota
	// NoSpecific leaves the day field unconstrained ("?").
	NoSpecific
	// At lists one explicit value.
	At
	// FromTo is an inclusive range "start-end".
	FromTo
	// EachFrom is a step series "start/increment".
	EachFrom
	// RangeEach is a stepped range "start-end/increment".
	RangeEach
	// Last is "L": last day of month, Saturday, or "nL" last weekday n of month.
	Last
	// NearestWeekday is "nW": the weekday closest to day n.
	NearestWeekday
	// NthWeekdayOfMonth is "d#n": the n-th weekday d of the month.
	NthWeekdayOfMonth
)

var kindNames = map[Kind]string{
	All:               "all",
	NoSpecific:        "no_specific",
	At:                "at",
	FromTo:            "from_to",
	EachFrom:          "each_from",
	RangeEach:         "range_each",
	Last:              "last",
	NearestWeekday:    "nearest_weekday",
	NthWeekdayOfMonth: "nth_weekday_of_month",
}

// String returns the stable identifier of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind resolves a kind from its identifier.
func ParseKind(name string) (Kind, bool) {
	for kind, candidate := range kindNames {
		if candidate == name {
			return kind, true
		}
	}
	return 0, false
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, ok := ParseKind(string(text))
	if !ok {
		return &FieldError{Field: -1, Value: string(text), Reason: "unknown part kind"}
	}
	*k = kind
	return nil
}

// Marker returns the special character associated with the kind.
func (k Kind) Marker() string {
	switch k {
	case All:
		return "*"
	case NoSpecific:
		return "?"
	case FromTo:
		return "-"
	case EachFrom:
		return "/"
	case RangeEach:
		return "-/"
	case Last:
		return "L"
	case NearestWeekday:
		return "W"
	case NthWeekdayOfMonth:
		return "#"
	default:
		return ""
	}
}

// arity returns the number of values a part of this kind carries. Last may
// carry zero or one value, which is reported as -1.
func (k Kind) arity() int {
	switch k {
	case All, NoSpecific:
		return 0
	case At, NearestWeekday:
		return 1
	case FromTo, EachFrom, NthWeekdayOfMonth:
		return 2
	case RangeEach:
		return 3
	case Last:
		return -1
	default:
		return 0
	}
}

// Part is one parsed piece of a field.
type Part struct {
	Kind   Kind  `json:"kind"`
	Values []int `json:"values,omitempty"`
}

// Equal reports whether both parts carry the same kind and values.
func (p Part) Equal(other Part) bool {
	return p.Kind == other.Kind && slices.Equal(p.Values, other.Values)
}

func (p Part) clone() Part {
	return Part{Kind: p.Kind, Values: slices.Clone(p.Values)}
}

func (p Part) wellFormed() bool {
	switch n := p.Kind.arity(); n {
	case -1:
		return len(p.Values) <= 1
	default:
		if _, ok := kindNames[p.Kind]; !ok {
			return false
		}
		return len(p.Values) == n
	}
}

// String formats the part with the marker of its kind.
func (p Part) String() string {
	if !p.wellFormed() {
		return ""
	}
	v := p.Values
	switch p.Kind {
	case All, NoSpecific:
		return p.Kind.Marker()
	case At:
		return strconv.Itoa(v[0])
	case FromTo:
		return strconv.Itoa(v[0]) + "-" + strconv.Itoa(v[1])
	case EachFrom:
		return strconv.Itoa(v[0]) + "/" + strconv.Itoa(v[1])
	case RangeEach:
		return strconv.Itoa(v[0]) + "-" + strconv.Itoa(v[1]) + "/" + strconv.Itoa(v[2])
	case Last:
		if len(v) == 1 {
			return strconv.Itoa(v[0]) + "L"
		}
		return "L"
	case NearestWeekday:
		return strconv.Itoa(v[0]) + "W"
	case NthWeekdayOfMonth:
		return strconv.Itoa(v[0]) + "#" + strconv.Itoa(v[1])
	default:
		return ""
	}
}

// FormatParts joins the parts of one field with commas.
func FormatParts(parts []Part) string {
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		tokens = append(tokens, part.String())
	}
	return strings.Join(tokens, ",")
}
