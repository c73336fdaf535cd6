package cron

import (
	"fmt"
	"time"
)

const (
	// searchBudget bounds the number of steps spent looking for one occurrence.
	searchBudget = 500_000
	// openHorizon limits the search of expressions without a year field.
	openHorizon = 5
)

// bitset64 stores a set of small integers (0-63).
type bitset64 uint64

func (b bitset64) has(v int) bool { return v >= 0 && v < 64 && b&(1<<uint(v)) != 0 }
func (b *bitset64) set(v int)     { *b |= 1 << uint(v) }

// Schedule evaluates an expression against wall clock times at minute
// resolution. A Schedule satisfies the Schedule interface of
// github.com/robfig/cron/v3 so it can be handed to a runner directly.
type Schedule struct {
	expr    Expression
	minutes bitset64
	hours   bitset64
	months  bitset64
	years   map[int]struct{}
	dom     []Part
	dow     []Part
	// Both day fields restricted means a day matches when either matches.
	// Only * and ? count as unrestricted; */n is stored as min/n and so
	// restricts its field.
	dayUnion bool
}

// Compile prepares expr for evaluation.
func Compile(expr Expression) (*Schedule, error) {
	if !expr.Valid() {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	s := &Schedule{
		expr:    expr,
		minutes: expand(Minute, expr.fields[Minute]),
		hours:   expand(Hour, expr.fields[Hour]),
		months:  expand(Month, expr.fields[Month]),
		dom:     expr.Field(DayOfMonth),
		dow:     expr.Field(DayOfWeek),
	}
	s.dayUnion = !isUnrestricted(s.dom) && !isUnrestricted(s.dow)
	if expr.withYear {
		s.years = expandYears(expr.fields[Year])
	}
	return s, nil
}

// ParseSchedule parses and compiles in one step.
func ParseSchedule(s string) (*Schedule, error) {
	expr, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return Compile(expr)
}

// Expression returns the compiled expression.
func (s *Schedule) Expression() Expression {
	return s.expr
}

func expand(f Field, parts []Part) bitset64 {
	var set bitset64
	bounds := f.Range()
	for _, part := range parts {
		from, to, step := span(bounds, part)
		for v := from; v <= to && step > 0; v += step {
			set.set(v)
		}
	}
	return set
}

func expandYears(parts []Part) map[int]struct{} {
	years := make(map[int]struct{})
	bounds := Year.Range()
	for _, part := range parts {
		from, to, step := span(bounds, part)
		for v := from; v <= to && step > 0; v += step {
			years[v] = struct{}{}
		}
	}
	return years
}

// span returns the arithmetic series a numeric part covers. Parts without
// a series (L, W, #) yield an empty span.
func span(bounds Bounds, p Part) (from, to, step int) {
	v := p.Values
	switch p.Kind {
	case All, NoSpecific:
		return bounds.Min, bounds.Max, 1
	case At:
		return v[0], v[0], 1
	case FromTo:
		return v[0], v[1], 1
	case EachFrom:
		return v[0], bounds.Max, v[1]
	case RangeEach:
		return v[0], v[1], v[2]
	default:
		return 0, -1, 0
	}
}

func inSpan(bounds Bounds, p Part, value int) bool {
	from, to, step := span(bounds, p)
	if step <= 0 || value < from || value > to {
		return false
	}
	return (value-from)%step == 0
}

// Matches reports whether the schedule fires during the minute of t.
func (s *Schedule) Matches(t time.Time) bool {
	if s == nil {
		return false
	}
	return s.yearMatches(t.Year()) &&
		s.months.has(int(t.Month())) &&
		s.dayMatches(t) &&
		s.hours.has(t.Hour()) &&
		s.minutes.has(t.Minute())
}

// MatchesDay reports whether the schedule fires at any time on the day of t.
func (s *Schedule) MatchesDay(t time.Time) bool {
	if s == nil {
		return false
	}
	return s.yearMatches(t.Year()) && s.months.has(int(t.Month())) && s.dayMatches(t) && s.hours != 0 && s.minutes != 0
}

func (s *Schedule) yearMatches(year int) bool {
	if s.years == nil {
		return true
	}
	_, ok := s.years[year]
	return ok
}

func (s *Schedule) dayMatches(t time.Time) bool {
	dom := matchDayOfMonth(s.dom, t)
	dow := matchDayOfWeek(s.dow, t)
	if s.dayUnion {
		return dom || dow
	}
	return dom && dow
}

func matchDayOfMonth(parts []Part, t time.Time) bool {
	day := t.Day()
	last := daysIn(t.Year(), t.Month())
	for _, part := range parts {
		switch part.Kind {
		case Last:
			if day == last {
				return true
			}
		case NearestWeekday:
			if nearest, ok := nearestWeekday(t.Year(), t.Month(), part.Values[0], t.Location()); ok && nearest == day {
				return true
			}
		default:
			if inSpan(DayOfMonth.Range(), part, day) {
				return true
			}
		}
	}
	return false
}

func matchDayOfWeek(parts []Part, t time.Time) bool {
	weekday := int(t.Weekday())
	day := t.Day()
	last := daysIn(t.Year(), t.Month())
	for _, part := range parts {
		switch part.Kind {
		case Last:
			if len(part.Values) == 0 {
				if t.Weekday() == time.Saturday {
					return true
				}
				continue
			}
			if weekday == part.Values[0] && day+7 > last {
				return true
			}
		case NthWeekdayOfMonth:
			if weekday == part.Values[0] && (day-1)/7+1 == part.Values[1] {
				return true
			}
		default:
			if inSpan(DayOfWeek.Range(), part, weekday) {
				return true
			}
		}
	}
	return false
}

// nearestWeekday returns the Monday-Friday day closest to day n of the month
// without leaving the month. Days past the end of the month never match.
func nearestWeekday(year int, month time.Month, n int, loc *time.Location) (int, bool) {
	last := daysIn(year, month)
	if n > last {
		return 0, false
	}
	switch time.Date(year, month, n, 12, 0, 0, 0, loc).Weekday() {
	case time.Saturday:
		if n == 1 {
			return n + 2, true
		}
		return n - 1, true
	case time.Sunday:
		if n == last {
			return n - 2, true
		}
		return n + 1, true
	default:
		return n, true
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Next returns the first matching minute strictly after t, or the zero time
// when there is none.
func (s *Schedule) Next(t time.Time) time.Time {
	next, err := s.next(t)
	if err != nil {
		return time.Time{}
	}
	return next
}

// NextN returns up to n occurrences after t. ErrNoNextDate or ErrTooComplex
// is returned when not even the first occurrence can be found; otherwise the
// list may be shorter than n.
func (s *Schedule) NextN(t time.Time, n int) ([]time.Time, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil schedule", ErrInvalidExpression)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, n)
	}
	result := make([]time.Time, 0, n)
	for len(result) < n {
		next, err := s.next(t)
		if err != nil {
			if len(result) == 0 {
				return nil, err
			}
			break
		}
		result = append(result, next)
		t = next
	}
	return result, nil
}

func (s *Schedule) next(after time.Time) (time.Time, error) {
	if s == nil {
		return time.Time{}, fmt.Errorf("%w: nil schedule", ErrInvalidExpression)
	}
	loc := after.Location()
	t := time.Date(after.Year(), after.Month(), after.Day(), after.Hour(), after.Minute(), 0, 0, loc).Add(time.Minute)

	lastYear := t.Year() + openHorizon
	if s.years != nil {
		lastYear = Year.Range().Max
		if t.Year() < Year.Range().Min {
			t = time.Date(Year.Range().Min, time.January, 1, 0, 0, 0, 0, loc)
		}
	}

	for i := 0; i < searchBudget; i++ {
		if t.Year() > lastYear {
			return time.Time{}, ErrNoNextDate
		}
		if !s.yearMatches(t.Year()) {
			t = time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.hours.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !s.minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, ErrTooComplex
}
