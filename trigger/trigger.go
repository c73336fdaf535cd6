// Package trigger resolves rule expression text (cron, predefined keyword or
// ephemeris keyword) into something that can be scheduled and queried.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/ephemeris"
)

var descriptorParser = robfig.NewParser(robfig.Descriptor)

// Trigger is a resolved expression.
type Trigger struct {
	Text     string
	Regime   cron.Regime
	Schedule robfig.Schedule

	local    *cron.Schedule
	calc     *ephemeris.Calculator
	location *time.Location
}

// Resolver turns expression text into triggers. Times are evaluated in
// Location; ephemeris keywords use Calculator.
type Resolver struct {
	Calculator *ephemeris.Calculator
	Location   *time.Location
}

// NewResolver returns a resolver evaluating in the calculator's time zone.
func NewResolver(calc *ephemeris.Calculator) *Resolver {
	loc := time.UTC
	if calc != nil && calc.Location.TimeZone != nil {
		loc = calc.Location.TimeZone
	}
	return &Resolver{Calculator: calc, Location: loc}
}

// Resolve parses text. Cron syntax errors are returned unchanged so callers
// can inspect *cron.FieldError and *cron.RangeError.
func (r *Resolver) Resolve(text string) (*Trigger, error) {
	text = strings.TrimSpace(text)
	loc := time.UTC
	if r != nil && r.Location != nil {
		loc = r.Location
	}
	t := &Trigger{Text: text, location: loc}

	switch {
	case ephemeris.Supports(text):
		if r == nil || r.Calculator == nil {
			return nil, fmt.Errorf("%s: no reference location configured", text)
		}
		schedule, err := r.Calculator.Schedule(text)
		if err != nil {
			return nil, err
		}
		t.Regime, t.Schedule, t.calc = cron.RegimeEphemeris, schedule, r.Calculator
	case isPredefined(text):
		schedule, err := descriptorParser.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cron.ErrInvalidExpression, err)
		}
		t.Regime, t.Schedule = cron.RegimePredefined, schedule
	case strings.HasPrefix(text, "@"):
		return nil, fmt.Errorf("%w: unknown keyword %q", cron.ErrInvalidExpression, text)
	default:
		schedule, err := cron.ParseSchedule(text)
		if err != nil {
			return nil, err
		}
		t.Regime, t.Schedule, t.local = cron.RegimeCron, schedule, schedule
	}
	return t, nil
}

func isPredefined(text string) bool {
	_, ok := cron.LookupPredefined(text)
	return ok
}

// Next returns up to count occurrences strictly after from.
func (t *Trigger) Next(from time.Time, count int) ([]time.Time, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: got %d", cron.ErrInvalidCount, count)
	}
	from = from.In(t.location)
	switch {
	case t.calc != nil:
		return t.calc.Next(t.Text, from, count)
	case t.local != nil:
		return t.local.NextN(from, count)
	}
	result := make([]time.Time, 0, count)
	for len(result) < count {
		next := t.Schedule.Next(from)
		if next.IsZero() {
			break
		}
		result = append(result, next)
		from = next
	}
	if len(result) == 0 {
		return nil, cron.ErrNoNextDate
	}
	return result, nil
}

// FiresAt reports whether the trigger fires during the minute of at.
func (t *Trigger) FiresAt(at time.Time) bool {
	at = at.In(t.location)
	if t.local != nil {
		return t.local.Matches(at)
	}
	start := at.Truncate(time.Minute)
	next := t.Schedule.Next(start.Add(-time.Second))
	return !next.IsZero() && next.Before(start.Add(time.Minute))
}

// Check is the outcome of a date check.
type Check struct {
	Now  bool `json:"now"`
	Date bool `json:"date"`
}

// Check reports whether the trigger fires now and at date.
func (t *Trigger) Check(now, date time.Time) Check {
	return Check{Now: t.FiresAt(now), Date: t.FiresAt(date)}
}

// ErrBadDate is returned by ParseDate for malformed candidate dates.
var ErrBadDate = errors.New("invalid date")

// ParseDate reads a "year,month,day,hour,minute" candidate date in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	var year, month, day, hour, minute int
	n, err := fmt.Sscanf(strings.ReplaceAll(raw, " ", ""), "%d,%d,%d,%d,%d", &year, &month, &day, &hour, &minute)
	if err != nil || n != 5 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, raw)
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, raw)
	}
	if loc == nil {
		loc = time.UTC
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadDate, raw)
	}
	return t, nil
}

// FormatDate is the inverse of ParseDate.
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d,%d,%d,%d,%d", t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute())
}
