// Package ephemeris computes the trigger times of the astronomical rule
// keywords (@sunrise, @fullmoon, @equinox, ...) for one reference location.
package ephemeris

import (
	"errors"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"
)

var (
	// ErrUnknownKeyword is returned for keywords without an ephemeris.
	ErrUnknownKeyword = errors.New("unknown ephemeris keyword")
	// ErrNoEvent is returned when the event does not happen within a year,
	// e.g. sunrise during polar night.
	ErrNoEvent = errors.New("no event within a year")
)

// MaxCount bounds the number of occurrences returned by one call to Next.
const MaxCount = 100

// Location is the single reference point all events are computed for.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
	// TimeZone controls the location of returned times. Nil means UTC.
	TimeZone *time.Location
}

// Calculator produces event times for a Location.
type Calculator struct {
	Location Location
}

// New returns a calculator for loc.
func New(loc Location) *Calculator {
	if loc.TimeZone == nil {
		loc.TimeZone = time.UTC
	}
	return &Calculator{Location: loc}
}

type eventFunc func(c *Calculator, from time.Time, count int) ([]time.Time, error)

var events = map[string]eventFunc{
	"@dawn":         solar(dawn),
	"@sunrise":      solar(sunriseOf),
	"@sunset":       solar(sunsetOf),
	"@dusk":         solar(dusk),
	"@newmoon":      lunar(newMoon),
	"@firstquarter": lunar(firstQuarter),
	"@fullmoon":     lunar(fullMoon),
	"@lastquarter":  lunar(lastQuarter),
	"@equinox":      seasons(marchEquinox, septemberEquinox),
	"@solstice":     seasons(juneSolstice, decemberSolstice),
}

// Supports reports whether keyword has an ephemeris.
func Supports(keyword string) bool {
	_, ok := events[keyword]
	return ok
}

// Next returns the next count occurrences of keyword strictly after from,
// in the calculator's time zone.
func (c *Calculator) Next(keyword string, from time.Time, count int) ([]time.Time, error) {
	fn, ok := events[keyword]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyword, keyword)
	}
	if count < 1 || count > MaxCount {
		return nil, fmt.Errorf("count %d out of range 1 to %d", count, MaxCount)
	}
	return fn(c, from, count)
}

func (c *Calculator) zone() *time.Location {
	if c.Location.TimeZone == nil {
		return time.UTC
	}
	return c.Location.TimeZone
}

// Schedule adapts keyword to the robfig scheduler.
func (c *Calculator) Schedule(keyword string) (robfig.Schedule, error) {
	if !Supports(keyword) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyword, keyword)
	}
	return keywordSchedule{calc: c, keyword: keyword}, nil
}

type keywordSchedule struct {
	calc    *Calculator
	keyword string
}

// Next returns the zero time when no event is found, which stops the job.
func (s keywordSchedule) Next(t time.Time) time.Time {
	next, err := s.calc.Next(s.keyword, t, 1)
	if err != nil || len(next) == 0 {
		return time.Time{}
	}
	return next[0]
}
