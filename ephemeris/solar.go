package ephemeris

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// civilTwilight is the solar elevation of dawn and dusk in degrees.
const civilTwilight = -6

type dayEvent func(lat, lon float64, year int, month time.Month, day int) time.Time

func sunriseOf(lat, lon float64, year int, month time.Month, day int) time.Time {
	rise, _ := sunrise.SunriseSunset(lat, lon, year, month, day)
	return rise
}

func sunsetOf(lat, lon float64, year int, month time.Month, day int) time.Time {
	_, set := sunrise.SunriseSunset(lat, lon, year, month, day)
	return set
}

func dawn(lat, lon float64, year int, month time.Month, day int) time.Time {
	morning, _ := sunrise.TimeOfElevation(lat, lon, civilTwilight, year, month, day)
	return morning
}

func dusk(lat, lon float64, year int, month time.Month, day int) time.Time {
	_, evening := sunrise.TimeOfElevation(lat, lon, civilTwilight, year, month, day)
	return evening
}

// solar evaluates a daily event day by day. A year without any event means
// the location is in polar day or night for the rest of the search.
func solar(event dayEvent) eventFunc {
	return func(c *Calculator, from time.Time, count int) ([]time.Time, error) {
		zone := c.zone()
		local := from.In(zone)
		day := time.Date(local.Year(), local.Month(), local.Day()-1, 12, 0, 0, 0, zone)

		result := make([]time.Time, 0, count)
		idle := 0
		for len(result) < count {
			if idle > 366 {
				if len(result) == 0 {
					return nil, ErrNoEvent
				}
				break
			}
			at := event(c.Location.Latitude, c.Location.Longitude, day.Year(), day.Month(), day.Day())
			day = day.AddDate(0, 0, 1)
			if at.IsZero() || !at.After(from) {
				idle++
				continue
			}
			idle = 0
			result = append(result, at.In(zone).Truncate(time.Second))
		}
		return result, nil
	}
}
