package ephemeris

import (
	"math"
	"time"
)

const (
	unixEpochJD   = 2440587.5
	synodicMonth  = 29.530588861
	lunationsYear = 12.3685
)

// julianToTime converts a Julian day to UTC.
func julianToTime(jd float64) time.Time {
	seconds := (jd - unixEpochJD) * 86400
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC().Truncate(time.Second)
}

func decimalYear(t time.Time) float64 {
	t = t.UTC()
	start := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	return float64(t.Year()) + float64(t.Sub(start))/float64(end.Sub(start))
}

type phase float64

const (
	newMoon      phase = 0
	firstQuarter phase = 0.25
	fullMoon     phase = 0.5
	lastQuarter  phase = 0.75
)

// meanPhase returns the mean lunar phase instant for lunation k (Meeus, ch. 49).
func meanPhase(k float64) time.Time {
	T := k / 1236.85
	jde := 2451550.09766 + synodicMonth*k +
		0.00015437*T*T -
		0.000000150*T*T*T +
		0.00000000073*T*T*T*T
	return julianToTime(jde)
}

func lunar(p phase) eventFunc {
	return func(c *Calculator, from time.Time, count int) ([]time.Time, error) {
		k := math.Floor((decimalYear(from)-2000)*lunationsYear) - 1
		result := make([]time.Time, 0, count)
		for ; len(result) < count; k++ {
			at := meanPhase(k + float64(p))
			if at.After(from) {
				result = append(result, at.In(c.zone()))
			}
		}
		return result, nil
	}
}

type season func(year int) time.Time

// Mean season instants for the years 1000-3000 (Meeus, table 27.A).
func seasonPolynomial(year int, c0, c1, c2, c3, c4 float64) time.Time {
	y := (float64(year) - 2000) / 1000
	return julianToTime(c0 + c1*y + c2*y*y + c3*y*y*y + c4*y*y*y*y)
}

func marchEquinox(year int) time.Time {
	return seasonPolynomial(year, 2451623.80984, 365242.37404, 0.05169, -0.00411, -0.00057)
}

func juneSolstice(year int) time.Time {
	return seasonPolynomial(year, 2451716.56767, 365241.62603, 0.00325, 0.00888, -0.00030)
}

func septemberEquinox(year int) time.Time {
	return seasonPolynomial(year, 2451810.21715, 365242.01767, -0.11575, 0.00337, 0.00078)
}

func decemberSolstice(year int) time.Time {
	return seasonPolynomial(year, 2451900.05952, 365242.74049, -0.06223, -0.00823, 0.00032)
}

func seasons(first, second season) eventFunc {
	return func(c *Calculator, from time.Time, count int) ([]time.Time, error) {
		result := make([]time.Time, 0, count)
		for year := from.UTC().Year() - 1; len(result) < count; year++ {
			for _, s := range []season{first, second} {
				at := s(year)
				if at.After(from) && len(result) < count {
					result = append(result, at.In(c.zone()))
				}
			}
		}
		return result, nil
	}
}
