package cron

import (
	"maps"
	"slices"
	"strings"
)

const locationCaveat = " Only one reference location is supported."

var ephemerisKeywords = map[string]string{
	"@fullmoon":     "Triggered at every full moon." + locationCaveat,
	"@newmoon":      "Triggered at every new moon." + locationCaveat,
	"@firstquarter": "Triggered at every first quarter moon." + locationCaveat,
	"@lastquarter":  "Triggered at every last quarter moon." + locationCaveat,
	"@equinox":      "Triggered at the spring and autumn equinoxes." + locationCaveat,
	"@solstice":     "Triggered at the summer and winter solstices." + locationCaveat,
	"@dawn":         "Triggered every day at dawn (civil twilight)." + locationCaveat,
	"@sunrise":      "Triggered every day at sunrise." + locationCaveat,
	"@sunset":       "Triggered every day at sunset." + locationCaveat,
	"@dusk":         "Triggered every day at dusk (civil twilight)." + locationCaveat,
}

var predefinedKeywords = map[string]string{
	"@yearly":   "Run once a year at midnight of January 1st.",
	"@annually": "Run once a year at midnight of January 1st.",
	"@monthly":  "Run once a month at midnight of the first day of the month.",
	"@weekly":   "Run once a week at midnight on Sunday.",
	"@daily":    "Run once a day at midnight.",
	"@midnight": "Run once a day at midnight.",
	"@hourly":   "Run once an hour at the beginning of the hour.",
}

// LookupEphemeris returns the description of an ephemeris keyword.
func LookupEphemeris(keyword string) (string, bool) {
	desc, ok := ephemerisKeywords[strings.TrimSpace(keyword)]
	return desc, ok
}

// LookupPredefined returns the description of a predefined schedule keyword.
func LookupPredefined(keyword string) (string, bool) {
	desc, ok := predefinedKeywords[strings.TrimSpace(keyword)]
	return desc, ok
}

// EphemerisKeywords lists the supported ephemeris keywords in sorted order.
func EphemerisKeywords() []string {
	return slices.Sorted(maps.Keys(ephemerisKeywords))
}

// PredefinedKeywords lists the supported predefined keywords in sorted order.
func PredefinedKeywords() []string {
	return slices.Sorted(maps.Keys(predefinedKeywords))
}
