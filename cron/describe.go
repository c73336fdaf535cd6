package cron

import (
	"errors"
	"fmt"
	"strings"

	crondesc "github.com/lnquy/cron"
	"github.com/rs/zerolog"
)

// FallbackDescription is shown whenever an expression cannot be described.
const FallbackDescription = "Can't translate this expression."

// DefaultLocale is used when the caller does not ask for a locale.
const DefaultLocale = "en"

// Regime tells which kind of expression a description was produced for.
type Regime string

const (
	RegimeEphemeris  Regime = "ephemeris"
	RegimePredefined Regime = "predefined"
	RegimeCron       Regime = "cron"
	RegimeUnknown    Regime = "unknown"
)

// Description is the human readable form of an expression.
type Description struct {
	Regime Regime `json:"regime"`
	Text   string `json:"description"`
}

// Humanized is the result of a humanization attempt.
type Humanized struct {
	Text string
	Err  error
}

// TextOr returns the humanized text, or fallback when humanization failed.
func (h Humanized) TextOr(fallback string) string {
	if h.Err != nil || strings.TrimSpace(h.Text) == "" {
		return fallback
	}
	return h.Text
}

// Humanizer renders a cron string as natural language in the given locale.
type Humanizer interface {
	Humanize(expr, locale string) Humanized
}

// Describer maps expressions to descriptions. Keywords are answered from
// the fixed tables, cron expressions are delegated to the humanizer.
type Describer struct {
	humanizer Humanizer
	logger    zerolog.Logger
}

// NewDescriber creates a describer. A nil humanizer makes every cron
// expression fall back to FallbackDescription.
func NewDescriber(humanizer Humanizer, logger zerolog.Logger) *Describer {
	return &Describer{
		humanizer: humanizer,
		logger:    logger.With().Str("component", "describer").Logger(),
	}
}

// Describe returns the description of expr in locale.
func (d *Describer) Describe(expr, locale string) Description {
	trimmed := strings.TrimSpace(expr)
	if desc, ok := LookupEphemeris(trimmed); ok {
		return Description{Regime: RegimeEphemeris, Text: desc}
	}
	if desc, ok := LookupPredefined(trimmed); ok {
		return Description{Regime: RegimePredefined, Text: desc}
	}
	fields := strings.Fields(trimmed)
	if len(fields) != RequiredFields && len(fields) != FieldCount {
		return Description{Regime: RegimeUnknown, Text: FallbackDescription}
	}
	if d == nil || d.humanizer == nil {
		return Description{Regime: RegimeCron, Text: FallbackDescription}
	}
	if len(fields) == FieldCount {
		// The humanizer reads six fields as seconds first; add the seconds so
		// the last field stays the year.
		fields = append([]string{"0"}, fields...)
	}
	if locale == "" {
		locale = DefaultLocale
	}
	result := d.humanizer.Humanize(strings.Join(fields, " "), locale)
	if result.Err != nil {
		d.logger.Debug().Err(result.Err).Str("expression", trimmed).Str("locale", locale).Msg("humanize failed")
	}
	return Description{Regime: RegimeCron, Text: result.TextOr(FallbackDescription)}
}

var humanizerLocales = map[string]crondesc.LocaleType{
	"en": crondesc.Locale_en,
	"de": crondesc.Locale_de,
	"fr": crondesc.Locale_fr,
	"es": crondesc.Locale_es,
	"it": crondesc.Locale_it,
	"nl": crondesc.Locale_nl,
}

// ErrUnsupportedLocale is reported by the default humanizer for locales it
// does not ship.
var ErrUnsupportedLocale = errors.New("unsupported locale")

type descriptorHumanizer struct {
	descriptor *crondesc.ExpressionDescriptor
}

// NewHumanizer returns the default humanizer backed by a cron expression
// descriptor using 24 hour times.
func NewHumanizer() (Humanizer, error) {
	descriptor, err := crondesc.NewDescriptor(
		crondesc.Use24HourTimeFormat(true),
		crondesc.DayOfWeekStartsAtOne(false),
		crondesc.SetLocales(
			crondesc.Locale_en,
			crondesc.Locale_de,
			crondesc.Locale_fr,
			crondesc.Locale_es,
			crondesc.Locale_it,
			crondesc.Locale_nl,
		),
	)
	if err != nil {
		return nil, err
	}
	return descriptorHumanizer{descriptor: descriptor}, nil
}

func (h descriptorHumanizer) Humanize(expr, locale string) (result Humanized) {
	defer func() {
		if r := recover(); r != nil {
			result = Humanized{Err: fmt.Errorf("humanize %q: %v", expr, r)}
		}
	}()
	loc, ok := humanizerLocales[strings.ToLower(strings.TrimSpace(locale))]
	if !ok {
		return Humanized{Err: ErrUnsupportedLocale}
	}
	text, err := h.descriptor.ToDescription(expr, loc)
	if err != nil {
		return Humanized{Err: err}
	}
	return Humanized{Text: text}
}

// SupportedLocales lists the locales of the default humanizer.
func SupportedLocales() []string {
	return []string{"de", "en", "es", "fr", "it", "nl"}
}
