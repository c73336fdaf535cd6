package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/rules"
	"github.com/timzifer/cronrule/telemetry"
)

// Option customises service construction.
type Option func(*settings)

type settings struct {
	publisher rules.Publisher
	telemetry telemetry.Collector
	gatherer  prometheus.Gatherer
	humanizer cron.Humanizer
	now       func() time.Time
}

func applyOptions(opts []Option) settings {
	set := settings{telemetry: telemetry.Noop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&set)
		}
	}
	return set
}

// WithPublisher replaces the publisher derived from the mqtt section.
func WithPublisher(p rules.Publisher) Option {
	return func(s *settings) {
		s.publisher = p
	}
}

// WithTelemetry reports rule executions and API requests to collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(s *settings) {
		if collector != nil {
			s.telemetry = collector
		}
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *settings) {
		s.gatherer = g
	}
}

// WithHumanizer replaces the default cron humanizer.
func WithHumanizer(h cron.Humanizer) Option {
	return func(s *settings) {
		s.humanizer = h
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}
