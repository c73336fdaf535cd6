package processor

import (
	"fmt"
	"strings"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/telemetry"
)

// newTelemetryCollector maps the telemetry section to a collector. Only the
// Prometheus provider is known.
func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	switch provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider {
	case "", "prometheus":
		return telemetry.NewPrometheusCollector(nil)
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}
