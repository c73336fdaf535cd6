package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the daemon.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. Hooks run inline with rule execution and request
// handling, so they must be cheap.
type Collector interface {
	IncHotReload(file string)
	IncRuleTrigger(rule string, outcome Outcome)
	ObserveRequest(endpoint, status string, elapsed time.Duration)
}

// Outcome classifies a rule execution.
type Outcome string

const (
	OutcomeFired   Outcome = "fired"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)                          {}
func (noopCollector) IncRuleTrigger(string, Outcome)               {}
func (noopCollector) ObserveRequest(string, string, time.Duration) {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	hotReloads   *prometheus.CounterVec
	ruleTriggers *prometheus.CounterVec
	requests     *prometheus.HistogramVec
}

var (
	vectorsLock        sync.Mutex
	hotReloadCounter   *prometheus.CounterVec
	ruleTriggerCounter *prometheus.CounterVec
	requestHistogram   *prometheus.HistogramVec
)

// NewPrometheusCollector registers the metrics with reg. Vectors already
// registered by an earlier call are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	vectorsLock.Lock()
	defer vectorsLock.Unlock()

	if hotReloadCounter == nil {
		counter, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cronrule_config_hot_reload_total",
			Help: "Number of hot reload operations triggered per configuration source file.",
		}, []string{"file"}))
		if err != nil {
			return nil, err
		}
		hotReloadCounter = counter
	}
	if ruleTriggerCounter == nil {
		counter, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cronrule_rule_triggers_total",
			Help: "Number of rule executions by outcome.",
		}, []string{"rule", "outcome"}))
		if err != nil {
			return nil, err
		}
		ruleTriggerCounter = counter
	}
	if requestHistogram == nil {
		histogram, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cronrule_api_request_duration_seconds",
			Help:    "Duration of API requests by endpoint and envelope status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint", "status"}))
		if err != nil {
			return nil, err
		}
		requestHistogram = histogram
	}

	return &PrometheusCollector{
		hotReloads:   hotReloadCounter,
		ruleTriggers: ruleTriggerCounter,
		requests:     requestHistogram,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return collector, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncRuleTrigger counts one execution of rule.
func (p *PrometheusCollector) IncRuleTrigger(rule string, outcome Outcome) {
	if p == nil || p.ruleTriggers == nil {
		return
	}
	p.ruleTriggers.WithLabelValues(rule, string(outcome)).Inc()
}

// ObserveRequest records the duration of one API request.
func (p *PrometheusCollector) ObserveRequest(endpoint, status string, elapsed time.Duration) {
	if p == nil || p.requests == nil {
		return
	}
	p.requests.WithLabelValues(endpoint, status).Observe(elapsed.Seconds())
}
