// Package service hosts the rule daemon: it resolves and schedules the
// configured rules and serves the translator over a JSON API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/ephemeris"
	"github.com/timzifer/cronrule/rules"
	"github.com/timzifer/cronrule/telemetry"
	"github.com/timzifer/cronrule/trigger"
)

const stopTimeout = 5 * time.Second

// Service owns the runner and the API of one configuration generation.
type Service struct {
	cfg       *config.Config
	logger    zerolog.Logger
	resolver  *trigger.Resolver
	describer *cron.Describer
	runner    *rules.Runner
	publisher rules.Publisher
	telemetry telemetry.Collector
	gatherer  prometheus.Gatherer
	now       func() time.Time
	locale    string
	handler   http.Handler

	api       *apiServer
	closeOnce sync.Once
}

// New builds a service for cfg. Rules are scheduled but nothing fires
// before Run.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	set := applyOptions(opts)
	resolver, err := NewResolver(cfg.Location)
	if err != nil {
		return nil, err
	}
	compiled, err := rules.Compile(cfg.Rules, resolver)
	if err != nil {
		return nil, err
	}
	locale, err := checkLocale(cfg.Locale)
	if err != nil {
		return nil, err
	}

	humanizer := set.humanizer
	if humanizer == nil {
		if humanizer, err = cron.NewHumanizer(); err != nil {
			logger.Warn().Err(err).Msg("humanizer unavailable, descriptions fall back")
			humanizer = nil
		}
	}

	publisher := set.publisher
	if publisher == nil {
		if publisher, err = newPublisher(cfg.MQTT, logger); err != nil {
			return nil, err
		}
	}

	gatherer := set.gatherer
	if gatherer == nil && cfg.Telemetry.Enabled {
		gatherer = prometheus.DefaultGatherer
	}

	svc := &Service{
		cfg:       cfg,
		logger:    logger,
		resolver:  resolver,
		describer: cron.NewDescriber(humanizer, logger),
		publisher: publisher,
		telemetry: set.telemetry,
		gatherer:  gatherer,
		now:       set.now,
		locale:    locale,
	}
	svc.runner = rules.NewRunner(compiled, publisher,
		rules.WithLogger(logger),
		rules.WithTelemetry(set.telemetry),
		rules.WithLocation(resolver.Location),
		rules.WithTopicPrefix(cfg.MQTT.TopicPrefix),
		rules.WithTimeout(cfg.MQTT.PublishTimeout.Duration),
		rules.WithClock(set.now),
	)
	svc.handler = newAPIHandler(svc)
	return svc, nil
}

// Validate performs a dry run of New without connecting to a broker or
// scheduling anything.
func Validate(cfg *config.Config, logger zerolog.Logger) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}
	resolver, err := NewResolver(cfg.Location)
	if err != nil {
		return err
	}
	if _, err := rules.Compile(cfg.Rules, resolver); err != nil {
		return err
	}
	if _, err := checkLocale(cfg.Locale); err != nil {
		return err
	}
	if cfg.MQTT.Enabled() && cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: qos %d out of range 0 to 2", cfg.MQTT.QoS)
	}
	logger.Debug().Int("rules", len(cfg.Rules)).Msg("configuration valid")
	return nil
}

var maxLatitude, maxLongitude = decimal.NewFromInt(90), decimal.NewFromInt(180)

// NewResolver builds the trigger resolver for a location section. Ephemeris
// keywords are only available when coordinates are configured.
func NewResolver(loc config.LocationConfig) (*trigger.Resolver, error) {
	zone, err := loc.Zone()
	if err != nil {
		return nil, err
	}
	if !loc.Configured() {
		return &trigger.Resolver{Location: zone}, nil
	}
	if loc.Latitude.Abs().GreaterThan(maxLatitude) {
		return nil, fmt.Errorf("location latitude %s out of range -90 to 90", loc.Latitude.String())
	}
	if loc.Longitude.Abs().GreaterThan(maxLongitude) {
		return nil, fmt.Errorf("location longitude %s out of range -180 to 180", loc.Longitude.String())
	}
	calc := ephemeris.New(ephemeris.Location{
		Name:      loc.Name,
		Latitude:  loc.Latitude.InexactFloat64(),
		Longitude: loc.Longitude.InexactFloat64(),
		TimeZone:  zone,
	})
	return trigger.NewResolver(calc), nil
}

func checkLocale(locale string) (string, error) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		return cron.DefaultLocale, nil
	}
	if !slices.Contains(cron.SupportedLocales(), locale) {
		return "", fmt.Errorf("unsupported locale %q", locale)
	}
	return locale, nil
}

func newPublisher(cfg config.MQTTConfig, logger zerolog.Logger) (rules.Publisher, error) {
	if !cfg.Enabled() {
		return rules.NewLogPublisher(logger), nil
	}
	return rules.NewMQTTPublisher(cfg, logger)
}

// EnableAPI starts serving the JSON API on listen.
func (s *Service) EnableAPI(listen string) error {
	if s == nil {
		return errors.New("service is nil")
	}
	if s.api != nil {
		return errors.New("api already enabled")
	}
	server, err := newAPIServer(listen, s.handler, s.logger.With().Str("component", "api").Logger())
	if err != nil {
		return err
	}
	s.api = server
	return nil
}

// APIAddress returns the address the API listens on, empty when disabled.
func (s *Service) APIAddress() string {
	if s == nil || s.api == nil {
		return ""
	}
	return s.api.ln.Addr().String()
}

// Handler returns the API handler without binding a listener.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Rules returns the status of every configured rule.
func (s *Service) Rules() []rules.Status {
	return s.runner.Status()
}

// Run fires rules until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.runner.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.runner.Stop(stopCtx); err != nil {
		s.logger.Warn().Err(err).Msg("rule executions still running at shutdown")
	}
	return nil
}

// Close stops the API and disconnects the publisher.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		if s.api != nil {
			s.api.close()
		}
		if s.publisher != nil {
			err = s.publisher.Close()
		}
	})
	return err
}
