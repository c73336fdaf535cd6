package processor

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/service"
	"github.com/timzifer/cronrule/telemetry"
)

// WithLogger provides a custom logger instance for the processor.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		cfg.customLogger = true
		return nil
	}
}

// WithConfigPath configures the processor to load configuration data from the provided path.
func WithConfigPath(path string, register func(ReloadFunc)) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.configPath = strings.TrimSpace(path)
		cfg.registerReload = register
		return nil
	}
}

// WithConfig supplies an already loaded configuration instance.
func WithConfig(cfgData *config.Config) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.config = cfgData
		return nil
	}
}

// WithListen overrides the API address of the configuration.
func WithListen(addr string) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return errors.New("listen address must not be empty")
		}
		cfg.listen = addr
		return nil
	}
}

// WithoutAPI runs the rules without serving the API.
func WithoutAPI() Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.apiDisabled = true
		return nil
	}
}

// WithServiceOptions forwards options to every service the processor builds.
func WithServiceOptions(opts ...service.Option) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.serviceOptions = append(cfg.serviceOptions, opts...)
		return nil
	}
}

// WithTelemetry injects a collector instance overriding the default configuration-based behaviour.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		cfg.telemetryProvided = true
		return nil
	}
}
