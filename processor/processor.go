// Package processor runs the rule daemon: it builds the logger and service
// for a configuration and rebuilds both when the configuration changes.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/internal/logging"
	"github.com/timzifer/cronrule/internal/reload"
	"github.com/timzifer/cronrule/service"
	"github.com/timzifer/cronrule/telemetry"
)

// ReloadFunc represents a function that reloads the processor configuration.
type ReloadFunc func(ctx context.Context) error

// Option configures the processor during construction.
type Option func(*settings) error

type settings struct {
	config            *config.Config
	configPath        string
	registerReload    func(ReloadFunc)
	logger            zerolog.Logger
	customLogger      bool
	telemetry         telemetry.Collector
	telemetryProvided bool
	serviceOptions    []service.Option
	listen            string
	apiDisabled       bool
}

// errStopped answers reload requests that arrive while Run is exiting.
var errStopped = errors.New("processor stopped")

// Processor orchestrates the service lifecycle, including configuration reloads and cleanup.
type Processor struct {
	mu sync.Mutex

	config     *config.Config
	configPath string

	collector      telemetry.Collector
	serviceOptions []service.Option

	customLogger bool
	baseLogger   zerolog.Logger

	listen      string
	apiDisabled bool

	watcher  *reload.Watcher
	reloadCh chan reloadRequest

	current *runtimeState
	running bool
}

type runtimeState struct {
	cfg     *config.Config
	logger  zerolog.Logger
	cleanup func()
	srv     *service.Service
}

func (r *runtimeState) close() {
	if err := r.srv.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("close service")
	}
	r.cleanup()
}

type reloadRequest struct {
	done    chan error
	changes []reload.Change
}

// New constructs a processor with the supplied options.
func New(ctx context.Context, opts ...Option) (*Processor, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := settings{
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		if cfg.configPath == "" {
			return nil, errors.New("configuration path required")
		}
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		cfg.config = loaded
	}

	if !cfg.telemetryProvided {
		collector, err := newTelemetryCollector(cfg.config.Telemetry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
	}

	proc := &Processor{
		config:         cfg.config,
		configPath:     cfg.configPath,
		collector:      cfg.telemetry,
		serviceOptions: cfg.serviceOptions,
		customLogger:   cfg.customLogger,
		baseLogger:     cfg.logger,
		listen:         cfg.listen,
		apiDisabled:    cfg.apiDisabled,
	}

	runtime, err := proc.buildRuntime(cfg.config)
	if err != nil {
		return nil, err
	}
	proc.current = runtime

	if cfg.configPath != "" {
		proc.reloadCh = make(chan reloadRequest)
	}

	if err := proc.initWatcher(cfg.config); err != nil {
		runtime.close()
		return nil, err
	}

	if cfg.registerReload != nil {
		cfg.registerReload(proc.Reload)
	}

	return proc, nil
}

// APIAddress returns the listen address of the running API.
func (p *Processor) APIAddress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ""
	}
	return p.current.srv.APIAddress()
}

// Run executes the processor until the context is cancelled or the service stops with an error.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return errors.New("processor not initialized")
	}
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	current := p.current
	watcher := p.watcher
	reloadCh := p.reloadCh
	p.mu.Unlock()

	var ticker *time.Ticker
	if watcher != nil {
		ticker = time.NewTicker(time.Second)
	}

	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		p.mu.Lock()
		p.running = false
		if p.current == current {
			p.current = nil
		}
		p.mu.Unlock()
		p.drainReloadRequests(reloadCh, errStopped)
	}()

	for {
		runCtx, cancelRun := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func(s *service.Service) {
			errCh <- s.Run(runCtx)
		}(current.srv)

		var pending *reloadRequest
		var nextConfig *config.Config

	loop:
		for {
			select {
			case <-ctx.Done():
				cancelRun()
				err := <-errCh
				current.close()
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return ctx.Err()
			case err := <-errCh:
				cancelRun()
				current.close()
				return err
			case req := <-reloadCh:
				cfg, err := p.loadValidated(current.logger)
				if err != nil {
					req.done <- err
					continue
				}
				pending = &req
				nextConfig = cfg
				break loop
			case <-tickChannel(ticker):
				changes, err := watcher.Check()
				if err != nil {
					current.logger.Error().Err(err).Msg("failed to check configuration changes")
					continue
				}
				if len(changes) == 0 {
					continue
				}
				for _, change := range changes {
					current.logger.Info().Str("file", change.Path).Str("change", string(change.Kind)).Msg("configuration changed")
				}
				cfg, err := p.loadValidated(current.logger)
				if err != nil {
					// Refresh the snapshot so a broken file is reported once.
					if err := watcher.Update(p.configPath, current.cfg); err != nil {
						current.logger.Error().Err(err).Msg("failed to update configuration watcher")
					}
					continue
				}
				pending = &reloadRequest{changes: changes}
				nextConfig = cfg
				break loop
			}
		}

		cancelRun()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			current.logger.Error().Err(err).Msg("service stopped during reload")
		}
		current.close()

		runtime, err := p.buildRuntime(nextConfig)
		if err != nil {
			if pending.done != nil {
				pending.done <- err
			}
			return err
		}

		p.mu.Lock()
		p.current = runtime
		current = runtime
		p.config = nextConfig
		if err := p.initWatcher(nextConfig); err != nil {
			current.logger.Error().Err(err).Msg("failed to update configuration watcher")
		}
		watcher = p.watcher
		if ticker != nil {
			ticker.Stop()
			ticker = nil
		}
		if watcher != nil {
			ticker = time.NewTicker(time.Second)
		}
		p.mu.Unlock()

		if pending.done != nil {
			pending.done <- nil
		}
		for _, file := range reload.Paths(pending.changes) {
			p.collector.IncHotReload(file)
		}
		current.logger.Info().Int("rules", len(nextConfig.Rules)).Msg("configuration reloaded")
	}
}

// Reload rebuilds the processor using the latest configuration from disk.
func (p *Processor) Reload(ctx context.Context) error {
	p.mu.Lock()
	running := p.running
	reloadCh := p.reloadCh
	p.mu.Unlock()

	if !running {
		cfg, err := p.loadValidated(zerolog.Nop())
		if err != nil {
			return err
		}
		return p.swapRuntime(cfg)
	}

	if reloadCh == nil {
		return errors.New("reload not supported without configuration path")
	}

	req := reloadRequest{done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case reloadCh <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.done:
		return err
	}
}

// Close releases resources managed by the processor.
func (p *Processor) Close() {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()

	if current != nil {
		current.close()
	}
}

func (p *Processor) drainReloadRequests(ch chan reloadRequest, err error) {
	if ch == nil {
		return
	}
	for {
		select {
		case req := <-ch:
			if req.done != nil {
				req.done <- err
			}
		default:
			return
		}
	}
}

func (p *Processor) swapRuntime(cfg *config.Config) error {
	runtime, err := p.buildRuntime(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.current
	p.current = runtime
	p.config = cfg
	err = p.initWatcher(cfg)
	p.mu.Unlock()
	if err != nil {
		runtime.close()
		return err
	}

	if old != nil {
		old.close()
	}
	return nil
}

func (p *Processor) buildRuntime(cfg *config.Config) (*runtimeState, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	runtime := &runtimeState{cfg: cfg, cleanup: func() {}}
	if p.customLogger {
		runtime.logger = p.baseLogger
	} else {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return nil, err
		}
		runtime.logger = logger
		runtime.cleanup = cleanup
	}
	log.Logger = runtime.logger

	opts := append([]service.Option{service.WithTelemetry(p.collector)}, p.serviceOptions...)
	srv, err := service.New(cfg, runtime.logger, opts...)
	if err != nil {
		runtime.cleanup()
		return nil, err
	}
	runtime.srv = srv
	if !p.apiDisabled {
		listen := p.listen
		if listen == "" {
			listen = cfg.ListenAddress()
		}
		if err := srv.EnableAPI(listen); err != nil {
			runtime.close()
			return nil, err
		}
	}
	return runtime, nil
}

// loadValidated reads the configuration from disk and dry-runs it.
func (p *Processor) loadValidated(logger zerolog.Logger) (*config.Config, error) {
	if p.configPath == "" {
		return nil, errors.New("configuration path not configured")
	}
	cfg, err := config.Load(p.configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to reload configuration")
		return nil, err
	}
	if err := service.Validate(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("reloaded configuration invalid")
		return nil, err
	}
	return cfg, nil
}

func (p *Processor) initWatcher(cfg *config.Config) error {
	if p.configPath == "" || !cfg.HotReload {
		p.watcher = nil
		return nil
	}
	if p.watcher == nil {
		watcher, err := reload.NewWatcher(p.configPath, cfg)
		if err != nil {
			return err
		}
		p.watcher = watcher
		return nil
	}
	return p.watcher.Update(p.configPath, cfg)
}

func tickChannel(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
