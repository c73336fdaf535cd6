package rules

import (
	"context"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/telemetry"
)

// Status is the runtime view of one rule.
type Status struct {
	ID          string            `json:"id"`
	Package     string            `json:"package,omitempty"`
	Topic       string            `json:"topic"`
	Name        string            `json:"name,omitempty"`
	Expression  string            `json:"expression"`
	Regime      cron.Regime       `json:"regime"`
	Disabled    bool              `json:"disabled,omitempty"`
	Next        *time.Time        `json:"next,omitempty"`
	LastRun     *time.Time        `json:"last_run,omitempty"`
	LastOutcome telemetry.Outcome `json:"last_outcome,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
	Fired       int               `json:"fired"`
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger.With().Str("component", "runner").Logger()
	}
}

// WithTelemetry reports every execution to collector.
func WithTelemetry(collector telemetry.Collector) RunnerOption {
	return func(r *Runner) {
		if collector != nil {
			r.telemetry = collector
		}
	}
}

// WithLocation sets the zone schedules are evaluated in.
func WithLocation(loc *time.Location) RunnerOption {
	return func(r *Runner) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithTopicPrefix is prepended to every published topic.
func WithTopicPrefix(prefix string) RunnerOption {
	return func(r *Runner) {
		r.prefix = prefix
	}
}

// DefaultTimeout bounds one execution when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// WithTimeout bounds every execution, including the publish. Values <= 0
// keep DefaultTimeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock replaces the wall clock used for condition evaluation.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// Runner fires rules on their schedules. Disabled rules are listed but never
// scheduled. A rule whose previous execution is still publishing is skipped.
type Runner struct {
	cron      *robfig.Cron
	publisher Publisher
	telemetry telemetry.Collector
	logger    zerolog.Logger
	location  *time.Location
	prefix    string
	timeout   time.Duration
	now       func() time.Time

	rules   []*Rule
	entries map[string]robfig.EntryID

	mu     sync.Mutex
	status map[string]*Status
}

// NewRunner schedules rules. Nothing fires before Start.
func NewRunner(rules []*Rule, publisher Publisher, opts ...RunnerOption) *Runner {
	r := &Runner{
		publisher: publisher,
		telemetry: telemetry.Noop(),
		logger:    zerolog.Nop(),
		location:  time.UTC,
		timeout:   DefaultTimeout,
		now:       time.Now,
		rules:     rules,
		entries:   make(map[string]robfig.EntryID, len(rules)),
		status:    make(map[string]*Status, len(rules)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	logger := cronLogger{logger: r.logger}
	r.cron = robfig.New(
		robfig.WithLocation(r.location),
		robfig.WithLogger(logger),
		robfig.WithChain(robfig.Recover(logger), robfig.SkipIfStillRunning(logger)),
	)
	for _, rule := range rules {
		r.status[rule.ID] = &Status{
			ID:         rule.ID,
			Package:    rule.Package,
			Topic:      rule.topic(),
			Name:       rule.Name,
			Expression: rule.Trigger.Text,
			Regime:     rule.Trigger.Regime,
			Disabled:   rule.Disabled,
		}
		if rule.Disabled {
			continue
		}
		r.entries[rule.ID] = r.cron.Schedule(rule.Trigger.Schedule, robfig.FuncJob(func() {
			r.Fire(context.Background(), rule, r.now().In(r.location))
		}))
	}
	return r
}

// Start begins firing rules in the background.
func (r *Runner) Start() {
	r.logger.Info().Int("rules", len(r.entries)).Msg("runner started")
	r.cron.Start()
}

// Stop halts the scheduler and waits for running executions or ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fire executes rule once as if it fired at at. The execution is bounded by
// the runner timeout so a stalled publish cannot block later runs.
func (r *Runner) Fire(ctx context.Context, rule *Rule, at time.Time) telemetry.Outcome {
	logger := r.logger.With().Str("rule", rule.ID).Logger()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	outcome, err := r.execute(ctx, rule, at)
	switch outcome {
	case telemetry.OutcomeFailed:
		logger.Error().Err(err).Msg("rule failed")
	case telemetry.OutcomeSkipped:
		logger.Debug().Msg("condition false, rule skipped")
	default:
		logger.Info().Time("at", at).Msg("rule fired")
	}
	r.telemetry.IncRuleTrigger(rule.ID, outcome)
	r.record(rule.ID, at, outcome, err)
	return outcome
}

func (r *Runner) execute(ctx context.Context, rule *Rule, at time.Time) (telemetry.Outcome, error) {
	ok, err := rule.Allows(at)
	if err != nil {
		return telemetry.OutcomeFailed, err
	}
	if !ok {
		return telemetry.OutcomeSkipped, nil
	}
	msg, err := rule.Message(r.prefix, at)
	if err != nil {
		return telemetry.OutcomeFailed, err
	}
	if err := r.publisher.Publish(ctx, msg); err != nil {
		return telemetry.OutcomeFailed, err
	}
	return telemetry.OutcomeFired, nil
}

func (r *Runner) record(id string, at time.Time, outcome telemetry.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.status[id]
	if !ok {
		return
	}
	st.LastRun = &at
	st.LastOutcome = outcome
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
	if outcome == telemetry.OutcomeFired {
		st.Fired++
	}
}

// Rules returns the scheduled rules in configuration order.
func (r *Runner) Rules() []*Rule {
	return r.rules
}

// Rule looks up a rule by id.
func (r *Runner) Rule(id string) (*Rule, bool) {
	for _, rule := range r.rules {
		if rule.ID == id {
			return rule, true
		}
	}
	return nil, false
}

// Status returns a snapshot of every rule in configuration order. Next is
// taken from the scheduler once it runs and computed otherwise.
func (r *Runner) Status() []Status {
	now := r.now().In(r.location)
	result := make([]Status, 0, len(r.rules))
	for _, rule := range r.rules {
		r.mu.Lock()
		st := *r.status[rule.ID]
		r.mu.Unlock()
		if !rule.Disabled {
			st.Next = r.nextRun(rule, now)
		}
		result = append(result, st)
	}
	return result
}

func (r *Runner) nextRun(rule *Rule, now time.Time) *time.Time {
	if id, ok := r.entries[rule.ID]; ok {
		if next := r.cron.Entry(id).Next; !next.IsZero() {
			return &next
		}
	}
	next, err := rule.Trigger.Next(now, 1)
	if err != nil || len(next) == 0 {
		return nil
	}
	return &next[0]
}
