package rules

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/telemetry"
	"github.com/timzifer/cronrule/trigger"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type outcomeCollector struct {
	telemetry.Collector
	mu       sync.Mutex
	outcomes map[string][]telemetry.Outcome
}

func newOutcomeCollector() *outcomeCollector {
	return &outcomeCollector{Collector: telemetry.Noop(), outcomes: make(map[string][]telemetry.Outcome)}
}

func (c *outcomeCollector) IncRuleTrigger(rule string, outcome telemetry.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[rule] = append(c.outcomes[rule], outcome)
}

func compile(t *testing.T, cfgs ...config.RuleConfig) []*Rule {
	t.Helper()
	rules, err := Compile(cfgs, trigger.NewResolver(nil))
	require.NoError(t, err)
	return rules
}

var saturdayNoon = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func TestCompileReportsRule(t *testing.T) {
	_, err := Compile([]config.RuleConfig{{ID: "bad", Expression: "0 25 * * *"}}, trigger.NewResolver(nil))
	require.ErrorContains(t, err, "rule bad")
	var rangeErr *cron.RangeError
	require.ErrorAs(t, err, &rangeErr)

	_, err = Compile([]config.RuleConfig{{ID: "cond", Expression: "@daily", Condition: "hour +"}}, trigger.NewResolver(nil))
	require.ErrorContains(t, err, "rule cond: condition")

	_, err = Compile([]config.RuleConfig{{ID: "typed", Expression: "@daily", Condition: "hour"}}, trigger.NewResolver(nil))
	require.Error(t, err)
}

func TestConditionEnvironment(t *testing.T) {
	rules := compile(t,
		config.RuleConfig{ID: "weekend", Expression: "0 12 * * *", Condition: "weekend && hour == 12"},
		config.RuleConfig{ID: "weekday", Expression: "0 12 * * *", Condition: "weekday in [1, 2, 3, 4, 5]"},
		config.RuleConfig{ID: "always", Expression: "0 12 * * *"},
		config.RuleConfig{ID: "named", Expression: "0 12 * * *", Condition: `rule == "named" && month == 6 && now.Year() == 2024`},
	)
	want := []bool{true, false, true, true}
	for i, rule := range rules {
		ok, err := rule.Allows(saturdayNoon)
		require.NoError(t, err, rule.ID)
		require.Equal(t, want[i], ok, rule.ID)
	}
}

func TestMessageTopicAndPayload(t *testing.T) {
	rules := compile(t,
		config.RuleConfig{ID: "lights", Name: "Evening lights", Expression: "30 18 * * *"},
		config.RuleConfig{ID: "pump", Expression: "@hourly", Topic: "/garden/pump/", Payload: "ON"},
	)

	msg, err := rules[0].Message("home/", saturdayNoon.Add(1500*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, "home/lights", msg.Topic)
	var event Event
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	require.Equal(t, Event{Rule: "lights", Name: "Evening lights", Expression: "30 18 * * *", FiredAt: saturdayNoon.Add(time.Second)}, event)

	msg, err = rules[1].Message("", saturdayNoon)
	require.NoError(t, err)
	require.Equal(t, Message{Topic: "garden/pump", Payload: []byte("ON")}, msg)
}

func TestPackageQualifiesDefaultTopic(t *testing.T) {
	rules := compile(t,
		config.RuleConfig{ID: "sprinkler", Expression: "0 5 * * *", Source: config.ModuleReference{Package: "home.garden"}},
		config.RuleConfig{ID: "pump", Expression: "@hourly", Topic: "garden/pump", Source: config.ModuleReference{Package: "home.garden"}},
	)
	require.Equal(t, "home.garden", rules[0].Package)
	require.Equal(t, "home/garden/sprinkler", rules[0].DefaultTopic())

	msg, err := rules[0].Message("cronrule", saturdayNoon)
	require.NoError(t, err)
	require.Equal(t, "cronrule/home/garden/sprinkler", msg.Topic)
	var event Event
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	require.Equal(t, "home.garden", event.Package)

	msg, err = rules[1].Message("", saturdayNoon)
	require.NoError(t, err)
	require.Equal(t, "garden/pump", msg.Topic)

	status := NewRunner(rules, &recordingPublisher{}).Status()
	require.Equal(t, "home.garden", status[0].Package)
	require.Equal(t, "home/garden/sprinkler", status[0].Topic)
	require.Equal(t, "garden/pump", status[1].Topic)
}

func TestFireOutcomes(t *testing.T) {
	rules := compile(t,
		config.RuleConfig{ID: "fire", Expression: "0 12 * * *"},
		config.RuleConfig{ID: "skip", Expression: "0 12 * * *", Condition: "!weekend"},
	)
	pub := &recordingPublisher{}
	collector := newOutcomeCollector()
	runner := NewRunner(rules, pub, WithTelemetry(collector), WithTopicPrefix("cronrule"))

	require.Equal(t, telemetry.OutcomeFired, runner.Fire(context.Background(), rules[0], saturdayNoon))
	require.Equal(t, telemetry.OutcomeSkipped, runner.Fire(context.Background(), rules[1], saturdayNoon))

	pub.err = errors.New("broker gone")
	require.Equal(t, telemetry.OutcomeFailed, runner.Fire(context.Background(), rules[0], saturdayNoon))

	require.Len(t, pub.messages, 1)
	require.Equal(t, "cronrule/fire", pub.messages[0].Topic)
	require.Equal(t, []telemetry.Outcome{telemetry.OutcomeFired, telemetry.OutcomeFailed}, collector.outcomes["fire"])
	require.Equal(t, []telemetry.Outcome{telemetry.OutcomeSkipped}, collector.outcomes["skip"])

	status := runner.Status()
	require.Equal(t, 1, status[0].Fired)
	require.Equal(t, telemetry.OutcomeFailed, status[0].LastOutcome)
	require.Equal(t, "broker gone", status[0].LastError)
	require.Equal(t, saturdayNoon, *status[0].LastRun)
	require.Equal(t, telemetry.OutcomeSkipped, status[1].LastOutcome)
}

type stalledPublisher struct{}

func (stalledPublisher) Publish(ctx context.Context, _ Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stalledPublisher) Close() error { return nil }

func TestFireBoundsStalledPublish(t *testing.T) {
	rules := compile(t, config.RuleConfig{ID: "pump", Expression: "0 12 * * *"})
	runner := NewRunner(rules, stalledPublisher{}, WithTimeout(20*time.Millisecond))

	start := time.Now()
	require.Equal(t, telemetry.OutcomeFailed, runner.Fire(context.Background(), rules[0], saturdayNoon))
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, context.DeadlineExceeded.Error(), runner.Status()[0].LastError)
}

func TestStatusNextRun(t *testing.T) {
	rules := compile(t,
		config.RuleConfig{ID: "noon", Name: "Noon", Expression: "0 12 * * *"},
		config.RuleConfig{ID: "off", Expression: "@daily", Disable: true},
	)
	runner := NewRunner(rules, &recordingPublisher{}, WithClock(func() time.Time { return saturdayNoon }))

	status := runner.Status()
	require.Len(t, status, 2)
	require.Equal(t, "noon", status[0].ID)
	require.Equal(t, cron.RegimeCron, status[0].Regime)
	require.NotNil(t, status[0].Next)
	require.Equal(t, saturdayNoon.Add(24*time.Hour), *status[0].Next)

	require.True(t, status[1].Disabled)
	require.Nil(t, status[1].Next)
	require.Equal(t, cron.RegimePredefined, status[1].Regime)

	rule, ok := runner.Rule("off")
	require.True(t, ok)
	require.Same(t, rules[1], rule)
	_, ok = runner.Rule("missing")
	require.False(t, ok)
}

func TestRunnerStartStop(t *testing.T) {
	runner := NewRunner(compile(t, config.RuleConfig{ID: "noon", Expression: "0 12 * * *"}), &recordingPublisher{})
	runner.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, runner.Stop(ctx))
}

func TestMQTTOptionsValidate(t *testing.T) {
	_, err := NewMQTTPublisher(config.MQTTConfig{}, zerolog.Nop())
	require.ErrorContains(t, err, "broker address is required")

	_, err = clientOptions(config.MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3}, zerolog.Nop())
	require.ErrorContains(t, err, "qos 3")

	opts, err := clientOptions(config.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "cronrule", Username: "u", Password: "p"}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "cronrule", opts.ClientID)
	require.Equal(t, "u", opts.Username)
	require.Equal(t, defaultConnectTimeout, opts.ConnectTimeout)
	require.Len(t, opts.Servers, 1)
}
