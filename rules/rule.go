// Package rules schedules configured rules and publishes an event every
// time one of them fires.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/trigger"
)

// Rule is a configured rule with its expression resolved and its condition
// compiled.
type Rule struct {
	ID string
	// Package is the dotted package path of the module defining the rule.
	Package     string
	Name        string
	Description string
	Trigger     *trigger.Trigger
	Topic       string
	Payload     string
	Disabled    bool
	Condition   string

	program *vm.Program
}

// Compile resolves every rule of cfgs.
func Compile(cfgs []config.RuleConfig, resolver *trigger.Resolver) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(cfgs))
	for _, cfg := range cfgs {
		rule, err := CompileRule(cfg, resolver)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// CompileRule resolves the expression of cfg and compiles its condition.
func CompileRule(cfg config.RuleConfig, resolver *trigger.Resolver) (*Rule, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("rule id must not be empty")
	}
	trig, err := resolver.Resolve(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", cfg.ID, err)
	}
	program, err := compileCondition(cfg.Condition)
	if err != nil {
		return nil, fmt.Errorf("rule %s: condition: %w", cfg.ID, err)
	}
	return &Rule{
		ID:          cfg.ID,
		Package:     cfg.Source.Package,
		Name:        cfg.Name,
		Description: cfg.Description,
		Trigger:     trig,
		Topic:       strings.Trim(cfg.Topic, "/"),
		Payload:     cfg.Payload,
		Disabled:    cfg.Disable,
		Condition:   strings.TrimSpace(cfg.Condition),
		program:     program,
	}, nil
}

// Event is the default payload published when a rule fires.
type Event struct {
	Rule       string    `json:"rule"`
	Package    string    `json:"package,omitempty"`
	Name       string    `json:"name,omitempty"`
	Expression string    `json:"expression"`
	FiredAt    time.Time `json:"fired_at"`
}

// DefaultTopic is the package path as topic levels followed by the rule id,
// e.g. home/garden/sprinkler for rule sprinkler in package home.garden.
func (r *Rule) DefaultTopic() string {
	if r.Package == "" {
		return r.ID
	}
	return strings.ReplaceAll(r.Package, ".", "/") + "/" + r.ID
}

func (r *Rule) topic() string {
	if r.Topic != "" {
		return r.Topic
	}
	return r.DefaultTopic()
}

// Message builds the message published for a firing at at. prefix is
// prepended to the rule topic, which defaults to DefaultTopic.
func (r *Rule) Message(prefix string, at time.Time) (Message, error) {
	topic := r.topic()
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		topic = prefix + "/" + topic
	}
	if r.Payload != "" {
		return Message{Topic: topic, Payload: []byte(r.Payload)}, nil
	}
	payload, err := json.Marshal(Event{
		Rule:       r.ID,
		Package:    r.Package,
		Name:       r.Name,
		Expression: r.Trigger.Text,
		FiredAt:    at.Truncate(time.Second),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Payload: payload}, nil
}
