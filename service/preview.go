package service

import (
	"context"
	"runtime"
	"time"

	"github.com/timzifer/cronrule/cron"
)

// RulePreview lists the upcoming runs of one rule.
type RulePreview struct {
	ID         string      `json:"id"`
	Expression string      `json:"expression"`
	Regime     cron.Regime `json:"regime"`
	Next       []time.Time `json:"next,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Preview computes the next count runs of every rule, in configuration
// order. Rules are evaluated concurrently since ephemeris and sparse cron
// expressions can take a while.
func (s *Service) Preview(ctx context.Context, count int) ([]RulePreview, error) {
	compiled := s.runner.Rules()
	previews := make([]RulePreview, len(compiled))
	indexes := make([]int, len(compiled))
	for i := range indexes {
		indexes[i] = i
	}
	from := s.now().In(s.resolver.Location)
	_, aborted := runWorkerPool(ctx, runtime.GOMAXPROCS(0), indexes, func(_ context.Context, i int) error {
		rule := compiled[i]
		p := RulePreview{ID: rule.ID, Expression: rule.Trigger.Text, Regime: rule.Trigger.Regime}
		next, err := rule.Trigger.Next(from, count)
		if err != nil {
			p.Error = err.Error()
		} else {
			p.Next = next
		}
		previews[i] = p
		return err
	})
	if aborted {
		return nil, ctx.Err()
	}
	return previews, nil
}
