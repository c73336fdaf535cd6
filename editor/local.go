package editor

import (
	"context"
	"time"

	"github.com/timzifer/cronrule/trigger"
)

// DefaultPreview is the number of upcoming occurrences LocalChecker reports.
const DefaultPreview = 5

// LocalChecker validates in process, without a remote backend.
type LocalChecker struct {
	Resolver *trigger.Resolver
	Now      func() time.Time
	Preview  int
}

// NewLocalChecker returns a checker backed by resolver.
func NewLocalChecker(resolver *trigger.Resolver) *LocalChecker {
	return &LocalChecker{Resolver: resolver, Now: time.Now, Preview: DefaultPreview}
}

// Check resolves expr and evaluates it for now and at.
func (c *LocalChecker) Check(ctx context.Context, expr string, at time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	trig, err := c.Resolver.Resolve(expr)
	if err != nil {
		return Result{}, err
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	result := Result{Check: trig.Check(now, at)}
	if c.Preview > 0 {
		next, err := trig.Next(now, c.Preview)
		if err != nil {
			return Result{}, err
		}
		result.Next = next
	}
	return result, nil
}
