package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is what a rule condition can refer to.
type Env struct {
	Now        time.Time `expr:"now"`
	Rule       string    `expr:"rule"`
	Expression string    `expr:"expression"`
	Year       int       `expr:"year"`
	Month      int       `expr:"month"`
	Day        int       `expr:"day"`
	Hour       int       `expr:"hour"`
	Minute     int       `expr:"minute"`
	// Weekday counts from Sunday (0).
	Weekday int  `expr:"weekday"`
	Weekend bool `expr:"weekend"`
}

func newEnv(r *Rule, at time.Time) Env {
	return Env{
		Now:        at,
		Rule:       r.ID,
		Expression: r.Trigger.Text,
		Year:       at.Year(),
		Month:      int(at.Month()),
		Day:        at.Day(),
		Hour:       at.Hour(),
		Minute:     at.Minute(),
		Weekday:    int(at.Weekday()),
		Weekend:    at.Weekday() == time.Saturday || at.Weekday() == time.Sunday,
	}
}

func compileCondition(src string) (*vm.Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil
	}
	return expr.Compile(src, expr.Env(Env{}), expr.AsBool())
}

// Allows reports whether the condition of r holds at at. Rules without a
// condition always fire.
func (r *Rule) Allows(at time.Time) (bool, error) {
	if r.program == nil {
		return true, nil
	}
	out, err := expr.Run(r.program, newEnv(r, at))
	if err != nil {
		return false, fmt.Errorf("rule %s: evaluate condition: %w", r.ID, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("rule %s: condition returned %T", r.ID, out)
	}
	return ok, nil
}
