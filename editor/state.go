// Package editor models the validation life cycle of a rule expression being
// edited: every edit starts a new validation round and only the response of
// the latest round is applied.
package editor

import (
	"time"

	"github.com/timzifer/cronrule/trigger"
)

// Phase is the validation phase of the edited expression.
type Phase int

const (
	Idle Phase = iota
	Editing
	Validating
	Valid
	Invalid
)

var phaseNames = [...]string{"idle", "editing", "validating", "valid", "invalid"}

func (p Phase) String() string {
	if p < Idle || p > Invalid {
		return "unknown"
	}
	return phaseNames[p]
}

// Result is what a successful check reports about the expression.
type Result struct {
	trigger.Check
	Next []time.Time `json:"next,omitempty"`
}

// State is an immutable snapshot of the editor. Transitions return a new
// value.
type State struct {
	Phase  Phase
	Text   string
	Seq    uint64
	Err    string
	Result *Result
}

// Request asks for validation of Text. Seq identifies the round.
type Request struct {
	Seq  uint64
	Text string
}

// Response answers the request with the same Seq.
type Response struct {
	Seq    uint64
	Result Result
	Err    error
}

// Edit replaces the text. Any round in flight becomes stale.
func Edit(s State, text string) State {
	next := State{Phase: Editing, Text: text, Seq: s.Seq}
	if text == "" {
		next.Phase = Idle
	}
	return next
}

// Begin opens a new validation round for the current text.
func Begin(s State) (State, Request) {
	s.Seq++
	s.Phase = Validating
	s.Err = ""
	s.Result = nil
	return s, Request{Seq: s.Seq, Text: s.Text}
}

// Complete applies resp if it answers the current round and returns s
// unchanged otherwise. The second value reports whether resp was applied.
func Complete(s State, resp Response) (State, bool) {
	if s.Phase != Validating || resp.Seq != s.Seq {
		return s, false
	}
	if resp.Err != nil {
		s.Phase = Invalid
		s.Err = resp.Err.Error()
		return s, true
	}
	result := resp.Result
	s.Phase = Valid
	s.Result = &result
	return s, true
}
