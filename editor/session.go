package editor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/cronrule/cron"
	"github.com/timzifer/cronrule/ephemeris"
)

// Checker validates an expression against the current time and a candidate
// date.
type Checker interface {
	Check(ctx context.Context, expr string, at time.Time) (Result, error)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithObserver registers a callback invoked after every applied transition.
func WithObserver(fn func(State)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// Session drives the state machine for one edited expression. Edits may
// come from any goroutine; checks run in the background.
type Session struct {
	checker  Checker
	logger   zerolog.Logger
	observer func(State)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// valid is written with mu held: cleared when a round begins and set by
	// settle.
	valid atomic.Bool
}

// NewSession creates a session validating with checker.
func NewSession(checker Checker, opts ...Option) *Session {
	s := &Session{
		checker: checker,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "editor").Logger()
	return s
}

// Edit sets the text and validates it against at. A syntax error found
// locally settles the round without calling the checker.
func (s *Session) Edit(ctx context.Context, text string, at time.Time) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	state := Edit(s.state, text)
	s.valid.Store(false)
	if state.Phase == Idle {
		s.state = state
		s.mu.Unlock()
		s.notify(state)
		s.settle(Response{Seq: state.Seq, Err: errEmpty})
		return
	}
	state, req := Begin(state)
	s.state = state
	if err := localCheck(text); err != nil {
		s.mu.Unlock()
		s.notify(state)
		s.settle(Response{Seq: req.Seq, Err: err})
		return
	}
	checkCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()
	s.notify(state)

	go func() {
		defer s.wg.Done()
		defer cancel()
		result, err := s.checker.Check(checkCtx, req.Text, at)
		if ctxErr := checkCtx.Err(); ctxErr != nil {
			if s.superseded(req.Seq) {
				s.logger.Debug().Uint64("seq", req.Seq).Msg("check superseded")
				return
			}
			err = ctxErr
		}
		s.settle(Response{Seq: req.Seq, Result: result, Err: err})
	}()
}

var errEmpty = errors.New("expression is empty")

func localCheck(text string) error {
	if strings.HasPrefix(text, "@") {
		if _, ok := cron.LookupPredefined(text); ok || ephemeris.Supports(text) {
			return nil
		}
	}
	_, err := cron.Parse(text)
	return err
}

// superseded reports whether a later edit replaced round seq.
func (s *Session) superseded(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Seq != seq || s.state.Phase != Validating
}

// settle is the completion path: it applies resp and publishes validity.
func (s *Session) settle(resp Response) {
	s.mu.Lock()
	state, applied := Complete(s.state, resp)
	if !applied {
		current := s.state
		s.mu.Unlock()
		if current.Phase != Idle || resp.Seq != current.Seq {
			s.logger.Debug().Uint64("seq", resp.Seq).Uint64("current", current.Seq).Msg("stale response dropped")
		}
		return
	}
	s.state = state
	s.valid.Store(state.Phase == Valid)
	s.mu.Unlock()

	if state.Phase == Invalid {
		s.logger.Debug().Str("expression", state.Text).Str("error", state.Err).Msg("expression invalid")
	}
	s.notify(state)
}

func (s *Session) notify(state State) {
	if s.observer != nil {
		s.observer(state)
	}
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Valid reports whether the last settled round accepted the expression.
func (s *Session) Valid() bool {
	return s.valid.Load()
}

// Wait blocks until no check is in flight.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels the check in flight and waits for it.
func (s *Session) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
