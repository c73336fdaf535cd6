package rules

import (
	"context"

	"github.com/rs/zerolog"
)

// Message is one published rule event.
type Message struct {
	Topic   string
	Payload []byte
}

// Publisher delivers rule events.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher returns a publisher logging at info level.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "publisher").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.logger.Info().Str("topic", msg.Topic).Bytes("payload", msg.Payload).Msg("rule fired")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
