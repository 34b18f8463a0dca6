package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Log writes events to a zerolog logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a logging notifier
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Notify(_ context.Context, event Event) error {
	e := l.logger.Info().
		Str("title", event.Title()).
		Str("kind", string(event.Kind)).
		Str("community", event.Community).
		Str("member", event.Member).
		Time("at", event.At).
		Bool("tracked", event.Tracked)
	if event.Channel != "" {
		e = e.Str("channel", event.Channel)
	}
	if event.Kind == KindEnded && event.Tracked {
		e = e.Time("started_at", event.StartedAt).Float64("duration_seconds", event.DurationSeconds)
	}
	e.Msg(event.Description())
	return nil
}
