// Package notify delivers session start and end events to outbound sinks.
// Delivery is best-effort: the session engine has already committed by the
// time a Notifier is called.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/streamstats/internal/duration"
	"github.com/goodtune/streamstats/internal/metrics"
)

// Kind distinguishes session events.
type Kind string

const (
	KindStarted Kind = "started"
	KindEnded   Kind = "ended"
)

// Event is one activity transition as seen by the engine.
type Event struct {
	Kind      Kind      `json:"kind"`
	Community string    `json:"community"`
	Member    string    `json:"member"`
	Channel   string    `json:"channel,omitempty"`
	At        time.Time `json:"at"`

	// Set on KindStarted when a new session was opened, and on KindEnded
	// when a session was actually closed.
	Tracked bool `json:"tracked"`

	StartedAt       time.Time `json:"started_at,omitzero"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
}

// Title is the short human heading of the event.
func (e Event) Title() string {
	if e.Kind == KindStarted {
		return "Stream Started"
	}
	return "Stream Ended"
}

// Description renders the event the way it is shown in a log channel.
func (e Event) Description() string {
	verb := "ended"
	if e.Kind == KindStarted {
		verb = "started"
	}
	desc := fmt.Sprintf("%s %s streaming", e.Member, verb)
	if e.Channel != "" {
		desc += " in " + e.Channel
	}
	if e.Kind == KindEnded && e.Tracked {
		desc += " after " + duration.Format(e.DurationSeconds)
	}
	return desc
}

// Notifier receives session events.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			metrics.NotifyErrors.WithLabelValues(n.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Name() string { return "discard" }
func (Discard) Notify(context.Context, Event) error { return nil }

type channelKey struct{}

// ContextWithChannel attaches the channel the activity happened in. It ends
// up on events emitted while handling ctx.
func ContextWithChannel(ctx context.Context, channel string) context.Context {
	if channel == "" {
		return ctx
	}
	return context.WithValue(ctx, channelKey{}, channel)
}

// ChannelFromContext returns the channel set by ContextWithChannel, if any.
func ChannelFromContext(ctx context.Context) string {
	channel, _ := ctx.Value(channelKey{}).(string)
	return channel
}
