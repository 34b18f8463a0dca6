// Package session owns the session lifecycle: it opens a session on an
// activity start, closes and credits it on an activity stop, and reconciles
// open sessions with live presence at startup.
//
// Every decision is taken against the stored ActiveSession row. The engine
// keeps no per-member state in memory, so duplicated or reordered signals and
// process restarts cannot desynchronize it from the store.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/streamstats/internal/metrics"
	"github.com/goodtune/streamstats/internal/notify"
	"github.com/goodtune/streamstats/internal/storage"
	"github.com/rs/zerolog"
)

// ErrNotReady is returned by engine calls made before Recover has succeeded.
var ErrNotReady = errors.New("session engine not ready: recovery has not completed")

// Closed describes a session closed by OnActivityStop.
type Closed struct {
	RecordID        string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds float64
}

// Engine is the session state machine.
type Engine struct {
	store    storage.SessionStore
	clock    quartz.Clock
	notifier notify.Notifier
	logger   zerolog.Logger
	ready    atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(clock quartz.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithNotifier sets the notifier called after every start and stop.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the parent logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine over store. It rejects activity signals until
// Recover has completed.
func NewEngine(store storage.SessionStore, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		clock:    quartz.NewReal(),
		notifier: notify.Discard{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "session-engine").Logger()
	return e
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Ready reports whether Recover has completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// OnActivityStart opens a session for the pair unless one is already open.
// A zero at means now. The store write runs to completion even if ctx is
// cancelled; only notification observes ctx.
func (e *Engine) OnActivityStart(ctx context.Context, community, member string, at time.Time) error {
	if !e.Ready() {
		return ErrNotReady
	}
	if at.IsZero() {
		at = e.clock.Now()
	}

	opened, err := e.store.OpenSession(context.WithoutCancel(ctx), community, member, at)
	if err != nil {
		e.storageError("open session", err, community, member)
		return err
	}

	if opened {
		metrics.SessionsOpened.Inc()
		e.logger.Info().
			Str("community", community).
			Str("member", member).
			Time("started_at", at).
			Msg("Opened session")
	} else {
		metrics.DuplicateStarts.Inc()
		e.logger.Debug().
			Str("community", community).
			Str("member", member).
			Msg("Session already open, ignoring start")
	}

	e.notify(ctx, notify.Event{
		Kind:      notify.KindStarted,
		Community: community,
		Member:    member,
		At:        at,
		Tracked:   opened,
		StartedAt: at,
	})
	return nil
}

// OnActivityStop closes the open session for the pair and credits its
// duration. The bool is false when nothing was open. A zero at means now.
func (e *Engine) OnActivityStop(ctx context.Context, community, member string, at time.Time) (Closed, bool, error) {
	if !e.Ready() {
		return Closed{}, false, ErrNotReady
	}
	if at.IsZero() {
		at = e.clock.Now()
	}

	record, err := e.store.CloseSession(context.WithoutCancel(ctx), community, member, at)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.EmptyStops.Inc()
		e.logger.Debug().
			Str("community", community).
			Str("member", member).
			Msg("No open session, ignoring stop")

		e.notify(ctx, notify.Event{
			Kind:      notify.KindEnded,
			Community: community,
			Member:    member,
			At:        at,
		})
		return Closed{}, false, nil
	}
	if err != nil {
		e.storageError("close session", err, community, member)
		return Closed{}, false, err
	}

	closed := Closed{
		RecordID:        record.ID,
		StartedAt:       record.StartedAt,
		EndedAt:         record.EndedAt,
		DurationSeconds: record.DurationSeconds,
	}

	metrics.SessionsClosed.Inc()
	metrics.CreditedSeconds.Add(closed.DurationSeconds)
	e.logger.Info().
		Str("community", community).
		Str("member", member).
		Time("started_at", closed.StartedAt).
		Float64("duration_seconds", closed.DurationSeconds).
		Msg("Closed session")

	e.notify(ctx, notify.Event{
		Kind:            notify.KindEnded,
		Community:       community,
		Member:          member,
		At:              at,
		Tracked:         true,
		StartedAt:       closed.StartedAt,
		DurationSeconds: closed.DurationSeconds,
	})
	return closed, true, nil
}

// Active lists the open sessions of a community.
func (e *Engine) Active(ctx context.Context, community string) ([]storage.ActiveSession, error) {
	return e.store.ListActive(ctx, community)
}

// Records lists closed sessions of a community, oldest first. An empty
// member lists every member.
func (e *Engine) Records(ctx context.Context, community, member string) ([]storage.SessionRecord, error) {
	return e.store.ListRecords(ctx, community, member)
}

func (e *Engine) notify(ctx context.Context, event notify.Event) {
	event.Channel = notify.ChannelFromContext(ctx)
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn().
			Err(err).
			Str("community", event.Community).
			Str("member", event.Member).
			Str("kind", string(event.Kind)).
			Msg("Failed to deliver session notification")
	}
}

func (e *Engine) storageError(op string, err error, community, member string) {
	if !errors.Is(err, storage.ErrStorage) {
		return
	}
	metrics.StorageErrors.WithLabelValues(op).Inc()
	e.logger.Error().
		Err(err).
		Str("community", community).
		Str("member", member).
		Msg("Failed to " + op)
}
