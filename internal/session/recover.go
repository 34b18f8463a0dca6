package session

import (
	"context"
	"fmt"

	"github.com/goodtune/streamstats/internal/metrics"
	"github.com/goodtune/streamstats/internal/presence"
	"github.com/goodtune/streamstats/internal/storage"
)

// RecoveryReport summarizes one Recover run.
type RecoveryReport struct {
	// Opened counts engaged members that had no open session and got one
	// starting now.
	Opened int
	// AlreadyOpen counts engaged members whose open session survived.
	AlreadyOpen int
	// Stale lists open sessions of members the source does not report as
	// engaged. They are left untouched and close on the member's next stop.
	Stale []storage.ActiveSession
}

type pair struct {
	community string
	member    string
}

// Recover reconciles open sessions with src and then marks the engine ready.
//
// The whole presence snapshot is read before the first write. Engaged members
// without an open session get one starting now; time they spent engaged
// before the restart is not recoverable. Running Recover again is harmless.
func (e *Engine) Recover(ctx context.Context, src presence.Source) (RecoveryReport, error) {
	var report RecoveryReport
	now := e.clock.Now()

	communities, err := src.Communities(ctx)
	if err != nil {
		return report, fmt.Errorf("read presence communities: %w", err)
	}

	engaged := make(map[pair]struct{})
	pairs := make([]pair, 0)
	for _, community := range communities {
		members, err := src.CurrentlyEngaged(ctx, community)
		if err != nil {
			return report, fmt.Errorf("read presence for %s: %w", community, err)
		}
		for _, member := range members {
			p := pair{community: community, member: member}
			if _, ok := engaged[p]; ok {
				continue
			}
			engaged[p] = struct{}{}
			pairs = append(pairs, p)
		}
	}

	// Store work runs to completion once the snapshot is taken.
	storeCtx := context.WithoutCancel(ctx)

	stale, err := e.staleSessions(storeCtx, engaged)
	if err != nil {
		return report, err
	}
	report.Stale = stale

	for _, p := range pairs {
		opened, err := e.store.OpenSession(storeCtx, p.community, p.member, now)
		if err != nil {
			e.storageError("recover session", err, p.community, p.member)
			return report, err
		}
		if opened {
			report.Opened++
			metrics.RecoveredSessions.Inc()
			e.logger.Debug().
				Str("community", p.community).
				Str("member", p.member).
				Time("started_at", now).
				Msg("Recovered session")
		} else {
			report.AlreadyOpen++
		}
	}

	for _, s := range report.Stale {
		e.logger.Warn().
			Str("community", s.Community).
			Str("member", s.Member).
			Time("started_at", s.StartedAt).
			Msg("Open session for member not currently engaged")
	}

	e.ready.Store(true)
	e.logger.Info().
		Int("opened", report.Opened).
		Int("already_open", report.AlreadyOpen).
		Int("stale", len(report.Stale)).
		Msg("Recovery complete")

	return report, nil
}

func (e *Engine) staleSessions(ctx context.Context, engaged map[pair]struct{}) ([]storage.ActiveSession, error) {
	communities, err := e.store.ListCommunitiesWithActive(ctx)
	if err != nil {
		e.storageError("list communities", err, "", "")
		return nil, err
	}

	stale := make([]storage.ActiveSession, 0)
	for _, community := range communities {
		active, err := e.store.ListActive(ctx, community)
		if err != nil {
			e.storageError("list active", err, community, "")
			return nil, err
		}
		for _, s := range active {
			if _, ok := engaged[pair{community: s.Community, member: s.Member}]; !ok {
				stale = append(stale, s)
			}
		}
	}
	return stale, nil
}
