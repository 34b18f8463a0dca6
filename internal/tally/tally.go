// Package tally answers lookups and rankings and applies admin adjustments to
// totals. It never touches open sessions: a running session keeps running
// through any adjustment or reset and still credits when it closes.
package tally

import (
	"context"

	"github.com/goodtune/streamstats/internal/duration"
	"github.com/goodtune/streamstats/internal/metrics"
	"github.com/goodtune/streamstats/internal/storage"
	"github.com/rs/zerolog"
)

// Entry is one leaderboard row.
type Entry struct {
	Rank    int     `json:"rank"`
	Member  string  `json:"member"`
	Seconds float64 `json:"seconds"`
}

// Service composes TotalStore calls.
type Service struct {
	totals storage.TotalStore
	logger zerolog.Logger
}

// NewService creates a tally service
func NewService(totals storage.TotalStore, logger zerolog.Logger) *Service {
	return &Service{
		totals: totals,
		logger: logger.With().Str("component", "tally").Logger(),
	}
}

// Lookup returns a member's total seconds, zero when none is recorded.
func (s *Service) Lookup(ctx context.Context, community, member string) (float64, error) {
	return s.totals.GetSeconds(ctx, community, member)
}

// Leaderboard returns the top n members, highest first.
func (s *Service) Leaderboard(ctx context.Context, community string, n int) ([]Entry, error) {
	rows, err := s.totals.TopN(ctx, community, n)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, Entry{Rank: i + 1, Member: row.Member, Seconds: row.Seconds})
	}
	return entries, nil
}

// AddHours credits hours and returns the new total in seconds.
func (s *Service) AddHours(ctx context.Context, community, member string, hours float64) (float64, error) {
	total, err := s.totals.AddSeconds(ctx, community, member, duration.Hours(hours))
	if err != nil {
		return 0, err
	}
	s.applied("add", community, member, hours, total)
	return total, nil
}

// DeductHours debits hours, flooring at zero, and returns the new total in seconds.
func (s *Service) DeductHours(ctx context.Context, community, member string, hours float64) (float64, error) {
	total, err := s.totals.DeductSeconds(ctx, community, member, duration.Hours(hours))
	if err != nil {
		return 0, err
	}
	s.applied("deduct", community, member, hours, total)
	return total, nil
}

// SetHours overwrites the total and returns it in seconds.
func (s *Service) SetHours(ctx context.Context, community, member string, hours float64) (float64, error) {
	total := storage.NonNegative(duration.Hours(hours))
	if err := s.totals.SetSeconds(ctx, community, member, total); err != nil {
		return 0, err
	}
	s.applied("set", community, member, hours, total)
	return total, nil
}

// ResetUser removes a member's total.
func (s *Service) ResetUser(ctx context.Context, community, member string) error {
	if err := s.totals.ClearUser(ctx, community, member); err != nil {
		return err
	}
	s.applied("reset", community, member, 0, 0)
	return nil
}

// ResetAll removes every total of a community and returns how many were removed.
func (s *Service) ResetAll(ctx context.Context, community string) (int, error) {
	n, err := s.totals.ClearAll(ctx, community)
	if err != nil {
		return 0, err
	}

	metrics.AdminMutations.WithLabelValues("reset_all").Inc()
	s.logger.Info().
		Str("community", community).
		Int("removed", n).
		Msg("Reset all totals")
	return n, nil
}

func (s *Service) applied(action, community, member string, hours, total float64) {
	metrics.AdminMutations.WithLabelValues(action).Inc()
	s.logger.Info().
		Str("action", action).
		Str("community", community).
		Str("member", member).
		Float64("hours", hours).
		Float64("total_seconds", total).
		Msg("Adjusted total")
}
