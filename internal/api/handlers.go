package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goodtune/streamstats/internal/duration"
	"github.com/goodtune/streamstats/internal/notify"
	"github.com/goodtune/streamstats/internal/session"
	"github.com/goodtune/streamstats/internal/storage"
)

// handleActivityStart opens a session unless one is already open.
func (s *Server) handleActivityStart(w http.ResponseWriter, r *http.Request) {
	community, member := chi.URLParam(r, "community"), chi.URLParam(r, "member")

	req, err := decodeActivity(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := notify.ContextWithChannel(r.Context(), req.Channel)
	if err := s.engine.OnActivityStart(ctx, community, member, req.at()); err != nil {
		s.writeFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, StartResponse{Accepted: true})
}

// handleActivityStop closes the open session, if any.
func (s *Server) handleActivityStop(w http.ResponseWriter, r *http.Request) {
	community, member := chi.URLParam(r, "community"), chi.URLParam(r, "member")

	req, err := decodeActivity(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := notify.ContextWithChannel(r.Context(), req.Channel)
	closed, ok, err := s.engine.OnActivityStop(ctx, community, member, req.at())
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := StopResponse{Closed: ok, Duration: duration.Format(0)}
	if ok {
		startedAt := closed.StartedAt
		resp.StartedAt = &startedAt
		resp.DurationSeconds = closed.DurationSeconds
		resp.Duration = duration.Format(closed.DurationSeconds)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	community, member := chi.URLParam(r, "community"), chi.URLParam(r, "member")

	seconds, err := s.tally.Lookup(r.Context(), community, member)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, totalResponse(community, member, seconds))
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")

	requested := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		requested = n
	}
	limit := s.config.Leaderboard.ClampLimit(requested)

	entries, err := s.tally.Leaderboard(r.Context(), community, limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := LeaderboardResponse{
		Community: community,
		Limit:     limit,
		Entries:   make([]LeaderboardEntry, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, LeaderboardEntry{
			Rank:     e.Rank,
			Member:   e.Member,
			Seconds:  e.Seconds,
			Duration: duration.Format(e.Seconds),
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")

	active, err := s.engine.Active(r.Context(), community)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	now := s.engine.Now()
	resp := ActiveSessionsResponse{
		Community: community,
		Sessions:  make([]ActiveSession, 0, len(active)),
	}
	for _, a := range active {
		resp.Sessions = append(resp.Sessions, ActiveSession{
			Member:         a.Member,
			StartedAt:      a.StartedAt,
			ElapsedSeconds: storage.Elapsed(a.StartedAt, now),
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddHours(w http.ResponseWriter, r *http.Request) {
	s.adjustHours(w, r, s.tally.AddHours)
}

func (s *Server) handleDeductHours(w http.ResponseWriter, r *http.Request) {
	s.adjustHours(w, r, s.tally.DeductHours)
}

func (s *Server) handleSetHours(w http.ResponseWriter, r *http.Request) {
	s.adjustHours(w, r, s.tally.SetHours)
}

func (s *Server) handleResetUser(w http.ResponseWriter, r *http.Request) {
	community, member := chi.URLParam(r, "community"), chi.URLParam(r, "member")

	if err := s.tally.ResetUser(r.Context(), community, member); err != nil {
		s.writeFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, totalResponse(community, member, 0))
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")

	n, err := s.tally.ResetAll(r.Context(), community)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, ResetAllResponse{Community: community, Removed: n})
}

// adjustHours validates an hours body and applies it with apply.
func (s *Server) adjustHours(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, community, member string, hours float64) (float64, error)) {
	community, member := chi.URLParam(r, "community"), chi.URLParam(r, "member")

	hours, err := s.decodeHours(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := apply(r.Context(), community, member, hours)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, totalResponse(community, member, total))
}

func (s *Server) decodeHours(r *http.Request) (float64, error) {
	var req HoursRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return 0, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Hours == nil {
		return 0, errors.New("hours is required")
	}

	hours := *req.Hours
	if math.IsNaN(hours) || hours < 0 || hours > s.config.MaxHours {
		return 0, fmt.Errorf("hours must be between 0 and %g", s.config.MaxHours)
	}
	return hours, nil
}

// decodeActivity reads an optional activity body. An empty body is valid.
func decodeActivity(r *http.Request) (ActivityRequest, error) {
	var req ActivityRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// at returns the signal time, zero meaning now.
func (req ActivityRequest) at() time.Time {
	if req.At == nil {
		return time.Time{}
	}
	return *req.At
}

func totalResponse(community, member string, seconds float64) TotalResponse {
	return TotalResponse{
		Community: community,
		Member:    member,
		Seconds:   seconds,
		Duration:  duration.Format(seconds),
	}
}

// writeFailure maps engine and store errors to a status code.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidID):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotReady):
		WriteError(w, http.StatusServiceUnavailable, "Session engine is recovering, retry later")
	case errors.Is(err, storage.ErrStorage):
		s.logger.Error().Err(err).Msg("Storage failure")
		WriteError(w, http.StatusServiceUnavailable, "Storage unavailable, retry later")
	default:
		s.logger.Error().Err(err).Msg("Unexpected error")
		WriteError(w, http.StatusInternalServerError, "Internal error")
	}
}
