package api

import "time"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse reports liveness and whether recovery has completed.
type HealthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

// ActivityRequest is the optional body of a start or stop signal.
type ActivityRequest struct {
	At      *time.Time `json:"at,omitempty"`
	Channel string     `json:"channel,omitempty"`
}

// StartResponse acknowledges a start signal.
type StartResponse struct {
	Accepted bool `json:"accepted"`
}

// StopResponse describes the outcome of a stop signal.
type StopResponse struct {
	Closed          bool       `json:"closed"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Duration        string     `json:"duration"`
}

// TotalResponse is a member's total.
type TotalResponse struct {
	Community string  `json:"community"`
	Member    string  `json:"member"`
	Seconds   float64 `json:"seconds"`
	Duration  string  `json:"duration"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	Member   string  `json:"member"`
	Seconds  float64 `json:"seconds"`
	Duration string  `json:"duration"`
}

// LeaderboardResponse is a ranked list of members.
type LeaderboardResponse struct {
	Community string             `json:"community"`
	Limit     int                `json:"limit"`
	Entries   []LeaderboardEntry `json:"entries"`
}

// ActiveSession is an open session with its running time.
type ActiveSession struct {
	Member         string    `json:"member"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// ActiveSessionsResponse lists a community's open sessions.
type ActiveSessionsResponse struct {
	Community string          `json:"community"`
	Sessions  []ActiveSession `json:"sessions"`
}

// HoursRequest is the body of an admin add, deduct or set.
type HoursRequest struct {
	Hours *float64 `json:"hours"`
}

// ResetAllResponse reports how many totals were removed.
type ResetAllResponse struct {
	Community string `json:"community"`
	Removed   int    `json:"removed"`
}
