package storage

import (
	"time"
)

// Total is the accumulated activity time of a member within a community.
type Total struct {
	Community string  `json:"community"`
	Member    string  `json:"member"`
	Seconds   float64 `json:"seconds"`
}

// ActiveSession is an open session. At most one exists per (community, member).
type ActiveSession struct {
	Community string    `json:"community"`
	Member    string    `json:"member"`
	StartedAt time.Time `json:"started_at"`
}

// SessionRecord is the write-once audit entry of a closed session.
type SessionRecord struct {
	ID              string    `json:"id"`
	Community       string    `json:"community"`
	Member          string    `json:"member"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Elapsed returns end-start in seconds, clamped at zero so that clock skew or
// misordered events never produce a negative credit.
func Elapsed(start, end time.Time) float64 {
	d := end.Sub(start).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// NonNegative clamps v at zero.
func NonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
