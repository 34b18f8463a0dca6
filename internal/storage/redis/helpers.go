package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/streamstats/internal/storage"
)

// keys builds the Redis key layout:
//
//	{prefix}:totals:{community}                 ZSET  member -> seconds
//	{prefix}:active:{community}                 SET   members with an open session
//	{prefix}:active:{community}:{member}        HASH  open session
//	{prefix}:sessions:{community}               STREAM closed-session audit log
//	{prefix}:communities:active                 SET   communities with open sessions
type keys struct {
	prefix string
}

func (k keys) totals(community string) string {
	return fmt.Sprintf("%s:totals:%s", k.prefix, community)
}

func (k keys) activeIndex(community string) string {
	return fmt.Sprintf("%s:active:%s", k.prefix, community)
}

func (k keys) active(community, member string) string {
	return fmt.Sprintf("%s:active:%s:%s", k.prefix, community, member)
}

func (k keys) sessions(community string) string {
	return fmt.Sprintf("%s:sessions:%s", k.prefix, community)
}

func (k keys) communities() string {
	return k.prefix + ":communities:active"
}

// parseActiveSession converts a Redis hash to ActiveSession
func parseActiveSession(data map[string]string) (*storage.ActiveSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	return &storage.ActiveSession{
		Community: data["community"],
		Member:    data["member"],
		StartedAt: startedAt,
	}, nil
}

// parseSessionRecord converts a stream entry to SessionRecord
func parseSessionRecord(id string, values map[string]interface{}) (*storage.SessionRecord, error) {
	field := func(name string) string {
		v, _ := values[name].(string)
		return v
	}

	startedAt, err := time.Parse(time.RFC3339Nano, field("started_at"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	endedAt, err := time.Parse(time.RFC3339Nano, field("ended_at"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ended_at: %w", err)
	}

	duration, err := strconv.ParseFloat(field("duration_seconds"), 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_seconds: %w", err)
	}

	return &storage.SessionRecord{
		ID:              id,
		Community:       field("community"),
		Member:          field("member"),
		StartedAt:       startedAt,
		EndedAt:         endedAt,
		DurationSeconds: duration,
	}, nil
}

// formatSeconds renders a score the way Lua's tonumber reads it back.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
