package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)

type recorder struct {
	name   string
	events []Event
	err    error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestDescription(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{
			name:  "start with channel",
			event: Event{Kind: KindStarted, Member: "user-1", Channel: "General", Tracked: true},
			want:  "user-1 started streaming in General",
		},
		{
			name:  "tracked end",
			event: Event{Kind: KindEnded, Member: "user-1", Tracked: true, DurationSeconds: 3725},
			want:  "user-1 ended streaming after 1h 2m 5s",
		},
		{
			name:  "untracked end",
			event: Event{Kind: KindEnded, Member: "user-1"},
			want:  "user-1 ended streaming",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.event.Description())
		})
	}
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{name: "ok"}
	broken := &recorder{name: "broken", err: errors.New("unreachable")}
	m := Multi{broken, ok}

	err := m.Notify(context.Background(), Event{Kind: KindStarted, Member: "user-1", At: at})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken: unreachable")
	require.Len(t, ok.events, 1)
	require.Len(t, broken.events, 1)
}

func TestLogWritesStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(zerolog.New(&buf))

	err := n.Notify(context.Background(), Event{
		Kind:            KindEnded,
		Community:       "guild-1",
		Member:          "user-1",
		At:              at,
		Tracked:         true,
		StartedAt:       at.Add(-time.Minute),
		DurationSeconds: 60,
	})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "notify", line["component"])
	require.Equal(t, "ended", line["kind"])
	require.Equal(t, "guild-1", line["community"])
	require.InDelta(t, 60, line["duration_seconds"], 0)
	require.Equal(t, "user-1 ended streaming after 1m", line["message"])
	require.Equal(t, "Stream Ended", line["title"])
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "streamstats:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewRedisPublisher(client, "streamstats:events")
	require.NoError(t, p.Notify(ctx, Event{Kind: KindStarted, Community: "guild-1", Member: "user-1", At: at, Tracked: true}))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, KindStarted, got.Kind)
		require.Equal(t, "user-1", got.Member)
		require.True(t, got.At.Equal(at))

		var raw map[string]any
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &raw))
		require.Equal(t, "Stream Started", raw["title"])
		require.Equal(t, "user-1 started streaming", raw["description"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestEmptyStopOmitsStartedAt(t *testing.T) {
	payload, err := json.Marshal(Event{Kind: KindEnded, Community: "guild-1", Member: "user-1", At: at})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	require.NotContains(t, raw, "started_at")
	require.NotContains(t, raw, "duration_seconds")
	require.Contains(t, raw, "at")

	payload, err = json.Marshal(Event{Kind: KindEnded, At: at, Tracked: true, StartedAt: at.Add(-time.Minute), DurationSeconds: 60})
	require.NoError(t, err)
	require.Contains(t, string(payload), `"started_at":"2024-03-09T18:29:00Z"`)
}
