package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/streamstats/internal/authz"
	"github.com/goodtune/streamstats/internal/config"
	"github.com/goodtune/streamstats/internal/presence"
	"github.com/goodtune/streamstats/internal/session"
	"github.com/goodtune/streamstats/internal/storage"
	"github.com/goodtune/streamstats/internal/storage/sqlite"
	"github.com/goodtune/streamstats/internal/tally"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)

const adminPerms = "send_messages,manage_guild"

type fixture struct {
	server *Server
	store  storage.Store
	engine *session.Engine
	clock  *quartz.Mock
}

func newFixture(t *testing.T, ready bool) *fixture {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "streamstats.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := quartz.NewMock(t)
	clock.Set(t0)

	engine := session.NewEngine(store.Sessions(), session.WithClock(clock))
	if ready {
		_, err := engine.Recover(context.Background(), presence.Static{})
		require.NoError(t, err)
	}

	authorizer, err := authz.New("", zerolog.Nop())
	require.NoError(t, err)

	cfg := Config{
		Leaderboard: config.LeaderboardConfig{DefaultLimit: 5, MinLimit: 5, MaxLimit: 25},
		MaxHours:    10000,
	}
	server := NewServer(cfg, engine, tally.NewService(store.Totals(), zerolog.Nop()), authorizer, zerolog.Nop())

	return &fixture{server: server, store: store, engine: engine, clock: clock}
}

func (f *fixture) do(t *testing.T, method, path, body, perms string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if perms != "" {
		req.Header.Set(PermissionsHeader, perms)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[HealthResponse](t, rec).Ready)

	_, err := f.engine.Recover(context.Background(), presence.Static{})
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/health", "", "")
	require.True(t, decode[HealthResponse](t, rec).Ready)
}

func TestActivityStartStop(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/activity/start", `{"at":"2024-03-09T18:30:00Z"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/activity/stop", `{"at":"2024-03-09T18:32:05Z","channel":"General"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stop := decode[StopResponse](t, rec)
	require.True(t, stop.Closed)
	require.Equal(t, 125.0, stop.DurationSeconds)
	require.Equal(t, "2m 5s", stop.Duration)
	require.True(t, stop.StartedAt.Equal(t0))

	// Redelivered stop is a no-op
	rec = f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/activity/stop", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stop = decode[StopResponse](t, rec)
	require.False(t, stop.Closed)
	require.Nil(t, stop.StartedAt)

	rec = f.do(t, http.MethodGet, "/v1/communities/guild-1/members/user-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	total := decode[TotalResponse](t, rec)
	require.Equal(t, 125.0, total.Seconds)
	require.Equal(t, "2m 5s", total.Duration)
}

func TestActivityDefaultsToNow(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/activity/start", "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	f.clock.Advance(45 * time.Second)

	rec = f.do(t, http.MethodGet, "/v1/communities/guild-1/sessions/active", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[ActiveSessionsResponse](t, rec)
	require.Len(t, active.Sessions, 1)
	require.Equal(t, "user-1", active.Sessions[0].Member)
	require.Equal(t, 45.0, active.Sessions[0].ElapsedSeconds)

	rec = f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/activity/stop", "", "")
	require.Equal(t, 45.0, decode[StopResponse](t, rec).DurationSeconds)
}

func TestActivityBeforeRecoveryIsUnavailable(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/activity/start", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		perms  string
	}{
		{name: "invalid member", method: http.MethodGet, path: "/v1/communities/guild-1/members/user:1"},
		{name: "malformed activity body", method: http.MethodPost, path: "/v1/communities/guild-1/members/user-1/activity/start", body: `{"at":"yesterday"}`},
		{name: "unknown activity field", method: http.MethodPost, path: "/v1/communities/guild-1/members/user-1/activity/stop", body: `{"when":"now"}`},
		{name: "non-integer limit", method: http.MethodGet, path: "/v1/communities/guild-1/leaderboard?limit=ten"},
		{name: "hours missing", method: http.MethodPost, path: "/v1/communities/guild-1/members/user-1/hours/add", body: `{}`, perms: adminPerms},
		{name: "hours negative", method: http.MethodPost, path: "/v1/communities/guild-1/members/user-1/hours/add", body: `{"hours":-1}`, perms: adminPerms},
		{name: "hours above max", method: http.MethodPut, path: "/v1/communities/guild-1/members/user-1/hours", body: `{"hours":10000.5}`, perms: adminPerms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body, tt.perms)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.Equal(t, http.StatusBadRequest, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAdminRequiresPermission(t *testing.T) {
	f := newFixture(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "add", method: http.MethodPost, path: "/v1/communities/guild-1/members/user-1/hours/add", body: `{"hours":1}`},
		{name: "deduct", method: http.MethodPost, path: "/v1/communities/guild-1/members/user-1/hours/deduct", body: `{"hours":1}`},
		{name: "set", method: http.MethodPut, path: "/v1/communities/guild-1/members/user-1/hours", body: `{"hours":1}`},
		{name: "reset user", method: http.MethodDelete, path: "/v1/communities/guild-1/members/user-1/hours"},
		{name: "reset all", method: http.MethodDelete, path: "/v1/communities/guild-1/hours"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body, "send_messages")
			require.Equal(t, http.StatusForbidden, rec.Code)

			rec = f.do(t, tt.method, tt.path, tt.body, "")
			require.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestAdminMutations(t *testing.T) {
	f := newFixture(t, true)
	base := "/v1/communities/guild-1/members/user-1"

	rec := f.do(t, http.MethodPost, base+"/hours/add", `{"hours":3}`, adminPerms)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 10800.0, decode[TotalResponse](t, rec).Seconds)

	rec = f.do(t, http.MethodPost, base+"/hours/deduct", `{"hours":2}`, adminPerms)
	require.Equal(t, http.StatusOK, rec.Code)
	total := decode[TotalResponse](t, rec)
	require.Equal(t, 3600.0, total.Seconds)
	require.Equal(t, "1h", total.Duration)

	rec = f.do(t, http.MethodPost, base+"/hours/deduct", `{"hours":5}`, adminPerms)
	require.Zero(t, decode[TotalResponse](t, rec).Seconds)

	rec = f.do(t, http.MethodPut, base+"/hours", `{"hours":0.5}`, "administrator")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1800.0, decode[TotalResponse](t, rec).Seconds)

	rec = f.do(t, http.MethodDelete, base+"/hours", "", adminPerms)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, base, "", "")
	require.Zero(t, decode[TotalResponse](t, rec).Seconds)
}

func TestResetAllKeepsOpenSession(t *testing.T) {
	f := newFixture(t, true)

	f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/hours/add", `{"hours":1}`, adminPerms)
	f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-2/hours/add", `{"hours":1}`, adminPerms)
	f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/activity/start", "", "")

	rec := f.do(t, http.MethodDelete, "/v1/communities/guild-1/hours", "", adminPerms)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decode[ResetAllResponse](t, rec).Removed)

	f.clock.Advance(time.Minute)
	rec = f.do(t, http.MethodPost, "/v1/communities/guild-1/members/user-1/activity/stop", "", "")
	require.True(t, decode[StopResponse](t, rec).Closed)

	rec = f.do(t, http.MethodGet, "/v1/communities/guild-1/members/user-1", "", "")
	require.Equal(t, 60.0, decode[TotalResponse](t, rec).Seconds)
}

func TestLeaderboardClampsLimit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		member := "user-" + strings.Repeat("x", i+1)
		require.NoError(t, f.store.Totals().SetSeconds(ctx, "guild-1", member, float64(i+1)*60))
	}

	tests := []struct {
		query     string
		wantLimit int
	}{
		{query: "", wantLimit: 5},
		{query: "?limit=1", wantLimit: 5},
		{query: "?limit=10", wantLimit: 10},
		{query: "?limit=100", wantLimit: 25},
	}

	for _, tt := range tests {
		t.Run("limit"+tt.query, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/v1/communities/guild-1/leaderboard"+tt.query, "", "")
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decode[LeaderboardResponse](t, rec)
			require.Equal(t, tt.wantLimit, resp.Limit)
			require.Len(t, resp.Entries, tt.wantLimit)
			require.Equal(t, 1, resp.Entries[0].Rank)
			require.Equal(t, 1800.0, resp.Entries[0].Seconds)
			require.Equal(t, "30m", resp.Entries[0].Duration)
		})
	}
}

func TestLeaderboardEmpty(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/v1/communities/guild-1/leaderboard", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decode[LeaderboardResponse](t, rec).Entries)
	require.Contains(t, rec.Body.String(), `"entries":[]`)
}

func TestServeAndShutdown(t *testing.T) {
	f := newFixture(t, true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f.server.SetListener(ln)

	errc := make(chan error, 1)
	go func() { errc <- f.server.Serve() }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))
	require.NoError(t, <-errc)

	http.DefaultClient.CloseIdleConnections()
}
