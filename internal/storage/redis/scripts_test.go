package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestOpenSessionScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	keys := []string{"s:active:g:m", "s:active:g", "s:communities:active"}

	tests := []struct {
		name      string
		startedAt string
		want      int
	}{
		{name: "first start opens", startedAt: "2024-03-09T18:30:00Z", want: 1},
		{name: "second start is ignored", startedAt: "2024-03-09T18:45:00Z", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Eval(ctx, openSessionScript, keys, "g", "m", tt.startedAt, "1710009000000000").Int()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}

	if got := mr.HGet("s:active:g:m", "started_at"); got != "2024-03-09T18:30:00Z" {
		t.Errorf("expected first start to win, got %q", got)
	}
}

func TestCloseSessionScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	openKeys := []string{"s:active:g:m", "s:active:g", "s:communities:active"}
	closeKeys := append(openKeys, "s:sessions:g", "s:totals:g")

	// Nothing open yields a nil reply
	err := client.Eval(ctx, closeSessionScript, closeKeys, "g", "m", "2024-03-09T18:31:00Z", "1710009060000000").Err()
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}

	if err := client.Eval(ctx, openSessionScript, openKeys, "g", "m", "2024-03-09T18:30:00Z", "1710009000000000").Err(); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	res, err := client.Eval(ctx, closeSessionScript, closeKeys, "g", "m", "2024-03-09T18:31:00.5Z", "1710009060500000").StringSlice()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 values, got %v", res)
	}
	if res[1] != "2024-03-09T18:30:00Z" {
		t.Errorf("expected started_at echoed, got %q", res[1])
	}
	if res[2] != "60.5" {
		t.Errorf("expected duration 60.5, got %q", res[2])
	}

	score, err := mr.ZScore("s:totals:g", "m")
	if err != nil {
		t.Fatalf("ZScore failed: %v", err)
	}
	if score != 60.5 {
		t.Errorf("expected total 60.5, got %v", score)
	}
}

func TestCloseSessionScriptClampsNegative(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	openKeys := []string{"s:active:g:m", "s:active:g", "s:communities:active"}
	closeKeys := append(openKeys, "s:sessions:g", "s:totals:g")

	if err := client.Eval(ctx, openSessionScript, openKeys, "g", "m", "2024-03-09T18:30:00Z", "1710009000000000").Err(); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	res, err := client.Eval(ctx, closeSessionScript, closeKeys, "g", "m", "2024-03-09T18:00:00Z", "1710007200000000").StringSlice()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if res[2] != "0" {
		t.Errorf("expected duration 0, got %q", res[2])
	}

	score, _ := mr.ZScore("s:totals:g", "m")
	if score != 0 {
		t.Errorf("expected total 0, got %v", score)
	}
}

func TestDeductSecondsScript(t *testing.T) {
	client, _ := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	keys := []string{"s:totals:g"}

	if err := client.ZAdd(ctx, "s:totals:g", redis.Z{Score: 10800, Member: "m"}).Err(); err != nil {
		t.Fatalf("ZAdd failed: %v", err)
	}

	tests := []struct {
		name  string
		delta string
		want  string
	}{
		{name: "partial deduct", delta: "7200", want: "3600"},
		{name: "floors at zero", delta: "7200", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Eval(ctx, deductSecondsScript, keys, "m", tt.delta).Text()
			if err != nil {
				t.Fatalf("Script execution failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestClearAllScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	for _, m := range []string{"a", "b", "c"} {
		if err := client.ZAdd(ctx, "s:totals:g", redis.Z{Score: 1, Member: m}).Err(); err != nil {
			t.Fatalf("ZAdd failed: %v", err)
		}
	}

	n, err := client.Eval(ctx, clearAllScript, []string{"s:totals:g"}).Int()
	if err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 removed, got %d", n)
	}
	if mr.Exists("s:totals:g") {
		t.Error("expected totals key removed")
	}
}
