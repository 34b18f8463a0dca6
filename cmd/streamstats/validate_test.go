package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goodtune/streamstats/internal/config"
	"github.com/goodtune/streamstats/internal/presence"
	"github.com/goodtune/streamstats/internal/storage/bolt"
	"github.com/goodtune/streamstats/internal/storage/sqlite"
	"github.com/stretchr/testify/require"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  api_port: 8081
  dns_port: 53
storage:
  type: bolt
  redis:
    key_prefx: oops
leaderboard:
  max_limit: 20
`), 0o644))

	unknown, err := findUnknownKeys(path)
	require.NoError(t, err)
	require.Equal(t, []string{"server.dns_port", "storage.redis.key_prefx"}, unknown)
}

func TestOpenStorageByType(t *testing.T) {
	dir := t.TempDir()

	store, err := openStorage(config.StorageConfig{Type: "sqlite", Path: filepath.Join(dir, "s.sqlite3")})
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, store)
	require.NoError(t, store.Close())

	store, err = openStorage(config.StorageConfig{Type: "bolt", Path: filepath.Join(dir, "s.db")})
	require.NoError(t, err)
	require.IsType(t, &bolt.Store{}, store)
	require.NoError(t, store.Close())

	_, err = openStorage(config.StorageConfig{Type: "postgres"})
	require.Error(t, err)
}

func TestPresenceSource(t *testing.T) {
	require.IsType(t, presence.Static{}, presenceSource(config.RecoveryConfig{}))
	require.IsType(t, &presence.File{}, presenceSource(config.RecoveryConfig{PresenceFile: "/tmp/presence.yaml"}))
}

func TestBoltStoreIsExclusive(t *testing.T) {
	cfg := config.StorageConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "s.db")}

	held, err := openStorage(cfg)
	require.NoError(t, err)
	defer held.Close()

	_, err = openStorage(cfg)
	require.Error(t, err)
}
