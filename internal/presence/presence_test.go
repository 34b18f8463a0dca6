package presence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goodtune/streamstats/internal/storage"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "presence.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := Static{
		"guild-2": {"user-3"},
		"guild-1": {"user-2", "user-1", "user-2"},
	}

	communities, err := s.Communities(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"guild-1", "guild-2"}, communities)

	members, err := s.CurrentlyEngaged(ctx, "guild-1")
	require.NoError(t, err)
	require.Equal(t, []string{"user-1", "user-2"}, members)

	none, err := s.CurrentlyEngaged(ctx, "guild-404")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, `
communities:
  "123456789":
    - "42"
    - "43"
  "987654321": []
`)
	f := NewFile(path)

	communities, err := f.Communities(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"123456789", "987654321"}, communities)

	members, err := f.CurrentlyEngaged(ctx, "123456789")
	require.NoError(t, err)
	require.Equal(t, []string{"42", "43"}, members)

	// The snapshot is taken at Communities; later edits are not seen.
	require.NoError(t, os.WriteFile(path, []byte("communities: {}\n"), 0o644))
	members, err = f.CurrentlyEngaged(ctx, "123456789")
	require.NoError(t, err)
	require.Len(t, members, 2)
}

func TestFileEngagedBeforeRead(t *testing.T) {
	f := NewFile(writeFile(t, "communities: {}\n"))
	_, err := f.CurrentlyEngaged(context.Background(), "guild-1")
	require.Error(t, err)
}

func TestLoadRejectsInvalidIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad community", content: "communities:\n  \"guild 1\": [\"user-1\"]\n"},
		{name: "bad member", content: "communities:\n  guild-1: [\"user/1\"]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.content))
			require.True(t, errors.Is(err, storage.ErrInvalidID), "got %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
