package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	a, err := New("", zerolog.Nop())
	require.NoError(t, err)

	tests := []struct {
		name        string
		permissions []string
		want        bool
	}{
		{name: "administrator", permissions: []string{"administrator"}, want: true},
		{name: "manage guild", permissions: []string{"send_messages", "manage_guild"}, want: true},
		{name: "case and spacing", permissions: []string{" Manage_Guild "}, want: true},
		{name: "unprivileged", permissions: []string{"send_messages", "stream"}, want: false},
		{name: "none", permissions: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Allow(context.Background(), Request{
				Community:   "guild-1",
				Action:      "add",
				Permissions: tt.permissions,
			})
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPolicyDirOverride(t *testing.T) {
	dir := t.TempDir()
	policy := `package streamstats.admin

default allow := false

allow if {
	input.action == "reset"
	"moderator" in input.permissions
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(policy), 0o644))

	a, err := New(dir, zerolog.Nop())
	require.NoError(t, err)

	ok, err := a.Allow(context.Background(), Request{Action: "reset", Permissions: []string{"moderator"}})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Allow(context.Background(), Request{Action: "add", Permissions: []string{"administrator"}})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPolicyDirWithoutPolicies(t *testing.T) {
	_, err := New(t.TempDir(), zerolog.Nop())
	require.Error(t, err)
}

func TestParsePermissions(t *testing.T) {
	require.Equal(t, []string{"administrator", "manage_guild"}, ParsePermissions("administrator, manage_guild,,"))
	require.Empty(t, ParsePermissions(""))
}
