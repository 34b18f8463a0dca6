// Package presence reports which members are engaged in the activity right
// now. Recovery reads it once at startup.
package presence

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goodtune/streamstats/internal/storage"
	"gopkg.in/yaml.v3"
)

// Source enumerates currently engaged members per community.
type Source interface {
	Communities(ctx context.Context) ([]string, error)
	CurrentlyEngaged(ctx context.Context, community string) ([]string, error)
}

// Static is a fixed snapshot keyed by community.
type Static map[string][]string

func (s Static) Communities(context.Context) ([]string, error) {
	communities := make([]string, 0, len(s))
	for c := range s {
		communities = append(communities, c)
	}
	sort.Strings(communities)
	return communities, nil
}

func (s Static) CurrentlyEngaged(_ context.Context, community string) ([]string, error) {
	return dedupe(s[community]), nil
}

// snapshotFile is the on-disk layout:
//
//	communities:
//	  "123456789":
//	    - "42"
//	    - "43"
type snapshotFile struct {
	Communities map[string][]string `yaml:"communities"`
}

// File reads a YAML snapshot written by the gateway. Communities re-reads
// the file; CurrentlyEngaged answers from the last read.
type File struct {
	path string

	mu       sync.Mutex
	snapshot Static
}

// NewFile creates a file-backed source
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Communities(ctx context.Context) ([]string, error) {
	snapshot, err := Load(f.path)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.snapshot = snapshot
	f.mu.Unlock()

	return snapshot.Communities(ctx)
}

func (f *File) CurrentlyEngaged(ctx context.Context, community string) ([]string, error) {
	f.mu.Lock()
	snapshot := f.snapshot
	f.mu.Unlock()

	if snapshot == nil {
		return nil, fmt.Errorf("presence file %s has not been read", f.path)
	}
	return snapshot.CurrentlyEngaged(ctx, community)
}

// Load parses a snapshot file and validates every identifier in it.
func Load(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presence file: %w", err)
	}

	var file snapshotFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presence file: %w", err)
	}

	snapshot := make(Static, len(file.Communities))
	for community, members := range file.Communities {
		if err := storage.ValidateID("community", community); err != nil {
			return nil, fmt.Errorf("presence file: %w", err)
		}
		for _, member := range members {
			if err := storage.ValidatePair(community, member); err != nil {
				return nil, fmt.Errorf("presence file: %w", err)
			}
		}
		snapshot[community] = members
	}
	return snapshot, nil
}

func dedupe(members []string) []string {
	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
