package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrStorage marks an I/O or transaction failure. Callers above the store
// see this class instead of the backend's own error types.
var ErrStorage = errors.New("storage failure")

// Fail wraps a backend error as an ErrStorage for the named operation.
// The backend error text is kept but its type is not reachable through errors.As.
func Fail(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorage, err)
}

// Store represents the root storage interface.
type Store interface {
	Close() error
	Totals() TotalStore
	Sessions() SessionStore
}

// TotalStore manages accumulated seconds per (community, member).
// No operation leaves a total below zero.
type TotalStore interface {
	AddSeconds(ctx context.Context, community, member string, delta float64) (float64, error)
	DeductSeconds(ctx context.Context, community, member string, delta float64) (float64, error)
	SetSeconds(ctx context.Context, community, member string, value float64) error
	GetSeconds(ctx context.Context, community, member string) (float64, error)
	TopN(ctx context.Context, community string, n int) ([]Total, error)
	ClearAll(ctx context.Context, community string) (int, error)
	ClearUser(ctx context.Context, community, member string) error
}

// SessionStore manages open sessions and the closed-session audit log.
//
// OpenSession inserts only when no session is open for the pair and reports
// whether it did. CloseSession deletes the open session, appends a
// SessionRecord and credits the total in one transaction; it returns
// ErrNotFound when nothing is open.
type SessionStore interface {
	OpenSession(ctx context.Context, community, member string, startedAt time.Time) (bool, error)
	CloseSession(ctx context.Context, community, member string, endedAt time.Time) (*SessionRecord, error)
	GetActive(ctx context.Context, community, member string) (*ActiveSession, error)
	ListActive(ctx context.Context, community string) ([]ActiveSession, error)
	ListCommunitiesWithActive(ctx context.Context) ([]string, error)
	ListRecords(ctx context.Context, community, member string) ([]SessionRecord, error)
}
