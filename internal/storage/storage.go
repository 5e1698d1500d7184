// Package storage defines the record store boundary used by the sync engine.
//
// A record store keeps two snapshots per issue: the local working copy and
// the base (the last mutually-agreed values from the previous successful
// sync). Concrete implementations live in the filestore and memory
// sub-packages.
package storage

import (
	"context"
	"errors"

	"github.com/steveyegge/bdsync/internal/types"
)

// ErrNotFound is returned when a requested issue does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store is the interface satisfied by *filestore.Store and *memory.Store.
type Store interface {
	// Load returns the local snapshot and the base snapshot for an issue.
	// An issue that has never been synced has an empty base.
	Load(ctx context.Context, id string) (local, base types.Snapshot, err error)

	// SaveLocal replaces the local field values of an issue.
	SaveLocal(ctx context.Context, id string, local types.Snapshot) error

	// SaveBase replaces the base snapshot of an issue.
	SaveBase(ctx context.Context, id string, base types.Snapshot) error

	// Record returns the full issue record including external refs.
	Record(ctx context.Context, id string) (*types.IssueRecord, error)

	// FlagRelink marks the issue as needing manual re-linking for a remote.
	FlagRelink(ctx context.Context, id, remote string) error

	// List returns all issue ids, sorted.
	List(ctx context.Context) ([]string, error)
}

// IssueLocker is implemented by stores that can serialize sync runs for the
// same issue across processes.
type IssueLocker interface {
	LockIssue(ctx context.Context, id string) (unlock func() error, err error)
}
