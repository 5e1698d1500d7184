package tracker

import (
	"context"

	"github.com/steveyegge/bdsync/internal/types"
)

// RemoteRef identifies an issue on one remote system.
type RemoteRef struct {
	// IssueID is the local issue id.
	IssueID string
	// ExternalID is the remote's identifier (GitHub issue number, Jira key).
	ExternalID string
}

// Remote is the boundary every remote system integration implements.
// Each external system (GitHub, Jira) provides a client satisfying it; the
// Engine uses it to fetch current state and push resolved values.
//
// Errors should be *RemoteError so the Engine can tell transient failures
// from auth, not-found and permanent ones. Clients own their own rate
// limiting and retry transient errors before returning them.
type Remote interface {
	// Name returns the lowercase identifier for this remote (e.g., "github", "jira").
	Name() string

	// Fetch returns the current remote state in the remote's vocabulary,
	// tagged with types.RemoteOrigin(Name()).
	Fetch(ctx context.Context, ref RemoteRef) (types.Snapshot, error)

	// Apply writes field updates. Values are already in the remote's
	// vocabulary (see Mapper.ToRemote).
	Apply(ctx context.Context, ref RemoteRef, changes map[string]interface{}) error

	// Mapper returns the field mapper for this remote.
	Mapper() Mapper
}
