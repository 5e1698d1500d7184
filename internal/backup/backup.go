// Package backup keeps pre-sync copies of local issue state.
//
// A backup is taken before the first write of a sync run and is keyed by
// issue id and run id. While the run is in flight the backup is
// authoritative: a failed run restores from it. Once the run commits the
// backup is marked non-authoritative and kept for audit.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/steveyegge/bdsync/internal/types"
)

// ErrNotFound is returned when no backup exists for an issue/run pair.
var ErrNotFound = errors.New("backup not found")

// Backup is one pre-sync snapshot.
type Backup struct {
	IssueID       string         `json:"issue_id"`
	RunID         string         `json:"run_id"`
	TakenAt       time.Time      `json:"taken_at"`
	Authoritative bool           `json:"authoritative"`
	CommittedAt   *time.Time     `json:"committed_at,omitempty"`
	Local         types.Snapshot `json:"local"`
}

// Manager stores backups under <dir>/<issue id>/<run id>.json.
type Manager struct {
	dir string
	now func() time.Time
}

// NewManager returns a manager rooted at dir.
func NewManager(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("backup directory not configured")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	return &Manager{dir: dir, now: time.Now}, nil
}

func (m *Manager) path(issueID, runID string) (string, error) {
	for _, part := range []string{issueID, runID} {
		if part == "" || strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", fmt.Errorf("invalid backup key %q", part)
		}
	}
	return filepath.Join(m.dir, issueID, runID+".json"), nil
}

// Take persists the pre-sync local snapshot for a run.
func (m *Manager) Take(ctx context.Context, issueID, runID string, local types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := &Backup{
		IssueID:       issueID,
		RunID:         runID,
		TakenAt:       m.now().UTC(),
		Authoritative: true,
		Local:         local,
	}
	return m.write(b)
}

// Restore returns the backed-up local snapshot for a run.
func (m *Manager) Restore(ctx context.Context, issueID, runID string) (types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.Snapshot{}, err
	}
	b, err := m.Get(issueID, runID)
	if err != nil {
		return types.Snapshot{}, err
	}
	return b.Local, nil
}

// Commit marks the backup for a committed run as non-authoritative.
func (m *Manager) Commit(ctx context.Context, issueID, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := m.Get(issueID, runID)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	b.Authoritative = false
	b.CommittedAt = &now
	return m.write(b)
}

// Get reads a single backup.
func (m *Manager) Get(issueID, runID string) (*Backup, error) {
	p, err := m.path(issueID, runID)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path is built from validated keys under the backup root
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", issueID, runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup %s/%s: %w", issueID, runID, err)
	}
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing backup %s/%s: %w", issueID, runID, err)
	}
	return &b, nil
}

// List returns the backups of an issue, newest first.
func (m *Manager) List(issueID string) ([]*Backup, error) {
	if strings.ContainsAny(issueID, `/\`) || issueID == "" {
		return nil, fmt.Errorf("invalid issue id %q", issueID)
	}
	entries, err := os.ReadDir(filepath.Join(m.dir, issueID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing backups for %s: %w", issueID, err)
	}
	var out []*Backup
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := m.Get(issueID, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	return out, nil
}

func (m *Manager) write(b *Backup) error {
	p, err := m.path(b.IssueID, b.RunID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("creating backup dir: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding backup: %w", err)
	}
	if err := atomic.WriteFile(p, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing backup %s/%s: %w", b.IssueID, b.RunID, err)
	}
	return nil
}
