// Package filestore implements storage.Store on a directory of JSON files.
//
// Layout under the root directory:
//
//	issues/<id>.json   issue record (fields, external refs, relink flags)
//	base/<id>.json     base snapshot from the last successful sync
//	locks/<id>.lock    advisory lock held for the duration of a sync run
//
// Every write goes through natefinch/atomic so a crash mid-write never leaves
// a truncated record behind.
package filestore

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
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/steveyegge/bdsync/internal/storage"
	"github.com/steveyegge/bdsync/internal/types"
)

const (
	issuesDir = "issues"
	baseDir   = "base"
	locksDir  = "locks"

	lockRetryDelay = 50 * time.Millisecond
)

// Store is a file-backed record store.
type Store struct {
	root string

	// mu serializes read-modify-write cycles on record files within this process.
	mu sync.Mutex
}

var _ storage.Store = (*Store)(nil)
var _ storage.IssueLocker = (*Store)(nil)

// Open returns a store rooted at dir, creating the directory layout if needed.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store directory not configured")
	}
	for _, sub := range []string{issuesDir, baseDir, locksDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("creating store layout: %w", err)
		}
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.root, issuesDir, id+".json")
}

func (s *Store) basePath(id string) string {
	return filepath.Join(s.root, baseDir, id+".json")
}

func validID(id string) error {
	r := types.IssueRecord{ID: id}
	return r.Validate()
}

// Load returns the local and base snapshots for an issue.
func (s *Store) Load(ctx context.Context, id string) (types.Snapshot, types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.Snapshot{}, types.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readRecord(id)
	if err != nil {
		return types.Snapshot{}, types.Snapshot{}, err
	}
	base, err := s.readBase(id)
	if err != nil {
		return types.Snapshot{}, types.Snapshot{}, err
	}
	local := types.NewSnapshot(types.OriginLocal, rec.Fields, time.Now())
	return local, base, nil
}

// SaveLocal replaces the local fields of an issue, creating the record if
// it does not exist yet.
func (s *Store) SaveLocal(ctx context.Context, id string, local types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readRecord(id)
	if errors.Is(err, storage.ErrNotFound) {
		rec = &types.IssueRecord{ID: id}
	} else if err != nil {
		return err
	}
	rec.Fields = local.Fields()
	return s.writeRecord(rec)
}

// SaveBase replaces the base snapshot and stamps the record's last sync time.
func (s *Store) SaveBase(ctx context.Context, id string, base types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(base.Retag(types.OriginBase, base.TakenAt()), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding base for %s: %w", id, err)
	}
	if err := atomic.WriteFile(s.basePath(id), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing base for %s: %w", id, err)
	}

	rec, err := s.readRecord(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	synced := base.TakenAt()
	rec.LastSyncedAt = &synced
	return s.writeRecord(rec)
}

// Record returns the full issue record.
func (s *Store) Record(ctx context.Context, id string) (*types.IssueRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRecord(id)
}

// Put writes a complete issue record, replacing any existing one.
func (s *Store) Put(ctx context.Context, rec *types.IssueRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRecord(rec)
}

// FlagRelink marks the issue as needing manual re-linking for remote.
func (s *Store) FlagRelink(ctx context.Context, id, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.readRecord(id)
	if err != nil {
		return err
	}
	rec.FlagRelink(remote)
	return s.writeRecord(rec)
}

// List returns all issue ids, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, issuesDir))
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LockIssue takes the cross-process lock for an issue, waiting until ctx is
// done if another process holds it.
func (s *Store) LockIssue(ctx context.Context, id string) (func() error, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	lock := flock.New(filepath.Join(s.root, locksDir, id+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for %s: %w", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring lock for %s: held by another process", id)
	}
	return lock.Unlock, nil
}

func (s *Store) readRecord(id string) (*types.IssueRecord, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	// #nosec G304 - path is built from a validated id under the store root
	data, err := os.ReadFile(s.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("issue %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading issue %s: %w", id, err)
	}
	var rec types.IssueRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing issue %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.Fields == nil {
		rec.Fields = types.Fields{}
	}
	return &rec, nil
}

func (s *Store) writeRecord(rec *types.IssueRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding issue %s: %w", rec.ID, err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(s.recordPath(rec.ID), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing issue %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) readBase(id string) (types.Snapshot, error) {
	// #nosec G304 - path is built from a validated id under the store root
	data, err := os.ReadFile(s.basePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return types.NewSnapshot(types.OriginBase, types.Fields{}, time.Time{}), nil
	}
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("reading base for %s: %w", id, err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("parsing base for %s: %w", id, err)
	}
	return snap, nil
}
