// Package memory provides an in-memory storage.Store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/bdsync/internal/storage"
	"github.com/steveyegge/bdsync/internal/types"
)

// Store keeps records and base snapshots in maps guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]*types.IssueRecord
	bases   map[string]types.Snapshot

	// Fail, when set, is consulted before every write and may return an
	// error to simulate a failing store.
	Fail func(op, id string) error

	saves map[string]int
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[string]*types.IssueRecord),
		bases:   make(map[string]types.Snapshot),
		saves:   make(map[string]int),
	}
}

// Put stores a copy of rec.
func (s *Store) Put(rec *types.IssueRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = copyRecord(rec)
}

// PutBase stores a base snapshot directly.
func (s *Store) PutBase(id string, fields types.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases[id] = types.NewSnapshot(types.OriginBase, fields, time.Now())
}

// Local returns a copy of the stored local fields.
func (s *Store) Local(id string) types.Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[id]; ok {
		return rec.Fields.Clone()
	}
	return nil
}

// Base returns the stored base snapshot.
func (s *Store) Base(id string) (types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bases[id]
	return b, ok
}

// Saves returns how many times op ("local" or "base") was written for id.
func (s *Store) Saves(op, id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves[op+":"+id]
}

func (s *Store) Load(ctx context.Context, id string) (types.Snapshot, types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.Snapshot{}, types.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return types.Snapshot{}, types.Snapshot{}, fmt.Errorf("issue %s: %w", id, storage.ErrNotFound)
	}
	base, ok := s.bases[id]
	if !ok {
		base = types.NewSnapshot(types.OriginBase, types.Fields{}, time.Time{})
	}
	return types.NewSnapshot(types.OriginLocal, rec.Fields, time.Now()), base, nil
}

func (s *Store) SaveLocal(ctx context.Context, id string, local types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fail("local", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		rec = &types.IssueRecord{ID: id}
		s.records[id] = rec
	}
	rec.Fields = local.Fields()
	s.saves["local:"+id]++
	return nil
}

func (s *Store) SaveBase(ctx context.Context, id string, base types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fail("base", id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases[id] = base.Retag(types.OriginBase, base.TakenAt())
	if rec, ok := s.records[id]; ok {
		t := base.TakenAt()
		rec.LastSyncedAt = &t
	}
	s.saves["base:"+id]++
	return nil
}

func (s *Store) Record(ctx context.Context, id string) (*types.IssueRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", id, storage.ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (s *Store) FlagRelink(ctx context.Context, id, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("issue %s: %w", id, storage.ErrNotFound)
	}
	rec.FlagRelink(remote)
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) fail(op, id string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op, id)
}

func copyRecord(rec *types.IssueRecord) *types.IssueRecord {
	out := &types.IssueRecord{
		ID:     rec.ID,
		Fields: rec.Fields.Clone(),
	}
	if out.Fields == nil {
		out.Fields = types.Fields{}
	}
	if rec.ExternalRefs != nil {
		out.ExternalRefs = make(map[string]string, len(rec.ExternalRefs))
		for k, v := range rec.ExternalRefs {
			out.ExternalRefs[k] = v
		}
	}
	if len(rec.NeedsRelink) > 0 {
		out.NeedsRelink = append([]string(nil), rec.NeedsRelink...)
	}
	if rec.LastSyncedAt != nil {
		t := *rec.LastSyncedAt
		out.LastSyncedAt = &t
	}
	return out
}
