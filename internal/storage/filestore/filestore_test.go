package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdsync/internal/storage"
	"github.com/steveyegge/bdsync/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLoadMissingIssue(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Load(context.Background(), "bd-404")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, &types.IssueRecord{
		ID:           "bd-1",
		Fields:       types.Fields{types.FieldTitle: "first"},
		ExternalRefs: map[string]string{"github": "12"},
	}))

	local, base, err := s.Load(ctx, "bd-1")
	require.NoError(t, err)
	assert.Equal(t, 0, base.Len(), "never-synced issue has empty base")
	title, _ := local.Get(types.FieldTitle)
	assert.Equal(t, "first", title)

	updated := local.With(types.Fields{
		types.FieldStatus: "blocked",
		types.FieldLabels: []string{"b", "a"},
	})
	require.NoError(t, s.SaveLocal(ctx, "bd-1", updated))

	syncedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveBase(ctx, "bd-1", types.NewSnapshot(types.OriginLocal, updated.Fields(), syncedAt)))

	local, base, err = s.Load(ctx, "bd-1")
	require.NoError(t, err)
	status, _ := local.Get(types.FieldStatus)
	assert.Equal(t, "blocked", status)
	labels, _ := base.Get(types.FieldLabels)
	assert.Equal(t, []string{"a", "b"}, labels, "labels canonicalized on read")
	assert.Equal(t, types.OriginBase, base.Origin())

	rec, err := s.Record(ctx, "bd-1")
	require.NoError(t, err)
	assert.Equal(t, "12", rec.ExternalRef("github"), "refs survive SaveLocal")
	require.NotNil(t, rec.LastSyncedAt)
	assert.True(t, rec.LastSyncedAt.Equal(syncedAt))
}

func TestFlagRelinkPersists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, &types.IssueRecord{ID: "bd-2", Fields: types.Fields{}}))

	require.NoError(t, s.FlagRelink(ctx, "bd-2", "jira"))
	rec, err := s.Record(ctx, "bd-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"jira"}, rec.NeedsRelink)
}

func TestListSkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []string{"bd-3", "bd-1"} {
		require.NoError(t, s.Put(ctx, &types.IssueRecord{ID: id}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), issuesDir, "notes.txt"), []byte("x"), 0o600))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bd-1", "bd-3"}, ids)
}

func TestRejectsPathTraversal(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveLocal(context.Background(), "../evil", types.NewSnapshot(types.OriginLocal, nil, time.Now()))
	assert.Error(t, err)
}

func TestLockIssueExcludesSecondHolder(t *testing.T) {
	s := newTestStore(t)
	unlock, err := s.LockIssue(context.Background(), "bd-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = s.LockIssue(ctx, "bd-1")
	assert.Error(t, err, "second lock must not be granted while held")

	require.NoError(t, unlock())
	unlock2, err := s.LockIssue(context.Background(), "bd-1")
	require.NoError(t, err)
	require.NoError(t, unlock2())
}
