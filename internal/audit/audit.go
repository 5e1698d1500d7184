// Package audit is the append-only sync log.
//
// Every sync run, whatever its outcome, appends exactly one Entry. Sinks
// must be queryable by issue id and time range; rotation and retention are
// sink policies (see JSONLSink).
package audit

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileName is the default JSONL sync log file name inside the store dir.
const FileName = "sync-log.jsonl"

// Change is the before/after record for one field.
type Change struct {
	Field     string      `json:"field"`
	Before    interface{} `json:"before"`
	After     interface{} `json:"after"`
	Source    string      `json:"source,omitempty"`
	Targets   []string    `json:"targets,omitempty"`
	Rationale string      `json:"rationale,omitempty"`
}

// Entry is one sync-log record.
type Entry struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	IssueID    string    `json:"issue_id"`
	Timestamp  time.Time `json:"timestamp"`
	Strategy   string    `json:"strategy"`
	Force      bool      `json:"force,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Status     string    `json:"status"`
	State      string    `json:"state"`
	Changes    []Change  `json:"changes,omitempty"`
	Skipped    []string  `json:"skipped,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Filter selects entries. Zero values match everything. Limit keeps the
// most recent entries.
type Filter struct {
	IssueID string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Match reports whether e passes the filter (ignoring Limit).
func (f Filter) Match(e *Entry) bool {
	if f.IssueID != "" && !strings.EqualFold(f.IssueID, e.IssueID) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Sink persists sync-log entries.
type Sink interface {
	// Append stores e, assigning ID and Timestamp when empty, and returns the id.
	Append(ctx context.Context, e *Entry) (string, error)
	// Query returns matching entries, oldest first.
	Query(ctx context.Context, f Filter) ([]*Entry, error)
	Close() error
}

func prepare(e *Entry) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

func newID() string {
	return "log-" + uuid.NewString()[:13]
}

// finish sorts entries oldest first and applies the limit to the newest end.
func finish(entries []*Entry, f Filter) []*Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[len(entries)-f.Limit:]
	}
	return entries
}

// Multi fans appends out to several sinks and queries the first one.
type Multi []Sink

// Append writes to every sink and returns the first error after trying all.
func (m Multi) Append(ctx context.Context, e *Entry) (string, error) {
	prepare(e)
	var firstErr error
	for _, s := range m {
		if _, err := s.Append(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return e.ID, firstErr
}

// Query reads from the first sink.
func (m Multi) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return m[0].Query(ctx, f)
}

// Close closes every sink.
func (m Multi) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
