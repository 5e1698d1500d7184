package audit

import (
	"context"
	"sync"
)

// MemorySink keeps entries in memory. Used by tests and dry runs.
type MemorySink struct {
	mu      sync.Mutex
	entries []*Entry
}

var _ Sink = (*MemorySink)(nil)

// NewMemory returns an empty in-memory sink.
func NewMemory() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Append(ctx context.Context, e *Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	prepare(e)
	cp := *e
	m.mu.Lock()
	m.entries = append(m.entries, &cp)
	m.mu.Unlock()
	return e.ID, nil
}

func (m *MemorySink) Query(_ context.Context, f Filter) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if f.Match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return finish(out, f), nil
}

// Entries returns every entry in append order.
func (m *MemorySink) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *MemorySink) Close() error { return nil }
