package tracker

import (
	"context"
	"fmt"
	"sync"
)

// issueLocks allows at most one in-flight run per issue id within a process.
type issueLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newIssueLocks() *issueLocks {
	return &issueLocks{held: make(map[string]chan struct{})}
}

// acquire takes the lock for id. When block is false a held lock fails
// immediately with ErrRunInProgress; otherwise it waits for the holder or
// for ctx.
func (l *issueLocks) acquire(ctx context.Context, id string, block bool) (func(), error) {
	for {
		l.mu.Lock()
		done, busy := l.held[id]
		if !busy {
			done = make(chan struct{})
			l.held[id] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, id)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		if !block {
			return nil, fmt.Errorf("%s: %w", id, ErrRunInProgress)
		}
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
