package tracker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SyncAll runs Sync for each distinct issue id with at most
// Config.Parallelism runs in flight. Prompting strategies run one issue at a
// time so prompts never interleave. Every id gets a result.
func (e *Engine) SyncAll(ctx context.Context, ids []string, opts Options) map[string]*SyncResult {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	limit := e.Config.Parallelism
	strategy := opts.Strategy
	if strategy == "" {
		strategy = e.Config.Strategy
	}
	if limit < 1 || (strategy.Prompts() && !opts.Force) {
		limit = 1
	}

	results := make(map[string]*SyncResult, len(unique))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, id := range unique {
		g.Go(func() error {
			res := e.Sync(ctx, id, opts)
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	e.msg("Synced %d issues", len(results))
	return results
}

// Overall folds per-issue statuses into one: failed if any run failed,
// partial if any was partial, success otherwise.
func Overall(results map[string]*SyncResult) Status {
	status := StatusSuccess
	for _, res := range results {
		switch res.Status {
		case StatusFailed:
			return StatusFailed
		case StatusPartial:
			status = StatusPartial
		}
	}
	return status
}

// AnyCancelled reports whether a run was cancelled by the user.
func AnyCancelled(results map[string]*SyncResult) bool {
	for _, res := range results {
		if res.Cancelled {
			return true
		}
	}
	return false
}
