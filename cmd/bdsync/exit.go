package main

import (
	"fmt"

	"github.com/steveyegge/bdsync/internal/tracker"
)

// Process exit codes. Automation keys off these, so they never change.
const (
	ExitSuccess   = 0
	ExitUsage     = 1
	ExitCancelled = 2
	ExitPartial   = 3
	ExitFailed    = 5
)

// exitError carries an exit code out of a command. err is printed to
// stderr when set; results already reported leave it nil.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...interface{}) error {
	return &exitError{code: ExitUsage, err: fmt.Errorf(format, args...)}
}

func failure(err error) error {
	return &exitError{code: ExitFailed, err: err}
}

// exitCodeFor maps run outcomes to an exit code. A user cancellation wins
// over every other outcome.
func exitCodeFor(results map[string]*tracker.SyncResult) int {
	if tracker.AnyCancelled(results) {
		return ExitCancelled
	}
	switch tracker.Overall(results) {
	case tracker.StatusSuccess:
		return ExitSuccess
	case tracker.StatusPartial:
		return ExitPartial
	default:
		return ExitFailed
	}
}
