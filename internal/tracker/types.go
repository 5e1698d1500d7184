package tracker

import (
	"fmt"
	"strings"
	"time"
)

// Strategy is the run-level conflict resolution policy. It is chosen once
// per run and applied to every conflict in that run.
type Strategy string

const (
	StrategyLocalWins   Strategy = "local_wins"
	StrategyRemoteWins  Strategy = "remote_wins"
	StrategyMerge       Strategy = "merge"
	StrategyManual      Strategy = "manual"
	StrategyInteractive Strategy = "interactive"
)

// Strategies lists every strategy in display order.
var Strategies = []Strategy{StrategyLocalWins, StrategyRemoteWins, StrategyMerge, StrategyManual, StrategyInteractive}

// ParseStrategy parses a strategy name. Hyphens are accepted in place of
// underscores ("local-wins").
func ParseStrategy(s string) (Strategy, error) {
	norm := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, st := range Strategies {
		if st == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q (valid: %s)", s, joinStrategies())
}

func joinStrategies() string {
	names := make([]string, len(Strategies))
	for i, s := range Strategies {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// Prompts reports whether the strategy needs a Prompter.
func (s Strategy) Prompts() bool {
	return s == StrategyManual || s == StrategyInteractive
}

// Status is the outcome of a run as reported to callers.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Options configures a single Sync call.
type Options struct {
	// Strategy overrides Config.Strategy when set.
	Strategy Strategy
	// Force resolves every conflict local_wins and keeps successful writes
	// when only some remotes fail to apply.
	Force bool
	// DryRun stops after resolution and reports the plan without writing.
	DryRun bool
	// Prompter answers manual and interactive conflicts.
	Prompter Prompter
}

// Target names a place a resolved value is written to.
const TargetLocal = "local"

// ResolvedField is a field value the run decided on.
type ResolvedField struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
	// Before is the local value when the run started.
	Before    interface{} `json:"before"`
	Rationale string      `json:"rationale"`
	// Source is "local" or the remote name the value came from.
	Source string `json:"source"`
	// Targets lists where the value must be written ("local" and/or remote names).
	Targets []string `json:"targets,omitempty"`
	Kind    DiffKind `json:"kind"`
}

// HasTarget reports whether name is one of the field's write targets.
func (r ResolvedField) HasTarget(name string) bool {
	for _, t := range r.Targets {
		if t == name {
			return true
		}
	}
	return false
}

// SkippedField is a conflict left unresolved in this run.
type SkippedField struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// FieldError records a failure against a remote or the record store.
type FieldError struct {
	Remote  string    `json:"remote"`
	Phase   string    `json:"phase"` // fetch, apply, store
	Kind    ErrorKind `json:"kind"`
	Fields  []string  `json:"fields,omitempty"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// SyncResult is returned for every run, whatever its outcome. Applied,
// Skipped and Errors together say exactly which fields need attention.
type SyncResult struct {
	RunID       string          `json:"run_id"`
	IssueID     string          `json:"issue_id"`
	Strategy    Strategy        `json:"strategy"`
	Force       bool            `json:"force,omitempty"`
	DryRun      bool            `json:"dry_run,omitempty"`
	Status      Status          `json:"status"`
	State       State           `json:"state"`
	Transitions []Transition    `json:"transitions"`
	Applied     []ResolvedField `json:"applied"`
	Skipped     []SkippedField  `json:"skipped,omitempty"`
	Errors      []FieldError    `json:"errors,omitempty"`
	Conflicts   []Conflict      `json:"conflicts,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	Cancelled   bool            `json:"cancelled,omitempty"`
	BaseUpdated bool            `json:"base_updated"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`

	// Err is the error that ended a failed run.
	Err error `json:"-"`
}

// Error returns the failure message, or "" for non-failed runs.
func (r *SyncResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// AppliedField returns the applied entry for field.
func (r *SyncResult) AppliedField(field string) (ResolvedField, bool) {
	for _, a := range r.Applied {
		if a.Field == field {
			return a, true
		}
	}
	return ResolvedField{}, false
}

func (r *SyncResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *SyncResult) addError(fe FieldError) {
	if fe.Hint == "" {
		fe.Hint = fe.Kind.Remediation(fe.Remote)
	}
	r.Errors = append(r.Errors, fe)
}
