package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/bdsync/internal/audit"
	"github.com/steveyegge/bdsync/internal/storage"
	"github.com/steveyegge/bdsync/internal/telemetry"
	"github.com/steveyegge/bdsync/internal/types"
)

const engineScopeName = "github.com/steveyegge/bdsync/tracker"

// Config holds the orchestrator settings. It is built once (see
// config.LoadSyncConfig) and passed to NewEngine.
type Config struct {
	// Strategy is the default conflict strategy for runs that do not set one.
	Strategy Strategy
	// RemotePrecedence decides which remote wins when remotes disagree with
	// each other: "config_order" (default), "fetch_order", or a
	// comma-separated list of remote names.
	RemotePrecedence string

	FetchTimeout     time.Duration
	ApplyTimeout     time.Duration
	ResolutionBudget time.Duration

	// Parallelism bounds concurrent runs in SyncAll.
	Parallelism int
	// BlockOnBusy makes a second run for an issue wait for the first
	// instead of failing with ErrRunInProgress.
	BlockOnBusy bool

	// Retry is the policy handed to remote clients.
	Retry RetryPolicy
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:         StrategyMerge,
		RemotePrecedence: PrecedenceConfigOrder,
		FetchTimeout:     30 * time.Second,
		ApplyTimeout:     30 * time.Second,
		ResolutionBudget: 5 * time.Minute,
		Parallelism:      4,
		Retry:            DefaultRetryPolicy(),
	}
}

// Validate checks the config against the configured remote names.
func (c Config) Validate(remotes []string) error {
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.FetchTimeout <= 0 || c.ApplyTimeout <= 0 {
		return fmt.Errorf("fetch and apply timeouts must be positive")
	}
	if c.ResolutionBudget < 0 {
		return fmt.Errorf("resolution budget must not be negative")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	return validatePrecedence(c.RemotePrecedence, remotes)
}

// RunTimeout is the whole-run deadline: one fetch round (fetches run
// concurrently), one apply per write target, plus the resolution budget.
func (c Config) RunTimeout(remotes int) time.Duration {
	return c.FetchTimeout + time.Duration(remotes+1)*c.ApplyTimeout + c.ResolutionBudget
}

// RetryConfigurable is implemented by remotes whose retry policy can be set
// from Config.Retry.
type RetryConfigurable interface {
	SetRetryPolicy(RetryPolicy)
}

// BackupManager persists pre-sync local state (see internal/backup).
type BackupManager interface {
	Take(ctx context.Context, issueID, runID string, local types.Snapshot) error
	Restore(ctx context.Context, issueID, runID string) (types.Snapshot, error)
	Commit(ctx context.Context, issueID, runID string) error
}

// Engine orchestrates synchronization between the record store and the
// configured remotes. It implements the Fetch→Detect→Resolve→Apply state
// machine for one issue at a time.
type Engine struct {
	Store   storage.Store
	Remotes []Remote // configuration order
	Backups BackupManager
	Log     audit.Sink
	Config  Config

	// Logger receives structured run events. Defaults to discarding.
	Logger *slog.Logger

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)

	// Now is the clock; tests replace it.
	Now func() time.Time

	locks *issueLocks

	tracer    trace.Tracer
	runs      metric.Int64Counter
	conflicts metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewEngine creates a sync engine. remotes are kept in the given order,
// which is the order writes are applied in.
func NewEngine(cfg Config, store storage.Store, remotes []Remote, backups BackupManager, log audit.Sink) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if backups == nil {
		return nil, fmt.Errorf("backup manager is required")
	}
	names := make([]string, 0, len(remotes))
	seen := make(map[string]bool, len(remotes))
	for _, r := range remotes {
		if seen[r.Name()] {
			return nil, fmt.Errorf("remote %q configured twice", r.Name())
		}
		seen[r.Name()] = true
		names = append(names, r.Name())
	}
	if err := cfg.Validate(names); err != nil {
		return nil, fmt.Errorf("invalid sync config: %w", err)
	}
	if log == nil {
		log = audit.NewMemory()
	}
	for _, r := range remotes {
		if rc, ok := r.(RetryConfigurable); ok && cfg.Retry.MaxAttempts > 0 {
			rc.SetRetryPolicy(cfg.Retry)
		}
	}

	m := telemetry.Meter(engineScopeName)
	runs, _ := m.Int64Counter("bdsync.sync.runs",
		metric.WithDescription("Sync runs by final status"),
	)
	conflicts, _ := m.Int64Counter("bdsync.sync.conflicts",
		metric.WithDescription("Conflicts seen by sync runs"),
	)
	duration, _ := m.Float64Histogram("bdsync.sync.duration",
		metric.WithDescription("Sync run duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Engine{
		Store:     store,
		Remotes:   remotes,
		Backups:   backups,
		Log:       log,
		Config:    cfg,
		Now:       time.Now,
		locks:     newIssueLocks(),
		tracer:    telemetry.Tracer(engineScopeName),
		runs:      runs,
		conflicts: conflicts,
		duration:  duration,
	}, nil
}

// remoteNames returns the configured remote names in order.
func (e *Engine) remoteNames() []string {
	names := make([]string, len(e.Remotes))
	for i, r := range e.Remotes {
		names[i] = r.Name()
	}
	return names
}

// Sync performs one run for issueID. It always returns a result; failures
// are reported through Status, Errors and Err.
func (e *Engine) Sync(ctx context.Context, issueID string, opts Options) *SyncResult {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = e.Config.Strategy
	}
	res := &SyncResult{
		RunID:     uuid.NewString(),
		IssueID:   issueID,
		Strategy:  strategy,
		Force:     opts.Force,
		DryRun:    opts.DryRun,
		Applied:   []ResolvedField{},
		StartedAt: e.now(),
	}

	ctx, span := e.tracer.Start(ctx, "bdsync.sync", trace.WithAttributes(
		attribute.String("bdsync.issue.id", issueID),
		attribute.String("bdsync.run.id", res.RunID),
		attribute.String("bdsync.strategy", string(strategy)),
		attribute.Bool("bdsync.force", opts.Force),
		attribute.Bool("bdsync.dry_run", opts.DryRun),
	))
	defer span.End()

	r := &run{e: e, id: issueID, opts: opts, strategy: strategy, res: res}
	r.m = newMachine(res, e.now)
	r.m.onStep = r.step

	unlock, err := e.lockIssue(ctx, issueID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.cancel()
		} else {
			r.fail(err)
		}
	} else {
		r.execute(ctx)
		unlock()
	}
	r.endPhase()

	res.FinishedAt = e.now()
	switch res.State {
	case StateCommitted:
		res.Status = StatusSuccess
	case StatePartial:
		res.Status = StatusPartial
	default:
		res.Status = StatusFailed
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	span.SetAttributes(attribute.String("bdsync.status", string(res.Status)))
	e.record(ctx, res)
	return res
}

// lockIssue takes the in-process lock and, when the store supports it, the
// cross-process lock for the issue.
func (e *Engine) lockIssue(ctx context.Context, id string) (func(), error) {
	release, err := e.locks.acquire(ctx, id, e.Config.BlockOnBusy)
	if err != nil {
		return nil, err
	}
	locker, ok := e.Store.(storage.IssueLocker)
	if !ok {
		return release, nil
	}
	lockCtx := ctx
	if !e.Config.BlockOnBusy {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
	}
	unlock, err := locker.LockIssue(lockCtx, id)
	if err != nil {
		release()
		if !e.Config.BlockOnBusy && ctx.Err() == nil {
			return nil, fmt.Errorf("%s: %w", id, ErrRunInProgress)
		}
		return nil, err
	}
	return func() {
		if err := unlock(); err != nil {
			e.logger().Warn("releasing issue lock", "issue", id, "error", err)
		}
		release()
	}, nil
}

// record appends the sync-log entry and emits metrics for a finished run.
func (e *Engine) record(ctx context.Context, res *SyncResult) {
	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(attribute.String("bdsync.status", string(res.Status)))
	e.runs.Add(ctx, 1, attrs)
	if n := len(res.Conflicts); n > 0 {
		e.conflicts.Add(ctx, int64(n))
	}
	elapsed := res.FinishedAt.Sub(res.StartedAt)
	e.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)

	if _, err := e.Log.Append(ctx, logEntry(res)); err != nil {
		e.warn("Failed to append sync log entry for %s: %v", res.IssueID, err)
	}
	e.logger().Info("sync finished",
		"issue", res.IssueID,
		"run", res.RunID,
		"status", res.Status,
		"state", res.State,
		"applied", len(res.Applied),
		"skipped", len(res.Skipped),
		"errors", len(res.Errors),
		"duration", elapsed,
	)
}

func logEntry(res *SyncResult) *audit.Entry {
	entry := &audit.Entry{
		RunID:      res.RunID,
		IssueID:    res.IssueID,
		Timestamp:  res.StartedAt,
		Strategy:   string(res.Strategy),
		Force:      res.Force,
		DryRun:     res.DryRun,
		Status:     string(res.Status),
		State:      string(res.State),
		Warnings:   res.Warnings,
		DurationMS: res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	}
	for _, a := range res.Applied {
		entry.Changes = append(entry.Changes, audit.Change{
			Field:     a.Field,
			Before:    a.Before,
			After:     a.Value,
			Source:    a.Source,
			Targets:   a.Targets,
			Rationale: a.Rationale,
		})
	}
	for _, s := range res.Skipped {
		entry.Skipped = append(entry.Skipped, s.Field+": "+s.Reason)
	}
	for _, fe := range res.Errors {
		msg := fe.Phase + " " + fe.Remote + ": " + fe.Message
		if len(fe.Fields) > 0 {
			msg += " (" + strings.Join(fe.Fields, ", ") + ")"
		}
		entry.Errors = append(entry.Errors, msg)
	}
	if res.Err != nil && len(res.Errors) == 0 {
		entry.Errors = append(entry.Errors, res.Err.Error())
	}
	return entry
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (e *Engine) msg(format string, args ...interface{}) {
	if e.OnMessage != nil {
		e.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) warn(format string, args ...interface{}) {
	if e.OnWarning != nil {
		e.OnWarning(fmt.Sprintf(format, args...))
	}
}

// run is the state of one Sync call.
type run struct {
	e        *Engine
	id       string
	opts     Options
	strategy Strategy
	res      *SyncResult
	m        *machine

	ctx       context.Context
	phaseSpan trace.Span

	record  *types.IssueRecord
	local   types.Snapshot
	base    types.Snapshot
	fetched map[string]types.Snapshot
	// fetchOrder is the order fetches completed in.
	fetchOrder []string
	// incomplete is set when a linked remote could not be fetched.
	incomplete bool
	backedUp   bool
}

func (r *run) step(from, to State) {
	r.endPhase()
	r.e.logger().Debug("sync state", "issue", r.id, "run", r.res.RunID, "from", from, "to", to)
	if !to.Terminal() && r.ctx != nil {
		_, r.phaseSpan = r.e.tracer.Start(r.ctx, "bdsync.sync."+strings.ToLower(string(to)))
	}
}

func (r *run) endPhase() {
	if r.phaseSpan != nil {
		r.phaseSpan.End()
		r.phaseSpan = nil
	}
}

// fail ends the run as FAILED with err.
func (r *run) fail(err error) {
	if r.res.Err == nil {
		r.res.Err = err
	}
	r.m.fail()
}

// cancel ends a run that was cancelled before any write.
func (r *run) cancel() {
	r.res.Cancelled = true
	r.fail(ErrCancelled)
}

// interrupted reports (and handles) a done run context before APPLYING.
func (r *run) interrupted(ctx context.Context) bool {
	switch {
	case ctx.Err() == nil:
		return false
	case errors.Is(ctx.Err(), context.Canceled):
		r.cancel()
	default:
		r.fail(fmt.Errorf("sync run timed out in %s", r.m.state))
	}
	return true
}

func (r *run) execute(parent context.Context) {
	cfg := r.e.Config
	ctx, cancel := context.WithTimeout(parent, cfg.RunTimeout(len(r.e.Remotes)))
	defer cancel()
	r.ctx = ctx

	var resolver *Resolver
	if !r.opts.Force {
		var err error
		if resolver, err = NewResolver(r.strategy, r.opts.Prompter, r.id); err != nil {
			r.fail(err)
			return
		}
	}

	if err := r.m.to(StateFetching); err != nil {
		r.fail(err)
		return
	}
	if !r.load(ctx) || !r.fetch(ctx) || r.interrupted(ctx) {
		return
	}

	if err := r.m.to(StateDetecting); err != nil {
		r.fail(err)
		return
	}
	diffs, ok := r.detect()
	if !ok {
		return
	}

	if err := r.m.to(StateResolving); err != nil {
		r.fail(err)
		return
	}
	resolved, ok := r.resolve(ctx, resolver, diffs)
	if !ok || r.interrupted(ctx) {
		return
	}

	if r.opts.DryRun {
		r.res.Applied = resolved
		for _, f := range resolved {
			r.e.msg("[dry-run] Would set %s = %v (%s) on %s", f.Field, f.Value, f.Rationale, strings.Join(f.Targets, ", "))
		}
		_ = r.m.to(r.outcome())
		return
	}

	if err := r.m.to(StateApplying); err != nil {
		r.fail(err)
		return
	}
	r.apply(ctx, resolved)
}

// outcome is the terminal state for a run that did not fail.
func (r *run) outcome() State {
	if len(r.res.Errors) > 0 || len(r.res.Skipped) > 0 {
		return StatePartial
	}
	return StateCommitted
}

func (r *run) load(ctx context.Context) bool {
	rec, err := r.e.Store.Record(ctx, r.id)
	if err == nil {
		r.record = rec
		r.local, r.base, err = r.e.Store.Load(ctx, r.id)
	}
	if err != nil {
		r.res.addError(FieldError{Remote: TargetLocal, Phase: "load", Kind: KindPermanent, Message: err.Error()})
		r.fail(fmt.Errorf("loading %s: %w", r.id, err))
		return false
	}
	return true
}

type fetchOutcome struct {
	remote Remote
	ref    RemoteRef
	snap   types.Snapshot
	err    error
	linked bool
}

// fetch requests every linked remote concurrently. A failing remote is
// excluded from the run; auth and not-found failures fail the run.
func (r *run) fetch(ctx context.Context) bool {
	cfg := r.e.Config
	outcomes := make([]fetchOutcome, len(r.e.Remotes))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(max(1, len(r.e.Remotes)))
	for i, remote := range r.e.Remotes {
		ref := RemoteRef{IssueID: r.id, ExternalID: r.record.ExternalRef(remote.Name())}
		outcomes[i] = fetchOutcome{remote: remote, ref: ref, linked: ref.ExternalID != ""}
		if !outcomes[i].linked {
			continue
		}
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
			defer cancel()
			snap, err := remote.Fetch(fctx, ref)
			if err == nil && fctx.Err() != nil {
				err = fctx.Err()
			}
			outcomes[i].snap, outcomes[i].err = snap, err
			if err == nil {
				mu.Lock()
				r.fetchOrder = append(r.fetchOrder, remote.Name())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return true // handled by interrupted
	}

	r.fetched = make(map[string]types.Snapshot)
	var linked int
	var fatal error
	for _, o := range outcomes {
		name := o.remote.Name()
		if !o.linked {
			r.e.msg("Skipping %s: %s is not linked to a %s issue", name, r.id, name)
			continue
		}
		linked++
		if o.err == nil {
			r.fetched[name] = o.snap.Retag(types.RemoteOrigin(name), o.snap.TakenAt())
			continue
		}
		kind := KindOf(o.err)
		if errors.Is(o.err, context.DeadlineExceeded) {
			kind = KindTransient
		}
		r.incomplete = true
		r.res.addError(FieldError{Remote: name, Phase: "fetch", Kind: kind, Message: o.err.Error()})
		r.e.warn("Failed to fetch %s from %s: %v", r.id, name, o.err)
		if kind == KindNotFound {
			r.flagRelink(ctx, name)
		}
		if kind.IsFatal() && fatal == nil {
			fatal = fmt.Errorf("fetching from %s: %w", name, o.err)
		}
	}
	switch {
	case fatal != nil:
		r.fail(fatal)
		return false
	case linked > 0 && len(r.fetched) == 0:
		r.fail(fmt.Errorf("no remote could be fetched for %s", r.id))
		return false
	}
	return true
}

func (r *run) flagRelink(ctx context.Context, remote string) {
	if err := r.e.Store.FlagRelink(context.WithoutCancel(ctx), r.id, remote); err != nil {
		r.res.warn("could not flag %s for relinking to %s: %v", r.id, remote, err)
		return
	}
	r.res.warn("%s flagged for manual re-linking to %s", r.id, remote)
}

func (r *run) detect() ([]RemoteDiff, bool) {
	var (
		snaps   []types.Snapshot
		mappers = make(map[string]Mapper)
	)
	for _, remote := range r.e.Remotes {
		snap, ok := r.fetched[remote.Name()]
		if !ok {
			continue
		}
		snaps = append(snaps, snap)
		mappers[remote.Name()] = remote.Mapper()
	}
	diffs, err := Detect(r.base, r.local, snaps, mappers)
	if err != nil {
		r.res.addError(FieldError{Phase: "detect", Kind: KindPermanent, Message: err.Error()})
		r.fail(err)
		return nil, false
	}
	return diffs, true
}

func (r *run) resolve(ctx context.Context, resolver *Resolver, diffs []RemoteDiff) ([]ResolvedField, bool) {
	p := &planner{
		local:   r.local,
		diffs:   orderByPrecedence(r.e.Config.RemotePrecedence, diffs, r.e.remoteNames(), r.fetchOrder),
		mappers: make(map[string]Mapper),
		targets: r.e.remoteNames(),
	}
	for _, remote := range r.e.Remotes {
		p.mappers[remote.Name()] = remote.Mapper()
	}
	plans, warnings := p.build()
	for _, w := range warnings {
		r.res.warn("%s", w)
		r.e.warn("%s", w)
	}

	resolved := make([]ResolvedField, 0, len(plans))
	for _, fp := range plans {
		if fp.Decided != nil {
			resolved = append(resolved, *fp.Decided)
			continue
		}
		if fp.Conflict == nil {
			continue
		}
		c := *fp.Conflict
		r.res.Conflicts = append(r.res.Conflicts, c)
		if r.interrupted(ctx) {
			return nil, false
		}

		var res Resolution
		if r.opts.Force {
			res = resolveLocalWins(c)
			res.Rationale = "forced local override"
		} else {
			var err error
			res, err = resolver.Resolve(ctx, c)
			if errors.Is(err, ErrCancelled) {
				r.cancel()
				return nil, false
			}
			if err != nil {
				if ctx.Err() != nil {
					r.interrupted(ctx)
					return nil, false
				}
				r.fail(err)
				return nil, false
			}
		}
		if res.Skip {
			r.res.Skipped = append(r.res.Skipped, SkippedField{Field: c.Field, Reason: res.Reason})
			r.e.msg("Skipped %s: %s", c.Field, res.Reason)
			continue
		}
		resolved = append(resolved, ResolvedField{
			Field:     c.Field,
			Value:     res.Value,
			Before:    fp.Local,
			Rationale: res.Rationale,
			Source:    res.Source,
			Targets:   p.targetsFor(c.Field, res.Value),
			Kind:      DiffConflict,
		})
		r.e.msg("Conflict on %s: %s", c.Field, res.Rationale)
	}
	return resolved, true
}
