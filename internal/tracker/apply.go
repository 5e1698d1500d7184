package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/bdsync/internal/types"
)

// apply writes resolved fields: the record store first, then each remote in
// configuration order. Once called the run always reaches a terminal state;
// cancellation of ctx is ignored.
func (r *run) apply(ctx context.Context, resolved []ResolvedField) {
	actx := context.WithoutCancel(ctx)
	r.res.Applied = append(make([]ResolvedField, 0, len(resolved)), resolved...)

	var writes int
	for _, f := range resolved {
		writes += len(f.Targets)
	}
	if writes == 0 {
		r.e.msg("%s: nothing to write", r.id)
		r.commitBase(actx)
		_ = r.m.to(r.outcome())
		return
	}

	if err := r.e.Backups.Take(actx, r.id, r.res.RunID, r.local); err != nil {
		r.res.addError(FieldError{Remote: TargetLocal, Phase: "backup", Kind: KindPermanent, Message: err.Error()})
		r.fail(fmt.Errorf("taking backup of %s: %w", r.id, err))
		return
	}
	r.backedUp = true

	if local := fieldsFor(resolved, TargetLocal); len(local) > 0 {
		updated := r.local.With(local)
		if err := r.e.Store.SaveLocal(actx, r.id, updated); err != nil {
			r.res.addError(FieldError{Remote: TargetLocal, Phase: "apply", Kind: KindPermanent,
				Fields: local.Names(), Message: err.Error()})
			r.rollback(actx, nil)
			r.fail(fmt.Errorf("saving %s: %w", r.id, err))
			return
		}
		r.e.msg("Updated %s locally (%d fields)", r.id, len(local))
	}

	var written []string
	for _, remote := range r.e.Remotes {
		name := remote.Name()
		if _, ok := r.fetched[name]; !ok {
			continue
		}
		changes := fieldsFor(resolved, name)
		if len(changes) == 0 {
			continue
		}
		err := r.applyRemote(actx, remote, changes)
		if err == nil {
			written = append(written, name)
			r.e.msg("Updated %s in %s (%d fields)", r.id, name, len(changes))
			continue
		}

		kind := KindOf(err)
		r.res.addError(FieldError{Remote: name, Phase: "apply", Kind: kind, Fields: changes.Names(), Message: err.Error()})
		r.e.warn("Failed to update %s in %s: %v", r.id, name, err)
		if kind == KindNotFound {
			r.flagRelink(actx, name)
		}
		if kind.IsFatal() || !r.opts.Force {
			r.rollback(actx, written)
			r.fail(fmt.Errorf("applying to %s: %w", name, err))
			return
		}
		r.dropTarget(name)
	}

	r.commitBase(actx)
	if err := r.e.Backups.Commit(actx, r.id, r.res.RunID); err != nil {
		r.res.warn("could not mark backup %s as committed: %v", r.res.RunID, err)
	}
	_ = r.m.to(r.outcome())
}

// applyRemote converts values to the remote vocabulary and writes them,
// bounded by the per-call timeout.
func (r *run) applyRemote(ctx context.Context, remote Remote, changes types.Fields) error {
	m := remote.Mapper()
	out := make(map[string]interface{}, len(changes))
	for _, field := range changes.Names() {
		v, err := m.ToRemote(field, changes[field])
		if err != nil {
			return NewRemoteError(remote.Name(), "map "+field, 0, KindPermanent, err)
		}
		out[field] = v
	}
	cctx, cancel := context.WithTimeout(ctx, r.e.Config.ApplyTimeout)
	defer cancel()
	ref := RemoteRef{IssueID: r.id, ExternalID: r.record.ExternalRef(remote.Name())}
	return remote.Apply(cctx, ref, out)
}

// rollback restores the record store from the run's backup. Remote writes
// cannot be undone and are reported instead.
func (r *run) rollback(ctx context.Context, written []string) {
	if len(written) > 0 {
		r.res.warn("remote writes to %s were not undone", joinNames(written))
	}
	// Only the remote writes survive a rollback.
	kept := make([]ResolvedField, 0, len(r.res.Applied))
	for _, f := range r.res.Applied {
		var targets []string
		for _, name := range written {
			if f.HasTarget(name) {
				targets = append(targets, name)
			}
		}
		if len(targets) > 0 {
			f.Targets = targets
			kept = append(kept, f)
		}
	}
	r.res.Applied = kept
	if !r.backedUp {
		return
	}
	snap, err := r.e.Backups.Restore(ctx, r.id, r.res.RunID)
	if err == nil {
		err = r.e.Store.SaveLocal(ctx, r.id, snap)
	}
	if err != nil {
		r.res.addError(FieldError{Remote: TargetLocal, Phase: "rollback", Kind: KindPermanent, Message: err.Error()})
		r.res.warn("rollback of %s failed; restore manually from backup %s", r.id, r.res.RunID)
		return
	}
	r.e.msg("Restored %s from backup %s", r.id, r.res.RunID)
}

// commitBase records the applied values as the new base, but only when
// every linked remote was fetched and every write succeeded. Skipped
// fields keep their old base value.
func (r *run) commitBase(ctx context.Context) {
	if r.incomplete || len(r.res.Errors) > 0 || len(r.res.Applied) == 0 {
		return
	}
	updates := types.Fields{}
	for _, f := range r.res.Applied {
		updates[f.Field] = f.Value
	}
	base := r.base.With(updates).Retag(types.OriginBase, r.e.now())
	if err := r.e.Store.SaveBase(ctx, r.id, base); err != nil {
		r.res.addError(FieldError{Remote: TargetLocal, Phase: "base", Kind: KindPermanent, Message: err.Error()})
		r.res.warn("base for %s not updated; the next run will re-detect these changes", r.id)
		return
	}
	r.res.BaseUpdated = true
}

// dropTarget removes a failed remote from the applied fields' targets.
// Fields left with no target are reported only through Errors.
func (r *run) dropTarget(name string) {
	kept := r.res.Applied[:0]
	for _, f := range r.res.Applied {
		if !f.HasTarget(name) {
			kept = append(kept, f)
			continue
		}
		var targets []string
		for _, t := range f.Targets {
			if t != name {
				targets = append(targets, t)
			}
		}
		if len(targets) == 0 {
			continue
		}
		f.Targets = targets
		kept = append(kept, f)
	}
	r.res.Applied = kept
}

// fieldsFor collects the resolved values that must be written to target.
func fieldsFor(resolved []ResolvedField, target string) types.Fields {
	out := types.Fields{}
	for _, f := range resolved {
		if f.HasTarget(target) {
			out[f.Field] = f.Value
		}
	}
	return out
}

func joinNames(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}
