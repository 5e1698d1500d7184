package tracker

import (
	"fmt"
	"sort"

	"github.com/steveyegge/bdsync/internal/types"
)

// DiffKind classifies a FieldDiff.
type DiffKind string

const (
	// DiffAuto means exactly one side changed since base.
	DiffAuto DiffKind = "auto"
	// DiffConflict means both sides changed to different values.
	DiffConflict DiffKind = "conflict"
	// DiffConverged means both sides changed to the same value.
	DiffConverged DiffKind = "converged"
)

// FieldDiff describes one field that differs from base for one remote.
// Remote values are already normalized into the local vocabulary.
type FieldDiff struct {
	Field       string      `json:"field"`
	Remote      string      `json:"remote"`
	Kind        DiffKind    `json:"kind"`
	Base        interface{} `json:"base"`
	Local       interface{} `json:"local"`
	RemoteValue interface{} `json:"remote_value"`
}

// LocalChanged reports whether the local side moved away from base.
func (d FieldDiff) LocalChanged() bool { return !Equal(d.Field, d.Local, d.Base) }

// RemoteChanged reports whether the remote side moved away from base.
func (d FieldDiff) RemoteChanged() bool { return !Equal(d.Field, d.RemoteValue, d.Base) }

// Conflict is a field changed both locally and on at least one remote to
// different values. Others holds further remotes that also changed the
// field to something other than the local value.
type Conflict struct {
	FieldDiff
	Others []FieldDiff `json:"others,omitempty"`
}

// RemoteDiff is the detector output for one remote.
type RemoteDiff struct {
	Remote      string      `json:"remote"`
	AutoUpdates []FieldDiff `json:"auto_updates,omitempty"`
	Conflicts   []FieldDiff `json:"conflicts,omitempty"`
	Converged   []FieldDiff `json:"converged,omitempty"`

	// Normalized is the remote snapshot translated into the local
	// vocabulary and restricted to the fields the remote supports.
	Normalized types.Snapshot `json:"-"`
}

// All returns every diff for the remote, sorted by field.
func (d RemoteDiff) All() []FieldDiff {
	all := make([]FieldDiff, 0, len(d.AutoUpdates)+len(d.Conflicts)+len(d.Converged))
	all = append(all, d.AutoUpdates...)
	all = append(all, d.Conflicts...)
	all = append(all, d.Converged...)
	sort.Slice(all, func(i, j int) bool { return all[i].Field < all[j].Field })
	return all
}

// Lookup returns the diff for field, if any.
func (d RemoteDiff) Lookup(field string) (FieldDiff, bool) {
	for _, list := range [][]FieldDiff{d.AutoUpdates, d.Conflicts, d.Converged} {
		for _, fd := range list {
			if fd.Field == field {
				return fd, true
			}
		}
	}
	return FieldDiff{}, false
}

// Normalize translates a raw remote snapshot into the local vocabulary,
// dropping fields the remote does not support.
func Normalize(remote types.Snapshot, m Mapper) (types.Snapshot, error) {
	out := types.Fields{}
	for _, field := range remote.Names() {
		if !m.Supports(field) || !comparableField(field) {
			continue
		}
		raw, _ := remote.Get(field)
		v, err := m.ToLocal(field, raw)
		if err != nil {
			return types.Snapshot{}, fmt.Errorf("normalizing %s from %s: %w", field, remote.Origin(), err)
		}
		out[field] = v
	}
	return types.NewSnapshot(remote.Origin(), out, remote.TakenAt()), nil
}

// Reconciler is implemented by mappers whose remote cannot store some local
// values verbatim (Jira labels cannot contain spaces). Reconcile returns the
// normalized remote value rewritten onto a spelling found in known, so a
// lossy round trip is not reported as a remote change.
type Reconciler interface {
	Reconcile(field string, remote interface{}, known ...interface{}) interface{}
}

// reconcile applies m's Reconciler, if any, against the base and local values.
func reconcile(remote types.Snapshot, m Mapper, base, local types.Snapshot) types.Snapshot {
	rc, ok := m.(Reconciler)
	if !ok {
		return remote
	}
	updates := types.Fields{}
	for _, field := range remote.Names() {
		v, _ := remote.Get(field)
		nv := rc.Reconcile(field, v, valueOf(base, field), valueOf(local, field))
		if !Equal(field, nv, v) {
			updates[field] = nv
		}
	}
	if len(updates) == 0 {
		return remote
	}
	return remote.With(updates)
}

// Detect computes per-remote three-way diffs. It never mutates its inputs.
// Each remote snapshot must carry a remote origin; mappers are keyed by
// remote name and a missing mapper means identity mapping.
func Detect(base, local types.Snapshot, remotes []types.Snapshot, mappers map[string]Mapper) ([]RemoteDiff, error) {
	out := make([]RemoteDiff, 0, len(remotes))
	for _, rs := range remotes {
		name, ok := rs.Origin().Remote()
		if !ok {
			return nil, fmt.Errorf("snapshot with origin %q is not a remote snapshot", rs.Origin())
		}
		m := mappers[name]
		if m == nil {
			m = DefaultMappingTable()
		}
		norm, err := Normalize(rs, m)
		if err != nil {
			return nil, err
		}
		norm = reconcile(norm, m, base, local)
		out = append(out, diffOne(name, base, local, norm, m))
	}
	return out, nil
}

func diffOne(name string, base, local, remote types.Snapshot, m Mapper) RemoteDiff {
	rd := RemoteDiff{Remote: name, Normalized: remote}
	for _, field := range fieldUnion(base, local, remote) {
		if !comparableField(field) || !m.Supports(field) {
			continue
		}
		b, l, r := valueOf(base, field), valueOf(local, field), valueOf(remote, field)
		localChanged := !Equal(field, l, b)
		remoteChanged := !Equal(field, r, b)
		if !localChanged && !remoteChanged {
			continue
		}
		fd := FieldDiff{Field: field, Remote: name, Base: b, Local: l, RemoteValue: r}
		switch {
		case localChanged && remoteChanged && Equal(field, l, r):
			fd.Kind = DiffConverged
			rd.Converged = append(rd.Converged, fd)
		case localChanged && remoteChanged:
			fd.Kind = DiffConflict
			rd.Conflicts = append(rd.Conflicts, fd)
		default:
			fd.Kind = DiffAuto
			rd.AutoUpdates = append(rd.AutoUpdates, fd)
		}
	}
	return rd
}

func fieldUnion(snaps ...types.Snapshot) []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range snaps {
		for _, n := range s.Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}
