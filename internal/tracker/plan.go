package tracker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/bdsync/internal/types"
)

// Remote precedence policies for sync.remote_precedence. Any other value is
// read as a comma-separated list of remote names.
const (
	PrecedenceConfigOrder = "config_order"
	PrecedenceFetchOrder  = "fetch_order"
)

// validatePrecedence checks a precedence policy against the configured remotes.
func validatePrecedence(policy string, remotes []string) error {
	switch strings.TrimSpace(policy) {
	case "", PrecedenceConfigOrder, PrecedenceFetchOrder:
		return nil
	}
	known := make(map[string]bool, len(remotes))
	for _, r := range remotes {
		known[r] = true
	}
	for _, name := range splitList(policy) {
		if len(remotes) > 0 && !known[name] {
			return fmt.Errorf("remote precedence names unknown remote %q", name)
		}
	}
	return nil
}

// orderByPrecedence sorts fetched remote diffs so the winning remote comes
// first. configOrder and fetchOrder list remote names; remotes missing from
// an explicit list follow in configuration order.
func orderByPrecedence(policy string, diffs []RemoteDiff, configOrder, fetchOrder []string) []RemoteDiff {
	var order []string
	switch strings.TrimSpace(policy) {
	case "", PrecedenceConfigOrder:
		order = configOrder
	case PrecedenceFetchOrder:
		order = fetchOrder
	default:
		order = append(splitList(policy), configOrder...)
	}
	rank := make(map[string]int, len(order))
	for i, name := range order {
		if _, ok := rank[name]; !ok {
			rank[name] = i
		}
	}
	out := make([]RemoteDiff, len(diffs))
	copy(out, diffs)
	sort.SliceStable(out, func(i, j int) bool {
		ri, oki := rank[out[i].Remote]
		rj, okj := rank[out[j].Remote]
		if oki != okj {
			return oki
		}
		return ri < rj
	})
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// fieldPlan is one field the run has to act on: either already decided
// (auto-update or converged) or a conflict waiting for the resolver.
type fieldPlan struct {
	Field    string
	Local    interface{}
	Decided  *ResolvedField
	Conflict *Conflict
}

// planner folds per-remote diffs into one decision per field.
type planner struct {
	local   types.Snapshot
	diffs   []RemoteDiff // precedence order
	mappers map[string]Mapper
	// targets lists remote names in configuration order.
	targets []string
}

func (p *planner) mapper(name string) Mapper {
	if m := p.mappers[name]; m != nil {
		return m
	}
	return DefaultMappingTable()
}

func (p *planner) diff(name string) (RemoteDiff, bool) {
	for _, d := range p.diffs {
		if d.Remote == name {
			return d, true
		}
	}
	return RemoteDiff{}, false
}

// build returns the per-field plan, sorted by field, plus warnings about
// remotes that lost on precedence.
func (p *planner) build() ([]fieldPlan, []string) {
	var fields []string
	seen := make(map[string]bool)
	for _, d := range p.diffs {
		for _, fd := range d.All() {
			if !seen[fd.Field] {
				seen[fd.Field] = true
				fields = append(fields, fd.Field)
			}
		}
	}
	sort.Strings(fields)

	var (
		plans    []fieldPlan
		warnings []string
	)
	for _, field := range fields {
		fp, warn := p.planField(field)
		plans = append(plans, fp)
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}
	return plans, warnings
}

func (p *planner) planField(field string) (fieldPlan, string) {
	var (
		localChanged bool
		localValue   interface{}
		changed      []FieldDiff
	)
	localValue = valueOf(p.local, field)
	for _, d := range p.diffs {
		fd, ok := d.Lookup(field)
		if !ok {
			continue
		}
		if fd.LocalChanged() {
			localChanged = true
		}
		if fd.RemoteChanged() {
			changed = append(changed, fd)
		}
	}
	fp := fieldPlan{Field: field, Local: localValue}

	if !localChanged {
		if len(changed) == 0 {
			return fp, ""
		}
		winner := changed[0]
		var losers []string
		for _, fd := range changed[1:] {
			if !Equal(field, fd.RemoteValue, winner.RemoteValue) {
				losers = append(losers, fd.Remote)
			}
		}
		kind, rationale := DiffAuto, "auto-update from "+winner.Remote
		var warn string
		switch {
		case len(losers) > 0:
			rationale = fmt.Sprintf("remote precedence (%s over %s)", winner.Remote, strings.Join(losers, ", "))
			warn = fmt.Sprintf("%s: remotes disagree; using %s value, %s will be overwritten",
				field, winner.Remote, strings.Join(losers, ", "))
		case len(changed) > 1:
			kind, rationale = DiffConverged, "converged ("+joinRemotes(changed)+")"
		}
		fp.Decided = p.decide(field, winner.RemoteValue, localValue, winner.Remote, rationale, kind)
		return fp, warn
	}

	var differing []FieldDiff
	for _, fd := range changed {
		if !Equal(field, fd.RemoteValue, localValue) {
			differing = append(differing, fd)
		}
	}
	if len(differing) == 0 {
		kind, rationale := DiffAuto, "local change"
		if len(changed) > 0 {
			kind, rationale = DiffConverged, "converged (local, "+joinRemotes(changed)+")"
		}
		fp.Decided = p.decide(field, localValue, localValue, TargetLocal, rationale, kind)
		return fp, ""
	}
	c := Conflict{FieldDiff: differing[0]}
	c.Kind = DiffConflict
	if len(differing) > 1 {
		c.Others = append([]FieldDiff(nil), differing[1:]...)
	}
	fp.Conflict = &c
	return fp, ""
}

func (p *planner) decide(field string, value, before interface{}, source, rationale string, kind DiffKind) *ResolvedField {
	return &ResolvedField{
		Field:     field,
		Value:     value,
		Before:    before,
		Rationale: rationale,
		Source:    source,
		Targets:   p.targetsFor(field, value),
		Kind:      kind,
	}
}

// targetsFor lists where value must be written: the record store when the
// local value differs, then each fetched remote that supports the field and
// currently holds something else, in configuration order.
func (p *planner) targetsFor(field string, value interface{}) []string {
	var out []string
	if !Equal(field, valueOf(p.local, field), value) {
		out = append(out, TargetLocal)
	}
	for _, name := range p.targets {
		d, ok := p.diff(name)
		if !ok || !p.mapper(name).Supports(field) {
			continue
		}
		if !Equal(field, valueOf(d.Normalized, field), value) {
			out = append(out, name)
		}
	}
	return out
}

func joinRemotes(diffs []FieldDiff) string {
	names := make([]string, len(diffs))
	for i, d := range diffs {
		names[i] = d.Remote
	}
	return strings.Join(names, ", ")
}
