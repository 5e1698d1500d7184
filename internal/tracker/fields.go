package tracker

import (
	"reflect"
	"strings"

	"github.com/steveyegge/bdsync/internal/merge"
	"github.com/steveyegge/bdsync/internal/types"
)

// valueOf returns the canonical value of field in snap, substituting the
// field's default when it is absent.
func valueOf(snap types.Snapshot, field string) interface{} {
	v, ok := snap.Get(field)
	if !ok || v == nil {
		return types.DefaultValue(field)
	}
	if cv, err := types.Canonical(field, v); err == nil {
		return cv
	}
	return v
}

// Equal compares two canonical values of field according to its kind.
func Equal(field string, a, b interface{}) bool {
	if a == nil {
		a = types.DefaultValue(field)
	}
	if b == nil {
		b = types.DefaultValue(field)
	}
	ca, errA := types.Canonical(field, a)
	cb, errB := types.Canonical(field, b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}

	switch types.KindOf(field) {
	case types.KindText:
		return merge.NormalizeText(ca.(string)) == merge.NormalizeText(cb.(string))
	case types.KindLine:
		return strings.TrimSpace(ca.(string)) == strings.TrimSpace(cb.(string))
	case types.KindEnum:
		if field == types.FieldPriority {
			return ca == cb
		}
		return strings.EqualFold(strings.TrimSpace(ca.(string)), strings.TrimSpace(cb.(string)))
	case types.KindIdentity:
		return ca.(types.Identity).Same(cb.(types.Identity))
	case types.KindSet, types.KindNumber:
		return reflect.DeepEqual(ca, cb)
	case types.KindTimestamp:
		return true
	default:
		return reflect.DeepEqual(ca, cb)
	}
}

// comparableField reports whether field takes part in diffing at all.
func comparableField(field string) bool {
	return types.KindOf(field) != types.KindTimestamp
}
