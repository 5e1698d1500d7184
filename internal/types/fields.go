package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Well-known field names
const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldStatus       = "status"
	FieldPriority     = "priority"
	FieldAssignee     = "assignee"
	FieldLabels       = "labels"
	FieldProgress     = "progress"
	FieldCreatedAt    = "created_at"
	FieldUpdatedAt    = "updated_at"
	FieldLastSyncedAt = "last_synced_at"
)

// FieldKind drives how a field is compared, defaulted and merged.
type FieldKind int

const (
	// KindOpaque fields use plain value equality and cannot be merged.
	KindOpaque FieldKind = iota
	// KindLine is single-line free text (titles).
	KindLine
	// KindText is multi-line free text that may be concatenated on merge.
	KindText
	// KindEnum fields hold one value out of a vocabulary (status, priority).
	KindEnum
	// KindIdentity fields reference a person (assignee).
	KindIdentity
	// KindSet fields hold an unordered set of strings (labels).
	KindSet
	// KindNumber fields hold an integer (progress).
	KindNumber
	// KindTimestamp fields are bookkeeping and never diffed.
	KindTimestamp
)

func (k FieldKind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindText:
		return "text"
	case KindEnum:
		return "enum"
	case KindIdentity:
		return "identity"
	case KindSet:
		return "set"
	case KindNumber:
		return "number"
	case KindTimestamp:
		return "timestamp"
	default:
		return "opaque"
	}
}

// DefaultPriority is priority 2 (medium) on the 0-4 scale.
const DefaultPriority = 2

var fieldKinds = map[string]FieldKind{
	FieldTitle:        KindLine,
	FieldDescription:  KindText,
	FieldStatus:       KindEnum,
	FieldPriority:     KindEnum,
	FieldAssignee:     KindIdentity,
	FieldLabels:       KindSet,
	FieldProgress:     KindNumber,
	FieldCreatedAt:    KindTimestamp,
	FieldUpdatedAt:    KindTimestamp,
	FieldLastSyncedAt: KindTimestamp,
}

// KindOf returns the kind of a field. Unknown fields are opaque.
func KindOf(field string) FieldKind {
	if k, ok := fieldKinds[field]; ok {
		return k
	}
	return KindOpaque
}

// DefaultValue returns the value an absent field is treated as.
func DefaultValue(field string) interface{} {
	switch field {
	case FieldStatus:
		return string(StatusOpen)
	case FieldPriority:
		return DefaultPriority
	}
	switch KindOf(field) {
	case KindLine, KindText, KindEnum:
		return ""
	case KindIdentity:
		return Identity{}
	case KindSet:
		return []string{}
	case KindNumber:
		return 0
	case KindTimestamp:
		return time.Time{}
	default:
		return nil
	}
}

// Fields maps field names to canonical values:
// string for line/text/status/opaque, int for priority and numbers,
// []string (sorted, unique) for sets, Identity for people, time.Time for timestamps.
type Fields map[string]interface{}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

// Names returns the field names, sorted.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// UnmarshalJSON decodes fields and converts every value to its canonical form.
func (f *Fields) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(Fields, len(raw))
	for k, v := range raw {
		cv, err := Canonical(k, v)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = cv
	}
	*f = out
	return nil
}

// Canonical converts a loosely-typed value (e.g. decoded JSON) into the
// canonical representation for the field's kind.
func Canonical(field string, v interface{}) (interface{}, error) {
	if v == nil {
		return DefaultValue(field), nil
	}
	switch KindOf(field) {
	case KindLine, KindText:
		return toString(v), nil
	case KindEnum:
		if field == FieldPriority {
			return toInt(v)
		}
		return toString(v), nil
	case KindNumber:
		return toInt(v)
	case KindSet:
		return toSet(v)
	case KindIdentity:
		return toIdentity(v)
	case KindTimestamp:
		return toTime(v)
	default:
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return int(i), nil
			}
			f, _ := n.Float64()
			return f, nil
		}
		return v, nil
	}
}

// NormalizeSet sorts and de-duplicates a set value, dropping blanks.
func NormalizeSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case Status:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(math.Round(t)), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		return int(math.Round(f)), nil
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		if s == "" {
			return 0, nil
		}
		s = strings.TrimPrefix(strings.ToUpper(s), "P")
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", v, v)
	}
}

func toSet(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return NormalizeSet(t), nil
	case []interface{}:
		values := make([]string, 0, len(t))
		for _, item := range t {
			values = append(values, toString(item))
		}
		return NormalizeSet(values), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return []string{}, nil
		}
		return NormalizeSet(strings.Split(t, ",")), nil
	default:
		return nil, fmt.Errorf("not a set: %v (%T)", v, v)
	}
}

func toIdentity(v interface{}) (Identity, error) {
	switch t := v.(type) {
	case Identity:
		return t, nil
	case *Identity:
		if t == nil {
			return Identity{}, nil
		}
		return *t, nil
	case string:
		return Identity{Name: strings.TrimSpace(t)}, nil
	case map[string]interface{}:
		id := Identity{}
		for _, key := range []string{"account_id", "accountId", "id"} {
			if s, ok := t[key].(string); ok && s != "" {
				id.AccountID = s
				break
			}
		}
		for _, key := range []string{"name", "displayName", "login"} {
			if s, ok := t[key].(string); ok && s != "" {
				id.Name = s
				break
			}
		}
		return id, nil
	default:
		return Identity{}, fmt.Errorf("not an identity: %v (%T)", v, v)
	}
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("not a timestamp: %v (%T)", v, v)
	}
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
