package tracker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/bdsync/internal/types"
)

// Mapper translates field values between a remote's vocabulary and the local
// one. The detector compares remote values only after ToLocal, and the
// engine converts resolved values back with ToRemote before calling Apply.
type Mapper interface {
	// Supports reports whether the remote has a counterpart for field.
	Supports(field string) bool

	// ToLocal converts a remote value into the local vocabulary.
	ToLocal(field string, value interface{}) (interface{}, error)

	// ToRemote converts a local value into the remote's vocabulary.
	ToRemote(field string, value interface{}) (interface{}, error)
}

// ConfigLoader provides flat key/value configuration to mappers, e.g.
// "jira.status_map.in review" = "in_progress".
type ConfigLoader interface {
	GetStringMapString(key string) map[string]string
}

// MappingTable is a table-driven Mapper. Remote integrations start from
// DefaultMappingTable and fill in their own vocabularies.
type MappingTable struct {
	// Fields lists the supported fields. Empty means every field.
	Fields []string

	// StatusMap maps lowercased remote status names to local statuses.
	StatusMap map[string]types.Status
	// StatusReverseMap maps local statuses to the remote status name.
	StatusReverseMap map[types.Status]string

	// PriorityMap maps lowercased remote priority names to 0-4.
	PriorityMap map[string]int
	// PriorityReverseMap maps 0-4 to the remote priority name.
	PriorityReverseMap map[int]string

	// UserMap maps local assignee names to remote account ids.
	UserMap map[string]string
}

var _ Mapper = (*MappingTable)(nil)

// DefaultMappingTable returns identity mappings for the local vocabulary.
func DefaultMappingTable() *MappingTable {
	t := &MappingTable{
		StatusMap:          make(map[string]types.Status),
		StatusReverseMap:   make(map[types.Status]string),
		PriorityMap:        make(map[string]int),
		PriorityReverseMap: make(map[int]string),
		UserMap:            make(map[string]string),
	}
	for _, s := range []types.Status{types.StatusOpen, types.StatusInProgress, types.StatusBlocked, types.StatusCompleted, types.StatusCancelled} {
		t.StatusMap[string(s)] = s
		t.StatusReverseMap[s] = string(s)
	}
	t.StatusMap["in-progress"] = types.StatusInProgress
	t.StatusMap["done"] = types.StatusCompleted
	t.StatusMap["closed"] = types.StatusCompleted
	t.StatusMap["canceled"] = types.StatusCancelled
	return t
}

// Supports implements Mapper.
func (t *MappingTable) Supports(field string) bool {
	if types.KindOf(field) == types.KindTimestamp {
		return false
	}
	if len(t.Fields) == 0 {
		return true
	}
	for _, f := range t.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// ToLocal implements Mapper.
func (t *MappingTable) ToLocal(field string, value interface{}) (interface{}, error) {
	switch field {
	case types.FieldStatus:
		return t.statusToLocal(value), nil
	case types.FieldPriority:
		return t.priorityToLocal(value)
	case types.FieldAssignee:
		id, err := types.Canonical(field, value)
		if err != nil {
			return nil, err
		}
		return t.userToLocal(id.(types.Identity)), nil
	default:
		return types.Canonical(field, value)
	}
}

// ToRemote implements Mapper.
func (t *MappingTable) ToRemote(field string, value interface{}) (interface{}, error) {
	switch field {
	case types.FieldStatus:
		s := types.Status(strings.ToLower(fmt.Sprint(value)))
		if name, ok := t.StatusReverseMap[s]; ok {
			return name, nil
		}
		return fmt.Sprint(value), nil
	case types.FieldPriority:
		p, err := types.Canonical(field, value)
		if err != nil {
			return nil, err
		}
		if name, ok := t.PriorityReverseMap[p.(int)]; ok {
			return name, nil
		}
		return p, nil
	case types.FieldAssignee:
		v, err := types.Canonical(field, value)
		if err != nil {
			return nil, err
		}
		id := v.(types.Identity)
		if id.AccountID == "" {
			if acct, ok := t.UserMap[strings.ToLower(id.Name)]; ok {
				id.AccountID = acct
			}
		}
		return id, nil
	default:
		return value, nil
	}
}

func (t *MappingTable) statusToLocal(value interface{}) string {
	raw := strings.TrimSpace(fmt.Sprint(value))
	if value == nil || raw == "" {
		return string(types.StatusOpen)
	}
	if s, ok := t.StatusMap[strings.ToLower(raw)]; ok {
		return string(s)
	}
	// Unknown remote states stay visible as themselves so a diff against
	// any local value is still reported.
	return raw
}

func (t *MappingTable) priorityToLocal(value interface{}) (int, error) {
	if value == nil {
		return types.DefaultPriority, nil
	}
	if s, ok := value.(string); ok {
		if p, ok := t.PriorityMap[strings.ToLower(strings.TrimSpace(s))]; ok {
			return p, nil
		}
	}
	v, err := types.Canonical(types.FieldPriority, value)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (t *MappingTable) userToLocal(id types.Identity) types.Identity {
	if id.AccountID == "" {
		return id
	}
	for local, acct := range t.UserMap {
		if strings.EqualFold(acct, id.AccountID) {
			return types.Identity{AccountID: id.AccountID, Name: local}
		}
	}
	return id
}

// LoadConfig applies overrides from configuration under prefix:
//
//	<prefix>.status_map.<remote name>   = <local status>
//	<prefix>.priority_map.<remote name> = <0-4>
//	<prefix>.user_map.<local name>      = <remote account id>
//
// A status or priority override also becomes the reverse mapping when the
// local value has no reverse entry yet.
func (t *MappingTable) LoadConfig(prefix string, cfg ConfigLoader) error {
	if cfg == nil {
		return nil
	}
	for name, local := range cfg.GetStringMapString(prefix + ".status_map") {
		s := types.Status(strings.ToLower(strings.TrimSpace(local)))
		if !s.IsValid() {
			return fmt.Errorf("%s.status_map.%s: unknown local status %q", prefix, name, local)
		}
		t.StatusMap[strings.ToLower(name)] = s
		if _, ok := t.StatusReverseMap[s]; !ok {
			t.StatusReverseMap[s] = name
		}
	}
	for name, raw := range cfg.GetStringMapString(prefix + ".priority_map") {
		p, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || p < 0 || p > 4 {
			return fmt.Errorf("%s.priority_map.%s: priority must be 0-4, got %q", prefix, name, raw)
		}
		t.PriorityMap[strings.ToLower(name)] = p
		if _, ok := t.PriorityReverseMap[p]; !ok {
			t.PriorityReverseMap[p] = name
		}
	}
	for local, acct := range cfg.GetStringMapString(prefix + ".user_map") {
		t.UserMap[strings.ToLower(local)] = acct
	}
	return nil
}
