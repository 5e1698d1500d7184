// Package types defines the core data structures shared by the sync engine,
// the record store and the remote clients.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// IssueRecord is the canonical local representation of an issue.
// Between syncs it is owned by the record store; a sync run borrows it.
type IssueRecord struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`

	// ExternalRefs links the record to each remote system by name,
	// e.g. {"github": "42", "jira": "PROJ-7"}.
	ExternalRefs map[string]string `json:"external_refs,omitempty"`

	// NeedsRelink lists remotes whose linked issue no longer exists.
	NeedsRelink []string `json:"needs_relink,omitempty"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// ExternalRef returns the external identifier for the named remote.
func (r *IssueRecord) ExternalRef(remote string) string {
	if r == nil || r.ExternalRefs == nil {
		return ""
	}
	return r.ExternalRefs[remote]
}

// FlagRelink marks the named remote as needing manual re-linking.
func (r *IssueRecord) FlagRelink(remote string) {
	for _, name := range r.NeedsRelink {
		if name == remote {
			return
		}
	}
	r.NeedsRelink = append(r.NeedsRelink, remote)
	sort.Strings(r.NeedsRelink)
}

// Validate checks that the record has the minimum required structure.
func (r *IssueRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("issue record has no id")
	}
	if strings.ContainsAny(r.ID, `/\`) {
		return fmt.Errorf("issue id %q must not contain path separators", r.ID)
	}
	for name, ref := range r.ExternalRefs {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("issue %s: empty external ref for %s", r.ID, name)
		}
	}
	return nil
}

// Status is the local status vocabulary. Remote vocabularies are mapped
// onto it before comparison.
type Status string

// Local status values
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// IsValid checks if the status value is part of the local vocabulary.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Identity is an assignee reference. AccountID is the stable identifier
// when the system provides one; Name is the display name or login.
type Identity struct {
	AccountID string `json:"account_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Key returns the case-folded stable identifier used for comparison.
// The account id is preferred over the display name.
func (i Identity) Key() string {
	if i.AccountID != "" {
		return strings.ToLower(strings.TrimSpace(i.AccountID))
	}
	return strings.ToLower(strings.TrimSpace(i.Name))
}

// IsZero reports whether the identity is unassigned.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.AccountID) == "" && strings.TrimSpace(i.Name) == ""
}

// Same reports whether two identities refer to the same person.
// When both carry account ids only the ids are compared.
func (i Identity) Same(o Identity) bool {
	if i.IsZero() || o.IsZero() {
		return i.IsZero() && o.IsZero()
	}
	if i.AccountID != "" && o.AccountID != "" {
		return strings.EqualFold(i.AccountID, o.AccountID)
	}
	return i.Key() == o.Key() ||
		(i.Name != "" && strings.EqualFold(i.Name, o.Name)) ||
		(i.Name != "" && strings.EqualFold(i.Name, o.AccountID)) ||
		(o.Name != "" && strings.EqualFold(o.Name, i.AccountID))
}

func (i Identity) String() string {
	switch {
	case i.Name != "" && i.AccountID != "" && i.Name != i.AccountID:
		return fmt.Sprintf("%s (%s)", i.Name, i.AccountID)
	case i.Name != "":
		return i.Name
	default:
		return i.AccountID
	}
}

// MarshalJSON writes a name-only identity as a plain string so hand-edited
// records can use "assignee": "alice".
func (i Identity) MarshalJSON() ([]byte, error) {
	if i.AccountID == "" {
		return json.Marshal(i.Name)
	}
	type plain Identity
	return json.Marshal(plain(i))
}

// UnmarshalJSON accepts either a plain string or an object.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*i = Identity{Name: s}
		return nil
	}
	type plain Identity
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}
	*i = Identity(p)
	return nil
}

// Origin tags where a snapshot came from.
type Origin string

// Fixed origins; remote origins are built with RemoteOrigin.
const (
	OriginBase  Origin = "base"
	OriginLocal Origin = "local"
)

const remoteOriginPrefix = "remote:"

// RemoteOrigin returns the origin tag for a named remote, e.g. "remote:jira".
func RemoteOrigin(name string) Origin {
	return Origin(remoteOriginPrefix + name)
}

// Remote returns the remote name for a remote origin.
func (o Origin) Remote() (string, bool) {
	if !strings.HasPrefix(string(o), remoteOriginPrefix) {
		return "", false
	}
	return strings.TrimPrefix(string(o), remoteOriginPrefix), true
}

// Snapshot is an immutable copy of an issue's field mapping taken at a point
// in time. All accessors return copies.
type Snapshot struct {
	origin  Origin
	fields  Fields
	takenAt time.Time
}

// NewSnapshot copies fields into a new snapshot.
func NewSnapshot(origin Origin, fields Fields, takenAt time.Time) Snapshot {
	return Snapshot{origin: origin, fields: fields.Clone(), takenAt: takenAt.UTC()}
}

func (s Snapshot) Origin() Origin     { return s.origin }
func (s Snapshot) TakenAt() time.Time { return s.takenAt }
func (s Snapshot) Len() int           { return len(s.fields) }

// Get returns a copy of the named field value.
func (s Snapshot) Get(field string) (interface{}, bool) {
	v, ok := s.fields[field]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Fields returns a copy of the field mapping.
func (s Snapshot) Fields() Fields {
	return s.fields.Clone()
}

// Names returns the field names present in the snapshot, sorted.
func (s Snapshot) Names() []string {
	return s.fields.Names()
}

// With returns a new snapshot carrying the given updates on top of s.
func (s Snapshot) With(updates Fields) Snapshot {
	merged := s.fields.Clone()
	if merged == nil {
		merged = Fields{}
	}
	for k, v := range updates {
		merged[k] = cloneValue(v)
	}
	return Snapshot{origin: s.origin, fields: merged, takenAt: s.takenAt}
}

// Retag returns a copy of s with a different origin and time.
func (s Snapshot) Retag(origin Origin, takenAt time.Time) Snapshot {
	return Snapshot{origin: origin, fields: s.fields.Clone(), takenAt: takenAt.UTC()}
}

type snapshotJSON struct {
	Origin  Origin    `json:"origin"`
	TakenAt time.Time `json:"taken_at"`
	Fields  Fields    `json:"fields"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Origin: s.origin, TakenAt: s.takenAt, Fields: s.fields})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.origin = raw.Origin
	s.takenAt = raw.TakenAt
	s.fields = raw.Fields
	return nil
}
