package types

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestIssueRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  IssueRecord
		wantErr bool
	}{
		{name: "valid", record: IssueRecord{ID: "bd-1"}},
		{name: "missing id", record: IssueRecord{}, wantErr: true},
		{name: "path separator", record: IssueRecord{ID: "a/b"}, wantErr: true},
		{name: "empty external ref", record: IssueRecord{ID: "bd-1", ExternalRefs: map[string]string{"jira": " "}}, wantErr: true},
		{name: "with refs", record: IssueRecord{ID: "bd-1", ExternalRefs: map[string]string{"jira": "PROJ-1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFlagRelinkDedups(t *testing.T) {
	r := &IssueRecord{ID: "bd-1"}
	r.FlagRelink("jira")
	r.FlagRelink("github")
	r.FlagRelink("jira")
	if want := []string{"github", "jira"}; !reflect.DeepEqual(r.NeedsRelink, want) {
		t.Errorf("NeedsRelink = %v, want %v", r.NeedsRelink, want)
	}
}

func TestIdentitySame(t *testing.T) {
	tests := []struct {
		name string
		a, b Identity
		want bool
	}{
		{"both empty", Identity{}, Identity{}, true},
		{"one empty", Identity{Name: "alice"}, Identity{}, false},
		{"case insensitive name", Identity{Name: "Alice"}, Identity{Name: "alice"}, true},
		{"account ids win", Identity{AccountID: "A1", Name: "alice"}, Identity{AccountID: "a1", Name: "Alice Smith"}, true},
		{"different account ids", Identity{AccountID: "A1", Name: "alice"}, Identity{AccountID: "B2", Name: "alice"}, false},
		{"name matches account id", Identity{Name: "a1"}, Identity{AccountID: "A1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Same(tt.b); got != tt.want {
				t.Errorf("Same() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Same(tt.a); got != tt.want {
				t.Errorf("Same() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentityJSON(t *testing.T) {
	data, err := json.Marshal(Identity{Name: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"alice"` {
		t.Errorf("marshal name-only = %s", data)
	}

	var id Identity
	if err := json.Unmarshal([]byte(`{"account_id":"x9","name":"Bob"}`), &id); err != nil {
		t.Fatal(err)
	}
	if id.AccountID != "x9" || id.Name != "Bob" {
		t.Errorf("unmarshal object = %+v", id)
	}
}

func TestOriginRemote(t *testing.T) {
	name, ok := RemoteOrigin("jira").Remote()
	if !ok || name != "jira" {
		t.Errorf("Remote() = %q, %v", name, ok)
	}
	if _, ok := OriginLocal.Remote(); ok {
		t.Error("local origin reported as remote")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	fields := Fields{FieldLabels: []string{"a", "b"}, FieldTitle: "x"}
	snap := NewSnapshot(OriginLocal, fields, time.Now())

	fields[FieldTitle] = "changed"
	fields[FieldLabels].([]string)[0] = "z"

	if v, _ := snap.Get(FieldTitle); v != "x" {
		t.Errorf("title leaked mutation: %v", v)
	}
	got, _ := snap.Get(FieldLabels)
	got.([]string)[1] = "mutated"
	again, _ := snap.Get(FieldLabels)
	if !reflect.DeepEqual(again, []string{"a", "b"}) {
		t.Errorf("labels leaked mutation: %v", again)
	}

	next := snap.With(Fields{FieldTitle: "y"})
	if v, _ := snap.Get(FieldTitle); v != "x" {
		t.Errorf("With modified receiver: %v", v)
	}
	if v, _ := next.Get(FieldTitle); v != "y" {
		t.Errorf("With result = %v", v)
	}
}

func TestSnapshotJSONRoundTripCanonicalizes(t *testing.T) {
	in := `{"origin":"base","taken_at":"2024-01-01T00:00:00Z","fields":{"priority":1,"labels":["b","a","b"],"assignee":"alice","progress":"40%"}}`
	var snap Snapshot
	if err := json.Unmarshal([]byte(in), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Origin() != OriginBase {
		t.Errorf("origin = %s", snap.Origin())
	}
	if v, _ := snap.Get(FieldPriority); v != 1 {
		t.Errorf("priority = %#v", v)
	}
	if v, _ := snap.Get(FieldLabels); !reflect.DeepEqual(v, []string{"a", "b"}) {
		t.Errorf("labels = %#v", v)
	}
	if v, _ := snap.Get(FieldAssignee); v != (Identity{Name: "alice"}) {
		t.Errorf("assignee = %#v", v)
	}
	if v, _ := snap.Get(FieldProgress); v != 40 {
		t.Errorf("progress = %#v", v)
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		field string
		in    interface{}
		want  interface{}
	}{
		{FieldPriority, float64(3), 3},
		{FieldPriority, "P1", 1},
		{FieldPriority, nil, DefaultPriority},
		{FieldStatus, nil, "open"},
		{FieldStatus, StatusBlocked, "blocked"},
		{FieldLabels, []interface{}{"x", " y ", "x", ""}, []string{"x", "y"}},
		{FieldLabels, "b,a", []string{"a", "b"}},
		{FieldAssignee, map[string]interface{}{"accountId": "5f", "displayName": "Ann"}, Identity{AccountID: "5f", Name: "Ann"}},
		{FieldProgress, "75%", 75},
		{"custom", "free", "free"},
	}
	for _, tt := range tests {
		got, err := Canonical(tt.field, tt.in)
		if err != nil {
			t.Errorf("Canonical(%s, %v) error: %v", tt.field, tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Canonical(%s, %v) = %#v, want %#v", tt.field, tt.in, got, tt.want)
		}
	}
}

func TestCanonicalRejectsGarbage(t *testing.T) {
	if _, err := Canonical(FieldPriority, "urgent-ish"); err == nil {
		t.Error("expected error for non-numeric priority")
	}
	if _, err := Canonical(FieldUpdatedAt, "yesterday"); err == nil {
		t.Error("expected error for bad timestamp")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(FieldDescription) != KindText {
		t.Error("description should be text")
	}
	if KindOf(FieldUpdatedAt) != KindTimestamp {
		t.Error("updated_at should be timestamp")
	}
	if KindOf("story_points") != KindOpaque {
		t.Error("unknown fields should be opaque")
	}
}
