package tracker

import (
	"reflect"
	"testing"
	"time"

	"github.com/steveyegge/bdsync/internal/types"
)

func snap(origin types.Origin, f types.Fields) types.Snapshot {
	return types.NewSnapshot(origin, f, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func remoteSnap(name string, f types.Fields) types.Snapshot {
	return snap(types.RemoteOrigin(name), f)
}

func TestDetectThreeWay(t *testing.T) {
	tests := []struct {
		name      string
		base      interface{}
		local     interface{}
		remote    interface{}
		wantKind  DiffKind // "" means no diff
		wantField string
	}{
		{"nothing changed", "a", "a", "a", "", types.FieldTitle},
		{"local only", "a", "b", "a", DiffAuto, types.FieldTitle},
		{"remote only", "a", "a", "b", DiffAuto, types.FieldTitle},
		{"both to same value", "a", "b", "b", DiffConverged, types.FieldTitle},
		{"both to different values", "a", "b", "c", DiffConflict, types.FieldTitle},
		{"trailing whitespace in text is not a change", "notes", "notes\r\n", "notes  ", "", types.FieldDescription},
		{"labels compare as sets", []string{"a", "b"}, []string{"b", "a"}, []interface{}{"a", "b"}, "", types.FieldLabels},
		{"priority accepts P-notation", 1, "P1", 1, "", types.FieldPriority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := snap(types.OriginBase, types.Fields{tt.wantField: tt.base})
			local := snap(types.OriginLocal, types.Fields{tt.wantField: tt.local})
			remote := remoteSnap("github", types.Fields{tt.wantField: tt.remote})

			diffs, err := Detect(base, local, []types.Snapshot{remote}, nil)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if len(diffs) != 1 {
				t.Fatalf("expected one remote diff, got %d", len(diffs))
			}
			fd, ok := diffs[0].Lookup(tt.wantField)
			if tt.wantKind == "" {
				if ok {
					t.Fatalf("expected no diff, got %+v", fd)
				}
				return
			}
			if !ok {
				t.Fatalf("expected %s diff, got none", tt.wantKind)
			}
			if fd.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", fd.Kind, tt.wantKind)
			}
		})
	}
}

func TestDetectNormalizesStatus(t *testing.T) {
	m := DefaultMappingTable()
	m.StatusMap["resolved"] = types.StatusCompleted
	base := snap(types.OriginBase, types.Fields{types.FieldStatus: "open"})
	local := snap(types.OriginLocal, types.Fields{types.FieldStatus: "completed"})

	for _, remoteStatus := range []string{"Done", "Closed", "Resolved"} {
		remote := remoteSnap("jira", types.Fields{types.FieldStatus: remoteStatus})
		diffs, err := Detect(base, local, []types.Snapshot{remote}, map[string]Mapper{"jira": m})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if len(diffs[0].Conflicts) != 0 {
			t.Errorf("%s: completed vs %s reported as conflict", remoteStatus, remoteStatus)
		}
		if len(diffs[0].Converged) != 1 {
			t.Errorf("%s: expected a converged status diff, got %+v", remoteStatus, diffs[0])
		}
	}
}

func TestDetectAssigneeCaseInsensitive(t *testing.T) {
	base := snap(types.OriginBase, types.Fields{types.FieldAssignee: types.Identity{AccountID: "U1", Name: "Alice"}})
	local := snap(types.OriginLocal, types.Fields{types.FieldAssignee: types.Identity{AccountID: "u1", Name: "alice w"}})
	remote := remoteSnap("jira", types.Fields{types.FieldAssignee: map[string]interface{}{"accountId": "U1", "displayName": "ALICE"}})

	diffs, err := Detect(base, local, []types.Snapshot{remote}, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if all := diffs[0].All(); len(all) != 0 {
		t.Fatalf("same account id must not diff, got %+v", all)
	}
}

func TestDetectAbsentMeansDefault(t *testing.T) {
	base := snap(types.OriginBase, types.Fields{})
	local := snap(types.OriginLocal, types.Fields{types.FieldStatus: "open", types.FieldPriority: 2, types.FieldLabels: []string{}})
	remote := remoteSnap("github", types.Fields{})

	diffs, err := Detect(base, local, []types.Snapshot{remote}, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if all := diffs[0].All(); len(all) != 0 {
		t.Fatalf("defaults must not diff against absence, got %+v", all)
	}
}

func TestDetectSkipsTimestampsAndUnsupportedFields(t *testing.T) {
	m := DefaultMappingTable()
	m.Fields = []string{types.FieldTitle}
	base := snap(types.OriginBase, types.Fields{types.FieldUpdatedAt: "2024-01-01T00:00:00Z"})
	local := snap(types.OriginLocal, types.Fields{
		types.FieldUpdatedAt: "2024-02-01T00:00:00Z",
		types.FieldProgress:  50,
	})
	remote := remoteSnap("github", types.Fields{types.FieldLastSyncedAt: "2024-03-01T00:00:00Z"})

	diffs, err := Detect(base, local, []types.Snapshot{remote}, map[string]Mapper{"github": m})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if all := diffs[0].All(); len(all) != 0 {
		t.Fatalf("expected no diffs, got %+v", all)
	}
}

func TestDetectDoesNotMutateInputs(t *testing.T) {
	localFields := types.Fields{types.FieldLabels: []string{"b", "a"}, types.FieldStatus: "open"}
	base := snap(types.OriginBase, types.Fields{types.FieldLabels: []string{"a"}})
	local := snap(types.OriginLocal, localFields)
	remote := remoteSnap("github", types.Fields{types.FieldStatus: "Done"})
	before := local.Fields()

	if _, err := Detect(base, local, []types.Snapshot{remote}, nil); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(local.Fields(), before) {
		t.Errorf("local snapshot changed: %v -> %v", before, local.Fields())
	}
	if !reflect.DeepEqual(localFields[types.FieldLabels], []string{"b", "a"}) {
		t.Errorf("caller's map changed: %v", localFields)
	}
}

func TestDetectRejectsNonRemoteSnapshot(t *testing.T) {
	s := snap(types.OriginLocal, types.Fields{})
	if _, err := Detect(s, s, []types.Snapshot{s}, nil); err == nil {
		t.Fatal("expected error for a local snapshot in the remote list")
	}
}

func TestDetectPerRemote(t *testing.T) {
	base := snap(types.OriginBase, types.Fields{types.FieldTitle: "a"})
	local := snap(types.OriginLocal, types.Fields{types.FieldTitle: "b"})
	gh := remoteSnap("github", types.Fields{types.FieldTitle: "a"})
	jira := remoteSnap("jira", types.Fields{types.FieldTitle: "c"})

	diffs, err := Detect(base, local, []types.Snapshot{gh, jira}, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(diffs[0].AutoUpdates) != 1 || len(diffs[0].Conflicts) != 0 {
		t.Errorf("github: want one auto-update, got %+v", diffs[0])
	}
	if len(diffs[1].Conflicts) != 1 {
		t.Errorf("jira: want one conflict, got %+v", diffs[1])
	}
}
