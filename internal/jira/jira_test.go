package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/bdsync/internal/tracker"
	"github.com/steveyegge/bdsync/internal/tracker/testutil"
	"github.com/steveyegge/bdsync/internal/types"
)

const (
	issuePath       = "/rest/api/3/issue/PROJ-7"
	transitionsPath = "/rest/api/3/issue/PROJ-7/transitions"
	progressField   = "customfield_10042"
)

var ref = tracker.RemoteRef{IssueID: "bd-1", ExternalID: "PROJ-7"}

func testRemote(t *testing.T, progress string) (*Remote, *testutil.MockServer) {
	t.Helper()
	srv := testutil.NewMockServer()
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL(), "me@example.com", "secret")
	client.Limiter = nil
	client.Retry = tracker.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	return NewRemote(client, nil, progress), srv
}

func sampleIssue() map[string]interface{} {
	return map[string]interface{}{
		"id":  "10001",
		"key": "PROJ-7",
		"fields": map[string]interface{}{
			"summary":     "Crash on save",
			"description": json.RawMessage(PlainTextToADF("Steps\nto reproduce")),
			"status":      map[string]string{"name": "In Review"},
			"priority":    map[string]string{"name": "High"},
			"assignee":    map[string]string{"accountId": "acct-1", "displayName": "Alice"},
			"labels":      []string{"backend"},
			"updated":     "2024-01-15T10:30:00.000+0000",
			progressField: 0.4,
		},
	}
}

func TestFetchMapsIssue(t *testing.T) {
	r, srv := testRemote(t, progressField)
	srv.SetResponse(http.MethodGet, issuePath, http.StatusOK, sampleIssue())

	snap, err := r.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	f := snap.Fields()
	if f[types.FieldDescription] != "Steps\nto reproduce" {
		t.Errorf("description = %q", f[types.FieldDescription])
	}
	if f[types.FieldProgress] != 40 {
		t.Errorf("progress = %v, want 40", f[types.FieldProgress])
	}

	norm, err := tracker.Normalize(snap, r.Mapper())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		types.FieldStatus:   "in_progress",
		types.FieldPriority: 1,
		types.FieldAssignee: types.Identity{AccountID: "acct-1", Name: "Alice"},
	}
	for field, w := range want {
		if got, _ := norm.Get(field); !reflect.DeepEqual(got, w) {
			t.Errorf("%s = %#v, want %#v", field, got, w)
		}
	}

	req := srv.Requests()[0]
	if !strings.HasPrefix(req.Headers.Get("Authorization"), "Basic ") {
		t.Errorf("expected basic auth, got %q", req.Headers.Get("Authorization"))
	}
	if !strings.Contains(req.Query, progressField) {
		t.Errorf("progress field not requested: %s", req.Query)
	}
}

func TestProgressUnsupportedWithoutField(t *testing.T) {
	r, _ := testRemote(t, "")
	if r.Mapper().Supports(types.FieldProgress) {
		t.Error("progress needs jira.progress_field")
	}
}

func TestApplyUpdatesFieldsAndTransitions(t *testing.T) {
	r, srv := testRemote(t, "")
	srv.SetResponse(http.MethodPut, issuePath, http.StatusNoContent, nil)
	srv.SetResponse(http.MethodGet, transitionsPath, http.StatusOK, TransitionsResponse{Transitions: []Transition{
		{ID: "11", Name: "Start", To: StatusField{Name: "In Progress"}},
		{ID: "31", Name: "Finish", To: StatusField{Name: "Done"}},
	}})
	srv.SetResponse(http.MethodPost, transitionsPath, http.StatusNoContent, nil)

	err := r.Apply(context.Background(), ref, map[string]interface{}{
		types.FieldTitle:    "New title",
		types.FieldPriority: "Highest",
		types.FieldStatus:   "Done",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	puts := srv.RequestsFor(http.MethodPut, issuePath)
	if len(puts) != 1 {
		t.Fatalf("PUTs = %d", len(puts))
	}
	var put struct {
		Fields map[string]interface{} `json:"fields"`
	}
	if err := puts[0].DecodeBody(&put); err != nil {
		t.Fatal(err)
	}
	if put.Fields["summary"] != "New title" {
		t.Errorf("summary = %v", put.Fields["summary"])
	}
	if _, ok := put.Fields["status"]; ok {
		t.Error("status must not be set through PUT")
	}

	posts := srv.RequestsFor(http.MethodPost, transitionsPath)
	if len(posts) != 1 {
		t.Fatalf("transition POSTs = %d", len(posts))
	}
	var tr struct {
		Transition struct{ ID string } `json:"transition"`
	}
	_ = posts[0].DecodeBody(&tr)
	if tr.Transition.ID != "31" {
		t.Errorf("transition id = %q, want 31", tr.Transition.ID)
	}
}

func TestApplyMissingTransitionIsPermanent(t *testing.T) {
	r, srv := testRemote(t, "")
	srv.SetResponse(http.MethodGet, transitionsPath, http.StatusOK, TransitionsResponse{})

	err := r.Apply(context.Background(), ref, map[string]interface{}{types.FieldStatus: "Done"})
	if tracker.KindOf(err) != tracker.KindPermanent {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestLabelRoundTripIsNotARemoteChange(t *testing.T) {
	ctx := context.Background()
	r, srv := testRemote(t, "")
	srv.SetResponse(http.MethodPut, issuePath, http.StatusNoContent, nil)

	if err := r.Apply(ctx, ref, map[string]interface{}{types.FieldLabels: []string{"needs review", "ui"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	var put struct {
		Fields struct {
			Labels []string `json:"labels"`
		} `json:"fields"`
	}
	if err := srv.RequestsFor(http.MethodPut, issuePath)[0].DecodeBody(&put); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(put.Fields.Labels, []string{"needs_review", "ui"}) {
		t.Fatalf("labels written = %v", put.Fields.Labels)
	}

	issue := sampleIssue()
	issue["fields"].(map[string]interface{})["labels"] = put.Fields.Labels
	srv.SetResponse(http.MethodGet, issuePath, http.StatusOK, issue)
	snap, err := r.Fetch(ctx, ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	synced := types.NewSnapshot(types.OriginBase, types.Fields{types.FieldLabels: []string{"needs review", "ui"}}, time.Now())
	local := synced.Retag(types.OriginLocal, time.Now())
	diffs, err := tracker.Detect(synced, local, []types.Snapshot{snap}, map[string]tracker.Mapper{Name: r.Mapper()})
	if err != nil {
		t.Fatal(err)
	}
	if fd, ok := diffs[0].Lookup(types.FieldLabels); ok {
		t.Errorf("labels re-diffed after round trip: base=%v remote=%v", fd.Base, fd.RemoteValue)
	}
}

func TestReconcileLabels(t *testing.T) {
	m := NewMapper("")
	tests := []struct {
		name   string
		remote []string
		known  []interface{}
		want   []string
	}{
		{"restores spaced spelling", []string{"needs_review", "qa"}, []interface{}{[]string{"needs review"}}, []string{"needs review", "qa"}},
		{"underscored label known as itself", []string{"needs_review"}, []interface{}{[]string{"needs review", "needs_review"}}, []string{"needs_review"}},
		{"unknown labels untouched", []string{"new_label"}, []interface{}{[]string{"other"}}, []string{"new_label"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Reconcile(types.FieldLabels, tt.remote, tt.known...)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Reconcile() = %v, want %v", got, tt.want)
			}
		})
	}
	if got := m.Reconcile(types.FieldTitle, "needs_review", "needs review"); got != "needs_review" {
		t.Errorf("non-label field rewritten: %v", got)
	}
}

func TestBuildUpdate(t *testing.T) {
	fields, status, err := BuildUpdate(map[string]interface{}{
		types.FieldAssignee:    types.Identity{},
		types.FieldLabels:      []string{"needs review", "ui"},
		types.FieldDescription: "one\ntwo",
		types.FieldProgress:    75,
	}, progressField)
	if err != nil {
		t.Fatal(err)
	}
	if status != "" {
		t.Errorf("status = %q", status)
	}
	if v, ok := fields["assignee"]; !ok || v != nil {
		t.Errorf("unassign should send null, got %v", v)
	}
	if !reflect.DeepEqual(fields["labels"], []string{"needs_review", "ui"}) {
		t.Errorf("labels = %v", fields["labels"])
	}
	if fields[progressField] != 75 {
		t.Errorf("progress = %v", fields[progressField])
	}
	if got := DescriptionToPlainText(fields["description"].(json.RawMessage)); got != "one\ntwo" {
		t.Errorf("description round trip = %q", got)
	}

	if _, _, err := BuildUpdate(map[string]interface{}{types.FieldAssignee: "bob"}, ""); err == nil {
		t.Error("assignee without account id should fail")
	}
}

func TestDescriptionToPlainText(t *testing.T) {
	adf := `{"type":"doc","version":1,"content":[
		{"type":"paragraph","content":[{"type":"text","text":"Intro "},{"type":"text","text":"line"}]},
		{"type":"bulletList","content":[
			{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"first"}]}]},
			{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"second"}]}]}
		]}
	]}`
	if got, want := DescriptionToPlainText(json.RawMessage(adf)), "Intro line\n- first\n- second"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := DescriptionToPlainText(json.RawMessage(`"plain"`)); got != "plain" {
		t.Errorf("plain string = %q", got)
	}
	if got := DescriptionToPlainText(nil); got != "" {
		t.Errorf("nil = %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*testutil.MockServer)
		wantKind  tracker.ErrorKind
		wantCalls int
	}{
		{"auth", func(s *testutil.MockServer) { s.SetAuthError(true) }, tracker.KindAuth, 1},
		{"not found", func(*testutil.MockServer) {}, tracker.KindNotFound, 1},
		{"server error retried", func(s *testutil.MockServer) { s.SetServerError(true) }, tracker.KindTransient, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, srv := testRemote(t, "")
			tt.setup(srv)
			_, err := r.Fetch(context.Background(), ref)
			if got := tracker.KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %s, want %s (err %v)", got, tt.wantKind, err)
			}
			if n := srv.RequestCount(); n != tt.wantCalls {
				t.Errorf("requests = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

func TestRateLimitIsRetried(t *testing.T) {
	r, srv := testRemote(t, "")
	srv.SetResponse(http.MethodGet, issuePath, http.StatusOK, sampleIssue())
	srv.SetRateLimited(2, 0)
	if _, err := r.Fetch(context.Background(), ref); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n := srv.RequestCount(); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}
}

func TestExtractKey(t *testing.T) {
	for in, want := range map[string]string{
		"PROJ-7": "PROJ-7",
		"proj-7": "PROJ-7",
		"https://acme.atlassian.net/browse/PROJ-123": "PROJ-123",
	} {
		got, err := ExtractKey(in)
		if err != nil || got != want {
			t.Errorf("ExtractKey(%q) = %q, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "42", "https://acme.atlassian.net/browse/"} {
		if _, err := ExtractKey(bad); err == nil {
			t.Errorf("ExtractKey(%q) should fail", bad)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2024-01-15T10:30:00.000+0000")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("got %v", got)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error")
	}
}

type cfgSource map[string]string

func (c cfgSource) GetString(key string) string { return c[key] }
func (c cfgSource) GetStringMapString(key string) map[string]string {
	if key == "jira.status_map" {
		return map[string]string{"QA": "in_progress"}
	}
	return nil
}

func TestNewFromConfig(t *testing.T) {
	t.Setenv("JIRA_API_TOKEN", "")
	t.Setenv("JIRA_URL", "")
	if _, err := New(tracker.NewRemoteConfig(Name, cfgSource{"jira.url": "https://acme.atlassian.net"})); err == nil {
		t.Error("missing token should fail")
	}

	t.Setenv("JIRA_API_TOKEN", "from-env")
	r, err := New(tracker.NewRemoteConfig(Name, cfgSource{"jira.url": "https://acme.atlassian.net/", "jira.progress_field": progressField}))
	if err != nil {
		t.Fatal(err)
	}
	if r.Client().APIToken != "from-env" || r.Client().URL != "https://acme.atlassian.net" {
		t.Errorf("client = %+v", r.Client())
	}
	if got, _ := r.Mapper().ToLocal(types.FieldStatus, "QA"); got != "in_progress" {
		t.Errorf("status_map override not loaded: %v", got)
	}
	if !r.Mapper().Supports(types.FieldProgress) {
		t.Error("progress should be supported when a field is configured")
	}
}
