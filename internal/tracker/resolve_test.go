package tracker

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/steveyegge/bdsync/internal/types"
)

func conflict(field string, base, local, remote interface{}) Conflict {
	return Conflict{FieldDiff: FieldDiff{
		Field: field, Remote: "jira", Kind: DiffConflict,
		Base: base, Local: local, RemoteValue: remote,
	}}
}

func mustResolver(t *testing.T, s Strategy, p Prompter) *Resolver {
	t.Helper()
	r, err := NewResolver(s, p, "bd-1")
	if err != nil {
		t.Fatalf("NewResolver(%s): %v", s, err)
	}
	return r
}

func TestResolveLocalAndRemoteWins(t *testing.T) {
	c := conflict(types.FieldTitle, "a", "local", "remote")

	res, err := mustResolver(t, StrategyLocalWins, nil).Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "local" || res.Source != TargetLocal || res.Rationale != "local override" {
		t.Errorf("local_wins = %+v", res)
	}

	res, err = mustResolver(t, StrategyRemoteWins, nil).Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "remote" || res.Source != "jira" || res.Rationale != "remote override" {
		t.Errorf("remote_wins = %+v", res)
	}
}

func TestResolveMergeText(t *testing.T) {
	c := conflict(types.FieldDescription, "", "Local notes", "Remote notes")
	res, err := mustResolver(t, StrategyMerge, nil).Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	got := res.Value.(string)
	if !strings.Contains(got, "Local notes") || !strings.Contains(got, "Remote notes") {
		t.Errorf("merged text lost a side: %q", got)
	}
	if !strings.Contains(got, "--- remote (jira) ---") {
		t.Errorf("merged text has no authorship marker: %q", got)
	}
	if strings.Index(got, "Local notes") > strings.Index(got, "Remote notes") {
		t.Errorf("local text should come first: %q", got)
	}
}

func TestResolveMergeLabels(t *testing.T) {
	c := conflict(types.FieldLabels, []string{"b"}, []string{"a", "b"}, []string{"b", "c"})
	res, err := mustResolver(t, StrategyMerge, nil).Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(res.Value, want) {
		t.Errorf("labels = %v, want %v", res.Value, want)
	}
	if res.Rationale != "label union" {
		t.Errorf("rationale = %q", res.Rationale)
	}
}

func TestResolveMergeProgressTakesMax(t *testing.T) {
	c := conflict(types.FieldProgress, 10, 40, 70)
	c.Others = []FieldDiff{{Field: types.FieldProgress, Remote: "github", Base: 10, Local: 40, RemoteValue: 55}}
	res, err := mustResolver(t, StrategyMerge, nil).Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != 70 {
		t.Errorf("progress = %v, want 70", res.Value)
	}
}

func TestResolveMergeEnumFallsBackToRemote(t *testing.T) {
	c := conflict(types.FieldStatus, "open", "blocked", "completed")
	res, err := mustResolver(t, StrategyMerge, nil).Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "completed" || res.Source != "jira" {
		t.Errorf("merge on enum = %+v", res)
	}
	if !strings.Contains(res.Rationale, "remote_wins") {
		t.Errorf("rationale should name the fallback: %q", res.Rationale)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	c := conflict(types.FieldDescription, "base", "mine", "theirs")
	c.Others = []FieldDiff{{Field: types.FieldDescription, Remote: "github", Base: "base", Local: "mine", RemoteValue: "other"}}
	for _, s := range []Strategy{StrategyLocalWins, StrategyRemoteWins, StrategyMerge} {
		r := mustResolver(t, s, nil)
		first, err := r.Resolve(context.Background(), c)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 5; i++ {
			again, _ := r.Resolve(context.Background(), c)
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("%s: run %d gave %+v, first gave %+v", s, i, again, first)
			}
		}
	}
}

func TestRemoteWinsNamesOverriddenRemotes(t *testing.T) {
	c := conflict(types.FieldTitle, "a", "b", "c")
	c.Others = []FieldDiff{{Field: types.FieldTitle, Remote: "github", Base: "a", Local: "b", RemoteValue: "d"}}
	res, _ := mustResolver(t, StrategyRemoteWins, nil).Resolve(context.Background(), c)
	if !strings.Contains(res.Rationale, "jira takes precedence over github") {
		t.Errorf("rationale = %q", res.Rationale)
	}
}

func TestNewResolverValidates(t *testing.T) {
	if _, err := NewResolver("newest_wins", nil, "bd-1"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if _, err := NewResolver(StrategyManual, nil, "bd-1"); err == nil {
		t.Error("manual without a prompter should be rejected")
	}
	if _, err := NewResolver(StrategyInteractive, nil, "bd-1"); err == nil {
		t.Error("interactive without a prompter should be rejected")
	}
}

func TestResolvePrompts(t *testing.T) {
	c := conflict(types.FieldLabels, []string{"b"}, []string{"a", "b"}, []string{"b", "c"})

	t.Run("manual accept", func(t *testing.T) {
		var got PromptRequest
		p := PrompterFunc(func(_ context.Context, req PromptRequest) (Decision, error) {
			got = req
			return Decision{Action: ActionAccept, Value: "x, y"}, nil
		})
		res, err := mustResolver(t, StrategyManual, p).Resolve(context.Background(), c)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Choices) != 0 {
			t.Errorf("manual prompts should offer no choices, got %v", got.Choices)
		}
		if !reflect.DeepEqual(res.Value, []string{"x", "y"}) || res.Source != "user" {
			t.Errorf("manual = %+v", res)
		}
	})

	t.Run("interactive choice", func(t *testing.T) {
		p := PrompterFunc(func(_ context.Context, req PromptRequest) (Decision, error) {
			return Decision{Action: ActionAccept, Value: req.Choices[1].Value}, nil
		})
		res, err := mustResolver(t, StrategyInteractive, p).Resolve(context.Background(), c)
		if err != nil {
			t.Fatal(err)
		}
		if res.Source != "jira" {
			t.Errorf("source = %q, want jira", res.Source)
		}
	})

	t.Run("skip", func(t *testing.T) {
		p := PrompterFunc(func(context.Context, PromptRequest) (Decision, error) {
			return Decision{Action: ActionSkip}, nil
		})
		res, err := mustResolver(t, StrategyManual, p).Resolve(context.Background(), c)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Skip {
			t.Errorf("expected skip, got %+v", res)
		}
	})

	t.Run("abort", func(t *testing.T) {
		p := PrompterFunc(func(context.Context, PromptRequest) (Decision, error) {
			return Decision{Action: ActionAbort}, nil
		})
		_, err := mustResolver(t, StrategyInteractive, p).Resolve(context.Background(), c)
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("err = %v, want ErrCancelled", err)
		}
	})

	t.Run("accept without value", func(t *testing.T) {
		p := PrompterFunc(func(context.Context, PromptRequest) (Decision, error) {
			return Decision{Action: ActionAccept}, nil
		})
		if _, err := mustResolver(t, StrategyManual, p).Resolve(context.Background(), c); err == nil {
			t.Error("expected error")
		}
	})
}

func TestManualStatusIsNormalized(t *testing.T) {
	c := conflict(types.FieldStatus, "open", "blocked", "in_progress")
	answer := func(v string) Prompter {
		return PrompterFunc(func(context.Context, PromptRequest) (Decision, error) {
			return Decision{Action: ActionAccept, Value: v}, nil
		})
	}

	res, err := mustResolver(t, StrategyManual, answer("Done")).Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "completed" {
		t.Errorf("value = %v, want completed", res.Value)
	}
	if !Equal(types.FieldStatus, res.Value, "completed") {
		t.Error("normalized status should compare equal to the local vocabulary")
	}

	if _, err := mustResolver(t, StrategyManual, answer("banana")).Resolve(context.Background(), c); err == nil {
		t.Error("expected unknown status to be rejected")
	}
}

func TestParseUserValue(t *testing.T) {
	tests := []struct {
		field   string
		value   interface{}
		want    interface{}
		wantErr bool
	}{
		{types.FieldStatus, "in-progress", "in_progress", false},
		{types.FieldStatus, "closed", "completed", false},
		{types.FieldStatus, "wontfix", nil, true},
		{types.FieldPriority, "1", 1, false},
		{types.FieldPriority, "9", nil, true},
		{types.FieldLabels, "a, b", []string{"a", "b"}, false},
	}
	for _, tt := range tests {
		got, err := ParseUserValue(tt.field, tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseUserValue(%s, %v) error = %v", tt.field, tt.value, err)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseUserValue(%s, %v) = %#v, want %#v", tt.field, tt.value, got, tt.want)
		}
	}
}

func TestCandidates(t *testing.T) {
	c := conflict(types.FieldLabels, []string{"b"}, []string{"a", "b"}, []string{"b", "c"})
	choices := Candidates(c)
	if len(choices) != 3 {
		t.Fatalf("want local, remote and merged choices, got %+v", choices)
	}
	if choices[0].Source != TargetLocal || choices[1].Source != "jira" || choices[2].Source != "merge" {
		t.Errorf("unexpected order: %+v", choices)
	}

	// The merge of an enum is the remote value, so no extra choice.
	c = conflict(types.FieldStatus, "open", "blocked", "completed")
	if n := len(Candidates(c)); n != 2 {
		t.Errorf("enum conflict offered %d choices, want 2", n)
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{
		"local_wins":  StrategyLocalWins,
		"Remote-Wins": StrategyRemoteWins,
		" merge ":     StrategyMerge,
		"interactive": StrategyInteractive,
	} {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStrategy("newest"); err == nil {
		t.Error("expected error")
	}
}
