package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/bdsync/internal/merge"
	"github.com/steveyegge/bdsync/internal/types"
)

// PromptAction is the user's answer to a conflict prompt.
type PromptAction int

const (
	// ActionAccept applies Decision.Value.
	ActionAccept PromptAction = iota
	// ActionSkip defers the field to a later run.
	ActionSkip
	// ActionAbort cancels the run before anything is written.
	ActionAbort
)

// Choice is a candidate value offered by the interactive strategy.
type Choice struct {
	Label  string      `json:"label"`
	Source string      `json:"source"`
	Value  interface{} `json:"value"`
}

// PromptRequest asks for a decision on one conflict.
type PromptRequest struct {
	IssueID  string
	Strategy Strategy
	Conflict Conflict
	// Choices is empty for the manual strategy, which expects the caller
	// to supply a value of its own.
	Choices []Choice
}

// Decision is a Prompter's answer.
type Decision struct {
	Action PromptAction
	Value  interface{}
}

// Prompter answers manual and interactive conflicts. Prompt blocks until a
// decision is made.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (Decision, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req PromptRequest) (Decision, error)

func (f PrompterFunc) Prompt(ctx context.Context, req PromptRequest) (Decision, error) {
	return f(ctx, req)
}

// Resolution is the outcome of resolving one conflict.
type Resolution struct {
	Value     interface{}
	Rationale string
	Source    string
	Skip      bool
	Reason    string
}

// strategyFunc is the pure resolution function of a non-prompting strategy.
type strategyFunc func(c Conflict) Resolution

var strategyFuncs = map[Strategy]strategyFunc{
	StrategyLocalWins:  resolveLocalWins,
	StrategyRemoteWins: resolveRemoteWins,
	StrategyMerge:      resolveMerge,
}

// Resolver applies one strategy to every conflict of a run.
type Resolver struct {
	strategy Strategy
	prompter Prompter
	issueID  string
}

// NewResolver validates the strategy and returns a resolver for one run.
func NewResolver(strategy Strategy, prompter Prompter, issueID string) (*Resolver, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if strategy.Prompts() && prompter == nil {
		return nil, fmt.Errorf("strategy %s needs an interactive prompt", strategy)
	}
	return &Resolver{strategy: strategy, prompter: prompter, issueID: issueID}, nil
}

// Strategy returns the run's strategy.
func (r *Resolver) Strategy() Strategy { return r.strategy }

// Resolve decides a single conflict. It returns ErrCancelled when the user
// aborts from a prompt.
func (r *Resolver) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	if fn, ok := strategyFuncs[r.strategy]; ok {
		return fn(c), nil
	}

	req := PromptRequest{IssueID: r.issueID, Strategy: r.strategy, Conflict: c}
	if r.strategy == StrategyInteractive {
		req.Choices = Candidates(c)
	}
	dec, err := r.prompter.Prompt(ctx, req)
	if err != nil {
		return Resolution{}, fmt.Errorf("prompting for %s: %w", c.Field, err)
	}
	switch dec.Action {
	case ActionAbort:
		return Resolution{}, ErrCancelled
	case ActionSkip:
		return Resolution{Skip: true, Reason: "deferred by user"}, nil
	}
	if dec.Value == nil {
		return Resolution{}, fmt.Errorf("prompt for %s accepted without a value", c.Field)
	}
	v, err := ParseUserValue(c.Field, dec.Value)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid value for %s: %w", c.Field, err)
	}
	return Resolution{Value: v, Rationale: fmt.Sprintf("chosen by user (%s)", r.strategy), Source: sourceOf(c, v)}, nil
}

// ParseUserValue canonicalizes a value supplied by a person. Status goes
// through the local status table ("done" becomes "completed") and must end
// up in the local vocabulary; priority must be 0-4.
func ParseUserValue(field string, value interface{}) (interface{}, error) {
	switch field {
	case types.FieldStatus:
		v, err := DefaultMappingTable().ToLocal(field, value)
		if err != nil {
			return nil, err
		}
		if s := types.Status(fmt.Sprint(v)); !s.IsValid() {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		return v, nil
	case types.FieldPriority:
		v, err := types.Canonical(field, value)
		if err != nil {
			return nil, err
		}
		if p := v.(int); p < 0 || p > 4 {
			return nil, fmt.Errorf("priority must be 0-4, got %d", p)
		}
		return v, nil
	}
	return types.Canonical(field, value)
}

// Candidates returns the values the interactive strategy offers: local,
// each conflicting remote, and the merged value when it differs from all
// of those.
func Candidates(c Conflict) []Choice {
	choices := []Choice{{Label: "keep local", Source: TargetLocal, Value: c.Local}}
	choices = append(choices, Choice{Label: "take " + c.Remote, Source: c.Remote, Value: c.RemoteValue})
	for _, o := range c.Others {
		choices = append(choices, Choice{Label: "take " + o.Remote, Source: o.Remote, Value: o.RemoteValue})
	}
	merged := resolveMerge(c)
	for _, ch := range choices {
		if Equal(c.Field, ch.Value, merged.Value) {
			return choices
		}
	}
	return append(choices, Choice{Label: "merged", Source: "merge", Value: merged.Value})
}

func resolveLocalWins(c Conflict) Resolution {
	return Resolution{Value: c.Local, Rationale: "local override", Source: TargetLocal}
}

func resolveRemoteWins(c Conflict) Resolution {
	res := Resolution{Value: c.RemoteValue, Rationale: "remote override", Source: c.Remote}
	if losers := disagreeing(c); len(losers) > 0 {
		res.Rationale += fmt.Sprintf(" (%s takes precedence over %s)", c.Remote, strings.Join(losers, ", "))
	}
	return res
}

func resolveMerge(c Conflict) Resolution {
	switch types.KindOf(c.Field) {
	case types.KindText:
		v := merge.Text(str(c.Base), str(c.Local), str(c.RemoteValue), c.Remote)
		sources := []string{TargetLocal, c.Remote}
		for _, o := range c.Others {
			v = merge.Text(str(c.Base), v, str(o.RemoteValue), o.Remote)
			sources = append(sources, o.Remote)
		}
		return Resolution{Value: v, Rationale: "merged text (" + strings.Join(sources, " + ") + ")", Source: "merge"}
	case types.KindSet:
		sets := [][]string{set(c.Local), set(c.RemoteValue)}
		for _, o := range c.Others {
			sets = append(sets, set(o.RemoteValue))
		}
		return Resolution{Value: merge.Labels(sets...), Rationale: "label union", Source: "merge"}
	case types.KindNumber:
		vals := []int{num(c.Local), num(c.RemoteValue)}
		for _, o := range c.Others {
			vals = append(vals, num(o.RemoteValue))
		}
		v := merge.Max(num(c.Base), vals...)
		return Resolution{Value: v, Rationale: "maximum progress", Source: "merge"}
	default:
		res := resolveRemoteWins(c)
		res.Rationale = fmt.Sprintf("merge fallback to remote_wins for %s field", types.KindOf(c.Field))
		return res
	}
}

// disagreeing lists other remotes whose value differs from the primary remote.
func disagreeing(c Conflict) []string {
	var names []string
	for _, o := range c.Others {
		if !Equal(c.Field, o.RemoteValue, c.RemoteValue) {
			names = append(names, o.Remote)
		}
	}
	return names
}

func sourceOf(c Conflict, v interface{}) string {
	if Equal(c.Field, v, c.Local) {
		return TargetLocal
	}
	if Equal(c.Field, v, c.RemoteValue) {
		return c.Remote
	}
	for _, o := range c.Others {
		if Equal(c.Field, v, o.RemoteValue) {
			return o.Remote
		}
	}
	return "user"
}

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func set(v interface{}) []string {
	if s, err := types.Canonical(types.FieldLabels, v); err == nil {
		return s.([]string)
	}
	return nil
}

func num(v interface{}) int {
	if n, err := types.Canonical(types.FieldProgress, v); err == nil {
		return n.(int)
	}
	return 0
}
