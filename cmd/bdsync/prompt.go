package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/steveyegge/bdsync/internal/tracker"
	"github.com/steveyegge/bdsync/internal/types"
	"github.com/steveyegge/bdsync/internal/ui"
)

// Pseudo-choices appended after the candidate values.
const (
	choiceManual = -1
	choiceSkip   = -2
	choiceAbort  = -3
)

// huhPrompter asks conflict questions on the terminal. Forms render on
// stderr so --json output on stdout stays clean.
type huhPrompter struct{}

var _ tracker.Prompter = huhPrompter{}

func (huhPrompter) Prompt(ctx context.Context, req tracker.PromptRequest) (tracker.Decision, error) {
	choice := choiceManual
	if len(req.Choices) > 0 {
		choice = 0
	}
	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().
			Title(promptTitle(req)).
			Description(describeConflict(req.Conflict)).
			Options(promptOptions(req)...).
			Value(&choice),
	)).WithOutput(os.Stderr).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return tracker.Decision{Action: tracker.ActionAbort}, nil
	}
	if err != nil {
		return tracker.Decision{}, err
	}
	if choice != choiceManual {
		return decisionFor(req, choice), nil
	}

	value := editableValue(req.Conflict.Local)
	err = huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(fmt.Sprintf("New value for %s", req.Conflict.Field)).
			Description(inputHint(req.Conflict.Field)).
			Value(&value).
			Validate(func(s string) error {
				_, err := tracker.ParseUserValue(req.Conflict.Field, s)
				return err
			}),
	)).WithOutput(os.Stderr).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return tracker.Decision{Action: tracker.ActionAbort}, nil
	}
	if err != nil {
		return tracker.Decision{}, err
	}
	return tracker.Decision{Action: tracker.ActionAccept, Value: value}, nil
}

func promptTitle(req tracker.PromptRequest) string {
	return fmt.Sprintf("%s: %s changed locally and on %s", req.IssueID, req.Conflict.Field, conflictRemotes(req.Conflict))
}

func conflictRemotes(c tracker.Conflict) string {
	names := []string{c.Remote}
	for _, o := range c.Others {
		names = append(names, o.Remote)
	}
	return strings.Join(names, ", ")
}

// describeConflict lists base, local and every remote value.
func describeConflict(c tracker.Conflict) string {
	lines := []string{
		"base:   " + ui.FormatValue(c.Base),
		"local:  " + ui.FormatValue(c.Local),
		fmt.Sprintf("%s: %s", c.Remote, ui.FormatValue(c.RemoteValue)),
	}
	for _, o := range c.Others {
		lines = append(lines, fmt.Sprintf("%s: %s", o.Remote, ui.FormatValue(o.RemoteValue)))
	}
	return strings.Join(lines, "\n")
}

// promptOptions offers the candidates (interactive) and always the manual
// entry, skip and abort actions.
func promptOptions(req tracker.PromptRequest) []huh.Option[int] {
	opts := make([]huh.Option[int], 0, len(req.Choices)+3)
	for i, ch := range req.Choices {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s: %s", ch.Label, ui.FormatValue(ch.Value)), i))
	}
	opts = append(opts,
		huh.NewOption("enter a value", choiceManual),
		huh.NewOption("skip this field for now", choiceSkip),
		huh.NewOption("abort the sync", choiceAbort),
	)
	return opts
}

// decisionFor converts a selected option into a decision.
func decisionFor(req tracker.PromptRequest, choice int) tracker.Decision {
	switch {
	case choice == choiceSkip:
		return tracker.Decision{Action: tracker.ActionSkip}
	case choice == choiceAbort:
		return tracker.Decision{Action: tracker.ActionAbort}
	case choice >= 0 && choice < len(req.Choices):
		return tracker.Decision{Action: tracker.ActionAccept, Value: req.Choices[choice].Value}
	}
	return tracker.Decision{Action: tracker.ActionAbort}
}

// editableValue renders a value the way the input prompt parses it back.
func editableValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(x, ", ")
	case types.Identity:
		if x.AccountID != "" {
			return x.AccountID
		}
		return x.Name
	default:
		return fmt.Sprint(x)
	}
}

func inputHint(field string) string {
	switch field {
	case types.FieldStatus:
		return "open, in_progress, blocked, completed or cancelled"
	case types.FieldPriority:
		return "0 (critical) to 4 (lowest)"
	}
	switch types.KindOf(field) {
	case types.KindSet:
		return "comma-separated"
	case types.KindNumber:
		return "a whole number"
	case types.KindIdentity:
		return "account id or login; empty to unassign"
	default:
		return ""
	}
}
