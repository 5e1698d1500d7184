package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/steveyegge/bdsync/internal/audit"
	"github.com/steveyegge/bdsync/internal/backup"
	"github.com/steveyegge/bdsync/internal/tracker"
	"github.com/steveyegge/bdsync/internal/types"
)

// MaxValueChars caps how much of a text value is shown inline.
const MaxValueChars = 60

// FormatValue renders a field value on one line.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "(none)"
	case string:
		if x == "" {
			return `""`
		}
		return fmt.Sprintf("%q", truncate(strings.ReplaceAll(x, "\n", " "), MaxValueChars))
	case []string:
		return "[" + strings.Join(x, ", ") + "]"
	case types.Identity:
		if x.IsZero() {
			return "(unassigned)"
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderResult formats one sync run. verbose adds the state transitions.
func RenderResult(res *tracker.SyncResult, verbose bool) string {
	var b strings.Builder

	meta := []string{string(res.Strategy)}
	if res.Force {
		meta = append(meta, "force")
	}
	if res.RunID != "" {
		meta = append(meta, "run "+shortID(res.RunID))
	}
	if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
		meta = append(meta, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String())
	}
	fmt.Fprintf(&b, "%s %s %s %s", StatusIcon(res.Status), RenderHeader(res.IssueID),
		StatusStyle(res.Status).Render(string(res.Status)), RenderMuted("("+strings.Join(meta, ", ")+")"))
	if res.DryRun {
		b.WriteString(" " + RenderAccent("[dry run]"))
	}
	if res.Cancelled {
		b.WriteString(" " + RenderWarn("[cancelled]"))
	}
	b.WriteString("\n")

	if len(res.Applied) == 0 && len(res.Skipped) == 0 && len(res.Errors) == 0 && res.Err == nil {
		b.WriteString("  " + RenderMuted("already in sync") + "\n")
	}

	verb := "applied"
	if res.DryRun {
		verb = "would apply"
	}
	for _, a := range res.Applied {
		fmt.Fprintf(&b, "  %s%s: %s %s %s  %s\n", TreeChild, a.Field,
			FormatValue(a.Before), Arrow, FormatValue(a.Value),
			RenderMuted(fmt.Sprintf("[%s %s from %s to %s] %s", verb, a.Kind, a.Source, strings.Join(a.Targets, ","), a.Rationale)))
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(&b, "  %s %s skipped: %s\n", RenderWarn(IconSkip), s.Field, s.Reason)
	}
	for _, e := range res.Errors {
		where := e.Remote
		if where == "" {
			where = e.Phase
		}
		fmt.Fprintf(&b, "  %s %s %s (%s): %s\n", RenderFail(IconFail), where, e.Phase, e.Kind, e.Message)
		if len(e.Fields) > 0 {
			fmt.Fprintf(&b, "    %s%s\n", TreeLast, RenderMuted("fields: "+strings.Join(e.Fields, ", ")))
		}
		if e.Hint != "" {
			fmt.Fprintf(&b, "    %s%s\n", TreeLast, RenderMuted(e.Hint))
		}
	}
	if res.Err != nil && len(res.Errors) == 0 {
		fmt.Fprintf(&b, "  %s %s\n", RenderFail(IconFail), res.Err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "  %s %s\n", RenderWarn(IconWarn), w)
	}
	if verbose && len(res.Transitions) > 0 {
		states := []string{string(res.Transitions[0].From)}
		for _, t := range res.Transitions {
			states = append(states, string(t.To))
		}
		fmt.Fprintf(&b, "  %s\n", RenderMuted(strings.Join(states, " "+Arrow+" ")))
	}
	return b.String()
}

// RenderSummary formats the results of a multi-issue run, one block per
// issue in id order followed by a totals line.
func RenderSummary(results map[string]*tracker.SyncResult, verbose bool) string {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	counts := map[tracker.Status]int{}
	for _, id := range ids {
		res := results[id]
		counts[res.Status]++
		b.WriteString(RenderResult(res, verbose))
	}
	overall := tracker.Overall(results)
	fmt.Fprintf(&b, "\n%s %d issues: %s, %s, %s\n", StatusIcon(overall), len(ids),
		RenderPass(fmt.Sprintf("%d success", counts[tracker.StatusSuccess])),
		RenderWarn(fmt.Sprintf("%d partial", counts[tracker.StatusPartial])),
		RenderFail(fmt.Sprintf("%d failed", counts[tracker.StatusFailed])))
	return b.String()
}

// RenderLog formats sync-log entries, oldest first.
func RenderLog(entries []*audit.Entry) string {
	if len(entries) == 0 {
		return RenderMuted("no sync log entries") + "\n"
	}
	var b strings.Builder
	for _, e := range entries {
		status := tracker.Status(e.Status)
		line := fmt.Sprintf("%s %s %s %s %s", StatusIcon(status),
			RenderMuted(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
			RenderHeader(e.IssueID), StatusStyle(status).Render(e.Status),
			RenderMuted(fmt.Sprintf("(%s, run %s, %dms)", e.Strategy, shortID(e.RunID), e.DurationMS)))
		if e.DryRun {
			line += " " + RenderAccent("[dry run]")
		}
		b.WriteString(line + "\n")
		for _, c := range e.Changes {
			fmt.Fprintf(&b, "  %s%s: %s %s %s\n", TreeChild, c.Field, FormatValue(c.Before), Arrow, FormatValue(c.After))
		}
		for _, s := range e.Skipped {
			fmt.Fprintf(&b, "  %s skipped %s\n", RenderWarn(IconSkip), s)
		}
		for _, msg := range e.Errors {
			fmt.Fprintf(&b, "  %s %s\n", RenderFail(IconFail), msg)
		}
	}
	return b.String()
}

// RenderBackups formats an issue's backups, newest first.
func RenderBackups(issueID string, backups []*backup.Backup) string {
	if len(backups) == 0 {
		return RenderMuted("no backups for "+issueID) + "\n"
	}
	var b strings.Builder
	b.WriteString(RenderHeader(issueID) + "\n")
	for _, bk := range backups {
		state := RenderWarn("uncommitted")
		if bk.CommittedAt != nil {
			state = RenderPass("committed " + bk.CommittedAt.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(&b, "  %s%s  %s  %d fields  %s\n", TreeChild, bk.RunID,
			RenderMuted(bk.TakenAt.Local().Format("2006-01-02 15:04:05")), bk.Local.Len(), state)
	}
	return b.String()
}
