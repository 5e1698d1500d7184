package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/bdsync/internal/audit"
	"github.com/steveyegge/bdsync/internal/timeparsing"
	"github.com/steveyegge/bdsync/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "history",
	Short:   "Show the sync log",
	Long: `Show sync-log entries, oldest first. Every sync run appends one entry
with the before/after value of each changed field.

Time bounds accept compact durations (-6h, -1d, -2w), dates (2025-01-31),
RFC3339 timestamps, or natural language ("yesterday", "last monday").

Examples:
  bdsync log --issue PROJ-1
  bdsync log --since -1d
  bdsync log --since "last monday" --until yesterday --json`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func init() {
	logCmd.Flags().String("issue", "", "Only entries for this issue id")
	logCmd.Flags().String("since", "", "Only entries at or after this time")
	logCmd.Flags().String("until", "", "Only entries at or before this time")
	logCmd.Flags().Int("limit", 0, "Show at most this many of the most recent entries")
	rootCmd.AddCommand(logCmd)
}

// logFilter builds the query filter from flag values.
func logFilter(issue, since, until string, limit int, now time.Time) (audit.Filter, error) {
	f := audit.Filter{IssueID: issue, Limit: limit}
	var err error
	if since != "" {
		if f.Since, err = timeparsing.ParseRelativeTime(since, now); err != nil {
			return f, fmt.Errorf("--since: %w", err)
		}
	}
	if until != "" {
		if f.Until, err = timeparsing.ParseRelativeTime(until, now); err != nil {
			return f, fmt.Errorf("--until: %w", err)
		}
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return f, fmt.Errorf("--until is before --since")
	}
	if limit < 0 {
		return f, fmt.Errorf("--limit must not be negative")
	}
	return f, nil
}

func runLog(cmd *cobra.Command, args []string) error {
	issue, _ := cmd.Flags().GetString("issue")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	limit, _ := cmd.Flags().GetInt("limit")

	f, err := logFilter(issue, since, until, limit, time.Now())
	if err != nil {
		return usageError("%v", err)
	}

	sink, err := openSyncLog()
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	entries, err := sink.Query(rootCtx, f)
	if err != nil {
		return failure(fmt.Errorf("reading sync log: %w", err))
	}

	if jsonOutput {
		if entries == nil {
			entries = []*audit.Entry{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	fmt.Print(ui.RenderLog(entries))
	return nil
}
