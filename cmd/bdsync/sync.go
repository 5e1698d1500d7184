package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/bdsync/internal/tracker"
	"github.com/steveyegge/bdsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [issue-id...]",
	GroupID: "sync",
	Short:   "Synchronize issues with the configured remotes",
	Long: `Synchronize local issue records with GitHub and Jira.

Each run fetches the linked remote issues, compares every field against the
state recorded at the last successful sync, and propagates one-sided changes.
Fields changed on more than one side are conflicts, resolved by --strategy:

  local_wins    keep the local value
  remote_wins   take the remote value (remote precedence breaks ties)
  merge         combine per field: text is concatenated, labels are unioned,
                progress takes the maximum; other fields fall back to remote_wins
  manual        prompt for a value for each conflict
  interactive   prompt with the candidate values for each conflict

--force resolves every conflict local_wins and keeps writes that succeeded
when another remote fails.

Exit codes:
  0  success
  1  usage or configuration error
  2  cancelled by the user
  3  partial: some fields or remotes need attention
  5  failed: local state was restored; remote writes, if any, were not undone

Examples:
  bdsync sync PROJ-1
  bdsync sync PROJ-1 PROJ-2 --strategy local_wins
  bdsync sync --all --dry-run
  bdsync sync PROJ-1 --strategy interactive`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("strategy", "", "Conflict strategy: local_wins, remote_wins, merge, manual, interactive (default from sync.strategy)")
	syncCmd.Flags().Bool("force", false, "Resolve every conflict with the local value and keep partial writes")
	syncCmd.Flags().Bool("dry-run", false, "Show what would change without writing anything")
	syncCmd.Flags().Bool("all", false, "Sync every issue in the record store")
	rootCmd.AddCommand(syncCmd)
}

// stdinIsTerminal reports whether prompts can be shown.
var stdinIsTerminal = func() bool { return ui.IsTerminal(os.Stdin) }

func runSync(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	force, _ := cmd.Flags().GetBool("force")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	strategyFlag, _ := cmd.Flags().GetString("strategy")

	if all == (len(args) > 0) {
		return usageError("give issue ids or --all, not both or neither")
	}
	opts := tracker.Options{Force: force, DryRun: dryRun}
	if strategyFlag != "" {
		s, err := tracker.ParseStrategy(strategyFlag)
		if err != nil {
			return usageError("%v", err)
		}
		opts.Strategy = s
	}

	d, err := newEngine()
	if err != nil {
		return err
	}
	defer d.close()

	strategy := opts.Strategy
	if strategy == "" {
		strategy = d.engine.Config.Strategy
	}
	if strategy.Prompts() && !force {
		if !stdinIsTerminal() {
			return usageError("strategy %s prompts for each conflict and needs a terminal", strategy)
		}
		opts.Prompter = huhPrompter{}
	}

	ids := args
	if all {
		if ids, err = d.store.List(rootCtx); err != nil {
			return failure(fmt.Errorf("listing issues: %w", err))
		}
		if len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "No issues in the record store")
			return nil
		}
	}

	var results map[string]*tracker.SyncResult
	if len(ids) == 1 {
		res := d.engine.Sync(rootCtx, ids[0], opts)
		results = map[string]*tracker.SyncResult{ids[0]: res}
	} else {
		results = d.engine.SyncAll(rootCtx, ids, opts)
	}

	if err := reportResults(os.Stdout, results, len(ids) == 1 && !all); err != nil {
		return failure(err)
	}
	if code := exitCodeFor(results); code != ExitSuccess {
		return &exitError{code: code}
	}
	return nil
}

// jsonResult adds the run error message, which SyncResult keeps out of
// its own encoding.
type jsonResult struct {
	*tracker.SyncResult
	Error string `json:"error,omitempty"`
}

func toJSON(res *tracker.SyncResult) jsonResult {
	return jsonResult{SyncResult: res, Error: res.Error()}
}

// reportResults prints one result or a summary. single prints the bare
// result object in JSON mode instead of a map keyed by issue id.
func reportResults(w io.Writer, results map[string]*tracker.SyncResult, single bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if single {
			for _, res := range results {
				return enc.Encode(toJSON(res))
			}
		}
		out := make(map[string]jsonResult, len(results))
		for id, res := range results {
			out[id] = toJSON(res)
		}
		return enc.Encode(out)
	}
	if quietFlag && tracker.Overall(results) == tracker.StatusSuccess {
		return nil
	}
	if single {
		for _, res := range results {
			_, err := io.WriteString(w, ui.RenderResult(res, verboseFlag))
			return err
		}
	}
	_, err := io.WriteString(w, ui.RenderSummary(results, verboseFlag))
	return err
}
