package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/bdsync/internal/audit"
	"github.com/steveyegge/bdsync/internal/backup"
	"github.com/steveyegge/bdsync/internal/storage"
	"github.com/steveyegge/bdsync/internal/types"
	"github.com/steveyegge/bdsync/internal/ui"
)

var backupsCmd = &cobra.Command{
	Use:     "backups",
	GroupID: "history",
	Short:   "List and restore pre-sync backups",
	Long: `Every sync run backs up the local record before writing. A failed run
restores it automatically; these commands let you inspect backups and roll a
record back to the state before any earlier run.`,
}

var backupsListCmd = &cobra.Command{
	Use:   "list <issue-id>",
	Short: "List backups of an issue, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openBackups()
		if err != nil {
			return err
		}
		list, err := m.List(args[0])
		if err != nil {
			return failure(err)
		}
		if jsonOutput {
			if list == nil {
				list = []*backup.Backup{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		fmt.Print(ui.RenderBackups(args[0], list))
		return nil
	},
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <issue-id> <run-id>",
	Short: "Restore the local record to its state before a sync run",
	Long: `Restore the local field values of an issue from the backup taken at the
start of the given run. Remotes are not touched; run sync afterwards to push
the restored values.`,
	Args: cobra.ExactArgs(2),
	RunE: runBackupsRestore,
}

func init() {
	backupsCmd.AddCommand(backupsListCmd, backupsRestoreCmd)
	rootCmd.AddCommand(backupsCmd)
}

func runBackupsRestore(cmd *cobra.Command, args []string) error {
	issueID, runID := args[0], args[1]

	m, err := openBackups()
	if err != nil {
		return err
	}
	snap, err := m.Restore(rootCtx, issueID, runID)
	if errors.Is(err, backup.ErrNotFound) {
		return usageError("no backup for %s run %s (see: bdsync backups list %s)", issueID, runID, issueID)
	}
	if err != nil {
		return failure(err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	if l, ok := store.(storage.IssueLocker); ok {
		unlock, err := l.LockIssue(rootCtx, issueID)
		if err != nil {
			return failure(fmt.Errorf("locking %s: %w", issueID, err))
		}
		defer func() { _ = unlock() }()
	}
	if err := store.SaveLocal(rootCtx, issueID, snap.Retag(types.OriginLocal, snap.TakenAt())); err != nil {
		return failure(fmt.Errorf("restoring %s: %w", issueID, err))
	}

	if sink, err := openSyncLog(); err == nil {
		_, _ = sink.Append(rootCtx, &audit.Entry{
			RunID:   runID,
			IssueID: issueID,
			Status:  "restored",
			State:   "RESTORED",
		})
		_ = sink.Close()
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(map[string]string{"issue_id": issueID, "run_id": runID, "status": "restored"})
	}
	fmt.Printf("%s Restored %s to its state before run %s\n", ui.RenderPass(ui.IconPass), issueID, runID)
	return nil
}
