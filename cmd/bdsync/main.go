// Command bdsync keeps local issue records in sync with GitHub and Jira.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/bdsync/internal/config"
	"github.com/steveyegge/bdsync/internal/telemetry"
	"github.com/steveyegge/bdsync/internal/ui"

	// Remote integrations register themselves with the tracker registry.
	_ "github.com/steveyegge/bdsync/internal/github"
	_ "github.com/steveyegge/bdsync/internal/jira"
)

var (
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	logger      = slog.New(slog.DiscardHandler)
	closeLogger = func() error { return nil }
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync:"})
	rootCmd.AddGroup(&cobra.Group{ID: "history", Title: "History & Recovery:"})
}

var rootCmd = &cobra.Command{
	Use:   "bdsync",
	Short: "bdsync - three-way issue sync between local records, GitHub and Jira",
	Long: `bdsync reconciles each local issue record with its linked GitHub issue and
Jira issue. Fields changed on only one side propagate; fields changed on
several sides are resolved by the selected conflict strategy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("bdsync version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupSignalContext()
		ui.ConfigureColor()
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := setupLogging(); err != nil {
			return err
		}
		if err := telemetry.Init(rootCtx, telemetry.Options{
			Enabled:        config.GetBool("telemetry.enabled"),
			ServiceName:    config.GetString("telemetry.service_name"),
			Version:        Version,
			Stdout:         config.GetBool("telemetry.stdout"),
			MetricInterval: config.GetDuration("telemetry.metric_interval"),
			OTLPEndpoint:   config.GetString("telemetry.otlp_endpoint"),
		}); err != nil {
			logger.Warn("telemetry disabled", "error", err)
		}
		return nil
	},
}

func setupSignalContext() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCtx, rootCancel = ctx, cancel
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
	_ = closeLogger()
	closeLogger = func() error { return nil }
	if rootCancel != nil {
		rootCancel()
	}
}

// execute runs the command tree and returns the process exit code.
func execute(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	// Post-run hooks are skipped when a command fails.
	shutdown()
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	// Cobra reports flag and argument problems here; run hooks failing
	// before any sync starts are usage errors too.
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitUsage
}

func main() {
	os.Exit(execute(os.Args[1:]))
}
