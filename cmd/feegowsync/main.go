package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feegowsync/internal/config"
	"feegowsync/internal/pipeline"
	"feegowsync/internal/planner"
	"feegowsync/internal/runlock"
	"feegowsync/internal/watermark"
)

const appName = "feegowsync"

// Exit codes let an external orchestrator tell the failure classes apart.
const (
	exitGeneric    = 1
	exitConfig     = 2
	exitStateWrite = 3
	exitLockHeld   = 4
	exitBatch      = 5
	exitStateRead  = 6
)

var version = "0.0.0"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Incremental Feegow API extraction driver",
	Long: `feegowsync keeps a warehouse in sync with the Feegow clinic-management API.

It remembers the last ingested date (the watermark), plans date-range
batches from it, hands each batch to the extraction/load engine and advances
the watermark only after the whole run succeeded.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(exitCode(err))
	}
}

func init() {
	initGlobalFlags(rootCmd)

	rootCmd.AddCommand(cmdPlan())
	rootCmd.AddCommand(cmdRun())
	rootCmd.AddCommand(cmdExecute())
	rootCmd.AddCommand(cmdCommit())
	rootCmd.AddCommand(cmdBackfill())
	rootCmd.AddCommand(cmdState())
	rootCmd.AddCommand(cmdResources())
	rootCmd.AddCommand(cmdHistory())
	rootCmd.AddCommand(cmdDaemon())
	rootCmd.AddCommand(cmdVersion())
}

// exitCode maps an error to the process exit status. A commit failure is
// checked before the read error because both may sit in the same chain.
func exitCode(err error) int {
	var (
		cfgErr   *config.ConfigurationError
		batchErr *planner.BatchExecutionError
		writeErr *watermark.WriteError
		readErr  *watermark.ReadError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.Is(err, runlock.ErrRunInProgress):
		return exitLockHeld
	case errors.As(err, &batchErr):
		return exitBatch
	case pipeline.IsStateWriteFailure(err), errors.As(err, &writeErr):
		return exitStateWrite
	case errors.As(err, &readErr):
		return exitStateRead
	default:
		return exitGeneric
	}
}
