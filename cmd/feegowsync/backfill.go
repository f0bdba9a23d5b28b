package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"feegowsync/internal/calendar"
	"feegowsync/internal/engine"
	"feegowsync/internal/pipeline"
)

var (
	startFlag = commandLineFlag{
		name:     "start",
		usage:    "first date to ingest (YYYY-MM-DD)",
		required: true,
	}
	endFlag = commandLineFlag{
		name:     "end",
		usage:    "date after the last one to ingest (YYYY-MM-DD, exclusive)",
		required: true,
	}
	writeModeFlag = commandLineFlag{
		name:         "mode",
		defaultValue: string(engine.WriteMerge),
		usage:        "write mode: merge, append or replace",
	}
	advanceFlag = commandLineFlag{
		name:   "advance",
		usage:  "move the watermark to --end if that is later than the stored one",
		isBool: true,
	}
)

func cmdBackfill() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "backfill --start YYYY-MM-DD --end YYYY-MM-DD [flags]",
			Short: "Re-ingest an explicit date range",
			Long: `Re-ingest [start, end) in batches of at most planner.batch_days days.

The watermark is left alone unless --advance is given and --end is later
than the stored watermark.
`,
			Args: cobra.NoArgs,
		},
		[]commandLineFlag{startFlag, endFlag, writeModeFlag, advanceFlag, runIDFlag},
		runBackfill,
	)
}

func runBackfill(c *Context, _ []string) error {
	flags := c.Command.Flags()
	startArg, _ := flags.GetString(startFlag.name)
	endArg, _ := flags.GetString(endFlag.name)
	modeArg, _ := flags.GetString(writeModeFlag.name)
	advance, _ := flags.GetBool(advanceFlag.name)
	runID, _ := flags.GetString(runIDFlag.name)

	start, err := calendar.Parse(startArg)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := calendar.Parse(endArg)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}
	mode, err := engine.ParseWriteMode(modeArg)
	if err != nil {
		return fmt.Errorf("--mode: %w", err)
	}
	if err := c.requireEngine(); err != nil {
		return err
	}

	runner, cleanup, err := c.NewRunner("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := runner.Backfill(c, pipeline.BackfillOptions{
		Start:     start,
		End:       end,
		WriteMode: mode,
		Advance:   advance,
		RunID:     runID,
	})
	printOutcome(c.Command.OutOrStdout(), out)
	return err
}
