package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"feegowsync/internal/pipeline"
)

func cmdRun() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "run [flags]",
			Short: "Plan, execute and commit one sync",
			Long: `Run one sync end to end: take the run lock, read the watermark, plan the
batches, hand each batch to the engine in order and save the new watermark
once every batch succeeded.

A failed batch stops the run and leaves the watermark untouched, so the
next run repeats the same window.
`,
			Args: cobra.NoArgs,
		},
		[]commandLineFlag{resetStateFlag, runIDFlag, asOfFlag},
		runRun,
	)
}

func runRun(c *Context, _ []string) error {
	if err := c.requireEngine(); err != nil {
		return err
	}
	runner, cleanup, err := c.NewRunner("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	reset, _ := c.Command.Flags().GetBool(resetStateFlag.name)
	runID, _ := c.Command.Flags().GetString(runIDFlag.name)

	out, err := runner.Run(c, pipeline.RunOptions{ResetState: reset, RunID: runID})
	printOutcome(c.Command.OutOrStdout(), out)
	return err
}

func printOutcome(w io.Writer, out *pipeline.Outcome) {
	if out == nil || out.Result == nil {
		return
	}
	res := out.Result
	fmt.Fprintf(w, "Run %s: %s %s, %d/%d batches\n",
		res.RunID, res.Mode, res.State, res.BatchesProcessed, res.BatchesTotal)
	switch {
	case out.Committed != nil:
		fmt.Fprintf(w, "Watermark: %s\n", out.Committed.LastIngestedDate)
	case res.BatchesTotal == 0:
		fmt.Fprintf(w, "Watermark unchanged: %s\n", res.FinalWatermark)
	}
}
