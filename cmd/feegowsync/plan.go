package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"feegowsync/internal/planner"
)

var planOutFlag = commandLineFlag{
	name:      "out",
	shorthand: "o",
	usage:     "write the plan as JSON to this file or directory",
}

func cmdPlan() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "plan [flags]",
			Short: "Show the batches the next run would execute",
			Long: `Read the watermark and print the plan of the next run without executing it.

With --out the plan is written as JSON for 'feegowsync execute --plan'.
`,
			Args: cobra.NoArgs,
		},
		[]commandLineFlag{planOutFlag, resetStateFlag, asOfFlag},
		runPlan,
	)
}

func runPlan(c *Context, _ []string) error {
	runner, cleanup, err := c.NewRunner("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	reset, _ := c.Command.Flags().GetBool(resetStateFlag.name)
	plan, err := runner.PlanNext(c, reset)
	if err != nil {
		return err
	}

	out := c.Command.OutOrStdout()
	printPlan(out, plan)

	if outPath, _ := c.Command.Flags().GetString(planOutFlag.name); outPath != "" {
		path := outputPath(outPath, "plan.json")
		if err := planner.WritePlan(path, plan); err != nil {
			return err
		}
		fmt.Fprintf(out, "Plan written to %s\n", path)
	}
	return nil
}

func printPlan(w io.Writer, plan planner.Plan) {
	previous := plan.PreviousWatermark.String()
	if previous == "" {
		previous = "(none)"
	}
	fmt.Fprintf(w, "Mode:            %s\n", plan.Mode)
	fmt.Fprintf(w, "Planned for:     %s\n", plan.PlannedFor)
	fmt.Fprintf(w, "Watermark:       %s\n", previous)
	fmt.Fprintf(w, "Final watermark: %s\n", plan.FinalWatermark)
	if plan.Empty() {
		fmt.Fprintln(w, "Nothing to ingest.")
		return
	}
	fmt.Fprintf(w, "Batches (%d, %d days):\n", len(plan.Batches), plan.TotalDays())
	for i, b := range plan.Batches {
		fmt.Fprintf(w, "  %d/%d %s %s\n", i+1, len(plan.Batches), b, b.WriteMode)
	}
}

// outputPath returns path, or name inside it when path is an existing
// directory.
func outputPath(path, name string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, name)
	}
	return path
}
