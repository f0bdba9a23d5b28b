package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"feegowsync/internal/planner"
)

var (
	planInFlag = commandLineFlag{
		name:      "plan",
		shorthand: "p",
		usage:     "plan JSON file or directory holding plan.json",
		required:  true,
	}
	resultOutFlag = commandLineFlag{
		name:      "out",
		shorthand: "o",
		usage:     "write the result JSON here (default is artifacts/runs/<run-id>/result.json)",
	}
	resultInFlag = commandLineFlag{
		name:      "result",
		shorthand: "r",
		usage:     "result JSON file or directory holding result.json",
		required:  true,
	}
)

func cmdExecute() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "execute --plan plan.json [flags]",
			Short: "Execute a plan without saving the watermark",
			Long: `Execute the batches of a plan written by 'feegowsync plan --out' and write
the run result as JSON. The watermark is not touched; pass the result to
'feegowsync commit' to save it.

The result is written even when a batch fails so the failure can be
inspected; commit refuses it.
`,
			Args: cobra.NoArgs,
		},
		[]commandLineFlag{planInFlag, resultOutFlag, runIDFlag},
		runExecute,
	)
}

func runExecute(c *Context, _ []string) error {
	if err := c.requireEngine(); err != nil {
		return err
	}
	planArg, _ := c.Command.Flags().GetString(planInFlag.name)
	planPath, err := planner.ResolvePlanPath(planArg)
	if err != nil {
		return err
	}
	plan, err := planner.LoadPlan(planPath)
	if err != nil {
		return err
	}

	runner, cleanup, err := c.NewRunner("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	runID, _ := c.Command.Flags().GetString(runIDFlag.name)
	out, execErr := runner.ExecutePlan(c, plan, runID)
	if out.Result == nil {
		return execErr
	}

	resultPath, _ := c.Command.Flags().GetString(resultOutFlag.name)
	if resultPath == "" {
		resultPath = filepath.Join(c.Workspace.RunDir(out.RunID), "result.json")
	} else {
		resultPath = outputPath(resultPath, "result.json")
	}
	if err := planner.WriteResult(resultPath, *out.Result); err != nil {
		return errors.Join(execErr, err)
	}

	w := c.Command.OutOrStdout()
	printOutcome(w, out)
	fmt.Fprintf(w, "Result written to %s\n", resultPath)
	return execErr
}

func cmdCommit() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "commit --result result.json",
			Short: "Save the watermark of an executed plan",
			Long: `Save the final watermark of a result written by 'feegowsync execute'.

Only completed results are accepted. The commit is refused when the stored
watermark moved since the plan was made.
`,
			Args: cobra.NoArgs,
		},
		[]commandLineFlag{resultInFlag},
		runCommit,
	)
}

func runCommit(c *Context, _ []string) error {
	resultArg, _ := c.Command.Flags().GetString(resultInFlag.name)
	resultPath, err := planner.ResolveResultPath(resultArg)
	if err != nil {
		return err
	}
	result, err := planner.LoadResult(resultPath)
	if err != nil {
		return err
	}

	runner, cleanup, err := c.NewRunner("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := runner.Commit(c, result)
	if err != nil {
		return err
	}

	w := c.Command.OutOrStdout()
	if rec == nil {
		fmt.Fprintln(w, "Nothing to commit, watermark unchanged.")
		return nil
	}
	fmt.Fprintf(w, "Watermark: %s\n", rec.LastIngestedDate)
	return nil
}
