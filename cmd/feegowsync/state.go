package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"feegowsync/internal/calendar"
)

var (
	jsonFlag = commandLineFlag{
		name:   "json",
		usage:  "print JSON",
		isBool: true,
	}
	yesFlag = commandLineFlag{
		name:   "yes",
		usage:  "confirm the reset",
		isBool: true,
	}
)

func cmdState() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or change the stored watermark",
	}
	cmd.AddCommand(cmdStateShow())
	cmd.AddCommand(cmdStateSet())
	cmd.AddCommand(cmdStateReset())
	return cmd
}

func cmdStateShow() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the stored watermark",
			Args:  cobra.NoArgs,
		},
		[]commandLineFlag{jsonFlag},
		runStateShow,
	)
}

func runStateShow(c *Context, _ []string) error {
	runner, cleanup, err := c.NewRunner("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := runner.ShowState(c)
	if err != nil {
		return err
	}

	w := c.Command.OutOrStdout()
	if asJSON, _ := c.Command.Flags().GetBool(jsonFlag.name); asJSON {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("encode watermark: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "Store:     %s\n", runner.Store.Describe())
	if rec == nil {
		fmt.Fprintln(w, "Watermark: (none, next run is an initial load)")
		return nil
	}
	fmt.Fprintf(w, "Watermark: %s\n", rec.LastIngestedDate)
	if rec.Mode != "" {
		fmt.Fprintf(w, "Mode:      %s\n", rec.Mode)
	}
	if rec.BatchesProcessed > 0 {
		fmt.Fprintf(w, "Batches:   %d\n", rec.BatchesProcessed)
	}
	if rec.RunID != "" {
		fmt.Fprintf(w, "Run:       %s\n", rec.RunID)
	}
	if !rec.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated:   %s\n", rec.UpdatedAt.In(c.Config.Location).Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

func cmdStateSet() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "set YYYY-MM-DD",
			Short: "Overwrite the watermark",
			Long: `Overwrite the watermark with the given date. The next run starts from it.

The record before and after is printed as a unified diff.
`,
			Args: cobra.ExactArgs(1),
		},
		nil,
		runStateSet,
	)
}

func runStateSet(c *Context, args []string) error {
	date, err := calendar.Parse(args[0])
	if err != nil {
		return err
	}

	runner, cleanup, err := c.NewRunner("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	diff, err := runner.SetState(c, date)
	if err != nil {
		return err
	}
	fmt.Fprint(c.Command.OutOrStdout(), diff)
	return nil
}

func cmdStateReset() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "reset --yes",
			Short: "Delete the watermark so the next run is an initial load",
			Args:  cobra.NoArgs,
		},
		[]commandLineFlag{yesFlag},
		runStateReset,
	)
}

func runStateReset(c *Context, _ []string) error {
	if yes, _ := c.Command.Flags().GetBool(yesFlag.name); !yes {
		return fmt.Errorf("refusing to delete the watermark without --yes")
	}

	runner, cleanup, err := c.NewRunner("cli")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := runner.ResetState(c); err != nil {
		return err
	}
	fmt.Fprintf(c.Command.OutOrStdout(), "Watermark deleted from %s\n", runner.Store.Describe())
	return nil
}
