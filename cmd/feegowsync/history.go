package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"feegowsync/internal/audit"
)

var (
	historyRunFlag = commandLineFlag{
		name:  "run",
		usage: "only events of this run ID",
	}
	historyTypeFlag = commandLineFlag{
		name:  "type",
		usage: "only events of this type, e.g. run_failed or state_committed",
	}
)

func cmdHistory() *cobra.Command {
	cmd := NewCommand(
		&cobra.Command{
			Use:   "history [flags]",
			Short: "Show recent audit events, newest first",
			Args:  cobra.NoArgs,
		},
		[]commandLineFlag{historyRunFlag, historyTypeFlag},
		runHistory,
	)
	cmd.Flags().IntP("limit", "n", 20, "number of events to show, 0 for all")
	return cmd
}

func runHistory(c *Context, _ []string) error {
	flags := c.Command.Flags()
	limit, _ := flags.GetInt("limit")
	if limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	runID, _ := flags.GetString(historyRunFlag.name)
	eventType, _ := flags.GetString(historyTypeFlag.name)

	events, err := c.Audit.ListEvents(c, audit.Filter{Type: eventType, RunID: runID, Limit: limit})
	if err != nil {
		return err
	}

	w := c.Command.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}
	fmt.Fprintln(w, renderEvents(events, c.Config.Location))
	return nil
}

var eventHeader = table.Row{
	"Time",
	"Actor",
	"Type",
	"Run",
	"Payload",
}

func renderEvents(events []audit.Event, loc *time.Location) string {
	eventTable := table.NewWriter()
	eventTable.AppendHeader(eventHeader)
	for _, ev := range events {
		eventTable.AppendRow(table.Row{
			ev.Time.In(loc).Format(time.DateTime),
			ev.Actor,
			ev.Type,
			ev.RunID,
			string(ev.Payload),
		})
	}
	return eventTable.Render()
}
