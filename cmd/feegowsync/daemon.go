package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"feegowsync/internal/daemon"
	"feegowsync/internal/logger"
	"feegowsync/internal/pipeline"
)

var (
	atFlag = commandLineFlag{
		name:  "at",
		usage: "scheduled time (YYYY-MM-DDTHH:MM, default is now)",
	}
	payloadFlag = commandLineFlag{
		name:         "payload-json",
		defaultValue: "{}",
		usage:        "job payload as JSON",
	}
	noLoadFlag = commandLineFlag{
		name:   "no-load",
		usage:  "write the plist without loading it",
		isBool: true,
	}
)

func cmdDaemon() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run syncs on a schedule",
		Long: `The daemon enqueues a sync job on every fire of daemon.schedule and
executes queued jobs one at a time. Fires missed while the daemon was down
collapse into a single sync.
`,
	}
	cmd.AddCommand(cmdDaemonRun())
	cmd.AddCommand(cmdDaemonStatus())
	cmd.AddCommand(cmdDaemonEnqueue())
	cmd.AddCommand(cmdDaemonPlist())
	cmd.AddCommand(cmdDaemonInstall())
	cmd.AddCommand(cmdDaemonUninstall())
	return cmd
}

func cmdDaemonRun() *cobra.Command {
	cmd := NewCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the daemon in the foreground until interrupted",
			Args:  cobra.NoArgs,
		},
		nil,
		runDaemonRun,
	)
	cmd.Flags().Duration("poll", 0, "poll interval (default is daemon.poll_interval)")
	cmd.Flags().Duration("lease", 0, "lease of a claimed job (default is daemon.lease)")
	return cmd
}

func runDaemonRun(c *Context, _ []string) error {
	cfg := c.Config
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	pollInterval := cfg.Daemon.PollInterval
	if poll, _ := c.Command.Flags().GetDuration("poll"); poll > 0 {
		pollInterval = poll
	}
	leaseFor := cfg.Daemon.Lease
	if lease, _ := c.Command.Flags().GetDuration("lease"); lease > 0 {
		leaseFor = lease
	}

	d, err := daemon.New(daemon.Config{
		StorePath:     c.Workspace.DaemonDBPath,
		AuditDBPath:   c.Workspace.AuditDBPath,
		Schedule:      cfg.Daemon.Schedule,
		Location:      cfg.Location,
		LeaseFor:      leaseFor,
		PollInterval:  pollInterval,
		Notifications: cfg.Daemon.Notify,
		NewRunner: func(context.Context) (*pipeline.Runner, func(), error) {
			return c.NewRunner("daemon")
		},
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logger.FromContext(c).Info("Starting daemon",
		"workspace", c.Workspace.Root,
		"schedule", cfg.Daemon.Schedule,
		"timezone", cfg.Location.String(),
		"poll", pollInterval.String(),
		"lease", leaseFor.String(),
	)
	return d.Run(c)
}

func cmdDaemonStatus() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show running, queued and recent daemon jobs",
			Args:  cobra.NoArgs,
		},
		nil,
		runDaemonStatus,
	)
}

func runDaemonStatus(c *Context, _ []string) error {
	store, err := daemon.Open(c.Workspace.DaemonDBPath)
	if err != nil {
		return fmt.Errorf("open daemon store: %w", err)
	}
	defer store.Close()

	w := c.Command.OutOrStdout()
	loc := c.Config.Location

	running, err := store.ListByStatus(c, daemon.StatusRunning, 10)
	if err != nil {
		return fmt.Errorf("list running jobs: %w", err)
	}
	fmt.Fprintf(w, "Running jobs: %d\n", len(running))
	for _, job := range running {
		fmt.Fprintf(w, "  %s [%s] started=%s lease_expires=%s owner=%s\n",
			job.ID, job.Type, formatJobTime(job.StartedAt, loc), formatJobTime(job.LeaseExpiresAt, loc), job.LeaseOwner)
	}
	fmt.Fprintln(w)

	queued, err := store.ListByStatus(c, daemon.StatusQueued, 10)
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}
	fmt.Fprintf(w, "Queued jobs (next %d):\n", len(queued))
	for _, job := range queued {
		fmt.Fprintf(w, "  %s [%s] scheduled=%s\n", job.ID, job.Type, job.ScheduledAt.In(loc).Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	recent, err := store.ListJobs(c, 10)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	printFinishedJobs(w, recent, loc)
	return nil
}

func printFinishedJobs(w io.Writer, jobs []daemon.Job, loc *time.Location) {
	var finished []daemon.Job
	for _, job := range jobs {
		if job.FinishedAt != nil {
			finished = append(finished, job)
		}
	}
	fmt.Fprintf(w, "Recent finished jobs (last %d):\n", len(finished))
	for _, job := range finished {
		fmt.Fprintf(w, "  %s [%s] status=%s finished=%s\n",
			job.ID, job.Type, job.Status, formatJobTime(job.FinishedAt, loc))
		if job.ResultJSON != "" {
			fmt.Fprintf(w, "    result: %s\n", job.ResultJSON)
		}
	}
}

func formatJobTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	return t.In(loc).Format(time.RFC3339)
}

func cmdDaemonEnqueue() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "enqueue sync|backfill [flags]",
			Short: "Queue a job for the daemon",
			Long: `Queue a job for the running daemon.

  feegowsync daemon enqueue sync
  feegowsync daemon enqueue backfill --payload-json '{"start":"2025-01-01","end":"2025-02-01"}'

A job with --at is deduplicated by type and time, like scheduled syncs.
`,
			Args: cobra.ExactArgs(1),
		},
		[]commandLineFlag{atFlag, payloadFlag},
		runDaemonEnqueue,
	)
}

func runDaemonEnqueue(c *Context, args []string) error {
	jobType := args[0]
	if jobType != daemon.JobSync && jobType != daemon.JobBackfill {
		return fmt.Errorf("unknown job type %q (want %s or %s)", jobType, daemon.JobSync, daemon.JobBackfill)
	}

	flags := c.Command.Flags()
	payloadJSON, _ := flags.GetString(payloadFlag.name)
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("parse --payload-json: %w", err)
	}

	store, err := daemon.Open(c.Workspace.DaemonDBPath)
	if err != nil {
		return fmt.Errorf("open daemon store: %w", err)
	}
	defer store.Close()

	w := c.Command.OutOrStdout()
	atArg, _ := flags.GetString(atFlag.name)
	if atArg == "" {
		jobID, err := store.Enqueue(c, jobType, time.Now(), payload)
		if err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		fmt.Fprintf(w, "Enqueued job: %s\n", jobID)
		return nil
	}

	scheduledAt, err := time.ParseInLocation("2006-01-02T15:04", atArg, c.Config.Location)
	if err != nil {
		return fmt.Errorf("parse --at: %w", err)
	}
	jobID, created, err := store.EnqueueUnique(c, jobType, scheduledAt, payload)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	if created {
		fmt.Fprintf(w, "Enqueued job: %s\n", jobID)
	} else {
		fmt.Fprintf(w, "Job already exists: %s\n", jobID)
	}
	return nil
}

func cmdDaemonPlist() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "plist",
			Short: "Print a macOS LaunchAgent that keeps the daemon running",
			Args:  cobra.NoArgs,
		},
		nil,
		runDaemonPlist,
	)
}

func runDaemonPlist(c *Context, _ []string) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	plist, err := daemon.GeneratePlist(c.Workspace, binary)
	if err != nil {
		return err
	}
	fmt.Fprint(c.Command.OutOrStdout(), plist)
	return nil
}

func cmdDaemonInstall() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install and load the LaunchAgent for this workspace",
			Args:  cobra.NoArgs,
		},
		[]commandLineFlag{noLoadFlag},
		runDaemonInstall,
	)
}

func runDaemonInstall(c *Context, _ []string) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	noLoad, _ := c.Command.Flags().GetBool(noLoadFlag.name)
	path, err := daemon.Install(c.Workspace, binary, !noLoad)
	if err != nil {
		return err
	}
	w := c.Command.OutOrStdout()
	fmt.Fprintf(w, "LaunchAgent written to %s\n", path)
	fmt.Fprintf(w, "Label: %s\n", daemon.PlistLabel(c.Workspace.Root))
	fmt.Fprintf(w, "Logs:  %s\n", daemon.LogPath(c.Workspace))
	return nil
}

func cmdDaemonUninstall() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "uninstall",
			Short: "Unload and remove the LaunchAgent for this workspace",
			Args:  cobra.NoArgs,
		},
		nil,
		runDaemonUninstall,
	)
}

func runDaemonUninstall(c *Context, _ []string) error {
	if err := daemon.Uninstall(c.Workspace); err != nil {
		return err
	}
	fmt.Fprintf(c.Command.OutOrStdout(), "LaunchAgent %s removed\n", daemon.PlistLabel(c.Workspace.Root))
	return nil
}
