// Package daemon runs feegowsync as a long-lived process: a cron schedule
// feeds a SQLite job queue and jobs are claimed one at a time under a lease.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"feegowsync/internal/audit"
	"feegowsync/internal/logger"
	"feegowsync/internal/notify"
	"feegowsync/internal/runlock"
)

// HandlerFunc is the function signature for job handlers.
type HandlerFunc func(ctx context.Context, job *Job) (any, error)

// Daemon is a long-running process that claims and executes jobs.
type Daemon struct {
	Store        *Store
	Scheduler    *Scheduler
	Handlers     map[string]HandlerFunc
	AuditLogger  *audit.Logger
	Notifier     *notify.Notifier
	LeaseOwner   string
	LeaseFor     time.Duration
	PollInterval time.Duration
	Now          func() time.Time
}

// Config holds daemon configuration.
type Config struct {
	StorePath     string
	AuditDBPath   string
	Schedule      string
	Location      *time.Location
	LeaseOwner    string
	LeaseFor      time.Duration
	PollInterval  time.Duration
	Notifications bool
	NewRunner     RunnerFactory
}

// New opens the job store and builds a daemon with the default handlers.
func New(cfg Config) (*Daemon, error) {
	if cfg.NewRunner == nil {
		return nil, fmt.Errorf("runner factory is required")
	}
	store, err := Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	scheduler, err := NewScheduler(store, cfg.Schedule, cfg.Location)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if cfg.LeaseOwner == "" {
		hostname, _ := os.Hostname()
		cfg.LeaseOwner = fmt.Sprintf("daemon-%s-%d", hostname, os.Getpid())
	}
	if cfg.LeaseFor == 0 {
		cfg.LeaseFor = 20 * time.Hour
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}

	notifier := &notify.Notifier{Enabled: cfg.Notifications}
	return &Daemon{
		Store:        store,
		Scheduler:    scheduler,
		Handlers:     DefaultHandlers(cfg.NewRunner, notifier),
		AuditLogger:  audit.NewLogger(cfg.AuditDBPath),
		Notifier:     notifier,
		LeaseOwner:   cfg.LeaseOwner,
		LeaseFor:     cfg.LeaseFor,
		PollInterval: cfg.PollInterval,
	}, nil
}

// Run polls until ctx is cancelled. Job failures are logged and audited but
// never stop the loop.
func (d *Daemon) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	d.event(ctx, "daemon_started", map[string]any{
		"lease_owner":   d.LeaseOwner,
		"lease_for":     d.LeaseFor.String(),
		"poll_interval": d.PollInterval.String(),
		"next_sync":     d.Scheduler.Next(d.now()).Format(time.RFC3339),
	})
	log.Info("Daemon started", "lease_owner", d.LeaseOwner, "next_sync", d.Scheduler.Next(d.now()).Format(time.RFC3339))

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.event(context.Background(), "daemon_stopped", map[string]any{"lease_owner": d.LeaseOwner})
			log.Info("Daemon stopped")
			return nil

		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				log.Error("Daemon iteration failed", "error", err)
			}
		}
	}
}

// RunOnce ticks the scheduler, reaps dead leases and executes at most one
// due job. It reports whether a job was executed.
func (d *Daemon) RunOnce(ctx context.Context) (bool, error) {
	log := logger.FromContext(ctx)
	now := d.now()

	jobID, err := d.Scheduler.Tick(ctx, now)
	if err != nil {
		log.Warn("Scheduler tick failed", "error", err)
	} else if jobID != "" {
		log.Info("Sync enqueued", "job_id", jobID)
	}

	if n, err := d.Store.ReapExpired(ctx, now); err != nil {
		log.Warn("Reaping expired leases failed", "error", err)
	} else if n > 0 {
		log.Warn("Failed jobs with expired leases", "count", n)
	}

	return d.claimAndExecute(ctx, now)
}

func (d *Daemon) claimAndExecute(ctx context.Context, now time.Time) (bool, error) {
	job, err := d.Store.ClaimNext(ctx, now, d.LeaseOwner, d.LeaseFor)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	ctx = logger.WithValues(ctx, "job_id", job.ID, "job_type", job.Type)
	log := logger.FromContext(ctx)
	log.Info("Job started")
	d.event(ctx, "job_started", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"payload":  job.PayloadJSON,
	})

	handler, ok := d.Handlers[job.Type]
	if !ok {
		err := fmt.Errorf("no handler for job type: %s", job.Type)
		d.fail(ctx, job, err)
		return true, err
	}

	result, execErr := handler(ctx, job)
	if errors.Is(execErr, runlock.ErrRunInProgress) {
		log.Warn("Job skipped, another run holds the lock")
		if err := d.Store.Skip(ctx, job.ID, execErr); err != nil {
			return true, fmt.Errorf("mark job skipped: %w", err)
		}
		d.event(ctx, "job_skipped", map[string]any{"job_id": job.ID, "job_type": job.Type, "reason": execErr.Error()})
		return true, nil
	}
	if execErr != nil {
		d.fail(ctx, job, execErr)
		return true, execErr
	}

	if err := d.Store.Succeed(ctx, job.ID, result); err != nil {
		return true, fmt.Errorf("mark job succeeded: %w", err)
	}
	log.Info("Job succeeded")
	d.event(ctx, "job_succeeded", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"result":   result,
	})
	return true, nil
}

func (d *Daemon) fail(ctx context.Context, job *Job, jobErr error) {
	if err := d.Store.Fail(ctx, job.ID, jobErr); err != nil {
		logger.FromContext(ctx).Error("Failed to mark job failed", "error", err)
	}
	logger.FromContext(ctx).Error("Job failed", "error", jobErr)
	d.event(ctx, "job_failed", map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"error":    jobErr.Error(),
	})
}

func (d *Daemon) event(ctx context.Context, eventType string, payload map[string]any) {
	if err := d.AuditLogger.LogEvent("daemon", eventType, payload); err != nil {
		logger.FromContext(ctx).Debug("Audit write failed", "type", eventType, "error", err)
	}
}

func (d *Daemon) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Close closes the daemon's store.
func (d *Daemon) Close() error {
	return d.Store.Close()
}
