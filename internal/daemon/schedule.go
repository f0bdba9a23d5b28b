package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const lastTickKey = "scheduler_last_tick"

// Scheduler turns a cron expression into queued sync jobs. Missed fire
// times collapse into one job for the latest of them, so a daemon that was
// down for a week runs one sync rather than seven.
type Scheduler struct {
	store    *Store
	schedule cron.Schedule
	location *time.Location
	spec     string
}

// NewScheduler parses spec (standard five-field cron or a descriptor such
// as @daily) evaluated in loc.
func NewScheduler(store *Store, spec string, loc *time.Location) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		store:    store,
		schedule: schedule,
		location: loc,
		spec:     spec,
	}, nil
}

// Next returns the first fire time after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.location))
}

// Tick enqueues a sync job if a fire time passed since the previous tick.
// The first tick only records the current time. It returns the enqueued
// job ID, or "" when nothing was due.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (string, error) {
	lastStr, err := s.store.GetKV(ctx, lastTickKey)
	if err != nil {
		return "", fmt.Errorf("get last tick: %w", err)
	}

	var last time.Time
	if lastStr != "" {
		last, err = time.Parse(time.RFC3339Nano, lastStr)
		if err != nil {
			return "", fmt.Errorf("parse last tick: %w", err)
		}
	}

	if last.IsZero() {
		if err := s.store.SetKV(ctx, lastTickKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
			return "", fmt.Errorf("set initial tick: %w", err)
		}
		return "", nil
	}

	var due time.Time
	missed := 0
	for t := s.Next(last); !t.After(now); t = s.Next(t) {
		if !due.IsZero() {
			missed++
		}
		due = t
	}

	jobID := ""
	if !due.IsZero() {
		payload := map[string]any{
			"scheduled_time": due.Format(time.RFC3339),
			"schedule":       s.spec,
		}
		if missed > 0 {
			payload["missed"] = missed
		}
		id, created, err := s.store.EnqueueUnique(ctx, JobSync, due, payload)
		if err != nil {
			return "", fmt.Errorf("enqueue %s at %s: %w", JobSync, due, err)
		}
		if created {
			jobID = id
		}
	}

	if err := s.store.SetKV(ctx, lastTickKey, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return "", fmt.Errorf("update last tick: %w", err)
	}
	return jobID, nil
}
