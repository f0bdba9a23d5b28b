package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"feegowsync/internal/calendar"
	"feegowsync/internal/engine"
	"feegowsync/internal/notify"
	"feegowsync/internal/pipeline"
)

// Job types handled by the daemon.
const (
	JobSync     = "sync"
	JobBackfill = "backfill"
)

// RunnerFactory builds the runner for one job. Building per job means every
// sync picks up the current configuration and releases its connections when
// done through the returned cleanup func.
type RunnerFactory func(ctx context.Context) (*pipeline.Runner, func(), error)

// DefaultHandlers returns the map of built-in daemon handlers.
func DefaultHandlers(newRunner RunnerFactory, notifier *notify.Notifier) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		JobSync:     SyncHandler(newRunner, notifier),
		JobBackfill: BackfillHandler(newRunner, notifier),
	}
}

// SyncPayload is the payload of a sync job.
type SyncPayload struct {
	ScheduledTime string `json:"scheduled_time,omitempty"`
	ResetState    bool   `json:"reset_state,omitempty"`
}

// BackfillPayload is the payload of a backfill job.
type BackfillPayload struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	WriteMode string `json:"write_mode,omitempty"`
	Advance   bool   `json:"advance,omitempty"`
}

// SyncHandler runs one scheduled sync.
func SyncHandler(newRunner RunnerFactory, notifier *notify.Notifier) HandlerFunc {
	return func(ctx context.Context, job *Job) (any, error) {
		var payload SyncPayload
		if err := decodePayload(job, &payload); err != nil {
			return nil, err
		}

		runner, cleanup, err := newRunner(ctx)
		if err != nil {
			return nil, fmt.Errorf("build runner: %w", err)
		}
		defer cleanup()

		out, err := runner.Run(ctx, pipeline.RunOptions{ResetState: payload.ResetState})
		notifyOutcome(notifier, out, err)
		if err != nil {
			return nil, err
		}
		return outcomeSummary(out), nil
	}
}

// BackfillHandler replays an explicit range queued from the CLI.
func BackfillHandler(newRunner RunnerFactory, notifier *notify.Notifier) HandlerFunc {
	return func(ctx context.Context, job *Job) (any, error) {
		var payload BackfillPayload
		if err := decodePayload(job, &payload); err != nil {
			return nil, err
		}
		start, err := calendar.Parse(payload.Start)
		if err != nil {
			return nil, fmt.Errorf("backfill start: %w", err)
		}
		end, err := calendar.Parse(payload.End)
		if err != nil {
			return nil, fmt.Errorf("backfill end: %w", err)
		}
		mode := engine.WriteMerge
		if payload.WriteMode != "" {
			if mode, err = engine.ParseWriteMode(payload.WriteMode); err != nil {
				return nil, err
			}
		}

		runner, cleanup, err := newRunner(ctx)
		if err != nil {
			return nil, fmt.Errorf("build runner: %w", err)
		}
		defer cleanup()

		out, err := runner.Backfill(ctx, pipeline.BackfillOptions{
			Start:     start,
			End:       end,
			WriteMode: mode,
			Advance:   payload.Advance,
		})
		notifyOutcome(notifier, out, err)
		if err != nil {
			return nil, err
		}
		return outcomeSummary(out), nil
	}
}

func decodePayload(job *Job, v any) error {
	if job.PayloadJSON == "" || job.PayloadJSON == "{}" || job.PayloadJSON == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(job.PayloadJSON), v); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	return nil
}

func outcomeSummary(out *pipeline.Outcome) map[string]any {
	summary := map[string]any{
		"run_id":  out.RunID,
		"mode":    string(out.Plan.Mode),
		"batches": len(out.Plan.Batches),
	}
	if out.Result != nil {
		summary["batches_processed"] = out.Result.BatchesProcessed
		summary["final_watermark"] = out.Result.FinalWatermark.String()
	}
	if out.Committed != nil {
		summary["committed"] = out.Committed.LastIngestedDate.String()
	}
	return summary
}

func notifyOutcome(notifier *notify.Notifier, out *pipeline.Outcome, err error) {
	var title, message string
	var commitErr *pipeline.CommitError
	switch {
	case errors.As(err, &commitErr):
		title, message = notify.FormatStateWriteFailed(commitErr.Watermark.String(), commitErr.Err)
	case err != nil:
		mode := ""
		if out != nil {
			mode = string(out.Plan.Mode)
		}
		title, message = notify.FormatRunFailed(mode, err)
	case out != nil && out.Result != nil:
		title, message = notify.FormatRunComplete(string(out.Result.Mode), out.Result.BatchesProcessed, out.Result.FinalWatermark.String())
	default:
		return
	}
	_ = notifier.Send(title, message)
}
