package pipeline

import (
	"context"
	"errors"
	"fmt"

	"feegowsync/internal/audit"
	"feegowsync/internal/calendar"
	"feegowsync/internal/logger"
	"feegowsync/internal/planner"
	"feegowsync/internal/watermark"
)

// CommitError means every batch was loaded but the watermark could not be
// saved. The next run re-fetches the same window, which merge tolerates,
// but the run must not be reported as a success.
type CommitError struct {
	RunID     string
	Mode      planner.Mode
	Watermark calendar.Date
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("run %s (%s) loaded all batches but did not advance the watermark to %s: %v",
		e.RunID, e.Mode, e.Watermark, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// ErrStaleResult means the stored watermark moved between planning and
// commit, so the result no longer describes the next window.
var ErrStaleResult = errors.New("watermark changed since the run was planned")

// Commit persists the final watermark of a completed result, typically one
// produced by a separate execute step.
func (r *Runner) Commit(ctx context.Context, result planner.RunResult) (*watermark.Record, error) {
	ctx = logger.WithValues(ctx, "run_id", result.RunID)
	release, err := r.acquire(ctx, result.RunID)
	if err != nil {
		return nil, err
	}
	defer r.release(ctx, release)

	current, err := r.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	stored := lastDate(current)
	storedText := "absent"
	if stored != nil {
		storedText = stored.String()
	}
	switch {
	case result.Mode == planner.ModeBackfill:
		if stored != nil && !result.FinalWatermark.After(*stored) {
			logger.FromContext(ctx).Info("Backfill ends before the stored watermark, nothing to commit",
				"watermark", stored.String())
			return nil, nil
		}
	case stored == nil && !result.PreviousWatermark.IsZero(),
		stored != nil && *stored != result.PreviousWatermark:
		return nil, fmt.Errorf("%w: planned from %q, store has %q",
			ErrStaleResult, result.PreviousWatermark.String(), storedText)
	}

	return r.commit(ctx, result)
}

// commit saves result.FinalWatermark. A run that processed no batches has
// nothing to record and leaves the store untouched.
func (r *Runner) commit(ctx context.Context, result planner.RunResult) (*watermark.Record, error) {
	log := logger.FromContext(ctx)
	if !result.Committable() {
		return nil, fmt.Errorf("run %s is %s with %d/%d batches; only completed runs can be committed",
			result.RunID, result.State, result.BatchesProcessed, result.BatchesTotal)
	}
	if result.BatchesProcessed == 0 {
		log.Info("No batches processed, watermark unchanged", "watermark", result.FinalWatermark.String())
		return nil, nil
	}
	if result.FinalWatermark.IsZero() {
		return nil, fmt.Errorf("run %s has no final watermark", result.RunID)
	}

	rec := watermark.Record{
		LastIngestedDate: result.FinalWatermark,
		BatchesProcessed: result.BatchesProcessed,
		Mode:             string(result.Mode),
		RunID:            result.RunID,
		UpdatedAt:        r.now().UTC(),
	}
	if err := r.Store.Save(ctx, rec); err != nil {
		log.Error("Watermark not saved after a successful load",
			"store", r.Store.Describe(),
			"watermark", rec.LastIngestedDate.String(),
			"error", err,
		)
		r.event(ctx, audit.StateWriteFailed, map[string]any{
			"run_id":    result.RunID,
			"mode":      string(result.Mode),
			"store":     r.Store.Describe(),
			"watermark": rec.LastIngestedDate.String(),
			"error":     err.Error(),
		})
		return nil, &CommitError{RunID: result.RunID, Mode: result.Mode, Watermark: rec.LastIngestedDate, Err: err}
	}

	if !result.PreviousWatermark.IsZero() && !rec.LastIngestedDate.After(result.PreviousWatermark) {
		log.Warn("Watermark did not advance", "watermark", rec.LastIngestedDate.String())
	}
	log.Info("Watermark saved", "store", r.Store.Describe(), "watermark", rec.LastIngestedDate.String())
	r.event(ctx, audit.StateCommitted, map[string]any{
		"run_id":            result.RunID,
		"mode":              string(result.Mode),
		"store":             r.Store.Describe(),
		"watermark":         rec.LastIngestedDate.String(),
		"batches_processed": rec.BatchesProcessed,
	})
	return &rec, nil
}

// IsStateWriteFailure reports whether err means rows were loaded but the
// watermark was not saved.
func IsStateWriteFailure(err error) bool {
	var commitErr *CommitError
	return errors.As(err, &commitErr)
}
