package pipeline

import (
	"context"
	"errors"

	"feegowsync/internal/audit"
	"feegowsync/internal/calendar"
	"feegowsync/internal/engine"
	"feegowsync/internal/logger"
	"feegowsync/internal/watermark"
)

// BackfillOptions describes an operator replay of [Start, End).
type BackfillOptions struct {
	Start     calendar.Date
	End       calendar.Date
	WriteMode engine.WriteMode
	// Advance moves the watermark to End after success, but only forward.
	Advance bool
	RunID   string
}

// Backfill re-ingests an explicit range. The watermark is left alone unless
// Advance is set and End is later than the stored watermark.
func (r *Runner) Backfill(ctx context.Context, opts BackfillOptions) (*Outcome, error) {
	out := &Outcome{RunID: r.runID(opts.RunID)}
	ctx = logger.WithValues(ctx, "run_id", out.RunID)
	log := logger.FromContext(ctx)

	mode := opts.WriteMode
	if mode == "" {
		mode = engine.WriteMerge
	}
	plan, err := r.Planner.PlanRange(r.now(), opts.Start, opts.End, mode)
	if err != nil {
		return out, err
	}
	out.Plan = plan

	release, err := r.acquire(ctx, out.RunID)
	if err != nil {
		return out, err
	}
	defer r.release(ctx, release)

	prev, err := r.Store.Load(ctx)
	if err != nil {
		var readErr *watermark.ReadError
		if opts.Advance || !errors.As(err, &readErr) {
			return out, err
		}
		log.Warn("Watermark unreadable, backfilling without it", "error", err)
	}
	if prev != nil {
		out.Plan.PreviousWatermark = prev.LastIngestedDate
	}
	r.event(ctx, audit.RunPlanned, planPayload(out.RunID, out.Plan))

	out.Result, err = r.execute(ctx, out.RunID, out.Plan)
	if err != nil {
		return out, err
	}

	switch {
	case !opts.Advance:
		log.Info("Backfill completed, watermark untouched")
	case prev != nil && !opts.End.After(prev.LastIngestedDate):
		log.Info("Backfill ends before the stored watermark, watermark untouched",
			"watermark", prev.LastIngestedDate.String())
	default:
		out.Committed, err = r.commit(ctx, *out.Result)
		if err != nil {
			return out, err
		}
	}
	r.event(ctx, audit.RunCompleted, resultPayload(*out.Result))
	return out, nil
}
