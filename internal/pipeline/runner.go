// Package pipeline wires the watermark store, the planner and the engine
// into the sync use cases: a scheduled run, an operator backfill and the
// split plan / execute / commit handoff.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"feegowsync/internal/audit"
	"feegowsync/internal/calendar"
	"feegowsync/internal/engine"
	"feegowsync/internal/logger"
	"feegowsync/internal/planner"
	"feegowsync/internal/runlock"
	"feegowsync/internal/watermark"
)

// Runner holds the collaborators of a sync run. Store and Engine are
// required; everything else has a usable zero value.
type Runner struct {
	Store     watermark.Store
	Engine    engine.Engine
	Planner   planner.Planner
	Resources *engine.Table
	Guard     runlock.Guard
	Audit     *audit.Logger
	// Actor is recorded on audit events, e.g. "cli" or "daemon".
	Actor        string
	ArtifactsDir string
	Location     *time.Location
	Now          func() time.Time
	NewRunID     func() string
}

// RunOptions tunes a single run.
type RunOptions struct {
	// ResetState treats an unreadable watermark as absent and starts over
	// with an initial load. Without it a read error aborts the run.
	ResetState bool
	// RunID overrides the generated run ID.
	RunID string
}

// Outcome describes what a run did, whether or not it succeeded.
type Outcome struct {
	RunID     string
	Plan      planner.Plan
	Result    *planner.RunResult
	Committed *watermark.Record
}

// Run executes one sync: acquire the run lock, load the watermark, plan,
// execute every batch and save the new watermark. The watermark is written
// only after all batches succeeded.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Outcome, error) {
	out := &Outcome{RunID: r.runID(opts.RunID)}
	ctx = logger.WithValues(ctx, "run_id", out.RunID)
	log := logger.FromContext(ctx)

	release, err := r.acquire(ctx, out.RunID)
	if err != nil {
		return out, err
	}
	defer r.release(ctx, release)

	prev, err := r.loadWatermark(ctx, out.RunID, opts.ResetState)
	if err != nil {
		return out, err
	}

	now := r.now()
	out.Plan = r.Planner.Plan(now, lastDate(prev))
	log.Info("Planned run",
		"mode", out.Plan.Mode,
		"today", out.Plan.PlannedFor.String(),
		"watermark", out.Plan.PreviousWatermark.String(),
		"batches", len(out.Plan.Batches),
		"final_watermark", out.Plan.FinalWatermark.String(),
	)
	r.event(ctx, audit.RunPlanned, planPayload(out.RunID, out.Plan))

	return r.executeAndCommit(ctx, out)
}

// ExecutePlan runs an externally supplied plan without committing it. The
// result is the input of Commit.
func (r *Runner) ExecutePlan(ctx context.Context, plan planner.Plan, runID string) (*Outcome, error) {
	out := &Outcome{RunID: r.runID(runID), Plan: plan}
	ctx = logger.WithValues(ctx, "run_id", out.RunID)

	release, err := r.acquire(ctx, out.RunID)
	if err != nil {
		return out, err
	}
	defer r.release(ctx, release)

	out.Result, err = r.execute(ctx, out.RunID, plan)
	return out, err
}

// PlanNext loads the watermark and returns the plan a run would execute now.
func (r *Runner) PlanNext(ctx context.Context, resetState bool) (planner.Plan, error) {
	prev, err := r.loadWatermark(ctx, "", resetState)
	if err != nil {
		return planner.Plan{}, err
	}
	return r.Planner.Plan(r.now(), lastDate(prev)), nil
}

func (r *Runner) executeAndCommit(ctx context.Context, out *Outcome) (*Outcome, error) {
	var err error
	out.Result, err = r.execute(ctx, out.RunID, out.Plan)
	if err != nil {
		return out, err
	}

	out.Committed, err = r.commit(ctx, *out.Result)
	if err != nil {
		return out, err
	}
	r.event(ctx, audit.RunCompleted, resultPayload(*out.Result))
	return out, nil
}

func (r *Runner) execute(ctx context.Context, runID string, plan planner.Plan) (*planner.RunResult, error) {
	if r.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	r.event(ctx, audit.RunStarted, map[string]any{
		"run_id":  runID,
		"mode":    string(plan.Mode),
		"batches": len(plan.Batches),
		"engine":  r.Engine.Name(),
	})

	result, err := planner.Execute(ctx, plan, planner.ExecuteOptions{
		Engine:       r.Engine,
		Resources:    r.Resources,
		RunID:        runID,
		ArtifactsDir: r.ArtifactsDir,
		Observer:     &auditObserver{runner: r, ctx: ctx, runID: runID},
		Now:          r.Now,
	})
	if err != nil {
		logger.FromContext(ctx).Error("Run failed", "error", err)
		payload := map[string]any{"run_id": runID, "mode": string(plan.Mode), "error": err.Error()}
		var batchErr *planner.BatchExecutionError
		if errors.As(err, &batchErr) {
			payload["batch"] = batchErr.Index
			payload["batch_start"] = batchErr.Batch.Start.String()
			payload["batch_end"] = batchErr.Batch.End.String()
		}
		r.event(ctx, audit.RunFailed, payload)
		return result, err
	}
	return result, nil
}

func (r *Runner) acquire(ctx context.Context, runID string) (func() error, error) {
	guard := r.Guard
	if guard == nil {
		guard = runlock.Noop{}
	}
	release, err := guard.TryAcquire(ctx)
	if err != nil {
		if errors.Is(err, runlock.ErrRunInProgress) {
			logger.FromContext(ctx).Warn("Run refused", "lock", guard.Describe())
			r.event(ctx, audit.RunRefused, map[string]any{"run_id": runID, "lock": guard.Describe()})
		}
		return nil, err
	}
	return release, nil
}

func (r *Runner) release(ctx context.Context, release func() error) {
	if err := release(); err != nil {
		logger.FromContext(ctx).Warn("Failed to release run lock", "error", err)
	}
}

// loadWatermark reads the stored record. A read error is fatal unless the
// caller asked to reset, in which case the run proceeds as a first run.
func (r *Runner) loadWatermark(ctx context.Context, runID string, resetState bool) (*watermark.Record, error) {
	rec, err := r.Store.Load(ctx)
	if err == nil {
		return rec, nil
	}

	payload := map[string]any{"run_id": runID, "store": r.Store.Describe(), "error": err.Error(), "reset": resetState}
	r.event(ctx, audit.StateReadFailed, payload)

	var readErr *watermark.ReadError
	if resetState && errors.As(err, &readErr) {
		logger.FromContext(ctx).Warn("Watermark unreadable, starting over with an initial load",
			"store", r.Store.Describe(), "error", err)
		return nil, nil
	}
	return nil, err
}

func (r *Runner) event(ctx context.Context, eventType string, payload any) {
	if r.Audit == nil {
		return
	}
	if err := r.Audit.LogEvent(r.actor(), eventType, payload); err != nil {
		logger.FromContext(ctx).Debug("Audit write failed", "type", eventType, "error", err)
	}
}

func (r *Runner) actor() string {
	if r.Actor == "" {
		return "cli"
	}
	return r.Actor
}

func (r *Runner) now() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	t := now()
	if r.Location != nil {
		t = t.In(r.Location)
	}
	return t
}

func (r *Runner) runID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if r.NewRunID != nil {
		return r.NewRunID()
	}
	return uuid.NewString()
}

func lastDate(rec *watermark.Record) *calendar.Date {
	if rec == nil {
		return nil
	}
	d := rec.LastIngestedDate
	return &d
}

func planPayload(runID string, plan planner.Plan) map[string]any {
	return map[string]any{
		"run_id":             runID,
		"mode":               string(plan.Mode),
		"planned_for":        plan.PlannedFor.String(),
		"previous_watermark": plan.PreviousWatermark.String(),
		"final_watermark":    plan.FinalWatermark.String(),
		"batches":            len(plan.Batches),
		"days":               plan.TotalDays(),
	}
}

func resultPayload(result planner.RunResult) map[string]any {
	return map[string]any{
		"run_id":            result.RunID,
		"mode":              string(result.Mode),
		"state":             string(result.State),
		"batches_processed": result.BatchesProcessed,
		"final_watermark":   result.FinalWatermark.String(),
	}
}
