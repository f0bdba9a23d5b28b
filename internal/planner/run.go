package planner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"feegowsync/internal/engine"
	"feegowsync/internal/logger"
)

type ExecuteOptions struct {
	Engine engine.Engine
	// Resources is bound to each batch's write mode. Nil sends no table.
	Resources *engine.Table
	RunID     string
	// ArtifactsDir is where engines leave transcripts, one subdirectory
	// per run.
	ArtifactsDir string
	Observer     Observer
	Now          func() time.Time
}

// Observer is told about batch progress. Implementations must not block.
type Observer interface {
	BatchStarted(index, total int, b Batch)
	BatchFinished(index, total int, b Batch, res *engine.Result, err error)
}

// BatchExecutionError reports the batch that aborted a run. Batches before
// it were written by the engine; it and everything after were not.
type BatchExecutionError struct {
	Index int
	Total int
	Batch Batch
	Mode  Mode
	Err   error
}

func (e *BatchExecutionError) Error() string {
	return fmt.Sprintf("batch %d/%d %s (mode %s, write %s) failed: %v",
		e.Index, e.Total, e.Batch, e.Mode, e.Batch.WriteMode, e.Err)
}

func (e *BatchExecutionError) Unwrap() error {
	return e.Err
}

// Execute runs the plan's batches in order and stops at the first failure.
// It never persists the watermark; a COMPLETED result is the caller's cue
// to commit FinalWatermark.
func Execute(ctx context.Context, plan Plan, opts ExecuteOptions) (*RunResult, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := logger.FromContext(ctx)

	result := &RunResult{
		RunID:             opts.RunID,
		Mode:              plan.Mode,
		State:             StatePlanning,
		BatchesTotal:      len(plan.Batches),
		PreviousWatermark: plan.PreviousWatermark,
		FinalWatermark:    plan.FinalWatermark,
		StartedAt:         now().UTC(),
	}

	var resources []engine.Resource
	runDir := ""
	if opts.ArtifactsDir != "" {
		runDir = filepath.Join(opts.ArtifactsDir, "runs", opts.RunID)
	}

	if plan.Empty() {
		log.Info("Nothing to ingest", "mode", plan.Mode, "watermark", plan.FinalWatermark.String())
		result.State = StateCompleted
		result.EndedAt = now().UTC()
		return result, nil
	}

	result.State = StateExecuting
	total := len(plan.Batches)
	for idx, b := range plan.Batches {
		n := idx + 1
		if err := ctx.Err(); err != nil {
			return fail(result, now, &BatchExecutionError{Index: n, Total: total, Batch: b, Mode: plan.Mode, Err: err})
		}
		if opts.Resources != nil {
			resources = opts.Resources.Bind(b.WriteMode)
		}

		log.Info(fmt.Sprintf("Batch %d/%d", n, total),
			"start", b.Start.String(),
			"end", b.End.String(),
			"days", b.SizeDays,
			"write_mode", string(b.WriteMode),
		)
		if opts.Observer != nil {
			opts.Observer.BatchStarted(n, total, b)
		}

		res, err := opts.Engine.Run(ctx, engine.Request{
			RunID:        opts.RunID,
			Batch:        n,
			Batches:      total,
			DateStart:    b.Start,
			DateEnd:      b.End,
			DayCount:     b.SizeDays,
			WriteMode:    b.WriteMode,
			Resources:    resources,
			ArtifactsDir: runDir,
		})
		if opts.Observer != nil {
			opts.Observer.BatchFinished(n, total, b, res, err)
		}
		if err != nil {
			return fail(result, now, &BatchExecutionError{Index: n, Total: total, Batch: b, Mode: plan.Mode, Err: err})
		}

		result.BatchesProcessed = n
		result.LastCompleted = b.End
	}

	result.State = StateCompleted
	result.EndedAt = now().UTC()
	log.Info("Run completed",
		"mode", plan.Mode,
		"batches", result.BatchesProcessed,
		"final_watermark", result.FinalWatermark.String(),
	)
	return result, nil
}

func fail(result *RunResult, now func() time.Time, err *BatchExecutionError) (*RunResult, error) {
	result.State = StateFailed
	result.Error = err.Error()
	result.EndedAt = now().UTC()
	return result, err
}
