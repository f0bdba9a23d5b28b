package pipeline

import (
	"context"

	"feegowsync/internal/audit"
	"feegowsync/internal/engine"
	"feegowsync/internal/planner"
)

// auditObserver records batch progress in the audit trail.
type auditObserver struct {
	runner *Runner
	ctx    context.Context
	runID  string
}

func (o *auditObserver) BatchStarted(index, total int, b planner.Batch) {
	o.runner.event(o.ctx, audit.BatchStarted, batchPayload(o.runID, index, total, b))
}

func (o *auditObserver) BatchFinished(index, total int, b planner.Batch, res *engine.Result, err error) {
	payload := batchPayload(o.runID, index, total, b)
	if res != nil {
		payload["exit_code"] = res.ExitCode
		if res.TranscriptPath != "" {
			payload["transcript"] = res.TranscriptPath
		}
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	o.runner.event(o.ctx, audit.BatchFinished, payload)
}

func batchPayload(runID string, index, total int, b planner.Batch) map[string]any {
	return map[string]any{
		"run_id":     runID,
		"batch":      index,
		"batches":    total,
		"start":      b.Start.String(),
		"end":        b.End.String(),
		"days":       b.SizeDays,
		"write_mode": string(b.WriteMode),
	}
}
