package planner

import (
	"fmt"
	"time"

	"feegowsync/internal/calendar"
	"feegowsync/internal/engine"
)

// Mode classifies a run.
type Mode string

const (
	// ModeInitialLoad is the first run: no watermark exists yet.
	ModeInitialLoad Mode = "INITIAL_LOAD"
	// ModeIncrementalMerge is every run after a watermark was recorded.
	ModeIncrementalMerge Mode = "INCREMENTAL_MERGE"
	// ModeBackfill is an operator replay of an explicit date range.
	ModeBackfill Mode = "BACKFILL"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeInitialLoad, ModeIncrementalMerge, ModeBackfill:
		return true
	}
	return false
}

// Batch is a half-open date window [Start, End) handed to the engine in one
// invocation.
type Batch struct {
	Start     calendar.Date    `json:"start"`
	End       calendar.Date    `json:"end"`
	SizeDays  int              `json:"size_days"`
	WriteMode engine.WriteMode `json:"write_mode"`
}

func (b Batch) String() string {
	return fmt.Sprintf("[%s, %s) %d days", b.Start, b.End, b.SizeDays)
}

// Plan is the ordered list of batches for one run together with the
// watermark to persist once every batch has succeeded.
type Plan struct {
	Mode              Mode          `json:"mode"`
	PlannedFor        calendar.Date `json:"planned_for"`
	PreviousWatermark calendar.Date `json:"previous_watermark,omitzero"`
	FinalWatermark    calendar.Date `json:"final_watermark"`
	Batches           []Batch       `json:"batches"`
}

// Empty reports whether there is nothing to ingest.
func (p Plan) Empty() bool {
	return len(p.Batches) == 0
}

// TotalDays sums the size of every batch.
func (p Plan) TotalDays() int {
	total := 0
	for _, b := range p.Batches {
		total += b.SizeDays
	}
	return total
}

// State is the lifecycle of a run.
type State string

const (
	StatePlanning  State = "PLANNING"
	StateExecuting State = "EXECUTING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// RunResult is what the coordinator reports back. It is only a candidate
// for commit: nothing is persisted until the caller saves FinalWatermark.
type RunResult struct {
	RunID             string        `json:"run_id,omitempty"`
	Mode              Mode          `json:"mode"`
	State             State         `json:"state"`
	BatchesProcessed  int           `json:"batches_processed"`
	BatchesTotal      int           `json:"batches_total"`
	PreviousWatermark calendar.Date `json:"previous_watermark,omitzero"`
	FinalWatermark    calendar.Date `json:"final_watermark"`
	LastCompleted     calendar.Date `json:"last_completed,omitzero"`
	Error             string        `json:"error,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           time.Time     `json:"ended_at,omitzero"`
}

// Committable reports whether the result may advance the watermark.
func (r RunResult) Committable() bool {
	return r.State == StateCompleted && r.BatchesProcessed == r.BatchesTotal
}
