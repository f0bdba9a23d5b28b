// Package planner turns a watermark into a list of date batches and drives
// the extraction engine through them.
package planner

import (
	"fmt"
	"time"

	"feegowsync/internal/calendar"
	"feegowsync/internal/engine"
)

const (
	DefaultLookaheadDays = 90
	DefaultBatchDays     = 30
)

// Planner computes plans. It holds no state and never touches storage, so
// the same inputs always yield the same plan.
type Planner struct {
	LookaheadDays int
	MaxBatchDays  int
}

// Default returns a planner with a 90 day lookahead and 30 day batches.
func Default() Planner {
	return Planner{LookaheadDays: DefaultLookaheadDays, MaxBatchDays: DefaultBatchDays}
}

// New validates the sizes and returns a planner.
func New(lookaheadDays, maxBatchDays int) (Planner, error) {
	if lookaheadDays < 1 {
		return Planner{}, fmt.Errorf("lookahead days must be positive, got %d", lookaheadDays)
	}
	if maxBatchDays < 1 {
		return Planner{}, fmt.Errorf("batch days must be positive, got %d", maxBatchDays)
	}
	return Planner{LookaheadDays: lookaheadDays, MaxBatchDays: maxBatchDays}, nil
}

// Plan computes the batches for a run at now given the last ingested date.
// A nil last means no watermark was ever recorded. Only the calendar date of
// now in its own location is used.
func (p Planner) Plan(now time.Time, last *calendar.Date) Plan {
	p = p.withDefaults()
	today := calendar.DateOf(now)

	if last == nil || last.IsZero() {
		horizon := calendar.Min(today.AddDays(p.LookaheadDays), today.EndOfYear())
		return Plan{
			Mode:           ModeInitialLoad,
			PlannedFor:     today,
			FinalWatermark: horizon,
			Batches:        SplitRange(horizon.StartOfYear(), horizon, p.MaxBatchDays, engine.WriteMerge),
		}
	}

	wm := *last
	plan := Plan{
		Mode:              ModeIncrementalMerge,
		PlannedFor:        today,
		PreviousWatermark: wm,
		// The watermark is carried over unchanged in both branches. The
		// catch-up batch ends at the stored watermark, so the window never
		// moves forward on its own.
		FinalWatermark: wm,
	}
	if today.Before(wm) {
		plan.Batches = []Batch{{
			Start:     today,
			End:       wm,
			SizeDays:  today.DaysUntil(wm),
			WriteMode: engine.WriteMerge,
		}}
	}
	return plan
}

// PlanRange plans an operator replay of [start, end). The final watermark is
// end; callers decide whether to persist it.
func (p Planner) PlanRange(now time.Time, start, end calendar.Date, mode engine.WriteMode) (Plan, error) {
	p = p.withDefaults()
	if start.IsZero() || end.IsZero() {
		return Plan{}, fmt.Errorf("backfill range needs both start and end")
	}
	if !start.Before(end) {
		return Plan{}, fmt.Errorf("backfill start %s must be before end %s", start, end)
	}
	if _, err := engine.ParseWriteMode(string(mode)); err != nil {
		return Plan{}, err
	}
	return Plan{
		Mode:           ModeBackfill,
		PlannedFor:     calendar.DateOf(now),
		FinalWatermark: end,
		Batches:        SplitRange(start, end, p.MaxBatchDays, mode),
	}, nil
}

// SplitRange cuts [start, end) into contiguous batches of at most maxDays.
// The last batch takes the remainder.
func SplitRange(start, end calendar.Date, maxDays int, mode engine.WriteMode) []Batch {
	if maxDays < 1 {
		maxDays = DefaultBatchDays
	}
	var batches []Batch
	for cur := start; cur.Before(end); {
		next := calendar.Min(cur.AddDays(maxDays), end)
		batches = append(batches, Batch{
			Start:     cur,
			End:       next,
			SizeDays:  cur.DaysUntil(next),
			WriteMode: mode,
		})
		cur = next
	}
	return batches
}

func (p Planner) withDefaults() Planner {
	if p.LookaheadDays < 1 {
		p.LookaheadDays = DefaultLookaheadDays
	}
	if p.MaxBatchDays < 1 {
		p.MaxBatchDays = DefaultBatchDays
	}
	return p
}
