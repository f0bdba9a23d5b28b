package planner

import (
	"fmt"

	"feegowsync/internal/engine"
)

// ValidatePlan checks the structural invariants of a plan that came from
// outside the process, e.g. a handoff file.
func ValidatePlan(plan Plan) error {
	if !plan.Mode.Valid() {
		return fmt.Errorf("plan mode %q is not one of %s, %s, %s", plan.Mode, ModeInitialLoad, ModeIncrementalMerge, ModeBackfill)
	}
	if plan.FinalWatermark.IsZero() {
		return fmt.Errorf("plan final_watermark is required")
	}
	if plan.Empty() {
		if plan.Mode != ModeIncrementalMerge {
			return fmt.Errorf("plan in mode %s must include at least one batch", plan.Mode)
		}
		return nil
	}
	for idx, b := range plan.Batches {
		if err := ValidateBatch(b); err != nil {
			return fmt.Errorf("plan batch %d: %w", idx+1, err)
		}
		if idx > 0 && plan.Batches[idx-1].End != b.Start {
			return fmt.Errorf("plan batch %d starts at %s but batch %d ends at %s", idx+1, b.Start, idx, plan.Batches[idx-1].End)
		}
	}
	if last := plan.Batches[len(plan.Batches)-1]; last.End != plan.FinalWatermark {
		return fmt.Errorf("plan final_watermark %s does not match last batch end %s", plan.FinalWatermark, last.End)
	}
	return nil
}

func ValidateBatch(b Batch) error {
	if b.Start.IsZero() || b.End.IsZero() {
		return fmt.Errorf("start and end are required")
	}
	if !b.Start.Before(b.End) {
		return fmt.Errorf("start %s must be before end %s", b.Start, b.End)
	}
	if got := b.Start.DaysUntil(b.End); got != b.SizeDays {
		return fmt.Errorf("size_days is %d but the window spans %d days", b.SizeDays, got)
	}
	if _, err := engine.ParseWriteMode(string(b.WriteMode)); err != nil {
		return err
	}
	return nil
}
