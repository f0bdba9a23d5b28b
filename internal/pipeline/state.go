package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"feegowsync/internal/audit"
	"feegowsync/internal/calendar"
	"feegowsync/internal/watermark"
)

// ShowState returns the stored record, or nil when there is none.
func (r *Runner) ShowState(ctx context.Context) (*watermark.Record, error) {
	return r.Store.Load(ctx)
}

// SetState overwrites the watermark with date and returns a unified diff
// of the record before and after. An unreadable record is replaced.
func (r *Runner) SetState(ctx context.Context, date calendar.Date) (string, error) {
	if date.IsZero() {
		return "", fmt.Errorf("watermark date is required")
	}
	release, err := r.acquire(ctx, "")
	if err != nil {
		return "", err
	}
	defer r.release(ctx, release)

	before, loadErr := r.Store.Load(ctx)
	next := watermark.Record{
		LastIngestedDate: date,
		Mode:             "MANUAL",
		UpdatedAt:        r.now().UTC(),
	}
	if err := r.Store.Save(ctx, next); err != nil {
		return "", err
	}

	beforeText := "(none)\n"
	switch {
	case loadErr != nil:
		beforeText = fmt.Sprintf("(unreadable: %v)\n", loadErr)
	case before != nil:
		beforeText = renderRecord(*before)
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(beforeText),
		B:        difflib.SplitLines(renderRecord(next)),
		FromFile: r.Store.Describe() + " (before)",
		ToFile:   r.Store.Describe() + " (after)",
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("diff watermark: %w", err)
	}

	r.event(ctx, audit.StateSet, map[string]any{
		"store":     r.Store.Describe(),
		"watermark": date.String(),
	})
	return diff, nil
}

// ResetState deletes the watermark so the next run is an initial load.
func (r *Runner) ResetState(ctx context.Context) error {
	release, err := r.acquire(ctx, "")
	if err != nil {
		return err
	}
	defer r.release(ctx, release)

	if err := r.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset %s: %w", r.Store.Describe(), err)
	}
	r.event(ctx, audit.StateReset, map[string]any{"store": r.Store.Describe()})
	return nil
}

func renderRecord(rec watermark.Record) string {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v\n", rec)
	}
	return string(data) + "\n"
}
