// Package watermark persists the last date through which appointments have
// been ingested. A Store is read once before planning and written once after
// a run completes; every backend replaces the record in a single atomic step
// so a reader never observes a partial write.
package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"feegowsync/internal/calendar"
)

// Record is the persisted form of the watermark.
type Record struct {
	LastIngestedDate calendar.Date `json:"last_ingested_date"`
	BatchesProcessed int           `json:"batches_processed,omitempty"`
	Mode             string        `json:"mode,omitempty"`
	RunID            string        `json:"run_id,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at,omitzero"`
}

// Store loads and saves the watermark record of one pipeline.
type Store interface {
	// Load returns nil and no error when no watermark has been saved yet.
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec Record) error
	// Reset removes the record so the next run starts with an initial load.
	// It is an operator action, never part of a normal run.
	Reset(ctx context.Context) error
	// Describe names the backend and location for logs and errors.
	Describe() string
	Close() error
}

// ErrCorrupt marks a stored record that cannot be decoded.
var ErrCorrupt = errors.New("watermark record is corrupt")

// ReadError reports an unreadable or corrupt watermark. Callers must not
// fall back to an initial load unless an operator asked for it.
type ReadError struct {
	Store string
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read watermark from %s: %v", e.Store, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports a failed save. Rows for the run were already loaded
// but the window did not advance.
type WriteError struct {
	Store  string
	Record Record
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("save watermark %s to %s: %v", e.Record.LastIngestedDate, e.Store, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// storedRecord also accepts the key written by the original Python pipeline.
type storedRecord struct {
	Record
	LegacyDate calendar.Date `json:"ultima_data_carregada"`
}

func decodeRecord(data []byte) (*Record, error) {
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rec := stored.Record
	if rec.LastIngestedDate.IsZero() {
		rec.LastIngestedDate = stored.LegacyDate
	}
	if rec.LastIngestedDate.IsZero() {
		return nil, fmt.Errorf("%w: last_ingested_date is missing", ErrCorrupt)
	}
	return &rec, nil
}

func encodeRecord(rec Record) ([]byte, error) {
	if rec.LastIngestedDate.IsZero() {
		return nil, errors.New("last_ingested_date is required")
	}
	return json.Marshal(rec)
}
