// Package engine is the boundary to the extraction/load engine that pulls
// rows from the Feegow API and writes them to the warehouse. feegowsync
// never paginates the API or merges rows itself; it only tells the engine
// which date window to fetch and how the destination should reconcile it.
package engine

import (
	"context"
	"fmt"
	"strings"

	"feegowsync/internal/calendar"
)

// WriteMode determines how the destination reconciles incoming rows.
type WriteMode string

const (
	// WriteAppend inserts rows without deduplication.
	WriteAppend WriteMode = "append"
	// WriteMerge upserts rows by primary key and is safe to re-run.
	WriteMerge WriteMode = "merge"
	// WriteReplace overwrites the destination table.
	WriteReplace WriteMode = "replace"
)

// ParseWriteMode validates s.
func ParseWriteMode(s string) (WriteMode, error) {
	switch m := WriteMode(strings.ToLower(strings.TrimSpace(s))); m {
	case WriteAppend, WriteMerge, WriteReplace:
		return m, nil
	default:
		return "", fmt.Errorf("unknown write mode %q (want append, merge or replace)", s)
	}
}

// Request is one invocation of the engine: a date window and a write mode.
type Request struct {
	RunID     string        `json:"run_id,omitempty"`
	Batch     int           `json:"batch"`
	Batches   int           `json:"batches"`
	DateStart calendar.Date `json:"date_start"`
	DateEnd   calendar.Date `json:"date_end"`
	DayCount  int           `json:"day_count"`
	WriteMode WriteMode     `json:"write_mode"`
	Resources []Resource    `json:"resources,omitempty"`

	// ArtifactsDir receives transcripts; engines that write nothing ignore it.
	ArtifactsDir string `json:"-"`
}

// Result captures what an engine left behind for one request.
type Result struct {
	ExitCode       int
	TranscriptPath string
}

// Engine runs one request to completion. A returned error means the batch
// failed and nothing about its rows may be assumed.
type Engine interface {
	Name() string
	Run(ctx context.Context, req Request) (*Result, error)
}
