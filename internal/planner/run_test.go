package planner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feegowsync/internal/calendar"
	"feegowsync/internal/engine"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) BatchStarted(index, total int, b Batch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("start %d/%d %s", index, total, b.Start))
}

func (o *recordingObserver) BatchFinished(index, total int, b Batch, _ *engine.Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "failed"
	}
	o.events = append(o.events, fmt.Sprintf("finish %d/%d %s %s", index, total, b.Start, status))
}

func TestExecuteRunsEveryBatchInOrder(t *testing.T) {
	plan := Default().Plan(at("2025-01-01"), nil)
	mock := &engine.MockEngine{}
	observer := &recordingObserver{}
	table, err := engine.DefaultTable()
	require.NoError(t, err)

	result, err := Execute(context.Background(), plan, ExecuteOptions{
		Engine:    mock,
		Resources: table,
		RunID:     "run-1",
		Observer:  observer,
	})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, 3, result.BatchesProcessed)
	assert.Equal(t, 3, result.BatchesTotal)
	assert.Equal(t, ModeInitialLoad, result.Mode)
	assert.Equal(t, calendar.MustParse("2025-04-01"), result.FinalWatermark)
	assert.Equal(t, calendar.MustParse("2025-04-01"), result.LastCompleted)
	assert.True(t, result.Committable())

	calls := mock.Calls()
	require.Len(t, calls, 3)
	for i, call := range calls {
		assert.Equal(t, plan.Batches[i].Start, call.DateStart)
		assert.Equal(t, plan.Batches[i].End, call.DateEnd)
		assert.Equal(t, 30, call.DayCount)
		assert.Equal(t, engine.WriteMerge, call.WriteMode)
		assert.Equal(t, i+1, call.Batch)
		assert.Equal(t, 3, call.Batches)
		assert.Equal(t, "run-1", call.RunID)
	}

	agendamentos, ok := lo.Find(calls[0].Resources, func(r engine.Resource) bool { return r.Name == "agendamentos" })
	require.True(t, ok)
	assert.Equal(t, engine.WriteMerge, agendamentos.WriteDisposition)
	assert.Equal(t, []string{"agendamento_id"}, agendamentos.PrimaryKey)

	assert.Equal(t, []string{
		"start 1/3 2025-01-01", "finish 1/3 2025-01-01 ok",
		"start 2/3 2025-01-31", "finish 2/3 2025-01-31 ok",
		"start 3/3 2025-03-02", "finish 3/3 2025-03-02 ok",
	}, observer.events)
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	plan := Default().Plan(at("2025-01-01"), nil)
	mock := &engine.MockEngine{FailOn: 2}

	result, err := Execute(context.Background(), plan, ExecuteOptions{Engine: mock})
	require.Error(t, err)

	var batchErr *BatchExecutionError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 2, batchErr.Index)
	assert.Equal(t, 3, batchErr.Total)
	assert.Equal(t, ModeInitialLoad, batchErr.Mode)
	assert.Equal(t, plan.Batches[1], batchErr.Batch)
	assert.Contains(t, err.Error(), "2025-01-31")
	assert.Contains(t, err.Error(), "2025-03-02")
	assert.Contains(t, err.Error(), "INITIAL_LOAD")

	require.NotNil(t, result)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 1, result.BatchesProcessed)
	assert.Equal(t, calendar.MustParse("2025-01-31"), result.LastCompleted)
	assert.False(t, result.Committable())
	assert.NotEmpty(t, result.Error)
	assert.Len(t, mock.Calls(), 2)
}

func TestExecuteEmptyPlanProcessesNothing(t *testing.T) {
	plan := Default().Plan(at("2025-05-01"), datePtr("2025-04-01"))
	mock := &engine.MockEngine{}

	result, err := Execute(context.Background(), plan, ExecuteOptions{Engine: mock})
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Zero(t, result.BatchesProcessed)
	assert.Equal(t, calendar.MustParse("2025-04-01"), result.FinalWatermark)
	assert.Empty(t, mock.Calls())
}

func TestExecuteCancelledContextFailsBatch(t *testing.T) {
	plan := Default().Plan(at("2025-01-01"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Execute(ctx, plan, ExecuteOptions{Engine: &engine.MockEngine{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	var batchErr *BatchExecutionError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 1, batchErr.Index)
	assert.Zero(t, result.BatchesProcessed)
}

func TestExecuteRequiresEngine(t *testing.T) {
	_, err := Execute(context.Background(), Plan{}, ExecuteOptions{})
	require.Error(t, err)
}

func TestExecutePassesRunArtifactsDir(t *testing.T) {
	dir := t.TempDir()
	plan := Default().Plan(at("2025-02-01"), datePtr("2025-04-01"))
	mock := &engine.MockEngine{}

	_, err := Execute(context.Background(), plan, ExecuteOptions{Engine: mock, RunID: "abc", ArtifactsDir: dir})
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(dir, "runs", "abc"), calls[0].ArtifactsDir)
}
