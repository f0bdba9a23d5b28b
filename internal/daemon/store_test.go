package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "daemon.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnqueueUniqueDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	at := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)

	id, created, err := store.EnqueueUnique(ctx, JobSync, at, map[string]any{"scheduled_time": at.Format(time.RFC3339)})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "sync_2025-01-02T03:00:00", id)

	again, created, err := store.EnqueueUnique(ctx, JobSync, at, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	jobs, err := store.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusQueued, jobs[0].Status)
	assert.True(t, at.Equal(jobs[0].ScheduledAt))
}

func TestClaimNextAllowsOneRunningJob(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)

	_, _, err := store.EnqueueUnique(ctx, JobSync, now.Add(-2*time.Minute), nil)
	require.NoError(t, err)
	_, _, err = store.EnqueueUnique(ctx, JobSync, now.Add(-time.Minute), nil)
	require.NoError(t, err)
	_, _, err = store.EnqueueUnique(ctx, JobSync, now.Add(time.Hour), nil)
	require.NoError(t, err)

	first, err := store.ClaimNext(ctx, now, "owner-a", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, StatusRunning, first.Status)
	assert.Equal(t, "owner-a", first.LeaseOwner)
	require.NotNil(t, first.LeaseExpiresAt)
	assert.True(t, now.Add(time.Hour).Equal(*first.LeaseExpiresAt))

	blocked, err := store.ClaimNext(ctx, now, "owner-b", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, blocked, "a live lease must block further claims")

	require.NoError(t, store.Succeed(ctx, first.ID, map[string]any{"ok": true}))

	second, err := store.ClaimNext(ctx, now, "owner-b", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)
	require.NoError(t, store.Fail(ctx, second.ID, errors.New("boom")))

	none, err := store.ClaimNext(ctx, now, "owner-b", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, none, "future jobs are not due")

	done, err := store.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.JSONEq(t, `{"error":"boom"}`, done.ResultJSON)
	require.NotNil(t, done.FinishedAt)
}

func TestReapExpiredReleasesDeadLease(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)

	_, _, err := store.EnqueueUnique(ctx, JobSync, now.Add(-time.Hour), nil)
	require.NoError(t, err)
	_, _, err = store.EnqueueUnique(ctx, JobSync, now.Add(-time.Minute), nil)
	require.NoError(t, err)

	stale, err := store.ClaimNext(ctx, now.Add(-30*time.Minute), "dead", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, stale)

	n, err := store.ReapExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reaped, err := store.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, reaped.Status)

	next, err := store.ClaimNext(ctx, now, "alive", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, next)

	running, err := store.ListByStatus(ctx, StatusRunning, 10)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, next.ID, running[0].ID)
}

func TestSkipAndManualEnqueue(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now()

	id, err := store.Enqueue(ctx, JobBackfill, now, BackfillPayload{Start: "2025-01-01", End: "2025-02-01"})
	require.NoError(t, err)
	assert.Contains(t, id, "backfill_manual_")

	job, err := store.ClaimNext(ctx, now.Add(time.Second), "owner", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.JSONEq(t, `{"start":"2025-01-01","end":"2025-02-01"}`, job.PayloadJSON)

	require.NoError(t, store.Skip(ctx, job.ID, errors.New("lock held")))
	skipped, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, skipped.Status)

	_, err = store.GetJob(ctx, "missing")
	require.Error(t, err)
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	value, err := store.GetKV(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.SetKV(ctx, "k", "v1"))
	require.NoError(t, store.SetKV(ctx, "k", "v2"))
	value, err = store.GetKV(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)
}
