package watermark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feegowsync/internal/calendar"
	"feegowsync/internal/config"
)

// exerciseStore checks the contract every backend must honor.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "fresh store must report an absent watermark")

	first := Record{
		LastIngestedDate: calendar.MustParse("2025-04-01"),
		BatchesProcessed: 3,
		Mode:             "INITIAL_LOAD",
		RunID:            "run-1",
		UpdatedAt:        time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Save(ctx, first))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first, *got)

	second := Record{LastIngestedDate: calendar.MustParse("2025-06-30"), Mode: "INCREMENTAL_MERGE"}
	require.NoError(t, s.Save(ctx, second))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, *got)

	err = s.Save(ctx, Record{})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, *got, "a rejected save must leave the previous record")

	require.NoError(t, s.Reset(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline_state", "feegow_state.json")
	s := NewFileStore(path)
	exerciseStore(t, s)
	require.NoError(t, s.Reset(context.Background()), "reset of a missing file is a no-op")
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "state.json"))
	for _, d := range []string{"2025-01-31", "2025-03-02", "2025-04-01"} {
		require.NoError(t, s.Save(context.Background(), Record{LastIngestedDate: calendar.MustParse(d)}))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStoreCorrupt(t *testing.T) {
	tests := map[string]string{
		"not json":     "{last_ingested_date:",
		"missing date": `{"batches_processed": 3}`,
		"bad date":     `{"last_ingested_date": "01/04/2025"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := NewFileStore(path).Load(context.Background())
			var readErr *ReadError
			require.ErrorAs(t, err, &readErr)
			assert.Contains(t, readErr.Error(), path)
		})
	}

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
	_, err := NewFileStore(path).Load(context.Background())
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestFileStoreReadsLegacyKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feegow_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ultima_data_carregada": "2025-04-01"}`), 0o644))

	rec, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calendar.MustParse("2025-04-01"), rec.LastIngestedDate)
}

func TestFileStoreWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := NewFileStore(filepath.Join(blocker, "state.json")).Save(context.Background(),
		Record{LastIngestedDate: calendar.MustParse("2025-04-01")})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, calendar.MustParse("2025-04-01"), writeErr.Record.LastIngestedDate)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(nil))

	s := NewMemoryStore(&Record{LastIngestedDate: calendar.MustParse("2025-04-01")})
	s.SaveErr = errors.New("disk full")
	err := s.Save(context.Background(), Record{LastIngestedDate: calendar.MustParse("2025-05-01")})
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	rec, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calendar.MustParse("2025-04-01"), rec.LastIngestedDate)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	s, err := OpenSQLite(path, "feegow_agenda")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite")
	ctx := context.Background()

	s, err := OpenSQLite(path, "clinic_a")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, Record{LastIngestedDate: calendar.MustParse("2025-04-01")}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, "clinic_a")
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, calendar.MustParse("2025-04-01"), rec.LastIngestedDate)

	other, err := OpenSQLite(path, "clinic_b")
	require.NoError(t, err)
	defer other.Close()
	rec, err = other.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "pipelines sharing a database keep separate watermarks")
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("FEEGOWSYNC_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FEEGOWSYNC_TEST_PG_DSN not set")
	}
	pipeline := "test_" + time.Now().UTC().Format("20060102150405.000000")
	s, err := OpenPostgres(context.Background(), dsn, pipeline)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("FEEGOWSYNC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FEEGOWSYNC_TEST_REDIS_URL not set")
	}
	key := "feegowsync:test:" + time.Now().UTC().Format("20060102150405.000000")
	s, err := OpenRedis(context.Background(), url, key)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Options{Backend: config.StateFile, Path: filepath.Join(dir, "wm.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Options{Backend: config.StateSQLite, Path: filepath.Join(dir, "wm.sqlite"), Pipeline: "p"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Backend: config.StateMemory})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Describe())

	_, err = Open(ctx, Options{Backend: config.StateRedis, URL: "not a url"})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Backend: "etcd"})
	assert.Error(t, err)
}
