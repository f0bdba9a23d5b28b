package daemon

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Store manages daemon state in SQLite.
type Store struct {
	DBPath string
	db     *sql.DB
}

// Job represents a queued or running daemon job.
type Job struct {
	ID             string
	Type           string
	Status         string
	ScheduledAt    time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	PayloadJSON    string
	ResultJSON     string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
}

// Open opens or creates the daemon state database.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve daemon db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure daemon db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open daemon db: %w", err)
	}
	// One writer keeps claim transactions from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{
		DBPath: absPath,
		db:     db,
	}

	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS daemon_jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	payload_json TEXT,
	result_json TEXT,
	lease_owner TEXT,
	lease_expires_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_scheduled ON daemon_jobs(status, scheduled_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_type_scheduled ON daemon_jobs(type, scheduled_at);

CREATE TABLE IF NOT EXISTS daemon_kv (
	key TEXT PRIMARY KEY,
	value TEXT
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create daemon schema: %w", err)
	}
	return nil
}

// EnqueueUnique enqueues a job unless one with the same type and scheduled
// time exists. It returns the job ID and whether a new row was inserted.
func (s *Store) EnqueueUnique(ctx context.Context, jobType string, scheduledAt time.Time, payload any) (string, bool, error) {
	jobID := fmt.Sprintf("%s_%s", jobType, scheduledAt.UTC().Format("2006-01-02T15:04:05"))
	return s.insert(ctx, jobID, jobType, scheduledAt, payload)
}

// Enqueue adds an ad hoc job, e.g. one requested from the CLI.
func (s *Store) Enqueue(ctx context.Context, jobType string, scheduledAt time.Time, payload any) (string, error) {
	jobID := fmt.Sprintf("%s_manual_%s", jobType, uuid.NewString()[:8])
	id, _, err := s.insert(ctx, jobID, jobType, scheduledAt, payload)
	return id, err
}

func (s *Store) insert(ctx context.Context, jobID, jobType string, scheduledAt time.Time, payload any) (string, bool, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_jobs (id, type, status, scheduled_at, payload_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, jobID, jobType, StatusQueued, formatTime(scheduledAt), string(payloadJSON))
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	if n == 0 {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			"SELECT id FROM daemon_jobs WHERE type = ? AND scheduled_at = ?",
			jobType, formatTime(scheduledAt),
		).Scan(&existingID)
		if err != nil {
			return "", false, fmt.Errorf("check existing job: %w", err)
		}
		return existingID, false, nil
	}
	return jobID, true, nil
}

// ClaimNext claims the oldest queued job that is due. It returns nil while
// another job holds a live lease, so at most one job runs at a time.
func (s *Store) ClaimNext(ctx context.Context, now time.Time, leaseOwner string, leaseFor time.Duration) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM daemon_jobs
		WHERE status = ? AND lease_expires_at > ?
	`, StatusRunning, formatTime(now)).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("count running jobs: %w", err)
	}
	if active > 0 {
		return nil, nil
	}

	var jobID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM daemon_jobs
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
		LIMIT 1
	`, StatusQueued, formatTime(now)).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE daemon_jobs
		SET status = ?,
		    started_at = ?,
		    lease_owner = ?,
		    lease_expires_at = ?
		WHERE id = ?
	`, StatusRunning, formatTime(now), leaseOwner, formatTime(now.Add(leaseFor)), jobID)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetJob(ctx, jobID)
}

// ReapExpired fails running jobs whose lease ran out, typically because the
// daemon that claimed them died. It returns how many were reaped.
func (s *Store) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	result, _ := json.Marshal(map[string]string{"error": "lease expired"})
	res, err := s.db.ExecContext(ctx, `
		UPDATE daemon_jobs
		SET status = ?, finished_at = ?, result_json = ?
		WHERE status = ? AND lease_expires_at <= ?
	`, StatusFailed, formatTime(now), string(result), StatusRunning, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("reap expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap expired jobs: %w", err)
	}
	return int(n), nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM daemon_jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Succeed marks a job as succeeded.
func (s *Store) Succeed(ctx context.Context, jobID string, result any) error {
	return s.finish(ctx, jobID, StatusSucceeded, result)
}

// Skip marks a job as skipped, e.g. when another process held the run lock.
func (s *Store) Skip(ctx context.Context, jobID string, reason error) error {
	return s.finish(ctx, jobID, StatusSkipped, map[string]string{"reason": reason.Error()})
}

// Fail marks a job as failed.
func (s *Store) Fail(ctx context.Context, jobID string, jobErr error) error {
	return s.finish(ctx, jobID, StatusFailed, map[string]string{"error": jobErr.Error()})
}

func (s *Store) finish(ctx context.Context, jobID, status string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE daemon_jobs
		SET status = ?,
		    finished_at = ?,
		    result_json = ?
		WHERE id = ?
	`, status, formatTime(time.Now()), string(resultJSON), jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM daemon_jobs ORDER BY scheduled_at DESC LIMIT ?`, limit)
}

// ListByStatus returns up to limit jobs with status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM daemon_jobs WHERE status = ? ORDER BY scheduled_at ASC LIMIT ?`,
		status, limit)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

const jobColumns = `id, type, status, scheduled_at, started_at, finished_at,
	payload_json, result_json, lease_owner, lease_expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var scheduledAt string
	var startedAt, finishedAt, leaseExpiresAt sql.NullString
	var payloadJSON, resultJSON, leaseOwner sql.NullString

	err := row.Scan(
		&job.ID, &job.Type, &job.Status, &scheduledAt,
		&startedAt, &finishedAt, &payloadJSON, &resultJSON,
		&leaseOwner, &leaseExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	job.ScheduledAt = parseTime(scheduledAt)
	job.StartedAt = parseNullTime(startedAt)
	job.FinishedAt = parseNullTime(finishedAt)
	job.LeaseExpiresAt = parseNullTime(leaseExpiresAt)
	job.PayloadJSON = payloadJSON.String
	job.ResultJSON = resultJSON.String
	job.LeaseOwner = leaseOwner.String
	return &job, nil
}

// Times are stored as fixed-width UTC strings so SQL string comparison
// orders them chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// GetKV retrieves a value from the key-value store.
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM daemon_kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv: %w", err)
	}
	return value, nil
}

// SetKV sets a value in the key-value store.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set kv: %w", err)
	}
	return nil
}
