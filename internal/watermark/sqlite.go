package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per pipeline in a local SQLite database.
type SQLiteStore struct {
	DBPath   string
	Pipeline string
	db       *sql.DB
}

// OpenSQLite opens or creates the state database at path.
func OpenSQLite(path, pipeline string) (*SQLiteStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	store := &SQLiteStore{
		DBPath:   absPath,
		Pipeline: pipeline,
		db:       db,
	}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS watermarks (
	pipeline TEXT PRIMARY KEY,
	last_ingested_date TEXT NOT NULL,
	record_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Describe() string {
	return fmt.Sprintf("sqlite:%s#%s", s.DBPath, s.Pipeline)
}

func (s *SQLiteStore) Load(ctx context.Context) (*Record, error) {
	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT record_json FROM watermarks WHERE pipeline = ?", s.Pipeline,
	).Scan(&recordJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &ReadError{Store: s.Describe(), Err: err}
	}
	rec, err := decodeRecord([]byte(recordJSON))
	if err != nil {
		return nil, &ReadError{Store: s.Describe(), Err: err}
	}
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return &WriteError{Store: s.Describe(), Record: rec, Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO watermarks (pipeline, last_ingested_date, record_json, updated_at)
		VALUES (?, ?, ?, ?)
	`, s.Pipeline, rec.LastIngestedDate.String(), string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &WriteError{Store: s.Describe(), Record: rec, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM watermarks WHERE pipeline = ?", s.Pipeline); err != nil {
		return fmt.Errorf("delete watermark: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
