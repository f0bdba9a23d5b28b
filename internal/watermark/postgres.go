package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgresStore keeps the record in the warehouse next to the loaded data,
// so the watermark lives and dies with the dataset it describes.
type PostgresStore struct {
	Pipeline string
	db       *sql.DB
}

// OpenPostgres connects with dsn and creates the state table when missing.
func OpenPostgres(ctx context.Context, dsn, pipeline string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &PostgresStore{Pipeline: pipeline, db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS feegowsync_watermarks (
	pipeline TEXT PRIMARY KEY,
	last_ingested_date DATE NOT NULL,
	record JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Describe() string {
	return "postgres:feegowsync_watermarks#" + s.Pipeline
}

func (s *PostgresStore) Load(ctx context.Context) (*Record, error) {
	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT record::text FROM feegowsync_watermarks WHERE pipeline = $1", s.Pipeline,
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

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return &WriteError{Store: s.Describe(), Record: rec, Err: err}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feegowsync_watermarks (pipeline, last_ingested_date, record, updated_at)
		VALUES ($1, $2::date, $3::jsonb, now())
		ON CONFLICT (pipeline) DO UPDATE
		SET last_ingested_date = EXCLUDED.last_ingested_date,
		    record = EXCLUDED.record,
		    updated_at = EXCLUDED.updated_at
	`, s.Pipeline, rec.LastIngestedDate.String(), string(data))
	if err != nil {
		return &WriteError{Store: s.Describe(), Record: rec, Err: err}
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM feegowsync_watermarks WHERE pipeline = $1", s.Pipeline); err != nil {
		return fmt.Errorf("delete watermark: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
