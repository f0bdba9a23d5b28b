package runlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgresGuard takes a session-level advisory lock in the warehouse, so
// runs on different hosts loading the same destination exclude each other.
type PostgresGuard struct {
	Name   string
	lockID int64
	db     *sql.DB
}

func OpenPostgresGuard(ctx context.Context, dsn, name string) (*PostgresGuard, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresGuard{Name: name, lockID: lockID(name), db: db}, nil
}

func lockID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

func (g *PostgresGuard) Describe() string {
	return fmt.Sprintf("postgres advisory lock %q", g.Name)
}

// TryAcquire pins a connection for the lifetime of the lock; advisory locks
// belong to the session that took them.
func (g *PostgresGuard) TryAcquire(ctx context.Context) (func() error, error) {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", g.lockID).Scan(&locked); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire advisory lock %q: %w", g.Name, err)
	}
	if !locked {
		conn.Close()
		return nil, fmt.Errorf("%w (advisory lock %q held)", ErrRunInProgress, g.Name)
	}
	return func() error {
		defer conn.Close()
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", g.lockID); err != nil {
			return fmt.Errorf("failed to release advisory lock %q: %w", g.Name, err)
		}
		return nil
	}, nil
}

func (g *PostgresGuard) Close() error {
	return g.db.Close()
}
