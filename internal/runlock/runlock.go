// Package runlock keeps at most one sync run in flight per pipeline.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"feegowsync/internal/config"
)

// ErrRunInProgress means another process holds the run lock.
var ErrRunInProgress = errors.New("another run is in progress")

// Guard serializes runs. TryAcquire never waits: a held lock yields
// ErrRunInProgress. The returned release func is safe to call once.
type Guard interface {
	TryAcquire(ctx context.Context) (release func() error, err error)
	Describe() string
	Close() error
}

// FileGuard uses an exclusive advisory lock on a file. The lock dies with
// the process, so a crashed run never wedges the next one.
type FileGuard struct {
	Path string
}

func NewFileGuard(path string) *FileGuard {
	return &FileGuard{Path: path}
}

func (g *FileGuard) Describe() string {
	return "file:" + g.Path
}

func (g *FileGuard) Close() error {
	return nil
}

func (g *FileGuard) TryAcquire(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(g.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(g.Path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", g.Path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s held)", ErrRunInProgress, g.Path)
	}
	return fl.Unlock, nil
}

// Noop never refuses. Used when an external orchestrator already limits
// active runs.
type Noop struct{}

func (Noop) Describe() string {
	return "none"
}

func (Noop) Close() error {
	return nil
}

func (Noop) TryAcquire(context.Context) (func() error, error) {
	return func() error { return nil }, nil
}

// Options picks a guard implementation.
type Options struct {
	Kind     string
	Path     string
	DSN      string
	Pipeline string
}

// New returns the guard for opts.Kind.
func New(ctx context.Context, opts Options) (Guard, error) {
	switch opts.Kind {
	case "", config.LockFile:
		if opts.Path == "" {
			return nil, &config.ConfigurationError{Key: "lock.path", Reason: "required for file locks"}
		}
		return NewFileGuard(opts.Path), nil
	case config.LockPostgres:
		if opts.DSN == "" {
			return nil, &config.ConfigurationError{Key: "lock.dsn", Reason: "required for postgres locks"}
		}
		return OpenPostgresGuard(ctx, opts.DSN, "feegowsync:"+opts.Pipeline)
	case config.LockNone:
		return Noop{}, nil
	default:
		return nil, &config.ConfigurationError{Key: "lock.kind", Reason: fmt.Sprintf("unknown lock kind %q", opts.Kind)}
	}
}
