package watermark

import (
	"context"
	"fmt"

	"feegowsync/internal/config"
)

// Options selects and locates a backend. Paths and DSNs are expected to be
// resolved by the caller.
type Options struct {
	Backend  string
	Pipeline string
	Path     string
	DSN      string
	URL      string
	Key      string
}

// Open returns the store selected by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case config.StateFile:
		return NewFileStore(opts.Path), nil
	case config.StateSQLite:
		return OpenSQLite(opts.Path, opts.Pipeline)
	case config.StatePostgres:
		return OpenPostgres(ctx, opts.DSN, opts.Pipeline)
	case config.StateRedis:
		key := opts.Key
		if key == "" {
			key = fmt.Sprintf("feegowsync:%s:watermark", opts.Pipeline)
		}
		return OpenRedis(ctx, opts.URL, key)
	case config.StateMemory:
		return NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}
