// Package config loads feegowsync settings from defaults, a YAML file, a
// .env file and FEEGOWSYNC_* environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Config is the resolved configuration of one feegowsync process.
type Config struct {
	// Pipeline names the watermark record; several pipelines may share a store.
	Pipeline    string      `mapstructure:"pipeline"`
	TimeZone    string      `mapstructure:"timezone"`
	Credentials Credentials `mapstructure:"credentials"`
	Planner     Planner     `mapstructure:"planner"`
	State       State       `mapstructure:"state"`
	Engine      Engine      `mapstructure:"engine"`
	Lock        Lock        `mapstructure:"lock"`
	Daemon      Daemon      `mapstructure:"daemon"`
	Log         Log         `mapstructure:"log"`

	// Location is TimeZone resolved by Validate.
	Location *time.Location `mapstructure:"-"`
	// ConfigFile is the file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

// Credentials are handed to the extraction engine and never inspected.
type Credentials struct {
	FeegowToken    string `mapstructure:"feegow_token"`
	DestinationDSN string `mapstructure:"destination_dsn"`
}

type Planner struct {
	LookaheadDays int `mapstructure:"lookahead_days"`
	BatchDays     int `mapstructure:"batch_days"`
}

// State selects the watermark backend.
type State struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	URL     string `mapstructure:"url"`
	Key     string `mapstructure:"key"`
}

// Engine selects how batches are handed to the extraction/load engine.
type Engine struct {
	Kind      string        `mapstructure:"kind"`
	Command   string        `mapstructure:"command"`
	Args      []string      `mapstructure:"args"`
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Resources string        `mapstructure:"resources"`
	// RecordPath and FailOn only apply to the mock engine.
	RecordPath string `mapstructure:"record_path"`
	FailOn     int    `mapstructure:"fail_on"`
}

type Lock struct {
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

type Daemon struct {
	Schedule     string        `mapstructure:"schedule"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Lease        time.Duration `mapstructure:"lease"`
	Notify       bool          `mapstructure:"notify"`
}

type Log struct {
	Format string `mapstructure:"format"`
	Debug  bool   `mapstructure:"debug"`
	File   string `mapstructure:"file"`
}

const (
	StateFile     = "file"
	StateSQLite   = "sqlite"
	StatePostgres = "postgres"
	StateRedis    = "redis"
	StateMemory   = "memory"

	EngineCommand = "command"
	EngineHTTP    = "http"
	EngineMock    = "mock"

	LockFile     = "file"
	LockPostgres = "postgres"
	LockNone     = "none"
)

// ConfigurationError reports a missing or invalid setting. It is raised
// before any planning happens.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// Validate checks the settings that every command depends on and resolves
// the time zone.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pipeline) == "" {
		return &ConfigurationError{Key: "pipeline", Reason: "must not be empty"}
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return &ConfigurationError{Key: "timezone", Reason: err.Error()}
	}
	c.Location = loc

	if c.Planner.LookaheadDays <= 0 {
		return &ConfigurationError{Key: "planner.lookahead_days", Reason: "must be positive"}
	}
	if c.Planner.BatchDays <= 0 {
		return &ConfigurationError{Key: "planner.batch_days", Reason: "must be positive"}
	}

	switch c.State.Backend {
	case StateFile, StateSQLite, StateMemory:
	case StatePostgres:
		if c.State.DSN == "" && c.Credentials.DestinationDSN == "" {
			return &ConfigurationError{Key: "state.dsn", Reason: "required for the postgres backend"}
		}
	case StateRedis:
		if c.State.URL == "" {
			return &ConfigurationError{Key: "state.url", Reason: "required for the redis backend"}
		}
	default:
		return &ConfigurationError{Key: "state.backend", Reason: fmt.Sprintf("unknown backend %q", c.State.Backend)}
	}

	switch c.Engine.Kind {
	case EngineCommand:
		if c.Engine.Command == "" {
			return &ConfigurationError{Key: "engine.command", Reason: "required for the command engine"}
		}
	case EngineHTTP:
		if c.Engine.URL == "" {
			return &ConfigurationError{Key: "engine.url", Reason: "required for the http engine"}
		}
	case EngineMock:
	default:
		return &ConfigurationError{Key: "engine.kind", Reason: fmt.Sprintf("unknown engine %q", c.Engine.Kind)}
	}

	if !slices.Contains([]string{LockFile, LockPostgres, LockNone}, c.Lock.Kind) {
		return &ConfigurationError{Key: "lock.kind", Reason: fmt.Sprintf("unknown lock %q", c.Lock.Kind)}
	}
	if c.Lock.Kind == LockPostgres && c.PostgresDSN(c.Lock.DSN) == "" {
		return &ConfigurationError{Key: "lock.dsn", Reason: "required for the postgres lock"}
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return &ConfigurationError{Key: "log.format", Reason: "must be text or json"}
	}
	return nil
}

// RequireCredentials fails when the Feegow API token is missing. Commands
// that invoke the engine call it before planning.
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.Credentials.FeegowToken) == "" {
		return &ConfigurationError{
			Key:    "credentials.feegow_token",
			Reason: "token not found; set FEEGOW_TOKEN or feegow_token in .env",
		}
	}
	return nil
}

// PostgresDSN returns explicit when set, else the destination DSN, so the
// warehouse connection can double as state or lock storage.
func (c *Config) PostgresDSN(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return c.Credentials.DestinationDSN
}
