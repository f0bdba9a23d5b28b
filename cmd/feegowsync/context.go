package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"feegowsync/internal/audit"
	"feegowsync/internal/calendar"
	"feegowsync/internal/config"
	"feegowsync/internal/engine"
	"feegowsync/internal/logger"
	"feegowsync/internal/pipeline"
	"feegowsync/internal/planner"
	"feegowsync/internal/runlock"
	"feegowsync/internal/watermark"
	"feegowsync/internal/workspace"
)

// Context holds what every command needs once flags are parsed.
type Context struct {
	context.Context

	Command   *cobra.Command
	Config    *config.Config
	Workspace *workspace.Workspace
	Audit     *audit.Logger

	logFile *os.File
}

// NewContext resolves the workspace, loads configuration and sets up the
// logger.
func NewContext(cmd *cobra.Command) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	root, _ := cmd.Flags().GetString(workspaceFlag.name)
	ws, err := workspace.Resolve(root)
	if err != nil {
		return nil, err
	}

	envFile, _ := cmd.Flags().GetString(envFileFlag.name)
	if envFile == "" {
		envFile = ws.EnvFile
	} else if envFile, err = ws.ResolvePath(envFile, ws.EnvFile); err != nil {
		return nil, err
	}

	loaderOpts := []config.LoaderOption{
		config.WithEnvFile(envFile),
		config.WithSearchDir(ws.Root),
	}
	if cfgPath, _ := cmd.Flags().GetString(configFlag.name); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	if debug, _ := cmd.Flags().GetBool(debugFlag.name); debug {
		loaderOpts = append(loaderOpts, config.WithOverride("log.debug", true))
	}
	if format, _ := cmd.Flags().GetString(logFormatFlag.name); format != "" {
		loaderOpts = append(loaderOpts, config.WithOverride("log.format", format))
	}

	cfg, err := config.Load(loaderOpts...)
	if err != nil {
		return nil, err
	}
	if err := ws.EnsureDirs(); err != nil {
		return nil, err
	}

	c := &Context{
		Context:   ctx,
		Command:   cmd,
		Config:    cfg,
		Workspace: ws,
		Audit:     audit.NewLogger(ws.AuditDBPath),
	}

	logPath, err := ws.ResolvePath(cfg.Log.File, filepath.Join(ws.LogDir, appName+".log"))
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	c.logFile = f

	quiet, _ := cmd.Flags().GetBool(quietFlag.name)
	opts := []logger.Option{logger.WithFormat(cfg.Log.Format), logger.WithWriter(f)}
	if cfg.Log.Debug {
		opts = append(opts, logger.WithDebug())
	}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	c.Context = logger.WithLogger(ctx, logger.NewLogger(opts...))

	logger.FromContext(c).Debug("Configuration loaded",
		"workspace", ws.Root,
		"config_file", cfg.ConfigFile,
		"pipeline", cfg.Pipeline,
		"state", cfg.State.Backend,
		"engine", cfg.Engine.Kind,
		"lock", cfg.Lock.Kind,
	)
	return c, nil
}

// Close releases the log file.
func (c *Context) Close() {
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
}

// NewCommand attaches flags to cmd and runs runFunc with a prepared Context.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(c *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		c, err := NewContext(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := runFunc(c, args); err != nil {
			logger.FromContext(c).Error("Command failed", "command", cmd.CommandPath(), "error", err)
			return err
		}
		return nil
	}
	return cmd
}

// NewRunner builds a runner from the configuration. The returned cleanup
// closes the store and the lock connection.
func (c *Context) NewRunner(actor string) (*pipeline.Runner, func(), error) {
	cfg := c.Config
	ws := c.Workspace

	p, err := planner.New(cfg.Planner.LookaheadDays, cfg.Planner.BatchDays)
	if err != nil {
		return nil, nil, &config.ConfigurationError{Key: "planner", Reason: err.Error()}
	}

	store, err := c.openStore()
	if err != nil {
		return nil, nil, err
	}

	resources, err := c.loadResources()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	engineCfg := cfg.Engine
	if engineCfg.RecordPath != "" {
		if engineCfg.RecordPath, err = ws.ResolvePath(engineCfg.RecordPath, ""); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}
	eng, err := engine.New(engineCfg, cfg.Credentials, ws.Root)
	if err != nil {
		_ = store.Close()
		return nil, nil, &config.ConfigurationError{Key: "engine.kind", Reason: err.Error()}
	}

	lockPath, err := ws.ResolvePath(cfg.Lock.Path, ws.LockPath)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	guard, err := runlock.New(c, runlock.Options{
		Kind:     cfg.Lock.Kind,
		Path:     lockPath,
		DSN:      cfg.PostgresDSN(cfg.Lock.DSN),
		Pipeline: cfg.Pipeline,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	runner := &pipeline.Runner{
		Store:        store,
		Engine:       eng,
		Planner:      p,
		Resources:    resources,
		Guard:        guard,
		Audit:        c.Audit,
		Actor:        actor,
		ArtifactsDir: ws.ArtifactsDir,
		Location:     cfg.Location,
	}
	if asOf, err := c.asOf(); err != nil {
		_ = guard.Close()
		_ = store.Close()
		return nil, nil, err
	} else if asOf != nil {
		runner.Now = asOf
	}

	cleanup := func() {
		if err := guard.Close(); err != nil {
			logger.FromContext(c).Warn("Failed to close run lock", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.FromContext(c).Warn("Failed to close watermark store", "error", err)
		}
	}
	return runner, cleanup, nil
}

func (c *Context) openStore() (watermark.Store, error) {
	cfg := c.Config
	ws := c.Workspace

	opts := watermark.Options{
		Backend:  cfg.State.Backend,
		Pipeline: cfg.Pipeline,
		DSN:      cfg.PostgresDSN(cfg.State.DSN),
		URL:      cfg.State.URL,
		Key:      cfg.State.Key,
	}
	var err error
	switch cfg.State.Backend {
	case config.StateFile:
		opts.Path, err = ws.ResolvePath(cfg.State.Path, ws.WatermarkPath)
	case config.StateSQLite:
		opts.Path, err = ws.ResolvePath(cfg.State.Path, ws.StateDBPath)
	}
	if err != nil {
		return nil, err
	}

	store, err := watermark.Open(c, opts)
	if err != nil {
		return nil, fmt.Errorf("open watermark store: %w", err)
	}
	return store, nil
}

func (c *Context) loadResources() (*engine.Table, error) {
	path, err := c.Workspace.ResolvePath(c.Config.Engine.Resources, "")
	if err != nil {
		return nil, err
	}
	table, err := engine.LoadTable(path)
	if err != nil {
		return nil, &config.ConfigurationError{Key: "engine.resources", Reason: err.Error()}
	}
	return table, nil
}

// asOf returns a clock pinned to --as-of at the current wall time, or nil
// when the flag is absent or not defined on the command.
func (c *Context) asOf() (func() time.Time, error) {
	flag := c.Command.Flags().Lookup(asOfFlag.name)
	if flag == nil || flag.Value.String() == "" {
		return nil, nil
	}
	date, err := calendar.Parse(flag.Value.String())
	if err != nil {
		return nil, fmt.Errorf("--as-of: %w", err)
	}
	loc := c.Config.Location
	return func() time.Time {
		now := time.Now().In(loc)
		return time.Date(date.Year, date.Month, date.Day,
			now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), loc)
	}, nil
}

// requireEngine fails early when the engine cannot be handed credentials.
func (c *Context) requireEngine() error {
	return c.Config.RequireCredentials()
}
