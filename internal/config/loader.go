package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FEEGOWSYNC"

// Loader reads configuration. The zero value searches the current directory.
type Loader struct {
	configFile string
	envFile    string
	searchDirs []string
	overrides  map[string]any
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigFile reads path instead of searching for feegowsync.yaml.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) {
		l.configFile = path
	}
}

// WithEnvFile loads a dotenv file before reading the environment. A missing
// file is not an error.
func WithEnvFile(path string) LoaderOption {
	return func(l *Loader) {
		l.envFile = path
	}
}

// WithSearchDir adds a directory searched for feegowsync.yaml.
func WithSearchDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.searchDirs = append(l.searchDirs, dir)
	}
}

// WithOverride sets key after every other source, the way command-line
// flags do.
func WithOverride(key string, value any) LoaderOption {
	return func(l *Loader) {
		if l.overrides == nil {
			l.overrides = map[string]any{}
		}
		l.overrides[key] = value
	}
}

// Load builds and validates a Config.
func Load(opts ...LoaderOption) (*Config, error) {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	cfg, err := l.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Load builds and validates a Config.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// Existing environment wins over the file, as python-dotenv does.
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
	} else {
		v.SetConfigName("feegowsync")
		v.SetConfigType("yaml")
		for _, dir := range l.searchDirs {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "feegowsync"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, value := range l.overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline", "feegow_agenda")
	v.SetDefault("timezone", "America/Sao_Paulo")

	v.SetDefault("credentials.feegow_token", "")
	v.SetDefault("credentials.destination_dsn", "")

	v.SetDefault("planner.lookahead_days", 90)
	v.SetDefault("planner.batch_days", 30)

	v.SetDefault("state.backend", StateFile)
	v.SetDefault("state.path", "")
	v.SetDefault("state.dsn", "")
	v.SetDefault("state.url", "")
	v.SetDefault("state.key", "")

	v.SetDefault("engine.kind", EngineCommand)
	v.SetDefault("engine.command", "")
	v.SetDefault("engine.args", []string{})
	v.SetDefault("engine.url", "")
	v.SetDefault("engine.timeout", "2h")
	v.SetDefault("engine.resources", "")
	v.SetDefault("engine.record_path", "")
	v.SetDefault("engine.fail_on", 0)

	v.SetDefault("lock.kind", LockFile)
	v.SetDefault("lock.path", "")
	v.SetDefault("lock.dsn", "")

	v.SetDefault("daemon.schedule", "@daily")
	v.SetDefault("daemon.poll_interval", "1s")
	v.SetDefault("daemon.lease", "20h")
	v.SetDefault("daemon.notify", false)

	v.SetDefault("log.format", "text")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.file", "")
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names the original Airflow deployment exported.
	legacy := map[string][]string{
		"credentials.feegow_token":    {"FEEGOWSYNC_CREDENTIALS_FEEGOW_TOKEN", "FEEGOW_TOKEN", "feegow_token"},
		"credentials.destination_dsn": {"FEEGOWSYNC_CREDENTIALS_DESTINATION_DSN", "DESTINATION__CREDENTIALS"},
	}
	for key, names := range legacy {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}
