package engine

import (
	"fmt"

	"feegowsync/internal/config"
)

// New builds the engine selected by cfg. Credentials are forwarded to the
// engine under the names the original dlt pipeline reads.
func New(cfg config.Engine, creds config.Credentials, workDir string) (Engine, error) {
	switch cfg.Kind {
	case config.EngineCommand:
		env := map[string]string{}
		if creds.FeegowToken != "" {
			env["FEEGOW_TOKEN"] = creds.FeegowToken
		}
		if creds.DestinationDSN != "" {
			env["DESTINATION__CREDENTIALS"] = creds.DestinationDSN
		}
		return &CommandEngine{
			Command: cfg.Command,
			Args:    cfg.Args,
			WorkDir: workDir,
			Env:     env,
			Timeout: cfg.Timeout,
		}, nil
	case config.EngineHTTP:
		return NewHTTPEngine(cfg.URL, creds.FeegowToken, cfg.Timeout), nil
	case config.EngineMock:
		return &MockEngine{FailOn: cfg.FailOn, RecordPath: cfg.RecordPath}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Kind)
	}
}
