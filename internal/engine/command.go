package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CommandEngine shells out to an extraction program, for example the dlt
// pipeline script, once per batch. The request is passed in the environment.
type CommandEngine struct {
	Command string
	Args    []string
	WorkDir string
	Env     map[string]string
	Timeout time.Duration
}

func (e *CommandEngine) Name() string {
	return "command"
}

func (e *CommandEngine) Run(ctx context.Context, req Request) (*Result, error) {
	if e.Command == "" {
		return nil, errors.New("command is required")
	}
	if req.ArtifactsDir == "" {
		return nil, errors.New("artifacts dir is required")
	}

	artifactsDir, err := filepath.Abs(req.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	resourcesPath := filepath.Join(artifactsDir, fmt.Sprintf("batch-%03d.resources.json", req.Batch))
	data, err := json.MarshalIndent(req.Resources, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal resources: %w", err)
	}
	if err := os.WriteFile(resourcesPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write resources: %w", err)
	}

	transcriptPath := filepath.Join(artifactsDir, fmt.Sprintf("batch-%03d.log", req.Batch))
	transcriptFile, err := os.OpenFile(transcriptPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() {
		_ = transcriptFile.Close()
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if e.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.Command, e.Args...)
	cmd.Dir = e.WorkDir
	cmd.Stdout = transcriptFile
	cmd.Stderr = transcriptFile
	cmd.Env = mergeEnv(os.Environ(), requestEnv(req, resourcesPath, e.Env))

	result := &Result{TranscriptPath: transcriptPath}
	if err := cmd.Run(); err != nil {
		result.ExitCode = exitCodeFromError(err)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%s timed out after %s: %w", e.Command, e.Timeout, err)
		}
		return result, fmt.Errorf("%s exited with code %d (see %s): %w", e.Command, result.ExitCode, transcriptPath, err)
	}
	return result, nil
}

func requestEnv(req Request, resourcesPath string, extra map[string]string) map[string]string {
	env := map[string]string{
		"FEEGOWSYNC_RUN_ID":     req.RunID,
		"FEEGOWSYNC_BATCH":      strconv.Itoa(req.Batch),
		"FEEGOWSYNC_BATCHES":    strconv.Itoa(req.Batches),
		"FEEGOWSYNC_DATE_START": req.DateStart.String(),
		"FEEGOWSYNC_DATE_END":   req.DateEnd.String(),
		"FEEGOWSYNC_DAY_COUNT":  strconv.Itoa(req.DayCount),
		"FEEGOWSYNC_WRITE_MODE": string(req.WriteMode),
		"FEEGOWSYNC_RESOURCES":  resourcesPath,
	}
	for key, value := range extra {
		env[key] = value
	}
	return env
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		merged = append(merged, entry)
	}
	for key, value := range overrides {
		merged = append(merged, fmt.Sprintf("%s=%s", key, value))
	}
	return merged
}

func exitCodeFromError(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return 124
	}
	return 1
}
