package harness

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"
)

// commandTimeout bounds a single CLI invocation; a mock run finishes in
// well under a second.
const commandTimeout = 2 * time.Minute

// Run executes feegowsync in workDir and returns stdout, stderr and the exit
// code.
func Run(t *testing.T, binPath, workDir string, args []string) (string, string, int) {
	t.Helper()
	return RunWithEnv(t, binPath, workDir, args, nil)
}

// RunWithEnv is Run with environment overrides layered over the test
// process environment. An empty value still sets the variable, which lets
// tests blank out credentials inherited from the host.
func RunWithEnv(t *testing.T, binPath, workDir string, args []string, env map[string]string) (string, string, int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = overlayEnv(os.Environ(), env)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("feegowsync %s timed out after %s\nstderr:\n%s", strings.Join(args, " "), commandTimeout, stderr.String())
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return stdout.String(), stderr.String(), 0
	case errors.As(err, &exitErr):
		return stdout.String(), stderr.String(), exitErr.ExitCode()
	default:
		t.Fatalf("start %s: %v", binPath, err)
		return "", "", -1
	}
}

func overlayEnv(base []string, overrides map[string]string) []string {
	env := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		key, value, _ := strings.Cut(entry, "=")
		env[key] = value
	}
	maps.Copy(env, overrides)

	merged := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		merged = append(merged, key+"="+env[key])
	}
	return merged
}
