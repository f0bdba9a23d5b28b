package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"feegowsync/integration/harness"
)

func TestBatchFailureLeavesWatermark(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := harness.MockWorkspace(t)
	runDir := t.TempDir()

	env := map[string]string{"FEEGOWSYNC_ENGINE_FAIL_ON": "2"}
	stdout, stderr, code := harness.RunWithEnv(t, binPath, runDir, []string{"run", "--workspace", workspace, "--as-of", testAsOf}, env)
	if code != 5 {
		t.Fatalf("feegowsync run with failing batch exit code %d, want 5\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stderr, "batch 2/4") {
		t.Fatalf("expected the failing batch in the error:\n%s", stderr)
	}
	if got := readWatermark(t, workspace); got != "" {
		t.Fatalf("failed run wrote watermark %q", got)
	}
	if n := len(engineCalls(t, workspace)); n != 2 {
		t.Fatalf("engine calls = %d, want 2 (stop after the failing batch)", n)
	}
	requireAuditEvents(t, auditPath(workspace), []string{"run_failed"})

	// The retry repeats the same window from the start.
	_, stderr, code = harness.Run(t, binPath, runDir, []string{"run", "--workspace", workspace, "--as-of", testAsOf})
	if code != 0 {
		t.Fatalf("retry exit code %d\nstderr:\n%s", code, stderr)
	}
	calls := engineCalls(t, workspace)
	if len(calls) != 6 || calls[2]["date_start"] != "2025-01-01" {
		t.Fatalf("retry did not restart from the initial window: %v", calls)
	}
	if got := readWatermark(t, workspace); got != "2025-04-15" {
		t.Fatalf("watermark after retry = %q", got)
	}
}

func TestRunRefusedWhileLockHeld(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := harness.MockWorkspace(t)
	runDir := t.TempDir()

	lockPath := filepath.Join(workspace, ".feegowsync", "run.lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		t.Fatalf("create state dir: %v", err)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("take run lock: locked=%v err=%v", locked, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	stdout, stderr, code := harness.Run(t, binPath, runDir, []string{"run", "--workspace", workspace, "--as-of", testAsOf})
	if code != 4 {
		t.Fatalf("feegowsync run under a held lock exit code %d, want 4\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if n := len(engineCalls(t, workspace)); n != 0 {
		t.Fatalf("refused run called the engine %d times", n)
	}
	requireAuditEvents(t, auditPath(workspace), []string{"run_refused"})
}

func TestCorruptWatermark(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := harness.MockWorkspace(t)
	runDir := t.TempDir()

	path := watermarkPath(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create state dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt watermark: %v", err)
	}

	_, stderr, code := harness.Run(t, binPath, runDir, []string{"run", "--workspace", workspace, "--as-of", testAsOf})
	if code != 6 {
		t.Fatalf("run over a corrupt watermark exit code %d, want 6\nstderr:\n%s", code, stderr)
	}
	if n := len(engineCalls(t, workspace)); n != 0 {
		t.Fatalf("engine called %d times despite unreadable state", n)
	}

	_, stderr, code = harness.Run(t, binPath, runDir, []string{"run", "--reset-state", "--workspace", workspace, "--as-of", testAsOf})
	if code != 0 {
		t.Fatalf("run --reset-state exit code %d\nstderr:\n%s", code, stderr)
	}
	if got := readWatermark(t, workspace); got != "2025-04-15" {
		t.Fatalf("watermark after reset run = %q", got)
	}
	requireAuditEvents(t, auditPath(workspace), []string{"state_read_failed", "state_committed"})
}

func TestConfigurationErrors(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := harness.MockWorkspace(t)
	runDir := t.TempDir()

	env := map[string]string{"FEEGOWSYNC_TIMEZONE": "Mars/Olympus_Mons"}
	_, stderr, code := harness.RunWithEnv(t, binPath, runDir, []string{"plan", "--workspace", workspace}, env)
	if code != 2 {
		t.Fatalf("invalid timezone exit code %d, want 2\nstderr:\n%s", code, stderr)
	}

	if err := os.Remove(filepath.Join(workspace, ".env")); err != nil {
		t.Fatalf("remove .env: %v", err)
	}
	env = map[string]string{"FEEGOW_TOKEN": "", "FEEGOWSYNC_CREDENTIALS_FEEGOW_TOKEN": "", "feegow_token": ""}
	_, stderr, code = harness.RunWithEnv(t, binPath, runDir, []string{"run", "--workspace", workspace, "--as-of", testAsOf}, env)
	if code != 2 {
		t.Fatalf("missing token exit code %d, want 2\nstderr:\n%s", code, stderr)
	}
	if !strings.Contains(stderr, "credentials.feegow_token") {
		t.Fatalf("expected the missing key in the error:\n%s", stderr)
	}
}
