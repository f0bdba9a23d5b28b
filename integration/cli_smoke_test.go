package integration_test

import (
	"strings"
	"testing"

	"feegowsync/integration/harness"
)

const testAsOf = "2025-01-15"

func TestCLISmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := harness.MockWorkspace(t)
	runDir := t.TempDir()

	stdout, stderr, code := harness.Run(t, binPath, runDir, []string{"--help"})
	if code != 0 {
		t.Fatalf("feegowsync --help exit code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout+stderr, "keeps a warehouse in sync") {
		t.Fatalf("expected help output to include header\nstdout:\n%s\nstderr:\n%s", stdout, stderr)
	}

	stdout, stderr, code = harness.Run(t, binPath, runDir, []string{"plan", "--workspace", workspace, "--as-of", testAsOf})
	if code != 0 {
		t.Fatalf("feegowsync plan exit code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "INITIAL_LOAD") || !strings.Contains(stdout, "Batches (4, 104 days)") {
		t.Fatalf("unexpected initial plan:\n%s", stdout)
	}
	if got := readWatermark(t, workspace); got != "" {
		t.Fatalf("plan must not write the watermark, found %s", got)
	}

	stdout, stderr, code = harness.Run(t, binPath, runDir, []string{"run", "--workspace", workspace, "--as-of", testAsOf})
	if code != 0 {
		t.Fatalf("feegowsync run exit code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if got := readWatermark(t, workspace); got != "2025-04-15" {
		t.Fatalf("watermark after initial load = %q, want 2025-04-15", got)
	}

	calls := engineCalls(t, workspace)
	if len(calls) != 4 {
		t.Fatalf("engine calls = %d, want 4", len(calls))
	}
	wantStarts := []string{"2025-01-01", "2025-01-31", "2025-03-02", "2025-04-01"}
	for i, call := range calls {
		if call["date_start"] != wantStarts[i] {
			t.Fatalf("call %d date_start = %v, want %s", i+1, call["date_start"], wantStarts[i])
		}
		if call["write_mode"] != "merge" {
			t.Fatalf("call %d write_mode = %v, want merge", i+1, call["write_mode"])
		}
	}
	if calls[3]["day_count"] != float64(14) {
		t.Fatalf("last call day_count = %v, want 14", calls[3]["day_count"])
	}

	requireAuditEvents(t, auditPath(workspace), []string{
		"run_planned",
		"run_started",
		"batch_started",
		"batch_finished",
		"state_committed",
		"run_completed",
	})

	// Caught up: nothing to ingest and the record stays as it is.
	stdout, stderr, code = harness.Run(t, binPath, runDir, []string{"run", "--workspace", workspace, "--as-of", "2025-04-15"})
	if code != 0 {
		t.Fatalf("feegowsync run (caught up) exit code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if n := len(engineCalls(t, workspace)); n != 4 {
		t.Fatalf("caught-up run must not call the engine, calls = %d", n)
	}

	stdout, stderr, code = harness.Run(t, binPath, runDir, []string{"state", "show", "--workspace", workspace})
	if code != 0 {
		t.Fatalf("feegowsync state show exit code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "Watermark: 2025-04-15") || !strings.Contains(stdout, "INITIAL_LOAD") {
		t.Fatalf("unexpected state show output:\n%s", stdout)
	}

	stdout, stderr, code = harness.Run(t, binPath, runDir, []string{"history", "--workspace", workspace, "--type", "state_committed"})
	if code != 0 {
		t.Fatalf("feegowsync history exit code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "state_committed") || !strings.Contains(stdout, "2025-04-15") {
		t.Fatalf("unexpected history output:\n%s", stdout)
	}
}

func TestStateAdministration(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := harness.MockWorkspace(t)
	runDir := t.TempDir()

	stdout, stderr, code := harness.Run(t, binPath, runDir, []string{"state", "set", "2025-02-01", "--workspace", workspace})
	if code != 0 {
		t.Fatalf("feegowsync state set exit code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, `+  "last_ingested_date": "2025-02-01"`) {
		t.Fatalf("expected a diff adding the new date:\n%s", stdout)
	}
	if got := readWatermark(t, workspace); got != "2025-02-01" {
		t.Fatalf("watermark after state set = %q", got)
	}

	_, _, code = harness.Run(t, binPath, runDir, []string{"state", "reset", "--workspace", workspace})
	if code == 0 {
		t.Fatalf("state reset without --yes must fail")
	}
	_, stderr, code = harness.Run(t, binPath, runDir, []string{"state", "reset", "--yes", "--workspace", workspace})
	if code != 0 {
		t.Fatalf("feegowsync state reset exit code %d\nstderr:\n%s", code, stderr)
	}
	if got := readWatermark(t, workspace); got != "" {
		t.Fatalf("watermark after reset = %q", got)
	}
	requireAuditEvents(t, auditPath(workspace), []string{"state_set", "state_reset"})
}

func TestResourcesAndVersion(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := harness.MockWorkspace(t)
	runDir := t.TempDir()

	stdout, stderr, code := harness.Run(t, binPath, runDir, []string{"resources", "--workspace", workspace, "--format", "names"})
	if code != 0 {
		t.Fatalf("feegowsync resources exit code %d\nstdout:\n%s\nstderr:\n%s", code, stdout, stderr)
	}
	if !strings.Contains(stdout, "agendamentos") {
		t.Fatalf("resource names missing agendamentos:\n%s", stdout)
	}

	stdout, _, code = harness.Run(t, binPath, runDir, []string{"version"})
	if code != 0 || strings.TrimSpace(stdout) == "" {
		t.Fatalf("feegowsync version exit code %d output %q", code, stdout)
	}
}
