package integration_test

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func auditPath(workspace string) string {
	return filepath.Join(workspace, ".feegowsync", "audit.sqlite")
}

func watermarkPath(workspace string) string {
	return filepath.Join(workspace, ".feegowsync", "pipeline_state", "feegow_state.json")
}

func loadAuditTypes(t *testing.T, dbPath string) map[string]int {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.Query("SELECT type, COUNT(*) FROM events GROUP BY type")
	if err != nil {
		t.Fatalf("query audit events: %v", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	types := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			t.Fatalf("scan audit event: %v", err)
		}
		types[eventType] = count
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate audit events: %v", err)
	}
	return types
}

func requireAuditEvents(t *testing.T, dbPath string, want []string) {
	t.Helper()
	types := loadAuditTypes(t, dbPath)
	for _, eventType := range want {
		if types[eventType] == 0 {
			t.Fatalf("missing audit event %s in %s (have %v)", eventType, dbPath, types)
		}
	}
}

// readWatermark returns the stored last_ingested_date, or "" when the file
// store holds no record.
func readWatermark(t *testing.T, workspace string) string {
	t.Helper()
	data, err := os.ReadFile(watermarkPath(workspace))
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	var rec struct {
		LastIngestedDate string `json:"last_ingested_date"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("decode watermark %s: %v", data, err)
	}
	return rec.LastIngestedDate
}

// engineCalls returns the requests the mock engine recorded, one JSON
// object per line.
func engineCalls(t *testing.T, workspace string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(workspace, "artifacts", "engine-calls.jsonl"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read engine calls: %v", err)
	}
	var calls []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var call map[string]any
		if err := json.Unmarshal([]byte(line), &call); err != nil {
			t.Fatalf("decode engine call %q: %v", line, err)
		}
		calls = append(calls, call)
	}
	return calls
}
