package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feegowsync/internal/calendar"
	"feegowsync/internal/config"
)

func sampleRequest(t *testing.T) Request {
	t.Helper()
	table, err := DefaultTable()
	require.NoError(t, err)
	return Request{
		RunID:        "run-1",
		Batch:        2,
		Batches:      3,
		DateStart:    calendar.MustParse("2025-01-31"),
		DateEnd:      calendar.MustParse("2025-03-02"),
		DayCount:     30,
		WriteMode:    WriteMerge,
		Resources:    table.Bind(WriteMerge),
		ArtifactsDir: t.TempDir(),
	}
}

func TestParseWriteMode(t *testing.T) {
	for _, s := range []string{"append", "MERGE", " replace "} {
		_, err := ParseWriteMode(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseWriteMode("upsert")
	assert.Error(t, err)
}

func TestDefaultTable(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	assert.Len(t, table.Resources, 12)
	assert.Equal(t, "https://api.feegow.com/v1/api/", table.Client.BaseURL)
	assert.Equal(t, []int{404, 409}, table.Client.IgnoreStatus)
	assert.Equal(t, "agendamentos", table.Names()[0])
}

func TestBindAppliesWriteModeToDateWindowedResources(t *testing.T) {
	table, err := DefaultTable()
	require.NoError(t, err)

	merged := table.Bind(WriteMerge)
	assert.Equal(t, WriteMerge, merged[0].WriteDisposition)
	assert.Equal(t, []string{"agendamento_id"}, merged[0].PrimaryKey)

	appended := table.Bind(WriteAppend)
	assert.Equal(t, WriteAppend, appended[0].WriteDisposition)
	assert.Nil(t, appended[0].PrimaryKey)

	for _, r := range appended[1:] {
		assert.Equal(t, WriteReplace, r.WriteDisposition, r.Name)
		assert.NotEmpty(t, r.PrimaryKey, r.Name)
	}
	// The table itself is not modified.
	assert.Empty(t, table.Resources[0].WriteDisposition)
}

func TestLoadTableRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"duplicate": "resources:\n  - {name: a, path: x, write_disposition: replace}\n  - {name: a, path: y, write_disposition: replace}\n",
		"bad mode":  "resources:\n  - {name: a, path: x, write_disposition: upsert}\n",
		"empty":     "resources: []\n",
		"windowed":  "resources:\n  - {name: a, path: x, date_windowed: true, write_disposition: merge}\n",
		"no path":   "resources:\n  - {name: a, write_disposition: replace}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadTable(path)
			assert.Error(t, err)
		})
	}
}

func TestMockEngineRecordsAndFails(t *testing.T) {
	record := filepath.Join(t.TempDir(), "calls.jsonl")
	m := &MockEngine{FailOn: 2, RecordPath: record}
	req := sampleRequest(t)

	_, err := m.Run(context.Background(), req)
	require.NoError(t, err)
	_, err = m.Run(context.Background(), req)
	require.Error(t, err)
	assert.Len(t, m.Calls(), 2)

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var decoded Request
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, req.DateStart, decoded.DateStart)
	assert.Equal(t, WriteMerge, decoded.WriteMode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Run(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommandEnginePassesRequestInEnvironment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	req := sampleRequest(t)
	out := filepath.Join(t.TempDir(), "env.txt")
	e := &CommandEngine{
		Command: "/bin/sh",
		Args:    []string{"-c", `printf '%s|%s|%s|%s|%s\n' "$FEEGOWSYNC_DATE_START" "$FEEGOWSYNC_DAY_COUNT" "$FEEGOWSYNC_WRITE_MODE" "$FEEGOW_TOKEN" "$FEEGOWSYNC_DATE_END" > "$OUT"; echo extracted`},
		Env:     map[string]string{"FEEGOW_TOKEN": "tok", "OUT": out},
	}

	res, err := e.Run(context.Background(), req)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-31|30|merge|tok|2025-03-02\n", string(data))

	transcript, err := os.ReadFile(res.TranscriptPath)
	require.NoError(t, err)
	assert.Contains(t, string(transcript), "extracted")

	resources, err := os.ReadFile(filepath.Join(req.ArtifactsDir, "batch-002.resources.json"))
	require.NoError(t, err)
	assert.Contains(t, string(resources), "agendamento_id")
}

func TestCommandEngineFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	e := &CommandEngine{Command: "/bin/sh", Args: []string{"-c", "echo boom >&2; exit 3"}}

	res, err := e.Run(context.Background(), sampleRequest(t))
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "exited with code 3")
}

func TestHTTPEngine(t *testing.T) {
	var got Request
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Access-Token")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		if got.Batch == 99 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, "tok", 0)
	req := sampleRequest(t)
	_, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, req.DateEnd, got.DateEnd)
	assert.Equal(t, 30, got.DayCount)

	req.Batch = 99
	res, err := e.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, res.ExitCode)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestNewFromConfig(t *testing.T) {
	creds := config.Credentials{FeegowToken: "tok", DestinationDSN: "postgresql://dw"}

	e, err := New(config.Engine{Kind: config.EngineCommand, Command: "python"}, creds, "/srv")
	require.NoError(t, err)
	cmd := e.(*CommandEngine)
	assert.Equal(t, "tok", cmd.Env["FEEGOW_TOKEN"])
	assert.Equal(t, "postgresql://dw", cmd.Env["DESTINATION__CREDENTIALS"])

	e, err = New(config.Engine{Kind: config.EngineMock, FailOn: 2}, creds, "")
	require.NoError(t, err)
	assert.Equal(t, "mock", e.Name())

	e, err = New(config.Engine{Kind: config.EngineHTTP, URL: "http://runner"}, creds, "")
	require.NoError(t, err)
	assert.Equal(t, "http", e.Name())

	_, err = New(config.Engine{Kind: "spark"}, creds, "")
	assert.Error(t, err)
}

func TestMergeEnvOverridesByKey(t *testing.T) {
	base := []string{"PATH=/usr/bin", "FEEGOW_TOKEN=old", "EMPTY=", "DSN=host=db user=x"}
	merged := mergeEnv(base, map[string]string{"FEEGOW_TOKEN": "new", "DSN": "host=warehouse"})

	assert.ElementsMatch(t, []string{
		"PATH=/usr/bin",
		"EMPTY=",
		"FEEGOW_TOKEN=new",
		"DSN=host=warehouse",
	}, merged)
	assert.Equal(t, base, mergeEnv(base, nil))
}
