package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MockEngine is a deterministic, offline engine for tests and dry runs. It
// records every request and can be told to fail on the n-th call.
type MockEngine struct {
	// FailOn is the 1-based call that fails; zero never fails.
	FailOn int
	// RecordPath, when set, receives one JSON line per request.
	RecordPath string

	mu    sync.Mutex
	calls []Request
}

func (m *MockEngine) Name() string {
	return "mock"
}

func (m *MockEngine) Run(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, req)
	n := len(m.calls)
	m.mu.Unlock()

	if m.RecordPath != "" {
		if err := appendJSONLine(m.RecordPath, req); err != nil {
			return nil, err
		}
	}
	if m.FailOn > 0 && n == m.FailOn {
		return &Result{ExitCode: 1}, fmt.Errorf("mock engine: induced failure on call %d", n)
	}
	return &Result{}, nil
}

// Calls returns a copy of the recorded requests.
func (m *MockEngine) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

func appendJSONLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open record file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record file: %w", err)
	}
	return nil
}
