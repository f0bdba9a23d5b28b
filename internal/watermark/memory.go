package watermark

import (
	"context"
	"sync"
)

// MemoryStore keeps the record in process memory. Dry runs and tests use it.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Record
	// SaveErr, when set, makes every Save fail with it.
	SaveErr error
}

// NewMemoryStore returns a store seeded with rec, which may be nil.
func NewMemoryStore(rec *Record) *MemoryStore {
	s := &MemoryStore{}
	if rec != nil {
		copied := *rec
		s.rec = &copied
	}
	return s
}

func (s *MemoryStore) Describe() string { return "memory" }

func (s *MemoryStore) Load(_ context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	copied := *s.rec
	return &copied, nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if s.SaveErr != nil {
		return &WriteError{Store: s.Describe(), Record: rec, Err: s.SaveErr}
	}
	if _, err := encodeRecord(rec); err != nil {
		return &WriteError{Store: s.Describe(), Record: rec, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &rec
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
