package store

import (
	"context"
	"sync"
)

// MemoryStore keeps records in an in-process map, ideal for local development or tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

// NewMemoryStore constructs a store seeded with optional initial records.
func NewMemoryStore(initial map[string]Record) *MemoryStore {
	data := make(map[string]Record, len(initial))
	for path, record := range initial {
		data[path] = clone(record)
	}
	return &MemoryStore{data: data}
}

// Read returns the record stored at path.
func (s *MemoryStore) Read(ctx context.Context, path string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unreachable("read", path, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.data[path]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(record), nil
}

// Write replaces the record stored at path.
func (s *MemoryStore) Write(ctx context.Context, path string, record Record) error {
	if err := ctx.Err(); err != nil {
		return unreachable("write", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[path] = clone(record)
	return nil
}

// Create stores the record unless one already exists at path.
func (s *MemoryStore) Create(ctx context.Context, path string, record Record) error {
	if err := ctx.Err(); err != nil {
		return unreachable("create", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[path]; ok {
		return ErrExists
	}
	s.data[path] = clone(record)
	return nil
}

// Delete removes the record stored at path. Deleting a missing record is not an error.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return unreachable("delete", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, path)
	return nil
}

// Len reports how many records are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func clone(record Record) Record {
	if record == nil {
		return nil
	}
	out := make(Record, len(record))
	copy(out, record)
	return out
}
