// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"sync"

	"road-state-gateway/internal/data"
)

// MemoryStore keeps records in process memory. It backs the "memory" driver
// and the tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]data.ProcessedRecord
	nextID  int64
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[int64]data.ProcessedRecord),
		nextID:  1,
	}
}

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return storageErr(op, err)
	}
	if s.closed {
		return storageErr(op, errClosed)
	}
	return nil
}

func (s *MemoryStore) Insert(ctx context.Context, f data.RecordFields) (data.ProcessedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "insert"); err != nil {
		return data.ProcessedRecord{}, err
	}
	return s.insertLocked(f), nil
}

func (s *MemoryStore) InsertBatch(ctx context.Context, fs []data.RecordFields) ([]data.ProcessedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "insert batch"); err != nil {
		return nil, err
	}
	out := make([]data.ProcessedRecord, 0, len(fs))
	for _, f := range fs {
		out = append(out, s.insertLocked(f))
	}
	return out, nil
}

func (s *MemoryStore) insertLocked(f data.RecordFields) data.ProcessedRecord {
	rec := data.ProcessedRecord{ID: s.nextID, RecordFields: f}
	s.records[rec.ID] = rec
	s.nextID++
	return rec
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (data.ProcessedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "get"); err != nil {
		return data.ProcessedRecord{}, err
	}
	rec, ok := s.records[id]
	if !ok {
		return data.ProcessedRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]data.ProcessedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "list"); err != nil {
		return nil, err
	}
	// Return a copy so callers never alias the map
	result := make([]data.ProcessedRecord, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, id int64, f data.RecordFields) (data.ProcessedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "update"); err != nil {
		return data.ProcessedRecord{}, err
	}
	if _, ok := s.records[id]; !ok {
		return data.ProcessedRecord{}, ErrNotFound
	}
	rec := data.ProcessedRecord{ID: id, RecordFields: f}
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) (data.ProcessedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "delete"); err != nil {
		return data.ProcessedRecord{}, err
	}
	rec, ok := s.records[id]
	if !ok {
		return data.ProcessedRecord{}, ErrNotFound
	}
	delete(s.records, id)
	return rec, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx, "ping")
}

func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
