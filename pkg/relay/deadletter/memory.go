package deadletter

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory dead-letter store.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
	order   []uuid.UUID // insertion order
	maxSize int
	closed  bool
}

// NewMemoryStore creates an in-memory store holding at most maxSize records.
// A maxSize <= 0 means unbounded.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]Record),
		maxSize: maxSize,
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if _, exists := m.records[rec.ID]; !exists {
		if m.maxSize > 0 && len(m.records) >= m.maxSize {
			return ErrFull
		}
		m.order = append(m.order, rec.ID)
	}

	// Copy args to avoid retaining caller's slice
	rec.Args = slices.Clone(rec.Args)
	m.records[rec.ID] = rec
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}

	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Args = slices.Clone(rec.Args)
	return rec, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	return m.collect(limit, func(Record) bool { return true })
}

// ListByEvent implements Store.
func (m *MemoryStore) ListByEvent(_ context.Context, event string) ([]Record, error) {
	return m.collect(0, func(r Record) bool { return r.Event == event })
}

func (m *MemoryStore) collect(limit int, match func(Record) bool) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]Record, 0)
	for _, id := range m.order {
		rec := m.records[id]
		if !match(rec) {
			continue
		}
		rec.Args = slices.Clone(rec.Args)
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if _, ok := m.records[id]; !ok {
		return nil
	}
	delete(m.records, id)
	m.order = slices.DeleteFunc(m.order, func(o uuid.UUID) bool { return o == id })
	return nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.records), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	m.order = nil
	return nil
}
