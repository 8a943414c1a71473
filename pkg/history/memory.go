package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps the most recent records in memory. When full, the
// record that finished earliest is evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	max     int
	closed  bool
}

// NewMemoryStore creates a store holding at most max records (0 means
// unbounded).
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), max: max}
}

// Store implements Store.
func (m *MemoryStore) Store(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp := *r
	m.records[r.ID] = &cp
	if m.max > 0 {
		for len(m.records) > m.max {
			m.evictOldest()
		}
	}
	return nil
}

func (m *MemoryStore) evictOldest() {
	var oldest *Record
	for _, r := range m.records {
		if oldest == nil || r.EndedAt.Before(oldest.EndedAt) {
			oldest = r
		}
	}
	if oldest != nil {
		delete(m.records, oldest.ID)
	}
}

// Query implements Store.
func (m *MemoryStore) Query(_ context.Context, q *Query) ([]*Record, error) {
	if q == nil {
		q = &Query{}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	matched := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		if q.matches(r) {
			cp := *r
			matched = append(matched, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, q *Query) (int64, error) {
	if q == nil {
		q = &Query{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	var n int64
	for _, r := range m.records {
		if q.matches(r) {
			n++
		}
	}
	return n, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, q *Query) (int64, error) {
	if q == nil {
		q = &Query{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var n int64
	for id, r := range m.records {
		if q.matches(r) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}
