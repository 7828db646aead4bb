// Package memory keeps search history in process.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/medprice/internal/history"
)

const defaultCapacity = 1000

// Store is a bounded in-memory history.Store. The oldest rows are dropped
// once capacity is reached.
type Store struct {
	mu       sync.RWMutex
	rows     []history.Row
	capacity int
}

// NewStore returns a Store holding at most capacity rows. Non-positive
// capacities use a default.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{capacity: capacity}
}

// Insert appends rows.
func (s *Store) Insert(_ context.Context, rows []history.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
	if over := len(s.rows) - s.capacity; over > 0 {
		s.rows = append([]history.Row(nil), s.rows[over:]...)
	}
	return nil
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(_ context.Context, limit int) ([]history.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(limit, len(s.rows))
	out := make([]history.Row, 0, max(n, 0))
	for i := len(s.rows) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.rows[i])
	}
	return out, nil
}
