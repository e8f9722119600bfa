package store

import (
	"context"
	"sort"
	"sync"

	"qworker/internal/declaration"
)

// MemoryStore is an in-memory Store. It backs tests and database-less
// deployments; contents do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[string][]declaration.Row
	keys   map[string]map[string]struct{}
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string][]declaration.Row),
		keys: make(map[string]map[string]struct{}),
	}
}

// InsertBatch inserts rows not already present for the taxpayer.
func (s *MemoryStore) InsertBatch(ctx context.Context, tin string, rows []declaration.Row) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	existing, ok := s.keys[tin]
	if !ok {
		existing = make(map[string]struct{})
		s.keys[tin] = existing
	}

	inserted := 0
	for _, row := range rows {
		key := row.CoreKey()
		if _, dup := existing[key]; dup {
			continue
		}
		existing[key] = struct{}{}
		s.rows[tin] = append(s.rows[tin], row)
		inserted++
	}
	return inserted, nil
}

// RowsForTaxpayer returns a copy of the taxpayer's history ordered by date
// ascending, ties broken by invoice number for determinism.
func (s *MemoryStore) RowsForTaxpayer(ctx context.Context, tin string) ([]declaration.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]declaration.Row, len(s.rows[tin]))
	copy(out, s.rows[tin])
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].InvoiceNumber < out[j].InvoiceNumber
	})
	return out, nil
}

// Taxpayers returns every taxpayer id with at least one stored row.
func (s *MemoryStore) Taxpayers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	tins := make([]string, 0, len(s.rows))
	for tin, rows := range s.rows {
		if len(rows) > 0 {
			tins = append(tins, tin)
		}
	}
	sort.Strings(tins)
	return tins, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
