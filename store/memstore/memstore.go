// Package memstore is an in-memory store.Store. It keeps no history and is
// intended for development setups and tests.
package memstore

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/writebehind/store"
)

type Store struct {
	mu     sync.RWMutex
	rows   map[string]map[string][]byte
	closed bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{rows: make(map[string]map[string][]byte)}
}

func (s *Store) Get(_ context.Context, row []byte, qualifiers ...string) (store.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.Result{}, store.ErrClosed
	}
	cells, ok := s.rows[string(row)]
	if !ok {
		return store.Result{}, nil
	}
	out := make(map[string][]byte, len(cells))
	if len(qualifiers) == 0 {
		for k, v := range cells {
			out[k] = append([]byte(nil), v...)
		}
		return store.Result{Cells: out}, nil
	}
	for _, q := range qualifiers {
		k := store.CellKey(store.Family, q)
		if v, ok := cells[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return store.Result{Cells: out}, nil
}

func (s *Store) Put(_ context.Context, muts ...store.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	for _, m := range muts {
		cells, ok := s.rows[string(m.Row)]
		if !ok {
			cells = make(map[string][]byte, len(m.Cells))
			s.rows[string(m.Row)] = cells
		}
		for _, c := range m.Cells {
			cells[store.CellKey(c.Family, c.Qualifier)] = append([]byte(nil), c.Value...)
		}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, muts ...store.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	for _, m := range muts {
		if len(m.Cells) == 0 {
			delete(s.rows, string(m.Row))
			continue
		}
		cells, ok := s.rows[string(m.Row)]
		if !ok {
			continue
		}
		for _, c := range m.Cells {
			delete(cells, store.CellKey(c.Family, c.Qualifier))
		}
		if len(cells) == 0 {
			delete(s.rows, string(m.Row))
		}
	}
	return nil
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
