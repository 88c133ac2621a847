// Package pebblestore implements store.Store on cockroachdb/pebble.
//
// Cell keys are laid out as
//
//	uvarint(len(row)) | row | family | 0x00 | qualifier
//
// so every cell of a row shares the row prefix and a whole-row delete is a
// single range tombstone.
package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/unkn0wn-root/writebehind/store"
)

type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps all data in a memory-backed filesystem.
	InMemory bool
	// CacheSizeMB sizes the block cache. 0 uses pebble's default.
	CacheSizeMB int64
	// NoSync commits batches without fsync.
	NoSync bool
}

type Store struct {
	db     *pebble.DB
	wo     *pebble.WriteOptions
	closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	opts := &pebble.Options{}
	if cfg.CacheSizeMB > 0 {
		cache := pebble.NewCache(cfg.CacheSizeMB << 20)
		defer cache.Unref()
		opts.Cache = cache
	}
	dir := cfg.Dir
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
		dir = ""
	} else if dir == "" {
		return nil, errors.New("pebblestore: dir is required")
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	wo := pebble.Sync
	if cfg.NoSync {
		wo = pebble.NoSync
	}
	return &Store{db: db, wo: wo}, nil
}

func rowPrefix(row []byte) []byte {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(row)))
	out := make([]byte, 0, n+len(row))
	out = append(out, lenBuf[:n]...)
	return append(out, row...)
}

func cellKey(row []byte, family, qualifier string) []byte {
	k := rowPrefix(row)
	k = append(k, family...)
	k = append(k, 0)
	return append(k, qualifier...)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// splitCell recovers family and qualifier from the part of a key after the row prefix.
func splitCell(rest []byte) (string, string, bool) {
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i]), string(rest[i+1:]), true
		}
	}
	return "", "", false
}

func (s *Store) Get(_ context.Context, row []byte, qualifiers ...string) (store.Result, error) {
	if s.closed.Load() {
		return store.Result{}, store.ErrClosed
	}
	cells := make(map[string][]byte)
	if len(qualifiers) > 0 {
		for _, q := range qualifiers {
			v, closer, err := s.db.Get(cellKey(row, store.Family, q))
			if errors.Is(err, pebble.ErrNotFound) {
				continue
			}
			if err != nil {
				return store.Result{}, err
			}
			cells[store.CellKey(store.Family, q)] = append([]byte(nil), v...)
			_ = closer.Close()
		}
		return store.Result{Cells: cells}, nil
	}

	prefix := rowPrefix(row)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return store.Result{}, err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		fam, q, ok := splitCell(iter.Key()[len(prefix):])
		if !ok {
			continue
		}
		cells[store.CellKey(fam, q)] = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Close(); err != nil {
		return store.Result{}, err
	}
	return store.Result{Cells: cells}, nil
}

func (s *Store) Put(_ context.Context, muts ...store.Mutation) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, m := range muts {
		for _, c := range m.Cells {
			if err := b.Set(cellKey(m.Row, c.Family, c.Qualifier), c.Value, nil); err != nil {
				return err
			}
		}
	}
	return b.Commit(s.wo)
}

func (s *Store) Delete(_ context.Context, muts ...store.Mutation) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, m := range muts {
		if len(m.Cells) == 0 {
			p := rowPrefix(m.Row)
			if err := b.DeleteRange(p, prefixEnd(p), nil); err != nil {
				return err
			}
			continue
		}
		for _, c := range m.Cells {
			if err := b.Delete(cellKey(m.Row, c.Family, c.Qualifier), nil); err != nil {
				return err
			}
		}
	}
	return b.Commit(s.wo)
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
