// Package storetest holds behavioural checks shared by store.Store
// implementations.
package storetest

import (
	"bytes"
	"context"
	"testing"

	"github.com/unkn0wn-root/writebehind/store"
)

// Run exercises s. The store must be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, s) })
	t.Run("DeleteColumns", func(t *testing.T) { testDeleteColumns(t, s) })
	t.Run("DeleteRow", func(t *testing.T) { testDeleteRow(t, s) })
	t.Run("BatchIdempotent", func(t *testing.T) { testIdempotent(t, s) })
	t.Run("RowPrefixIsolation", func(t *testing.T) { testPrefixIsolation(t, s) })
}

func mustGet(t *testing.T, s store.Store, row string, qs ...string) store.Result {
	t.Helper()
	r, err := s.Get(context.Background(), []byte(row), qs...)
	if err != nil {
		t.Fatalf("Get(%q): %v", row, err)
	}
	return r
}

func testPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	row := []byte("pg")
	err := s.Put(ctx,
		store.NewPut(row, store.Family, store.ColType, []byte("zset")),
		store.NewPut(row, store.Family, store.ColExpire, []byte{0, 0, 0, 0, 0, 0, 0, 9}),
	)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	r := mustGet(t, s, "pg")
	if got := r.Value(store.Family, store.ColType); !bytes.Equal(got, []byte("zset")) {
		t.Fatalf("type cell=%q", got)
	}
	if len(r.Cells) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(r.Cells))
	}
	r = mustGet(t, s, "pg", store.ColType)
	if len(r.Cells) != 1 || r.Value(store.Family, store.ColExpire) != nil {
		t.Fatalf("qualifier filter returned %v", r.Cells)
	}
	if !mustGet(t, s, "missing").Empty() {
		t.Fatalf("missing row should be empty")
	}
}

func testDeleteColumns(t *testing.T, s store.Store) {
	ctx := context.Background()
	row := []byte("dc")
	_ = s.Put(ctx, store.Mutation{Row: row, Cells: []store.Cell{
		{Family: store.Family, Qualifier: store.ColType, Value: []byte("hash")},
		{Family: store.Family, Qualifier: store.ColExpire, Value: []byte("x")},
	}})
	if err := s.Delete(ctx, store.NewDeleteColumns(row, store.Family, store.ColExpire)); err != nil {
		t.Fatalf("Delete columns: %v", err)
	}
	r := mustGet(t, s, "dc")
	if r.Value(store.Family, store.ColExpire) != nil {
		t.Fatalf("expire cell should be gone")
	}
	if r.Value(store.Family, store.ColType) == nil {
		t.Fatalf("type cell should remain")
	}
}

func testDeleteRow(t *testing.T, s store.Store) {
	ctx := context.Background()
	row := []byte("dr")
	_ = s.Put(ctx, store.NewPut(row, store.Family, store.ColType, []byte("set")))
	if err := s.Delete(ctx, store.NewDeleteRow(row)); err != nil {
		t.Fatalf("Delete row: %v", err)
	}
	if !mustGet(t, s, "dr").Empty() {
		t.Fatalf("row should be gone")
	}
	// deleting a missing row is fine
	if err := s.Delete(ctx, store.NewDeleteRow(row)); err != nil {
		t.Fatalf("Delete missing row: %v", err)
	}
}

func testIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	puts := []store.Mutation{
		store.NewPut([]byte("i1"), store.Family, store.ColType, []byte("string")),
		store.NewPut([]byte("i2"), store.Family, store.ColType, []byte("list")),
	}
	dels := []store.Mutation{store.NewDeleteRow([]byte("i2"))}
	for i := 0; i < 2; i++ {
		if err := s.Put(ctx, puts...); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
		if err := s.Delete(ctx, dels...); err != nil {
			t.Fatalf("Delete #%d: %v", i, err)
		}
	}
	if got := mustGet(t, s, "i1").Value(store.Family, store.ColType); string(got) != "string" {
		t.Fatalf("i1 type=%q", got)
	}
	if !mustGet(t, s, "i2").Empty() {
		t.Fatalf("i2 should be deleted")
	}
}

func testPrefixIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	_ = s.Put(ctx,
		store.NewPut([]byte("ab"), store.Family, store.ColType, []byte("a")),
		store.NewPut([]byte("abc"), store.Family, store.ColType, []byte("b")),
	)
	_ = s.Delete(ctx, store.NewDeleteRow([]byte("ab")))
	if got := mustGet(t, s, "abc").Value(store.Family, store.ColType); string(got) != "b" {
		t.Fatalf("deleting row ab touched row abc: %q", got)
	}
}
