// Package store defines the durable wide-column store consumed by the
// write-behind engine.
//
// Rows are addressed by key; cells by family and qualifier. Put and Delete
// accept batches and must be idempotent: applying the same batch twice leaves
// the same observable state as applying it once.
package store

import (
	"context"
	"encoding/binary"
	"errors"
)

// Family is the column family holding engine metadata and values.
const Family = "d"

// Well-known qualifiers in Family.
const (
	ColType   = "t" // type marker
	ColExpire = "e" // expiry timestamp, unix millis, 8 bytes big endian
)

var ErrClosed = errors.New("store: closed")

// Cell is one column value of a Put. Value is ignored for deletes.
type Cell struct {
	Family    string `msgpack:"f" json:"f" cbor:"1,keyasint"`
	Qualifier string `msgpack:"q" json:"q" cbor:"2,keyasint"`
	Value     []byte `msgpack:"v,omitempty" json:"v,omitempty" cbor:"3,keyasint,omitempty"`
}

// Mutation is a Put or Delete on a single row. A Delete with no cells removes
// the whole row.
type Mutation struct {
	Row   []byte `msgpack:"r" json:"r" cbor:"1,keyasint"`
	Cells []Cell `msgpack:"c,omitempty" json:"c,omitempty" cbor:"2,keyasint,omitempty"`
}

// NewPut builds a Put mutation of a single cell.
func NewPut(row []byte, family, qualifier string, value []byte) Mutation {
	return Mutation{Row: row, Cells: []Cell{{Family: family, Qualifier: qualifier, Value: value}}}
}

// NewDeleteRow builds a Delete mutation removing the whole row.
func NewDeleteRow(row []byte) Mutation {
	return Mutation{Row: row}
}

// NewDeleteColumns builds a Delete mutation removing the given qualifiers of family.
func NewDeleteColumns(row []byte, family string, qualifiers ...string) Mutation {
	cells := make([]Cell, len(qualifiers))
	for i, q := range qualifiers {
		cells[i] = Cell{Family: family, Qualifier: q}
	}
	return Mutation{Row: row, Cells: cells}
}

// EncodeExpiry encodes an expiry for ColExpire.
func EncodeExpiry(unixMillis int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(unixMillis))
	return b
}

// DecodeExpiry decodes a ColExpire value. ok is false unless b is 8 bytes.
func DecodeExpiry(b []byte) (unixMillis int64, ok bool) {
	if len(b) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(b)), true
}

// Result is a row read. A missing row has no cells.
type Result struct {
	Cells map[string][]byte // family + ":" + qualifier -> value
}

// CellKey is the map key of a cell in Result.Cells.
func CellKey(family, qualifier string) string { return family + ":" + qualifier }

// Value returns the cell value or nil when absent.
func (r Result) Value(family, qualifier string) []byte {
	if r.Cells == nil {
		return nil
	}
	return r.Cells[CellKey(family, qualifier)]
}

// Empty reports whether the row has no cells.
func (r Result) Empty() bool { return len(r.Cells) == 0 }

// Store is a durable wide-column store.
type Store interface {
	// Get reads row. When qualifiers is non-empty only those cells of
	// Family are returned.
	Get(ctx context.Context, row []byte, qualifiers ...string) (Result, error)
	Put(ctx context.Context, muts ...Mutation) error
	Delete(ctx context.Context, muts ...Mutation) error
	Close() error
}
