// Package record defines the write record carried through partition queues
// and its framed encoding.
package record

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/writebehind/codec"
	"github.com/unkn0wn-root/writebehind/internal/wire"
	"github.com/unkn0wn-root/writebehind/store"
)

// Kind tags a record as a batch of puts or deletes.
type Kind uint8

const (
	Put Kind = iota + 1
	Delete
)

func (k Kind) String() string {
	switch k {
	case Put:
		return "put"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is an ordered list of same-kind mutations.
type Record struct {
	Kind      Kind             `msgpack:"-" json:"-" cbor:"-"`
	Mutations []store.Mutation `msgpack:"m" json:"m" cbor:"1,keyasint"`
}

var (
	ErrEmpty         = errors.New("record: no mutations")
	ErrCodecMismatch = errors.New("record: codec tag mismatch")
)

// Codec frames records encoded with Inner.
type Codec struct {
	Inner codec.Codec[Record]
}

// Default returns a msgpack record codec.
func Default() Codec { return Codec{Inner: codec.Msgpack[Record]{}} }

func (c Codec) inner() codec.Codec[Record] {
	if c.Inner == nil {
		return codec.Msgpack[Record]{}
	}
	return c.Inner
}

func toWire(k Kind) (byte, error) {
	switch k {
	case Put:
		return wire.KindPut, nil
	case Delete:
		return wire.KindDelete, nil
	default:
		return 0, fmt.Errorf("record: unknown kind %d", k)
	}
}

// Encode serializes r into a frame.
func (c Codec) Encode(r Record) ([]byte, error) {
	if len(r.Mutations) == 0 {
		return nil, ErrEmpty
	}
	wk, err := toWire(r.Kind)
	if err != nil {
		return nil, err
	}
	in := c.inner()
	payload, err := in.Encode(r)
	if err != nil {
		return nil, fmt.Errorf("record: encode: %w", err)
	}
	return wire.Encode(wk, codec.TagOf(in), payload)
}

// Decode parses a frame. Any malformed input returns an error; callers skip
// such records.
func (c Codec) Decode(b []byte) (Record, error) {
	wk, tag, payload, err := wire.Decode(b)
	if err != nil {
		return Record{}, err
	}
	in := c.inner()
	if want := codec.TagOf(in); want != 0 && tag != want {
		return Record{}, fmt.Errorf("%w: got %d want %d", ErrCodecMismatch, tag, want)
	}
	r, err := in.Decode(payload)
	if err != nil {
		return Record{}, fmt.Errorf("record: decode: %w", err)
	}
	if len(r.Mutations) == 0 {
		return Record{}, ErrEmpty
	}
	if wk == wire.KindPut {
		r.Kind = Put
	} else {
		r.Kind = Delete
	}
	return r, nil
}
