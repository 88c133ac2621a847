package record

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/writebehind/codec"
	"github.com/unkn0wn-root/writebehind/store"
)

// Proto encodes records in protobuf wire format, readable by any consumer
// holding this schema:
//
//	message Record   { repeated Mutation mutations = 1; }
//	message Mutation { bytes row = 1; repeated Cell cells = 2; }
//	message Cell     { string family = 1; string qualifier = 2; optional bytes value = 3; }
//
// Kind travels in the frame header, not in the payload.
type Proto struct{}

var _ codec.Codec[Record] = Proto{}

const (
	fieldMutations protowire.Number = 1

	fieldRow   protowire.Number = 1
	fieldCells protowire.Number = 2

	fieldFamily    protowire.Number = 1
	fieldQualifier protowire.Number = 2
	fieldValue     protowire.Number = 3
)

var errProtoTruncated = errors.New("record: truncated protobuf payload")

func (Proto) Tag() byte { return codec.TagProtobuf }

func (Proto) Encode(r Record) ([]byte, error) {
	var out []byte
	for _, m := range r.Mutations {
		out = protowire.AppendTag(out, fieldMutations, protowire.BytesType)
		out = protowire.AppendBytes(out, appendMutation(nil, m))
	}
	return out, nil
}

func appendMutation(b []byte, m store.Mutation) []byte {
	b = protowire.AppendTag(b, fieldRow, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Row)
	for _, c := range m.Cells {
		var cb []byte
		cb = protowire.AppendTag(cb, fieldFamily, protowire.BytesType)
		cb = protowire.AppendString(cb, c.Family)
		cb = protowire.AppendTag(cb, fieldQualifier, protowire.BytesType)
		cb = protowire.AppendString(cb, c.Qualifier)
		// absent value marks a column delete
		if c.Value != nil {
			cb = protowire.AppendTag(cb, fieldValue, protowire.BytesType)
			cb = protowire.AppendBytes(cb, c.Value)
		}
		b = protowire.AppendTag(b, fieldCells, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	return b
}

func (Proto) Decode(b []byte) (Record, error) {
	var r Record
	err := eachField(b, func(num protowire.Number, v []byte) error {
		if num != fieldMutations {
			return nil
		}
		m, err := decodeMutation(v)
		if err != nil {
			return err
		}
		r.Mutations = append(r.Mutations, m)
		return nil
	})
	return r, err
}

func decodeMutation(b []byte) (store.Mutation, error) {
	var m store.Mutation
	err := eachField(b, func(num protowire.Number, v []byte) error {
		switch num {
		case fieldRow:
			m.Row = append([]byte{}, v...)
		case fieldCells:
			c, err := decodeCell(v)
			if err != nil {
				return err
			}
			m.Cells = append(m.Cells, c)
		}
		return nil
	})
	return m, err
}

func decodeCell(b []byte) (store.Cell, error) {
	var c store.Cell
	err := eachField(b, func(num protowire.Number, v []byte) error {
		switch num {
		case fieldFamily:
			c.Family = string(v)
		case fieldQualifier:
			c.Qualifier = string(v)
		case fieldValue:
			c.Value = append([]byte{}, v...)
		}
		return nil
	})
	return c, err
}

// eachField walks length-delimited fields of b. Fields of other wire types
// are skipped so newer writers can add scalars.
func eachField(b []byte, fn func(protowire.Number, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errProtoTruncated, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", errProtoTruncated, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errProtoTruncated, protowire.ParseError(n))
		}
		if err := fn(num, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
