package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1

	KindPut    byte = 1
	KindDelete byte = 2

	hdrLen = 4 + 1 + 1 + 1 + 4
)

var (
	ErrCorrupt = errors.New("writebehind: corrupt record frame")
	magic4     = [...]byte{'W', 'B', 'R', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func validKind(k byte) bool { return k == KindPut || k == KindDelete }

// Frame: magic(4) | ver(1) | kind(1) | codec(1) | plen(u32 be) | payload(plen)
//
// codec is an opaque tag chosen by the encoder so a consumer can refuse
// payloads written with a codec it was not configured for.
func Encode(kind, codec byte, payload []byte) ([]byte, error) {
	if !validKind(kind) {
		return nil, ErrCorrupt
	}
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)
	buf.WriteByte(codec)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode validates a frame and returns its kind, codec tag and payload.
// The payload aliases b.
func Decode(b []byte) (kind, codec byte, payload []byte, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || !validKind(b[5]) {
		return 0, 0, nil, ErrCorrupt
	}
	kind, codec = b[5], b[6]
	off := 7

	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen < 0 || plen != len(b)-off { // overflow-safe, rejects trailing bytes
		return 0, 0, nil, ErrCorrupt
	}
	return kind, codec, b[off : off+plen], nil
}
