package util

import (
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// RowKey returns the durable row key of a cache key. A 4-hex-digit hash salt
// spreads lexically adjacent keys across the row space.
func RowKey(key string) []byte {
	salt := uint16(xxhash.Sum64String(key))
	out := make([]byte, 0, 5+len(key))
	s := strconv.FormatUint(uint64(salt), 16)
	for i := len(s); i < 4; i++ {
		out = append(out, '0')
	}
	out = append(out, s...)
	out = append(out, '|')
	return append(out, key...)
}

// LocalKey returns the local cache key of a cache key under tag.
func LocalKey(tag, key string) string {
	return tag + ":" + hex.EncodeToString([]byte(key))
}
