// Package codec holds the serializers used for queued write records and
// local cache entries.
package codec

// Codec encodes/decodes values V to []byte.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Tags identify a codec inside framed payloads. They are persisted in queues,
// so existing values must never be renumbered.
const (
	TagJSON     byte = 1
	TagMsgpack  byte = 2
	TagCBOR     byte = 3
	TagProtobuf byte = 4
)

// Tagged is implemented by codecs that carry a persistent tag.
type Tagged interface {
	Tag() byte
}

// TagOf returns c's tag, or 0 when c is not Tagged.
func TagOf(c any) byte {
	if t, ok := c.(Tagged); ok {
		return t.Tag()
	}
	return 0
}
