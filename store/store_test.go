package store

import "testing"

func TestExpiryCodec(t *testing.T) {
	b := EncodeExpiry(1_700_000_000_123)
	if len(b) != 8 {
		t.Fatalf("len=%d", len(b))
	}
	got, ok := DecodeExpiry(b)
	if !ok || got != 1_700_000_000_123 {
		t.Fatalf("got %d ok=%v", got, ok)
	}
	if _, ok := DecodeExpiry([]byte{1, 2, 3}); ok {
		t.Fatalf("short value must not decode")
	}
}

func TestResultValue(t *testing.T) {
	var r Result
	if r.Value(Family, ColType) != nil || !r.Empty() {
		t.Fatalf("zero result should be empty")
	}
	r.Cells = map[string][]byte{CellKey(Family, ColType): []byte("hash")}
	if string(r.Value(Family, ColType)) != "hash" {
		t.Fatalf("value=%q", r.Value(Family, ColType))
	}
}
