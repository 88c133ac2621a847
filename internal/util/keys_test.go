package util

import (
	"strings"
	"testing"
)

func TestRowKeyStableAndSalted(t *testing.T) {
	a, b := RowKey("user:1"), RowKey("user:1")
	if string(a) != string(b) {
		t.Fatalf("RowKey not stable: %q vs %q", a, b)
	}
	if len(a) != 5+len("user:1") || a[4] != '|' || !strings.HasSuffix(string(a), "|user:1") {
		t.Fatalf("unexpected row key %q", a)
	}
}

func TestLocalKey(t *testing.T) {
	if got := LocalKey("type", "ab"); got != "type:6162" {
		t.Fatalf("LocalKey=%q", got)
	}
}
