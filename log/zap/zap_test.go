package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	wb "github.com/unkn0wn-root/writebehind"
)

func TestFieldsAndErrorMapping(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Warn("lease lost", wb.Fields{"queue": "wb:q:1", "err": errors.New("boom")})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["queue"] != "wb:q:1" || ctx["error"] != "boom" {
		t.Fatalf("context=%v", ctx)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("level=%v", entries[0].Level)
	}
}

func TestNilLoggerIsNop(t *testing.T) {
	New(nil).Error("ignored", wb.Fields{"k": 1})
}
