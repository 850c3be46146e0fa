package ioreactor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoggerEnabledFiltersBelowMinLevel(t *testing.T) {
	l, err := NewLogger("-", LevelWarn)
	if err != nil {
		t.Fatal(err)
	}
	if !l.Enabled(LevelErr) {
		t.Fatal("LevelErr is more severe than LevelWarn, should be enabled")
	}
	if l.Enabled(LevelInfo) {
		t.Fatal("LevelInfo is less severe than LevelWarn, should be disabled")
	}
	if !l.Enabled(LevelWarn) {
		t.Fatal("the threshold level itself should be enabled")
	}
}

func TestLoggerWithConnDoesNotPanicAndDelegatesEnabled(t *testing.T) {
	l, err := NewLogger("-", LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPool(1, 4096)
	c, err := p.Get(3)
	if err != nil {
		t.Fatal(err)
	}
	cl := l.WithConn(c)
	if cl.Enabled(LevelDebug) != l.Enabled(LevelDebug) {
		t.Fatal("WithConn must not change the enabled threshold")
	}
	cl.Log(LevelInfo, "test message", map[string]interface{}{"extra": 1})
}

func TestLoggerReopenRecreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := NewLogger(path, LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	l.Log(LevelInfo, "before reopen", nil)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := l.Reopen(); err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	l.Log(LevelInfo, "after reopen", nil)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file to exist after reopen: %v", err)
	}
}

func TestLoggerReopenOnStderrIsNoop(t *testing.T) {
	l, err := NewLogger("-", LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Reopen(); err != nil {
		t.Fatalf("Reopen on stderr sink should be a no-op, got %v", err)
	}
}
