//go:build linux

package ioreactor

import (
	"net"
	"testing"

	"golang.org/x/sys/unix"
)

// recordingLogger captures every Log call for assertions, without touching
// the real logrus backend.
type recordingLogger struct {
	entries []struct {
		level Level
		msg   string
	}
}

func (r *recordingLogger) Log(level Level, msg string, fields map[string]interface{}) {
	r.entries = append(r.entries, struct {
		level Level
		msg   string
	}{level, msg})
}
func (r *recordingLogger) Enabled(Level) bool          { return true }
func (r *recordingLogger) WithConn(*Connection) Logger { return r }
func (r *recordingLogger) Reopen() error               { return nil }

// handle_read / handle_write (spec.md §6): idempotent re-arm after a
// partial drain.
func TestHandleReadWriteRearm(t *testing.T) {
	p := NewPool(1, 4096)
	c, fd := newPooledTestConnection(t, p)
	_ = fd

	c.Read.set(FlagReady | FlagDeferred)
	if err := c.HandleRead(c.Read, 0); err != nil {
		t.Fatalf("HandleRead: %v", err)
	}
	if c.Read.has(FlagReady) || c.Read.has(FlagDeferred) {
		t.Fatal("HandleRead should clear FlagReady and FlagDeferred")
	}

	c.Write.set(FlagReady | FlagDeferred)
	if err := c.HandleWrite(c.Write, 0); err != nil {
		t.Fatalf("HandleWrite: %v", err)
	}
	if c.Write.has(FlagReady) || c.Write.has(FlagDeferred) {
		t.Fatal("HandleWrite should clear FlagReady and FlagDeferred")
	}

	unix.Close(c.fd) // simulate a close racing the caller
	c.fd = -1
	if err := c.HandleRead(c.Read, 0); err != ErrInvalidHandle {
		t.Fatalf("HandleRead on closed conn = %v, want ErrInvalidHandle", err)
	}
	if err := c.HandleWrite(c.Write, 0); err != ErrInvalidHandle {
		t.Fatalf("HandleWrite on closed conn = %v, want ErrInvalidHandle", err)
	}
}

// posted_events / "defer all" (spec.md §4.2 step 4): readiness observed
// while the accept mutex is held must not invoke the handler inline, but
// must still run once drained.
func TestDispatchEntryDefersThenDrains(t *testing.T) {
	r := newTestReactor(t, 16)
	c, _ := newPooledTestConnection(t, r.Pool())

	var ran bool
	c.SetReadHandler(func(ev *Event, flags EventFlags) {
		ran = true
	})
	c.Read.set(FlagActive)

	h := c.handle(c.Read)
	r.dispatchEntry(BatchEntry{Handle: h, Readiness: Readable}, true)

	if ran {
		t.Fatal("handler ran inline while deferAll was set")
	}
	if r.postedEvents.Len() != 1 {
		t.Fatalf("postedEvents.Len() = %d, want 1", r.postedEvents.Len())
	}
	if !c.Read.has(FlagDeferred) {
		t.Fatal("deferred event should carry FlagDeferred until drained")
	}

	ev := r.postedEvents.Pop()
	if ev == nil {
		t.Fatal("expected a posted event")
	}
	ev.clear(FlagDeferred)
	if hh, ok := r.pool.ByHandle(makeHandle(ev.slot, ev.instance)); !ok || !ev.Active() {
		t.Fatalf("posted event should still resolve live, got ok=%v conn=%v", ok, hh)
	}
	r.invoke(ev, FlagPosted)
	if !ran {
		t.Fatal("handler should have run once the posted event was drained")
	}
}

// blist-backed debug_connection table (SPEC_FULL.md §2/§6).
func TestDebugConnectionTableMatchesCIDRAndBareIP(t *testing.T) {
	tbl, err := newDebugConnectionTable([]string{"10.0.0.0/8", "192.168.1.5"})
	if err != nil {
		t.Fatalf("newDebugConnectionTable: %v", err)
	}
	if !tbl.match(net.ParseIP("10.1.2.3")) {
		t.Fatal("expected 10.1.2.3 to match the 10.0.0.0/8 entry")
	}
	if !tbl.match(net.ParseIP("192.168.1.5")) {
		t.Fatal("expected the bare-IP entry to match itself")
	}
	if tbl.match(net.ParseIP("8.8.8.8")) {
		t.Fatal("8.8.8.8 should not match either entry")
	}
	if _, err := newDebugConnectionTable([]string{"not-an-address"}); err == nil {
		t.Fatal("expected an error for an unparseable debug_connection entry")
	}
}

// Connection.LogErrorPolicy (spec.md §7): close_connection must honor it.
func TestCloseConnectionHonorsLogErrorPolicy(t *testing.T) {
	r := newTestReactor(t, 16)
	rec := &recordingLogger{}
	r.logger = rec

	c, _ := newPooledTestConnection(t, r.Pool())
	c.LogErrorPolicy = LogPolicyIgnoreConnReset
	r.CloseConnection(c, unix.ECONNRESET)
	if len(rec.entries) != 0 {
		t.Fatalf("LogPolicyIgnoreConnReset should suppress ECONNRESET, got %v", rec.entries)
	}

	c2, _ := newPooledTestConnection(t, r.Pool())
	c2.LogErrorPolicy = LogPolicyIgnoreConnReset
	r.CloseConnection(c2, unix.EPIPE)
	if len(rec.entries) != 1 || rec.entries[0].level != LevelErr {
		t.Fatalf("LogPolicyIgnoreConnReset should still log a non-ECONNRESET cause, got %v", rec.entries)
	}

	c3, _ := newPooledTestConnection(t, r.Pool())
	c3.LogErrorPolicy = LogPolicyAlert
	r.CloseConnection(c3, unix.EPIPE)
	if len(rec.entries) != 2 || rec.entries[1].level != LevelAlert {
		t.Fatalf("LogPolicyAlert should log at LevelAlert, got %v", rec.entries)
	}

	c4, _ := newPooledTestConnection(t, r.Pool())
	c4.LogErrorPolicy = LogPolicyAlert
	r.CloseConnection(c4, nil)
	if len(rec.entries) != 2 {
		t.Fatalf("a nil cause (clean close) must never log, got %v", rec.entries)
	}
}

// listener.go's accept-loop "other errors" case (spec.md §4.4) must surface
// to the caller instead of silently continuing.
func TestAcceptLoopSurfacesOtherErrors(t *testing.T) {
	l, _ := newLoopbackListener(t)
	// Closing the fd out from under the open Listener forces Accept4 to fail
	// with EBADF, which falls into acceptLoop's default case.
	if err := unix.Close(l.fd); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var otherErrs []error
	_, _ = l.acceptLoop(func(fd int, sa unix.Sockaddr) error {
		t.Fatal("onAccept should not be called")
		return nil
	}, func(err error) {
		otherErrs = append(otherErrs, err)
	})
	if len(otherErrs) == 0 {
		t.Fatal("expected acceptLoop to report the EBADF via logOther")
	}
}

// accept_disabled must engage on a real EMFILE/ENFILE signal even when the
// connection pool itself is not exhausted (spec.md §4.4).
func TestPoolAcceptDisabledIncorporatesResourcePressure(t *testing.T) {
	p := NewPool(64, 4096)
	if p.AcceptDisabled() > 0 {
		t.Fatal("a fresh, empty pool should not report accept_disabled")
	}
	p.MarkResourceExhausted(5)
	if got := p.AcceptDisabled(); got != 5 {
		t.Fatalf("AcceptDisabled() = %d, want 5 after MarkResourceExhausted(5)", got)
	}
	p.MarkResourceExhausted(2) // lower turns must not shrink the window
	if got := p.AcceptDisabled(); got != 5 {
		t.Fatalf("AcceptDisabled() = %d, want 5 (a lower mark must not shrink the window)", got)
	}
	for i := 0; i < 5; i++ {
		p.DecayAcceptPressure()
	}
	if got := p.AcceptDisabled(); got > 0 {
		t.Fatalf("AcceptDisabled() = %d, want <=0 once the pressure window fully decays", got)
	}
}
