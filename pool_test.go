package ioreactor

import "testing"

// Covers spec.md §8 property 5: get_connection followed by free_connection
// returns the pool to its prior free-count, stable over many cycles.
func TestPoolConservation(t *testing.T) {
	p := NewPool(16, 4096)
	if got := p.FreeCount(); got != 16 {
		t.Fatalf("initial FreeCount = %d, want 16", got)
	}

	for i := 0; i < 10000; i++ {
		c, err := p.Get(i + 3)
		if err != nil {
			t.Fatalf("Get failed on cycle %d: %v", i, err)
		}
		if p.FreeCount() != 15 {
			t.Fatalf("cycle %d: FreeCount = %d, want 15", i, p.FreeCount())
		}
		c.fd = -1
		p.Free(c)
		if p.FreeCount() != 16 {
			t.Fatalf("cycle %d: FreeCount after Free = %d, want 16", i, p.FreeCount())
		}
	}
}

func TestPoolGetFailsWhenExhaustedAndUnreclaimable(t *testing.T) {
	p := NewPool(2, 4096)
	c1, err := p.Get(10)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := p.Get(11)
	if err != nil {
		t.Fatal(err)
	}
	_ = c1
	_ = c2

	if _, err := p.Get(12); err != ErrNoFreeConnections {
		t.Fatalf("expected ErrNoFreeConnections, got %v", err)
	}
}

func TestPoolByHandleRejectsStaleInstance(t *testing.T) {
	p := NewPool(4, 4096)
	c, err := p.Get(5)
	if err != nil {
		t.Fatal(err)
	}
	h := c.handle(c.Read)

	if got, ok := p.ByHandle(h); !ok || got != c {
		t.Fatalf("expected fresh handle to resolve, ok=%v got=%v", ok, got)
	}

	c.fd = -1
	p.Free(c)
	c2, err := p.Get(6) // reuses the same slot, flips the instance bit
	if err != nil {
		t.Fatal(err)
	}
	if c2 != c {
		t.Fatalf("expected slot reuse to return the same *Connection, got a different one")
	}

	if _, ok := p.ByHandle(h); ok {
		t.Fatal("stale handle from the prior incarnation must not resolve")
	}
	freshHandle := c2.handle(c2.Read)
	if got, ok := p.ByHandle(freshHandle); !ok || got != c2 {
		t.Fatalf("expected fresh handle to resolve after reuse, ok=%v got=%v", ok, got)
	}
}

func TestPoolByHandleRejectsClosedConnection(t *testing.T) {
	p := NewPool(4, 4096)
	c, err := p.Get(5)
	if err != nil {
		t.Fatal(err)
	}
	h := c.handle(c.Read)
	c.fd = -1 // logically closed, slot not yet returned to the freelist
	if _, ok := p.ByHandle(h); ok {
		t.Fatal("expected ByHandle to reject a closed connection's handle")
	}
}

func TestPoolSetReusableTracksLRUMembership(t *testing.T) {
	p := NewPool(2, 4096)
	c, err := p.Get(7)
	if err != nil {
		t.Fatal(err)
	}
	p.SetReusable(c, true)
	if !c.Reusable() {
		t.Fatal("expected connection to report reusable after SetReusable(true)")
	}
	p.SetReusable(c, false)
	if c.Reusable() {
		t.Fatal("expected connection to report not reusable after SetReusable(false)")
	}
}

// reclaimOne is exercised indirectly via Get when the freelist is empty but
// a reusable connection is available to reclaim.
func TestPoolReclaimOneFreesASlotWhenPressured(t *testing.T) {
	p := NewPool(1, 4096)
	c, err := p.Get(8)
	if err != nil {
		t.Fatal(err)
	}
	reclaimed := false
	c.SetReadHandler(func(ev *Event, flags EventFlags) {
		if flags&FlagClosed != 0 {
			reclaimed = true
			c.fd = -1
			p.Free(c)
		}
	})
	p.SetReusable(c, true)

	c2, err := p.Get(9)
	if err != nil {
		t.Fatalf("expected reclamation to free a slot, got error: %v", err)
	}
	if !reclaimed {
		t.Fatal("expected the reusable connection's read handler to run with FlagClosed")
	}
	if c2 != c {
		t.Fatal("expected the single reclaimed slot to be reused")
	}
}
