package ioreactor

import "testing"

// Covers spec.md §8 property 2, restated for the tagged-handle substitution:
// every packed (slot, instance) pair round-trips through makeHandle.
func TestHandleRoundTrip(t *testing.T) {
	cases := []struct {
		slot, instance uint32
	}{
		{0, 0},
		{0, 1},
		{1, 0},
		{^uint32(0) - 1, ^uint32(0)},
		{123456, 7},
	}
	for _, c := range cases {
		h := makeHandle(c.slot, c.instance)
		if got := h.slot(); got != c.slot {
			t.Errorf("slot: got %d want %d", got, c.slot)
		}
		if got := h.instance(); got != c.instance {
			t.Errorf("instance: got %d want %d", got, c.instance)
		}
	}
}

func TestHandleRoundTripFullSlotRange(t *testing.T) {
	for slot := uint32(0); slot < 1024; slot++ {
		for _, instance := range []uint32{0, 1} {
			h := makeHandle(slot, instance)
			if h.slot() != slot || h.instance() != instance {
				t.Fatalf("round-trip failed for slot=%d instance=%d: got slot=%d instance=%d",
					slot, instance, h.slot(), h.instance())
			}
		}
	}
}

func TestInvalidHandleDistinctFromAnyPackedValue(t *testing.T) {
	for slot := uint32(0); slot < 8; slot++ {
		for instance := uint32(0); instance < 8; instance++ {
			if makeHandle(slot, instance) == invalidHandle {
				t.Fatalf("makeHandle(%d, %d) collided with invalidHandle", slot, instance)
			}
		}
	}
}
