package ioreactor

import "fmt"

// handle is a tagged reference to a slot in the connection pool.
//
// nginx tags stale events by stealing the low bit of the ngx_connection_t
// pointer (c->read->instance / c->write->instance) and comparing it against
// the bit stored on the event when it was queued; a recycled connection at
// the same address flips the bit and the event is dropped. Go's garbage
// collector forbids tagging real pointers, so the same generation check is
// re-expressed as an opaque 64-bit value: the high 32 bits identify the pool
// slot, the low 32 bits are an instance counter that increments every time
// the slot is recycled. A handle is only ever compared for equality against
// the instance stored in the slot at dispatch time.
type handle uint64

const handleSlotShift = 32

// makeHandle packs a slot index and instance counter into a handle.
func makeHandle(slot uint32, instance uint32) handle {
	return handle(uint64(slot)<<handleSlotShift | uint64(instance))
}

// slot returns the pool slot index encoded in h.
func (h handle) slot() uint32 {
	return uint32(h >> handleSlotShift)
}

// instance returns the generation counter encoded in h.
func (h handle) instance() uint32 {
	return uint32(h)
}

func (h handle) String() string {
	return fmt.Sprintf("handle(slot=%d,instance=%d)", h.slot(), h.instance())
}

const invalidHandle handle = ^handle(0)
