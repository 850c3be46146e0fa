package ioreactor

import "time"

// Readiness is the bitmask a Backend reports per batch entry.
type Readiness uint8

const (
	Readable Readiness = 1 << iota
	Writable
	PeerHangup
	Hangup
	ErrorCond
)

// BatchEntry is one ready notification returned by Backend.Wait: an opaque
// handle (as registered by Add*/AddConnection) plus the readiness bitmask
// observed for it.
type BatchEntry struct {
	Handle    handle
	Readiness Readiness
}

// Capabilities describes the optional features a Backend supports (spec.md
// §9 "deferred-accept vs peer-hangup"). The Reactor does not query it.
type Capabilities struct {
	PeerHangup     bool
	DeferredAccept bool
	EdgeTriggered  bool
}

// Backend abstracts an OS readiness multiplexer (spec.md §4.1). It is
// re-expressed, per Design Notes §9, as a capability set the reactor is
// generic over, rather than the original's function-pointer table, with a
// single concrete edge-triggered implementation (backend_linux.go).
//
// A Backend must hold no package-level state; each instance is owned by
// exactly one Reactor.
type Backend interface {
	// Init allocates the kernel object and a batch buffer sized for
	// capacityHint simultaneous ready entries. Returns ErrBackendUnsupported
	// on platforms without a concrete implementation.
	Init(capacityHint int) error

	// Shutdown releases the kernel object.
	Shutdown() error

	Capabilities() Capabilities

	// AddRead/AddWrite register interest in one direction for h, keyed by
	// fd. If the opposite direction is already active on fd, the backend
	// modifies the existing registration instead of adding a new one.
	AddRead(fd int, h handle) error
	AddWrite(fd int, h handle) error

	// DelRead/DelWrite remove interest in one direction. If closeHint is
	// true the fd is about to be closed and the syscall is skipped (closing
	// the fd already drops kernel interest).
	DelRead(fd int, h handle, closeHint bool) error
	DelWrite(fd int, h handle, closeHint bool) error

	// AddConnection/DelConnection register or remove both directions at
	// once, edge-triggered, with peer-hangup detection enabled where
	// Capabilities().PeerHangup is true.
	AddConnection(fd int, h handle) error
	DelConnection(fd int, closeHint bool) error

	// Notify arranges for handler to be invoked on the reactor goroutine's
	// next Wait, from any goroutine. Safe for concurrent use.
	Notify(handler func()) error

	// Wait blocks up to timeout (a negative timeout means forever), filling
	// and returning the ready batch. A signal interruption returns an empty,
	// nil-error batch.
	Wait(timeout time.Duration) ([]BatchEntry, error)
}
