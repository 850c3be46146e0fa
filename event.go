package ioreactor

import "time"

// EventFlags packs the boolean attributes of an Event into one word, the
// way state.go packs a ReactorState into a single atomic word rather than
// spreading booleans across separate fields.
type EventFlags uint16

const (
	FlagActive EventFlags = 1 << iota
	FlagReady
	FlagTimedOut
	FlagTimerSet
	FlagError
	FlagEOF
	FlagPendingEOF
	FlagAccept
	FlagWrite
	FlagPosted
	FlagCancelable
	FlagDeferred
	FlagClosed
)

// Handler is invoked when an Event becomes ready, times out, or is posted.
// flags carries why the handler fired: FlagReady for readiness dispatched
// inline, FlagPosted for readiness drained from postedEvents, FlagTimedOut
// on a timer expiry, FlagClosed when the pool reclaims a reusable
// connection. A hangup or error is delivered as FlagReady readiness.
type Handler func(ev *Event, flags EventFlags)

// Event represents interest in one direction (read XOR write) on one
// Connection. It never holds a *Connection; it holds the owning slot index,
// so the connection/event graph never forms a GC-visible retain cycle and
// the tagged handle (handle.go) can recover both by indexing into the pool.
type Event struct {
	handler Handler

	slot     uint32
	instance uint32

	flags EventFlags

	// available is the byte count known readable/writable, or -1 if unknown.
	available int

	deadline  time.Time
	heapIndex int // index into timerIndex's backing slice; -1 when untracked

	write bool

	next *Event // queue linkage for accept_events / posted_events
}

func (ev *Event) has(f EventFlags) bool  { return ev.flags&f != 0 }
func (ev *Event) set(f EventFlags)       { ev.flags |= f }
func (ev *Event) clear(f EventFlags)     { ev.flags &^= f }
func (ev *Event) setTo(f EventFlags, v bool) {
	if v {
		ev.set(f)
	} else {
		ev.clear(f)
	}
}

// Active reports whether the readiness backend currently has interest
// registered for this direction.
func (ev *Event) Active() bool { return ev.has(FlagActive) }

// TimedOut reports whether this event's deadline fired and has not been
// re-armed since.
func (ev *Event) TimedOut() bool { return ev.has(FlagTimedOut) }

// Available returns the last known readable/writable byte count, or -1 if
// unknown.
func (ev *Event) Available() int { return ev.available }

// SetAvailable records the last known readable/writable byte count.
func (ev *Event) SetAvailable(n int) { ev.available = n }

// Cancelable marks whether this event's timer may be skipped during a
// graceful shutdown wait (see Reactor.noTimersLeft).
func (ev *Event) Cancelable() bool         { return ev.has(FlagCancelable) }
func (ev *Event) SetCancelable(v bool)     { ev.setTo(FlagCancelable, v) }

// handleOf packs the event's owning slot and current instance into a handle
// suitable for registration with the Backend.
func handleOf(slot uint32, instance uint32) handle {
	return makeHandle(slot, instance)
}

func (ev *Event) resetForReuse(write bool) {
	ev.handler = nil
	ev.flags = 0
	ev.available = -1
	ev.deadline = time.Time{}
	ev.heapIndex = -1
	ev.write = write
	ev.next = nil
	// instance advances so stale handles computed before this reset compare
	// unequal to the freshly-registered one.
	ev.instance++
}
