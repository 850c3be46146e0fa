package ioreactor

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-ioreactor/arena"
)

// connFlags packs the Connection-level boolean attributes, mirroring the
// packing used by Event for its own flag set.
type connFlags uint16

const (
	connReusable connFlags = 1 << iota
	connIdle
	connClose
	connDestroyed
	connError
	connTimedOut
	connShared
	connSendfile
	// connDebug marks a connection whose peer matched Config.DebugConnection,
	// forcing verbose logging for it regardless of the reactor's configured
	// level (spec.md §6 "debug_connection"; see debugconn.go).
	connDebug
)

// RecvFunc and SendFunc are the swappable I/O primitives for a Connection,
// allowing a TLS or other filtering layer to be interposed without the
// reactor's dispatch logic changing.
type RecvFunc func(c *Connection, b []byte) (n int, err error)
type SendFunc func(c *Connection, b []byte) (n int, err error)

// Connection represents one socket slot: listening, accepted, or outbound.
// A slot exists for the lifetime of the process; only the fd and the
// protocol-owned Data attached to it rotate between incarnations.
type Connection struct {
	fd int

	slot uint32

	Read  *Event
	Write *Event

	Recv RecvFunc
	Send SendFunc

	Peer     net.Addr
	PeerText string
	Local    net.Addr // lazily filled

	Scratch *arena.Pool

	Number    uint64
	StartTime time.Time
	Requests  uint64
	Sent      uint64

	flags connFlags

	// Data is the owning protocol's per-request state; the reactor never
	// interprets it.
	Data interface{}

	// LogErrorPolicy controls how close_connection reports I/O failures for
	// this connection (see errors.go's LogPolicy).
	LogErrorPolicy LogPolicy

	lruElem interface{} // opaque handle into the reusable LRU, set by Pool
}

func (c *Connection) has(f connFlags) bool { return c.flags&f != 0 }
func (c *Connection) set(f connFlags)      { c.flags |= f }
func (c *Connection) clear(f connFlags)    { c.flags &^= f }
func (c *Connection) setTo(f connFlags, v bool) {
	if v {
		c.set(f)
	} else {
		c.clear(f)
	}
}

// Fd returns the connection's current file descriptor, or -1 if it has been
// logically closed.
func (c *Connection) Fd() int { return c.fd }

// Reusable reports whether this connection is currently eligible for
// forced reclamation from the LRU tail under pool pressure.
func (c *Connection) Reusable() bool { return c.has(connReusable) }

// Closed reports whether close_connection has already run for this slot.
func (c *Connection) Closed() bool { return c.fd == -1 }

// Debug reports whether this connection's peer matched Config.DebugConnection,
// per spec.md §6's debug_connection directive.
func (c *Connection) Debug() bool { return c.has(connDebug) }

// SetReadHandler installs the per-direction read callback (spec §6 exposed
// interface set_read_handler).
func (c *Connection) SetReadHandler(h Handler) { c.Read.handler = h }

// SetWriteHandler installs the per-direction write callback (spec §6
// exposed interface set_write_handler).
func (c *Connection) SetWriteHandler(h Handler) { c.Write.handler = h }

// HandleRead implements spec.md §6's handle_read(ev, flags): the idempotent
// re-arm entry point a protocol handler calls after draining less than
// Available() bytes, so it is guaranteed a fresh notification once more
// data arrives. Since this reactor's only backend registers both
// directions edge-triggered once, at accept time, and never removes that
// registration until close, re-arming never needs to touch the backend
// itself; it only clears the ready/deferred bookkeeping so the event is not
// mistaken for still being on the dispatch path. Returns ErrInvalidHandle
// if the connection was already closed out from under the caller.
func (c *Connection) HandleRead(ev *Event, flags EventFlags) error {
	if c.Closed() {
		return ErrInvalidHandle
	}
	ev.clear(FlagReady | FlagDeferred)
	return nil
}

// HandleWrite implements spec.md §6's handle_write(ev, lowat): the
// idempotent re-arm entry point after a partial write. lowat, if positive,
// is passed to setsockopt as the socket's SO_SNDLOWAT, and a setsockopt
// failure is returned wrapped. Linux does not allow SO_SNDLOWAT to be
// changed, so there a positive lowat makes HandleWrite return an error.
func (c *Connection) HandleWrite(ev *Event, lowat int) error {
	if c.Closed() {
		return ErrInvalidHandle
	}
	ev.clear(FlagReady | FlagDeferred)
	if lowat > 0 {
		if err := unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_SNDLOWAT, lowat); err != nil {
			return WrapError("SO_SNDLOWAT", err)
		}
	}
	return nil
}

// handle returns the tagged handle a Backend should use as opaque user data
// for this connection's current incarnation, keyed off the given event's
// instance. Read and write events advance their instance together on every
// Pool.Get, so either event yields the same handle.
func (c *Connection) handle(ev *Event) handle {
	return handleOf(c.slot, ev.instance)
}
