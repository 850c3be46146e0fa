package ioreactor

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/joeycumines/go-ioreactor/arena"
)

// Pool is the fixed-capacity connection pool (spec.md §4.3): three parallel
// arrays of size N (connection slots plus their paired read/write event
// slots), a freelist threaded through free slots, and a reusable-LRU for
// graceful reclamation under pressure.
//
// Pool holds no package-level state (Design Notes §9); every Reactor owns
// exactly one Pool.
type Pool struct {
	conns  []Connection
	reads  []Event
	writes []Event

	freeHead int32 // index of first free slot, or -1
	freeNext []int32

	freeCount int

	// reusable tracks LRU membership/recency only; the actual reclamation
	// protocol (pop oldest, invoke its read handler, observe whether it
	// freed itself) is implemented explicitly in reclaimOne, not by this
	// cache's own eviction callback — see DESIGN.md.
	reusable *lru.Cache[uint32, struct{}]

	nextNumber uint64

	arenaSlab int

	// osPressureTicks counts down the forced accept_disabled window opened by
	// a real EMFILE/ENFILE accept failure (spec.md §4.4), independent of the
	// free-count formula below.
	osPressureTicks int
}

// NewPool allocates a Pool with capacity n (spec.md §4.3's fixed N).
func NewPool(n int, arenaSlabSize int) *Pool {
	p := &Pool{
		conns:     make([]Connection, n),
		reads:     make([]Event, n),
		writes:    make([]Event, n),
		freeNext:  make([]int32, n),
		arenaSlab: arenaSlabSize,
	}
	cache, _ := lru.New[uint32, struct{}](n)
	p.reusable = cache

	for i := 0; i < n; i++ {
		p.conns[i].slot = uint32(i)
		p.conns[i].fd = -1
		p.reads[i].slot = uint32(i)
		p.writes[i].slot = uint32(i)
		p.writes[i].write = true
		p.reads[i].heapIndex = -1
		p.writes[i].heapIndex = -1
		if i == n-1 {
			p.freeNext[i] = -1
		} else {
			p.freeNext[i] = int32(i + 1)
		}
	}
	if n > 0 {
		p.freeHead = 0
	} else {
		p.freeHead = -1
	}
	p.freeCount = n
	return p
}

// Cap returns the pool's fixed capacity N.
func (p *Pool) Cap() int { return len(p.conns) }

// FreeCount returns the number of slots currently on the freelist.
func (p *Pool) FreeCount() int { return p.freeCount }

// AcceptDisabled implements spec.md §4.4's N/8 - free_count fractional
// backpressure counter; positive means this worker should skip accept-lock
// contention for the configured number of turns.
func (p *Pool) AcceptDisabled() int {
	d := p.Cap()/8 - p.freeCount
	if p.osPressureTicks > d {
		return p.osPressureTicks
	}
	return d
}

// MarkResourceExhausted opens or extends the forced accept_disabled window
// after an EMFILE/ENFILE accept failure (spec.md §4.4 "mark accept_disabled
// ... until pressure subsides"), mirroring nginx's accept_mutex_delay-style
// backoff without a literal timer: the window decays by one Serve iteration
// at a time via DecayAcceptPressure.
func (p *Pool) MarkResourceExhausted(turns int) {
	if turns > p.osPressureTicks {
		p.osPressureTicks = turns
	}
}

// DecayAcceptPressure ticks the EMFILE/ENFILE backoff window down by one
// Serve iteration.
func (p *Pool) DecayAcceptPressure() {
	if p.osPressureTicks > 0 {
		p.osPressureTicks--
	}
}

// Get allocates a connection slot for fd, attempting one reclamation pass
// against the reusable LRU if the freelist is empty (spec.md §4.3
// get_connection).
func (p *Pool) Get(fd int) (*Connection, error) {
	if p.freeHead < 0 {
		if !p.reclaimOne() {
			return nil, ErrNoFreeConnections
		}
	}
	idx := p.freeHead
	p.freeHead = p.freeNext[idx]
	p.freeCount--

	c := &p.conns[idx]
	rev := &p.reads[idx]
	wev := &p.writes[idx]

	// Preserve the instance counter across reuse by advancing it, rather than
	// zeroing it, so any handle captured before this Get compares unequal
	// (spec.md §4.3: "Zero its read and write event records (preserving the
	// instance bit by flipping it)").
	rev.resetForReuse(false)
	wev.resetForReuse(true)

	c.fd = fd
	c.Read = rev
	c.Write = wev
	c.Recv = nil
	c.Send = nil
	c.Peer = nil
	c.PeerText = ""
	c.Local = nil
	c.Data = nil
	c.flags = 0
	c.Requests = 0
	c.Sent = 0
	c.LogErrorPolicy = LogPolicyAlert
	if c.Scratch == nil {
		c.Scratch = arena.New(p.arenaSlab)
	} else {
		c.Scratch.Reset()
	}
	p.nextNumber++
	c.Number = p.nextNumber

	return c, nil
}

// Free pushes c's slot back onto the freelist head. It does not touch fd;
// callers are responsible for setting it to -1 (spec.md §4.3
// free_connection).
func (p *Pool) Free(c *Connection) {
	idx := int32(c.slot)
	p.freeNext[idx] = p.freeHead
	p.freeHead = idx
	p.freeCount++
	p.reusable.Remove(c.slot)
}

// SetReusable toggles c's membership in the reusable LRU (spec.md §4.3
// reusable).
func (p *Pool) SetReusable(c *Connection, on bool) {
	if on {
		c.set(connReusable)
		p.reusable.Add(c.slot, struct{}{})
	} else {
		c.clear(connReusable)
		p.reusable.Remove(c.slot)
	}
}

// ReusableConnections returns a snapshot of the connections currently
// eligible for idle reclamation, for graceful shutdown to close immediately
// (spec.md §6 "stop accepting ... wait for timers with cancelable=0").
func (p *Pool) ReusableConnections() []*Connection {
	keys := p.reusable.Keys()
	out := make([]*Connection, 0, len(keys))
	for _, slot := range keys {
		out = append(out, &p.conns[slot])
	}
	return out
}

// ByHandle resolves a handle into its slot's Connection, returning ok=false
// if the fd has been logically closed or the handle's instance no longer
// matches the connection's current generation (a stale notification per
// spec.md §3 — read and write events share one generation, flipped together
// on every Get, so a single comparison gates both directions).
func (p *Pool) ByHandle(h handle) (c *Connection, ok bool) {
	idx := h.slot()
	if int(idx) >= len(p.conns) {
		return nil, false
	}
	c = &p.conns[idx]
	if c.fd == -1 || c.Read.instance != h.instance() {
		return c, false
	}
	return c, true
}

// reclaimOne pops the oldest reusable connection and invokes its read handler
// with FlagClosed set so it can tear itself down; returns true if that
// freed a slot.
func (p *Pool) reclaimOne() bool {
	slot, _, ok := p.reusable.GetOldest()
	if !ok {
		return false
	}
	c := &p.conns[slot]
	before := p.freeCount
	if c.Read != nil && c.Read.handler != nil {
		c.Read.handler(c.Read, FlagClosed)
	}
	p.reusable.Remove(slot)
	return p.freeCount > before
}
