package ioreactor

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// acceptPressureTurns bounds how many Serve iterations accept_disabled stays
// forced open after a real EMFILE/ENFILE accept failure (spec.md §4.4),
// decaying by one per iteration via Pool.DecayAcceptPressure.
const acceptPressureTurns = 10

// listenerSlotMarker distinguishes a listener's tagged handle from a
// connection pool slot handle: listeners are not in the connection pool
// (spec.md §3 "Listeners are not in the connection pool"), so their handles
// use a slot value outside the pool's valid index range with the listener's
// index in the listener set packed into the instance field.
const listenerSlotMarker uint32 = 0xFFFFFFFF

type listenerEntry struct {
	listener   *Listener
	onAccept   func(c *Connection) error
	handle     handle
	registered bool
}

// Reactor is the per-worker main loop (spec.md §4.2): it owns a Backend, a
// connection Pool, a timerIndex, and a set of Listeners, holds no
// package-level state (Design Notes §9), and is safe to run concurrently
// with other independent Reactor instances, one per goroutine, each pinned
// to its own OS thread by the caller (spec.md §5's fork-to-goroutine
// substitution; see cmd/ioreactord).
type Reactor struct {
	cfg     Config
	backend Backend
	pool    *Pool
	timers  *timerIndex
	logger  Logger
	metrics *Metrics

	listeners []*listenerEntry
	// acceptQueue holds listener entries whose accept readiness was
	// deferred past the current dispatch pass (spec.md §3 accept_events).
	acceptQueue  []*listenerEntry
	postedEvents eventQueue

	// debugConn holds the parsed Config.DebugConnection entries (spec.md §6
	// debug_connection), consulted once per accept to tag the connection.
	debugConn *debugConnectionTable

	mutex       *acceptMutex
	signalFlags *SignalFlags

	state    *fastState
	done     chan struct{}
	stopOnce sync.Once

	gracefulDeadline time.Time
	gracefulStarted  bool
}

// New constructs a Reactor and initialises its Backend. cfg.Use is not
// consulted: the epoll Backend is always used, and off Linux New returns the
// ErrBackendUnsupported from its Init call (spec.md §9).
func New(cfg Config, logger Logger, opts ...ReactorOption) (*Reactor, error) {
	o := resolveReactorOptions(opts)
	if logger == nil {
		var err error
		logger, err = NewLogger("-", LevelNotice)
		if err != nil {
			return nil, err
		}
	}
	debugConn, err := newDebugConnectionTable(cfg.DebugConnection)
	if err != nil {
		return nil, err
	}
	r := &Reactor{
		cfg:       cfg,
		backend:   newEpollBackend(),
		pool:      NewPool(cfg.WorkerConnections, 16*1024),
		timers:    newTimerIndex(cfg.TimerCoalesceWindow),
		logger:    logger,
		metrics:   NewMetrics(o.metricsRegistry, o.workerID),
		state:     newFastState(),
		done:      make(chan struct{}),
		debugConn: debugConn,
	}
	if err := r.backend.Init(cfg.Events); err != nil {
		return nil, err
	}
	if cfg.AcceptMutex {
		m, err := newAcceptMutex(o.acceptMutexPath)
		if err != nil {
			_ = r.backend.Shutdown()
			return nil, err
		}
		r.mutex = m
	}
	return r, nil
}

// SetSignalFlags wires the process-level signal contract (spec.md §6) that
// Serve polls once per iteration.
func (r *Reactor) SetSignalFlags(f *SignalFlags) { r.signalFlags = f }

// Pool exposes the underlying connection pool, e.g. for metrics sampling.
func (r *Reactor) Pool() *Pool { return r.pool }

// AddListener opens l if not already open, registers its accept handler,
// and — unless accept-mutex arbitration is enabled, in which case
// registration happens opportunistically inside Serve — registers read
// interest immediately (spec.md §4.4).
func (r *Reactor) AddListener(l *Listener, onAccept func(c *Connection) error) error {
	if !l.open {
		if err := l.Open(); err != nil {
			return err
		}
	}
	idx := uint32(len(r.listeners))
	entry := &listenerEntry{listener: l, onAccept: onAccept, handle: makeHandle(listenerSlotMarker, idx)}
	r.listeners = append(r.listeners, entry)
	if !r.cfg.AcceptMutex {
		if err := r.backend.AddRead(l.Fd(), entry.handle); err != nil {
			return err
		}
		entry.registered = true
	}
	return nil
}

func (r *Reactor) ensureListenersRegistered() {
	for _, e := range r.listeners {
		if !e.registered {
			if err := r.backend.AddRead(e.listener.Fd(), e.handle); err == nil {
				e.registered = true
			}
		}
	}
}

func (r *Reactor) ensureListenersUnregistered() {
	for _, e := range r.listeners {
		if e.registered {
			_ = r.backend.DelRead(e.listener.Fd(), e.handle, false)
			e.registered = false
		}
	}
}

// handleAccept runs one listener's greedy accept loop (spec.md §4.4),
// allocating from the pool and registering each new connection with the
// backend before invoking the caller's onAccept.
func (r *Reactor) handleAccept(e *listenerEntry) {
	resourceExhausted, aborted := e.listener.acceptLoop(func(fd int, sa unix.Sockaddr) error {
		if r.pool.FreeCount() == 0 {
			r.metrics.ReclaimAttempts.Inc()
		}
		c, err := r.pool.Get(fd)
		if err != nil {
			r.metrics.ReclaimFailures.Inc()
			r.logger.Log(LevelAlert, "no free connections", nil)
			return err
		}
		c.Peer = sockaddrToNetAddr(sa)
		if c.Peer != nil {
			c.PeerText = c.Peer.String()
		}
		c.StartTime = time.Now()
		c.setTo(connDebug, r.debugConn.match(peerIP(c.Peer)))

		h := c.handle(c.Read)
		if err := r.backend.AddConnection(fd, h); err != nil {
			c.fd = -1
			r.pool.Free(c)
			return err
		}
		c.Read.set(FlagActive)
		c.Write.set(FlagActive)
		if e.onAccept != nil {
			if err := e.onAccept(c); err != nil {
				r.CloseConnection(c, err)
				return err
			}
		}
		r.metrics.Accepts.Inc()
		return nil
	}, func(err error) {
		r.logger.Log(LevelAlert, "accept failed", map[string]interface{}{"error": err.Error()})
	})
	if aborted > 0 {
		r.metrics.AcceptsAborted.Add(float64(aborted))
	}
	if resourceExhausted {
		r.pool.MarkResourceExhausted(acceptPressureTurns)
		r.logger.Log(LevelAlert, "accept: resource exhausted (EMFILE/ENFILE)", nil)
	}
}

// peerIP extracts the bare IP from c.Peer for a debug_connection match,
// returning nil for a non-TCP or nil address.
func peerIP(addr net.Addr) net.IP {
	if ta, ok := addr.(*net.TCPAddr); ok {
		return ta.IP
	}
	return nil
}

// AddTimer installs or re-arms ev's deadline, honouring the configured
// coalesce window (spec.md §4.5 add_timer).
func (r *Reactor) AddTimer(ev *Event, d time.Duration) {
	r.timers.AddTimer(ev, time.Now(), d)
}

// DelTimer cancels ev's timer without affecting its registration otherwise
// (spec.md §4.5 del_timer).
func (r *Reactor) DelTimer(ev *Event) { r.timers.DelTimer(ev) }

// Reusable toggles c's membership in the reclaim LRU (spec.md §6 reusable).
func (r *Reactor) Reusable(c *Connection, on bool) { r.pool.SetReusable(c, on) }

// CloseConnection implements spec.md §4.3 close_connection: removes backend
// interest with the CLOSE short-circuit, unlinks both events from the timer
// index, clears their active and posted flags, closes the OS fd, and returns
// the slot to the freelist. An event still sitting on postedEvents is not
// unlinked here; Serve drops it as stale when it is drained. cause, if non-nil, is the I/O failure that triggered the
// close and is reported per the connection's LogErrorPolicy (spec.md §7); a
// nil cause is a clean/graceful close and is never logged.
func (r *Reactor) CloseConnection(c *Connection, cause error) {
	if c.fd == -1 {
		return
	}
	if cause != nil {
		r.logConnectionError(c, cause)
	}
	_ = r.backend.DelConnection(c.fd, true)
	r.timers.DelTimer(c.Read)
	r.timers.DelTimer(c.Write)
	c.Read.clear(FlagActive | FlagPosted)
	c.Write.clear(FlagActive | FlagPosted)
	_ = unix.Close(c.fd)
	c.fd = -1
	r.pool.Free(c)
}

// logConnectionError applies c.LogErrorPolicy (spec.md §7's log_error
// table) to cause, mirroring nginx's per-connection ngx_connection_error.
func (r *Reactor) logConnectionError(c *Connection, cause error) {
	level := LevelErr
	switch c.LogErrorPolicy {
	case LogPolicyAlert:
		level = LevelAlert
	case LogPolicyError:
		level = LevelErr
	case LogPolicyInfo:
		level = LevelInfo
	case LogPolicyIgnoreConnReset:
		if errors.Is(cause, unix.ECONNRESET) {
			return
		}
	case LogPolicyIgnoreInval:
		if errors.Is(cause, unix.EINVAL) {
			return
		}
	}
	r.logger.WithConn(c).Log(level, "connection closed", map[string]interface{}{"error": cause.Error()})
}

// Notify schedules fn to run on this Reactor's dispatch goroutine from any
// goroutine (spec.md §6 notify).
func (r *Reactor) Notify(fn func()) error {
	err := r.backend.Notify(fn)
	if err == nil {
		r.metrics.NotifyCount.Inc()
	}
	return err
}

func (r *Reactor) invoke(ev *Event, flags EventFlags) {
	if ev.handler == nil {
		return
	}
	ev.set(FlagReady)
	ev.handler(ev, flags)
}

// dispatchEntry implements one ready entry's portion of spec.md §4.2 step 4:
// stale-event filtering, listener-vs-connection routing, and read-before-
// write ordering with a staleness re-check between the two. deferAll is true
// for the one dispatch pass made while this worker holds the accept mutex
// (spec.md §4.6 "Hold duration is bounded to one dispatch iteration"):
// listener readiness goes onto acceptQueue, which Serve drains before the
// mutex is released, and ordinary connection readiness goes onto
// postedEvents, which Serve drains after the mutex is released.
func (r *Reactor) dispatchEntry(entry BatchEntry, deferAll bool) {
	if entry.Handle.slot() == listenerSlotMarker {
		idx := entry.Handle.instance()
		if int(idx) >= len(r.listeners) {
			return
		}
		le := r.listeners[idx]
		if deferAll {
			r.acceptQueue = append(r.acceptQueue, le)
		} else {
			r.handleAccept(le)
		}
		return
	}

	c, ok := r.pool.ByHandle(entry.Handle)
	if !ok {
		r.metrics.StaleEventDrops.Inc()
		return
	}
	if entry.Readiness&Readable != 0 && c.Read.Active() {
		if deferAll {
			r.deferEvent(c.Read)
		} else {
			r.invoke(c.Read, FlagReady)
		}
	}

	// The read handler above may have closed c and reused its slot; a fresh
	// lookup by the same handle value will now fail, suppressing the stale
	// write dispatch (spec.md §8 property 1 / scenario S2).
	c, ok = r.pool.ByHandle(entry.Handle)
	if !ok {
		r.metrics.StaleEventDrops.Inc()
		return
	}
	if entry.Readiness&Writable != 0 && c.Write.Active() {
		if deferAll {
			r.deferEvent(c.Write)
		} else {
			r.invoke(c.Write, FlagReady)
		}
	}
}

// deferEvent appends ev to postedEvents instead of invoking it inline,
// bounding the accept-mutex hold duration to this dispatch iteration
// (spec.md §4.2 step 4 "defer all" / §4.6): ordinary connection readiness
// waits until the mutex has been released before running handler code.
func (r *Reactor) deferEvent(ev *Event) {
	ev.set(FlagDeferred)
	r.postedEvents.Push(ev)
}

// noTimersLeft reports whether the worker may exit a graceful shutdown
// (spec.md §4.5 no_timers_left).
func (r *Reactor) noTimersLeft() bool { return r.timers.NoTimersLeft() }

// beginGracefulShutdown stops accepting new connections and closes every
// currently-idle-reusable connection immediately, leaving only in-flight
// work (spec.md §6 "stop accepting, wait for timers with cancelable=0 to
// complete, exit"). Shared by the signal-driven path in Serve and the
// direct GracefulShutdown call so both apply the same transition exactly
// once.
func (r *Reactor) beginGracefulShutdown() {
	if r.gracefulStarted {
		return
	}
	r.gracefulStarted = true
	r.ensureListenersUnregistered()
	for _, e := range r.listeners {
		_ = e.listener.Close()
	}
	for _, c := range r.pool.ReusableConnections() {
		r.CloseConnection(c, nil)
	}
	r.state.Store(StateTerminating)
	_ = r.backend.Notify(func() {})
}

// GracefulShutdown stops accepting new connections immediately and blocks
// until every remaining timer is cancelable (or ctx expires), then Serve
// returns (spec.md §6 graceful shutdown).
func (r *Reactor) GracefulShutdown(ctx context.Context) error {
	r.gracefulDeadline = time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		r.gracefulDeadline = dl
	}
	r.beginGracefulShutdown()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately terminates Serve without waiting for pending timers
// (spec.md §6 immediate shutdown).
func (r *Reactor) Close() error {
	var err error
	r.stopOnce.Do(func() {
		r.state.Store(StateTerminated)
		for _, e := range r.listeners {
			_ = e.listener.Close()
		}
		_ = r.backend.Notify(func() {})
		err = r.backend.Shutdown()
		if r.mutex != nil {
			_ = r.mutex.Close()
		}
	})
	return err
}

// Serve runs the dispatch loop until ctx is cancelled, an immediate
// shutdown signal is observed, or a graceful shutdown completes
// (spec.md §4.2). It is intended to be the only thing running on its
// calling goroutine; cmd/ioreactord pins that goroutine to an OS thread via
// runtime.LockOSThread before calling Serve.
func (r *Reactor) Serve(ctx context.Context) error {
	if !r.state.TryTransition(StateAwake, StateRunning) {
		return ErrReactorClosed
	}
	defer close(r.done)
	stopWake := context.AfterFunc(ctx, func() { _ = r.backend.Notify(func() {}) })
	defer stopWake()

	for {
		if ctx.Err() != nil || r.state.Load() == StateTerminated {
			break
		}
		if r.signalFlags != nil {
			if r.signalFlags.ImmediateShutdownRequested() {
				break
			}
			if r.signalFlags.GracefulShutdownRequested() && !r.gracefulStarted {
				r.beginGracefulShutdown()
			}
			if r.signalFlags.ReopenLogsRequested() {
				_ = r.logger.Reopen()
				r.signalFlags.ClearReopenLogs()
			}
		}
		if r.state.Load() == StateTerminating && r.noTimersLeft() {
			break
		}

		deferAccepts := false
		mutexHeldThisIteration := false
		if r.cfg.AcceptMutex && r.mutex != nil && r.pool.AcceptDisabled() <= 0 {
			if err := r.mutex.TryLock(); err == nil {
				mutexHeldThisIteration = true
				deferAccepts = true
				r.ensureListenersRegistered()
			} else {
				r.ensureListenersUnregistered()
			}
		}

		now := time.Now()
		timeout := r.timers.FindTimer(now)
		if r.cfg.AcceptMutex && !mutexHeldThisIteration {
			if timeout < 0 || r.cfg.AcceptMutexDelay < timeout {
				timeout = r.cfg.AcceptMutexDelay
			}
		}

		r.state.TryTransition(StateRunning, StateSleeping)
		batch, err := r.backend.Wait(timeout)
		r.state.TryTransition(StateSleeping, StateRunning)
		if err != nil {
			r.logger.Log(LevelAlert, "backend wait failed", map[string]interface{}{"error": err.Error()})
			continue
		}

		for _, entry := range batch {
			r.dispatchEntry(entry, deferAccepts)
		}

		for len(r.acceptQueue) > 0 {
			le := r.acceptQueue[0]
			r.acceptQueue = r.acceptQueue[1:]
			r.handleAccept(le)
		}

		if mutexHeldThisIteration {
			_ = r.mutex.Unlock()
		}

		for {
			ev := r.postedEvents.Pop()
			if ev == nil {
				break
			}
			ev.clear(FlagDeferred)
			h := makeHandle(ev.slot, ev.instance)
			if _, ok := r.pool.ByHandle(h); ok && ev.Active() {
				r.invoke(ev, FlagPosted)
			} else {
				r.metrics.StaleEventDrops.Inc()
			}
		}

		r.timers.ExpireTimers(time.Now())
		r.pool.DecayAcceptPressure()
		r.metrics.PoolFree.Set(float64(r.pool.FreeCount()))
		r.metrics.PoolInUse.Set(float64(r.pool.Cap() - r.pool.FreeCount()))
		r.metrics.AcceptDisabled.Set(float64(r.pool.AcceptDisabled()))
	}

	r.state.Store(StateTerminated)
	return nil
}
