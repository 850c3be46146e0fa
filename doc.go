// Package ioreactor implements an event-driven I/O reactor and connection
// lifecycle layer for high-performance non-blocking network servers.
//
// # Architecture
//
// A [Reactor] owns a readiness [Backend] (one edge-triggered epoll
// implementation on Linux, backend_linux.go), a fixed-capacity connection
// [Pool] (pool.go), a deadline-ordered [timerIndex] (timer.go), and a set of
// [Listener] values (listener.go). Each dispatch iteration waits for
// readiness, recovers the affected [Connection]/[Event] pair from an opaque
// tagged [handle] (handle.go), filters notifications that target a since-
// recycled slot, and invokes the installed [Handler].
//
// # Stale-event safety
//
// Because a connection slot's file descriptor can be closed and reused by a
// different connection within the same readiness batch, every registration
// is tagged with a generation counter (the "instance" bit in spec terms).
// The tag is recovered at dispatch time and compared against the live
// event's current generation; a mismatch means the notification belongs to
// a prior incarnation of the slot and is silently dropped.
//
// # Concurrency model
//
// Each [Reactor] is single-threaded cooperative: exactly one goroutine
// calls Backend.Wait, dispatches handlers, and expires timers. Handlers
// must not block and must not perform long CPU work. Multiple Reactors may
// run concurrently within one process, each pinned to its own OS thread via
// runtime.LockOSThread, standing in for the fork-based multi-process model
// the design is derived from — see cmd/ioreactord.
//
// # Usage
//
//	cfg := ioreactor.DefaultConfig()
//	r, err := ioreactor.New(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	l := ioreactor.CreateListening(ioreactor.ListenerConfig{Addr: "127.0.0.1:8080"})
//	if err := r.AddListener(l, onAccept); err != nil {
//		log.Fatal(err)
//	}
//	if err := r.Serve(context.Background()); err != nil {
//		log.Fatal(err)
//	}
package ioreactor
