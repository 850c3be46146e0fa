package ioreactor

import (
	"container/heap"
	"time"
)

// timerIndex is an indexed min-heap keyed by Event.deadline, extending
// container/heap's documented "priority queue with update" pattern with a
// heap-index field on each Event so DelTimer can locate and remove an arbitrary
// node in O(log n) instead of the O(n) scan a plain []timer slice (as kept
// by the teacher's loop.go) would require.
type timerIndex struct {
	h timerHeap

	// coalesceWindow suppresses a re-insert when the new deadline is within
	// this distance of the event's current deadline (spec.md §9 Open
	// Question, exposed as Config.TimerCoalesceWindow).
	coalesceWindow time.Duration
}

type timerHeap []*Event

func (th timerHeap) Len() int { return len(th) }
func (th timerHeap) Less(i, j int) bool {
	return th[i].deadline.Before(th[j].deadline)
}
func (th timerHeap) Swap(i, j int) {
	th[i], th[j] = th[j], th[i]
	th[i].heapIndex = i
	th[j].heapIndex = j
}
func (th *timerHeap) Push(x interface{}) {
	ev := x.(*Event)
	ev.heapIndex = len(*th)
	*th = append(*th, ev)
}
func (th *timerHeap) Pop() interface{} {
	old := *th
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.heapIndex = -1
	*th = old[:n-1]
	return ev
}

func newTimerIndex(coalesceWindow time.Duration) *timerIndex {
	return &timerIndex{coalesceWindow: coalesceWindow}
}

// AddTimer sets ev's deadline to now+d, honouring the hysteresis window
// when ev already carries a timer (spec.md §4.5 add_timer).
func (t *timerIndex) AddTimer(ev *Event, now time.Time, d time.Duration) {
	deadline := now.Add(d)
	if ev.has(FlagTimerSet) {
		delta := deadline.Sub(ev.deadline)
		if delta < 0 {
			delta = -delta
		}
		if delta < t.coalesceWindow {
			return
		}
		t.del(ev)
	}
	ev.deadline = deadline
	ev.set(FlagTimerSet)
	ev.clear(FlagTimedOut)
	heap.Push(&t.h, ev)
}

// DelTimer unlinks ev from the index if present.
func (t *timerIndex) DelTimer(ev *Event) {
	if !ev.has(FlagTimerSet) {
		return
	}
	t.del(ev)
}

func (t *timerIndex) del(ev *Event) {
	if ev.heapIndex < 0 || ev.heapIndex >= len(t.h) || t.h[ev.heapIndex] != ev {
		return
	}
	heap.Remove(&t.h, ev.heapIndex)
	ev.clear(FlagTimerSet)
}

// FindTimer returns the wait timeout until the next deadline: 0 if the
// minimum has already passed, or an infinite-sentinel negative duration if
// the index is empty (callers should treat negative as "no timeout").
func (t *timerIndex) FindTimer(now time.Time) time.Duration {
	if t.h.Len() == 0 {
		return -1
	}
	d := t.h[0].deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// ExpireTimers pops every event whose deadline is <= now, clears its timer
// state, and invokes its handler with FlagTimedOut set. The handler may
// re-arm itself safely since the event was unlinked before being invoked.
func (t *timerIndex) ExpireTimers(now time.Time) {
	for t.h.Len() > 0 && !t.h[0].deadline.After(now) {
		ev := heap.Pop(&t.h).(*Event)
		ev.clear(FlagTimerSet)
		ev.set(FlagTimedOut)
		if ev.handler != nil {
			ev.handler(ev, FlagTimedOut)
		}
	}
}

// NoTimersLeft reports whether every remaining timer is cancelable, the
// condition GracefulShutdown waits for before a worker may exit.
func (t *timerIndex) NoTimersLeft() bool {
	for _, ev := range t.h {
		if !ev.has(FlagCancelable) {
			return false
		}
	}
	return true
}

// Len returns the number of timers currently tracked.
func (t *timerIndex) Len() int { return t.h.Len() }
