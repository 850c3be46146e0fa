package ioreactor

import "sync/atomic"

// ReactorState represents the current state of a Reactor's dispatch loop.
//
// State machine:
//
//	StateAwake → StateRunning           [Serve start]
//	StateRunning → StateSleeping        [blocked in Backend.Wait]
//	StateSleeping → StateRunning        [Wait returns]
//	StateRunning/StateSleeping → StateTerminating  [GracefulShutdown]
//	any → StateTerminated               [Close, or Serve returns]
type ReactorState uint64

const (
	StateAwake ReactorState = iota
	StateRunning
	StateSleeping
	StateTerminating
	StateTerminated
)

func (s ReactorState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine for a Reactor's lifecycle,
// adapted from the teacher's FastState: pure atomic CAS, no mutex, no
// validation of transition legality beyond the CAS itself.
type fastState struct {
	v atomic.Uint64
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateAwake))
	return s
}

func (s *fastState) Load() ReactorState { return ReactorState(s.v.Load()) }
func (s *fastState) Store(v ReactorState) { s.v.Store(uint64(v)) }

func (s *fastState) TryTransition(from, to ReactorState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *fastState) TransitionAny(validFrom []ReactorState, to ReactorState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

func (s *fastState) IsTerminal() bool { return s.Load() == StateTerminated }

func (s *fastState) CanAcceptWork() bool {
	switch s.Load() {
	case StateAwake, StateRunning, StateSleeping:
		return true
	default:
		return false
	}
}
