package ioreactor

import "testing"

func TestFastStateTryTransition(t *testing.T) {
	s := newFastState()
	if s.Load() != StateAwake {
		t.Fatalf("initial state = %v, want StateAwake", s.Load())
	}
	if !s.TryTransition(StateAwake, StateRunning) {
		t.Fatal("expected Awake->Running to succeed")
	}
	if s.TryTransition(StateAwake, StateRunning) {
		t.Fatal("expected a second Awake->Running to fail, state already moved on")
	}
	if s.Load() != StateRunning {
		t.Fatalf("state = %v, want StateRunning", s.Load())
	}
}

func TestFastStateTransitionAny(t *testing.T) {
	s := newFastState()
	s.Store(StateSleeping)
	if !s.TransitionAny([]ReactorState{StateRunning, StateSleeping}, StateTerminating) {
		t.Fatal("expected TransitionAny to match StateSleeping")
	}
	if s.Load() != StateTerminating {
		t.Fatalf("state = %v, want StateTerminating", s.Load())
	}
}

func TestFastStateCanAcceptWork(t *testing.T) {
	s := newFastState()
	for _, st := range []ReactorState{StateAwake, StateRunning, StateSleeping} {
		s.Store(st)
		if !s.CanAcceptWork() {
			t.Fatalf("state %v should accept work", st)
		}
	}
	for _, st := range []ReactorState{StateTerminating, StateTerminated} {
		s.Store(st)
		if s.CanAcceptWork() {
			t.Fatalf("state %v should not accept work", st)
		}
	}
}

func TestFastStateIsTerminal(t *testing.T) {
	s := newFastState()
	if s.IsTerminal() {
		t.Fatal("fresh state must not be terminal")
	}
	s.Store(StateTerminated)
	if !s.IsTerminal() {
		t.Fatal("StateTerminated must be terminal")
	}
}
