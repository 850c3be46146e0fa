package blist

import "testing"

func TestPushAndIterateOrder(t *testing.T) {
	l := New[int](2)
	for i := 0; i < 7; i++ {
		l.Push(i)
	}
	if got := l.Len(); got != 7 {
		t.Fatalf("Len() = %d, want 7", got)
	}
	var seen []int
	l.Iterate(func(v *int) bool {
		seen = append(seen, *v)
		return true
	})
	if len(seen) != 7 {
		t.Fatalf("iterated %d elements, want 7", len(seen))
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("element %d = %d, want %d", i, v, i)
		}
	}
}

func TestIterateStopsEarly(t *testing.T) {
	l := New[int](3)
	for i := 0; i < 10; i++ {
		l.Push(i)
	}
	var seen int
	l.Iterate(func(v *int) bool {
		seen++
		return *v < 2
	})
	if seen != 3 {
		t.Fatalf("expected iteration to stop after 3 elements, saw %d", seen)
	}
}

func TestPushReturnsMutableSlot(t *testing.T) {
	l := New[string](4)
	p := l.Push("a")
	*p = "b"
	var got string
	l.Iterate(func(v *string) bool {
		got = *v
		return false
	})
	if got != "b" {
		t.Fatalf("mutation through Push's returned pointer not observed: got %q", got)
	}
}

func TestNewWithNonPositiveNallocDefaultsToOne(t *testing.T) {
	l := New[int](0)
	l.Push(1)
	l.Push(2)
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
}
