package pct

import "testing"

func TestStateRoundTrip(t *testing.T) {
	tests := []State{
		{Status: StatusEmpty, Flags: 0, Gen: 0, Refs: 0},
		{Status: StatusReady, Flags: 0xFF, Gen: 0xBEEF, Refs: 0xCAFEBABE},
		{Status: StatusCancelled, Flags: 1, Gen: 1, Refs: 1},
		{Status: StatusQueued, Flags: 0, Gen: 0xFFFF, Refs: 0xFFFFFFFF},
	}
	for _, want := range tests {
		got := Unpack(Pack(want))
		if got != want {
			t.Errorf("Unpack(Pack(%+v)) = %+v", want, got)
		}
	}
}

func TestPackOfUnpackIsIdentity(t *testing.T) {
	words := []uint64{0, ^uint64(0), 0x0001_0002_0003_0004, 0x8000_0000_FFFF_0102}
	for _, w := range words {
		if got := Pack(Unpack(w)); got != w {
			t.Errorf("Pack(Unpack(%#x)) = %#x, want %#x", w, got, w)
		}
	}
}

func TestWordCompareAndSwap(t *testing.T) {
	var w Word
	w.Store(State{Status: StatusEmpty})
	if !w.CompareAndSwap(State{Status: StatusEmpty}, State{Status: StatusQueued, Gen: 1}) {
		t.Fatal("expected CAS to succeed against matching old state")
	}
	if w.CompareAndSwap(State{Status: StatusEmpty}, State{Status: StatusLoading}) {
		t.Fatal("expected CAS to fail against stale old state")
	}
	if got := w.Load(); got.Status != StatusQueued || got.Gen != 1 {
		t.Errorf("Load() = %+v, want status=queued gen=1", got)
	}
}

func TestWordTransitionAbortLeavesStateUnchanged(t *testing.T) {
	var w Word
	w.Store(State{Status: StatusReady, Refs: 2})
	_, ok := w.Transition(func(cur State) (State, bool) {
		if cur.Status != StatusEmpty {
			return cur, false
		}
		return State{}, true
	})
	if ok {
		t.Fatal("expected abort")
	}
	if got := w.Load(); got.Status != StatusReady || got.Refs != 2 {
		t.Errorf("state mutated after aborted transition: %+v", got)
	}
}
