package engine

import "testing"

func TestCheckpointHandoffStartsUnsignaled(t *testing.T) {
	h := newCheckpointHandoff()
	if h.pastDoneNow() {
		t.Fatal("a fresh handoff must not report past-done")
	}
}

func TestCheckpointHandoffSignalIsIdempotent(t *testing.T) {
	h := newCheckpointHandoff()
	h.signalPastDone()
	h.signalPastDone() // must not panic on double-close
	if !h.pastDoneNow() {
		t.Fatal("expected past-done after signaling")
	}
}
