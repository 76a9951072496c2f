package place

import "testing"

func TestInitialStateIsIdle(t *testing.T) {
	p := New("P1_Place")
	if p.State() != IDLE {
		t.Fatalf("State() = %v, want IDLE", p.State())
	}
	if p.Stopped() {
		t.Fatalf("a freshly created place must not be Stopped")
	}
}

func TestStateTransitionsAndSnapshot(t *testing.T) {
	p := New("P1_Place")
	p.SetState(BUFFERING)
	p.SetState(FIRING)
	p.IncDispatched()
	p.IncHandlerFailure()
	p.SetState(ROUTING)
	p.SetState(IDLE)

	snap := p.Snapshot()
	if snap.State != "IDLE" {
		t.Fatalf("snapshot state = %q, want IDLE", snap.State)
	}
	if snap.Dispatched != 1 {
		t.Fatalf("Dispatched = %d, want 1", snap.Dispatched)
	}
	if snap.HandlerFailure != 1 {
		t.Fatalf("HandlerFailure = %d, want 1", snap.HandlerFailure)
	}
}

func TestStoppedAfterStopTransition(t *testing.T) {
	p := New("P1_Place")
	p.SetState(STOPPED)
	if !p.Stopped() {
		t.Fatalf("expected Stopped() after SetState(STOPPED)")
	}
}
