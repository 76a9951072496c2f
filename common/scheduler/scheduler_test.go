package scheduler

import "testing"

func TestPriorityUnderContention(t *testing.T) {
	b := NewBuffer(4)
	for _, sid := range []int64{200003, 200001, 200002, 200000} {
		if _, ok := b.Offer(sid, true, ""); !ok {
			t.Fatalf("sid %d should have been accepted", sid)
		}
	}
	want := []int64{200000, 200001, 200002, 200003}
	for _, w := range want {
		e, ok := b.TryPop()
		if !ok {
			t.Fatalf("expected entry for sid %d", w)
		}
		if e.SequenceID != w {
			t.Fatalf("dispatch order: got sid %d, want %d", e.SequenceID, w)
		}
	}
}

func TestOverflowAccounting(t *testing.T) {
	b := NewBuffer(2)
	offered := 5
	for i := 0; i < offered; i++ {
		b.Offer(int64(i), false, "")
	}
	accepted, lost := b.Stats()
	if accepted+lost != int64(offered) {
		t.Fatalf("accepted(%d)+lost(%d) != offered(%d)", accepted, lost, offered)
	}
	if accepted != 2 || lost != 3 {
		t.Fatalf("accepted=%d lost=%d, want 2/3", accepted, lost)
	}
	if b.Size() > 2 {
		t.Fatalf("buffer size %d exceeds MAXQUEUE", b.Size())
	}
}

func TestArrivalOrderWithoutSIDPrioritisation(t *testing.T) {
	b := NewBuffer(10)
	b.Offer(999, false, "first")
	b.Offer(1, false, "second")
	e1, _ := b.TryPop()
	e2, _ := b.TryPop()
	if e1.RawEnvelope != "first" || e2.RawEnvelope != "second" {
		t.Fatalf("expected arrival order when not SID-prioritized, got %q then %q", e1.RawEnvelope, e2.RawEnvelope)
	}
}

func TestCostKeysAreUnique(t *testing.T) {
	b := NewBuffer(100)
	seen := make(map[CostKey]bool)
	for i := 0; i < 50; i++ {
		cost, ok := b.Offer(int64(100000), true, "")
		if !ok {
			t.Fatalf("offer %d rejected", i)
		}
		if seen[cost] {
			t.Fatalf("duplicate cost key %d at iteration %d", cost, i)
		}
		seen[cost] = true
	}
}

func TestPopBlocksUntilStop(t *testing.T) {
	b := NewBuffer(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := b.Pop()
		done <- ok
	}()
	b.Stop()
	if ok := <-done; ok {
		t.Fatalf("Pop after Stop on empty buffer should return ok=false")
	}
}
