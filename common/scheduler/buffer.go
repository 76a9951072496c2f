package scheduler

import (
	"container/heap"
	"sync"
)

// DefaultMaxQueue is MAXQUEUE's default per place (§6 "maxQueue").
const DefaultMaxQueue = 5

// Entry is one accepted arrival sitting in a place's priority buffer.
type Entry struct {
	Cost         CostKey
	SequenceID   int64
	RawEnvelope  string
	ArrivalIndex uint64
}

type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].Cost < h[j].Cost }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*Entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Buffer is a place's bounded priority buffer (§4.2 "Place", §4.3). Puts
// and pops are serialized by mu; Pop blocks via cond until an entry is
// available or the buffer is stopped.
type Buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     entryHeap
	maxQueue int
	keyer    *keyer
	arrival  uint64

	accepted int64
	lost     int64
	stopped  bool
}

// NewBuffer creates a bounded priority buffer. maxQueue <= 0 uses
// DefaultMaxQueue.
func NewBuffer(maxQueue int) *Buffer {
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueue
	}
	b := &Buffer{
		maxQueue: maxQueue,
		keyer:    newKeyer(),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Offer attempts to admit a raw envelope with the given sequenceId and
// prioritisation flag. Rejection occurs iff the buffer is at capacity
// (queueAction <= 0 per §4.3); the lost counter increments and ok is false.
func (b *Buffer) Offer(sequenceID int64, prioritiseSID bool, rawEnvelope string) (cost CostKey, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.heap) >= b.maxQueue {
		b.lost++
		return 0, false
	}

	cost = b.keyer.Compute(sequenceID, prioritiseSID)
	b.arrival++
	heap.Push(&b.heap, &Entry{
		Cost:         cost,
		SequenceID:   sequenceID,
		RawEnvelope:  rawEnvelope,
		ArrivalIndex: b.arrival,
	})
	b.accepted++
	b.cond.Signal()
	return cost, true
}

// Pop blocks until the lowest-cost entry is available, or the buffer has
// been stopped (in which case ok is false). Pop is the dispatcher's sole
// read path (§4.3 step 2, "atomic remove").
func (b *Buffer) Pop() (e *Entry, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.heap) == 0 && !b.stopped {
		b.cond.Wait()
	}
	if len(b.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&b.heap).(*Entry), true
}

// TryPop pops without blocking; ok is false if the buffer is empty.
func (b *Buffer) TryPop() (e *Entry, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&b.heap).(*Entry), true
}

// Stop releases any blocked Pop callers, returning ok=false to them.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.cond.Broadcast()
}

// Size returns the current occupancy.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.heap)
}

// Stats returns (accepted, lost) totals. accepted + lost == offered
// at all times (§8 "Under buffer saturation").
func (b *Buffer) Stats() (accepted, lost int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accepted, b.lost
}
