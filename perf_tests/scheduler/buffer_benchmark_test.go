package scheduler_test

import (
	"strconv"
	"sync"
	"testing"

	"github.com/lyzr/tokenmesh/common/scheduler"
)

// BenchmarkBufferOffer measures Offer throughput into a bounded priority
// buffer sized at 100 times the default per-place maxQueue (§4.3), with
// SID prioritisation off so every Offer falls onto the arrival-order path.
// Once the buffer is full, the remaining Offers take the rejection path.
func BenchmarkBufferOffer(b *testing.B) {
	buf := scheduler.NewBuffer(scheduler.DefaultMaxQueue * 100)
	body := strconv.Itoa(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Offer(int64(i), false, body)
	}
}

// BenchmarkBufferOfferPop alternates Offer/TryPop on an unbounded-in-
// practice buffer, representing steady-state firing where arrivals and
// dispatches interleave roughly 1:1.
func BenchmarkBufferOfferPop(b *testing.B) {
	buf := scheduler.NewBuffer(1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Offer(int64(i), false, "")
		buf.TryPop()
	}
}

// BenchmarkBufferOfferConcurrent measures Offer throughput under
// concurrent producers against a small maxQueue, exercising the
// overload/rejection path (§4.3 "queueAction <= 0") alongside admission.
func BenchmarkBufferOfferConcurrent(b *testing.B) {
	buf := scheduler.NewBuffer(scheduler.DefaultMaxQueue)

	b.RunParallel(func(pb *testing.PB) {
		var seq int64
		for pb.Next() {
			seq++
			buf.Offer(seq, false, "")
			buf.TryPop()
		}
	})
}

// BenchmarkBufferPrioritiseSID measures Offer cost when every entry
// carries sequenceId prioritisation (§4.3's sorted-by-sequenceId mode),
// which drives the cost key's high bits from the caller-supplied
// sequenceId rather than a monotonic counter.
func BenchmarkBufferPrioritiseSID(b *testing.B) {
	buf := scheduler.NewBuffer(scheduler.DefaultMaxQueue * 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Offer(int64(b.N-i), true, "")
	}
}

// BenchmarkBufferPopBlocking measures the blocking Pop path (§4.3 step 2,
// "atomic remove") under a single producer/single consumer pairing.
func BenchmarkBufferPopBlocking(b *testing.B) {
	buf := scheduler.NewBuffer(8)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for i := 0; i < b.N; i++ {
			buf.Offer(int64(i), false, "")
		}
		buf.Stop()
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := buf.Pop(); !ok {
			break
		}
	}
	wg.Wait()
}
