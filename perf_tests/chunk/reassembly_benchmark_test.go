package chunk_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/lyzr/tokenmesh/common/chunk"
	"github.com/lyzr/tokenmesh/common/logger"
)

// BenchmarkSplit measures fragmentation cost for a payload well above
// MaxWireLength (§6), the path transport.Sender takes for every oversize
// outbound envelope.
func BenchmarkSplit(b *testing.B) {
	body := strings.Repeat("x", chunk.MaxWireLength*20)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chunk.Split("corr-id", "svc", "op", body)
	}
}

// BenchmarkEscapeUnescapeRoundTrip measures the JSON-escape round trip
// every chunk's chunkData field goes through on both send and receive.
func BenchmarkEscapeUnescapeRoundTrip(b *testing.B) {
	data := strings.Repeat(`quote"back\slash`, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		escaped := chunk.EscapeChunkData(data)
		if _, err := chunk.UnescapeChunkData(escaped); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkReassemblerSequential feeds one payload's chunks to a
// Reassembler in order, the common case where UDP delivers a burst of
// chunks without reordering.
func BenchmarkReassemblerSequential(b *testing.B) {
	log := logger.New("error", "json")
	body := strings.Repeat("y", chunk.MaxWireLength*10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := chunk.NewReassembler(log)
		envs := chunk.Split(fmt.Sprintf("corr-%d", i), "svc", "op", body)
		for _, env := range envs {
			if _, complete, err := r.Accept(env); err != nil {
				b.Fatal(err)
			} else if complete && env.ChunkIndex != len(envs)-1 {
				b.Fatalf("completed early at index %d of %d", env.ChunkIndex, len(envs))
			}
		}
		r.Close()
	}
}

// BenchmarkReassemblerInterleaved feeds chunks from many concurrent
// correlation ids into a single Reassembler in round-robin order,
// exercising the map-keyed buffer under concurrent in-flight payloads
// rather than one payload at a time.
func BenchmarkReassemblerInterleaved(b *testing.B) {
	log := logger.New("error", "json")
	r := chunk.NewReassembler(log)
	defer r.Close()

	const inFlight = 32
	body := strings.Repeat("z", chunk.MaxWireLength*4)
	groups := make([][]chunk.Envelope, inFlight)
	for g := 0; g < inFlight; g++ {
		groups[g] = chunk.Split(fmt.Sprintf("corr-%d", g), "svc", "op", body)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g := i % inFlight
		idx := (i / inFlight) % len(groups[g])
		if _, _, err := r.Accept(groups[g][idx]); err != nil {
			b.Fatal(err)
		}
	}
}
