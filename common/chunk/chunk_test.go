package chunk

import (
	"testing"

	"github.com/lyzr/tokenmesh/common/logger"
)

func testLogger() *logger.Logger { return logger.New("error", "json") }

func TestReassemblyOutOfOrderArrival(t *testing.T) {
	r := NewReassembler(testLogger())
	defer r.Close()

	parts := []string{"ABC", "DEF", "GHI", "JKL"}
	order := []int{2, 0, 3, 1}

	var body string
	var complete bool
	for _, idx := range order {
		env := Envelope{
			ChunkIndex:    idx,
			TotalChunks:   4,
			CorrelationID: "C1",
			ChunkData:     EscapeChunkData(parts[idx]),
		}
		b, c, err := r.Accept(env)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if c {
			body, complete = b, c
		}
	}
	if !complete {
		t.Fatalf("expected reassembly to complete")
	}
	if body != "ABCDEFGHIJKL" {
		t.Fatalf("body = %q, want ABCDEFGHIJKL", body)
	}
	if r.LostCount() != 0 {
		t.Fatalf("LostCount = %d, want 0", r.LostCount())
	}
}

func TestReassemblySingleChunkEquivalentToNonChunked(t *testing.T) {
	r := NewReassembler(testLogger())
	defer r.Close()

	body, complete, err := r.Accept(Envelope{
		ChunkIndex: 0, TotalChunks: 1, CorrelationID: "C2",
		ChunkData: EscapeChunkData("hello world"),
	})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !complete || body != "hello world" {
		t.Fatalf("body=%q complete=%v, want hello world/true", body, complete)
	}
}

func TestReassemblyDuplicateIndexIgnored(t *testing.T) {
	r := NewReassembler(testLogger())
	defer r.Close()

	env := Envelope{ChunkIndex: 0, TotalChunks: 2, CorrelationID: "C3", ChunkData: EscapeChunkData("A")}
	if _, complete, err := r.Accept(env); err != nil || complete {
		t.Fatalf("first chunk: complete=%v err=%v", complete, err)
	}
	if _, complete, err := r.Accept(env); err != nil || complete {
		t.Fatalf("duplicate chunk must be ignored, not completed: complete=%v err=%v", complete, err)
	}
	body, complete, err := r.Accept(Envelope{ChunkIndex: 1, TotalChunks: 2, CorrelationID: "C3", ChunkData: EscapeChunkData("B")})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !complete || body != "AB" {
		t.Fatalf("body=%q complete=%v, want AB/true", body, complete)
	}
}

func TestReassemblyOutOfRangeIndexIgnored(t *testing.T) {
	r := NewReassembler(testLogger())
	defer r.Close()

	_, complete, err := r.Accept(Envelope{ChunkIndex: 5, TotalChunks: 2, CorrelationID: "C4", ChunkData: EscapeChunkData("x")})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if complete {
		t.Fatalf("out-of-range index must not complete the buffer")
	}
}

func TestLooksLikeChunk(t *testing.T) {
	if !LooksLikeChunk(`{"chunkIndex":0,"totalChunks":2,"correlationId":"c"}`) {
		t.Fatalf("expected chunk envelope to be detected")
	}
	if LooksLikeChunk(`{"tokenId":"1"}`) {
		t.Fatalf("non-chunk payload must not be detected as a chunk")
	}
}

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	original := "line1\nline2\t\"quoted\" unicode:é"
	escaped := EscapeChunkData(original)
	unescaped, err := UnescapeChunkData(escaped)
	if err != nil {
		t.Fatalf("UnescapeChunkData: %v", err)
	}
	if unescaped != original {
		t.Fatalf("round trip mismatch: got %q want %q", unescaped, original)
	}
}

func TestSplitReassembleIdentity(t *testing.T) {
	body := ""
	for i := 0; i < 5000; i++ {
		body += "x"
	}
	envs := Split("corr-1", "Svc", "op", body)
	if len(envs) < 2 {
		t.Fatalf("expected payload over MaxWireLength to split into multiple chunks, got %d", len(envs))
	}

	r := NewReassembler(testLogger())
	defer r.Close()

	var reassembled string
	for _, e := range envs {
		b, complete, err := r.Accept(e)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if complete {
			reassembled = b
		}
	}
	if reassembled != body {
		t.Fatalf("reassembled body does not match original (len %d vs %d)", len(reassembled), len(body))
	}
}
