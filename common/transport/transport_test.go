package transport

import (
	"strings"
	"testing"
	"time"

	"github.com/lyzr/tokenmesh/common/logger"
)

func testLogger() *logger.Logger { return logger.New("error", "json") }

func TestGzipRoundTrip(t *testing.T) {
	original := []byte(`{"hello":"world"}`)
	compressed, err := Compress(original)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !IsGzip(compressed) {
		t.Fatalf("compressed output should start with the gzip magic bytes")
	}
	decompressed, err := Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if string(decompressed) != string(original) {
		t.Fatalf("round trip mismatch: got %q, want %q", decompressed, original)
	}
}

func TestDecodePassesThroughNonGzip(t *testing.T) {
	plain := []byte(`{"plain":"text"}`)
	out, err := Decode(plain)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(out) != string(plain) {
		t.Fatalf("Decode should pass through non-gzip bytes unchanged")
	}
}

func TestReactorReceivesAndHandsOffDatagram(t *testing.T) {
	received := make(chan string, 1)

	r, err := NewReactor(Config{ChannelID: "ip9", BasePort: 777, Workers: 1}, testLogger(), func(raw string) {
		received <- raw
	})
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	r.Start()
	defer r.Stop()

	sender, err := NewSender()
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	if err := sender.Send("127.0.0.1", 19777, `{"payload":"test"}`); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got != `{"payload":"test"}` {
			t.Fatalf("handoff payload = %q, want test payload", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reactor handoff")
	}
}

func TestReactorReassemblesChunkedDatagrams(t *testing.T) {
	received := make(chan string, 1)

	r, err := NewReactor(Config{ChannelID: "ip9", BasePort: 778, Workers: 1}, testLogger(), func(raw string) {
		received <- raw
	})
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}
	r.Start()
	defer r.Stop()

	sender, err := NewSender()
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer sender.Close()

	body := strings.Repeat("x", GzipThreshold*2)
	if err := sender.Send("127.0.0.1", 19778, body); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got != body {
			t.Fatalf("reassembled payload length = %d, want %d", len(got), len(body))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for chunk reassembly handoff")
	}
}
