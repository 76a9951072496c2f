package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lyzr/tokenmesh/common/chunk"
	"github.com/lyzr/tokenmesh/common/logger"
	"github.com/lyzr/tokenmesh/common/routing"
)

// ReceiveTimeout lets reactor workers periodically check the running flag
// and drive chunk-buffer cleanup (§4.2 "Socket binding").
const ReceiveTimeout = 5 * time.Second

// DefaultWorkers is the reactor's default worker-thread count (§4.2
// "Scheduling model").
const DefaultWorkers = 2

// maxDatagramSize is large enough for any single UDP receive this core
// handles; payloads above MAX_WIRE_LENGTH arrive pre-chunked by the sender.
const maxDatagramSize = 65507

// Handoff is called with a fully reassembled, decompressed envelope once
// the reactor has nothing more to do with it — the next stop is envelope
// parsing and the scheduler (§4.2 step "forwarded to step 1 of the normal
// flow").
type Handoff func(rawEnvelope string)

// Config configures one place's reactor.
type Config struct {
	ChannelID string
	BasePort  int
	Remote    bool // bind 0.0.0.0 instead of loopback
	Workers   int
}

// Reactor is a place's UDP receive side: N worker goroutines cooperatively
// reading one shared socket, decompressing, chunk-reassembling, and
// handing fully-formed envelopes to the scheduler (§4.2). Grounded on the
// worker-goroutine-over-shared-channel idiom of cmd/fanout/hub.go's
// select loop, adapted here to a blocking-read worker pool since UDP
// sockets (unlike hub's channels) are read directly rather than fanned
// out through an internal channel.
type Reactor struct {
	conn    *net.UDPConn
	workers int
	log     *logger.Logger
	handoff Handoff

	reassembler *chunk.Reassembler

	running int32
	wg      sync.WaitGroup

	lostDecompress int64
	lostChunk      int64
}

// NewReactor binds the place's socket per §4.2 "Socket binding":
// targetPort = 10000 + channelNumber*1000 + basePort, loopback unless
// remote mode.
func NewReactor(cfg Config, log *logger.Logger, handoff Handoff) (*Reactor, error) {
	port, err := routing.Port(cfg.ChannelID, cfg.BasePort)
	if err != nil {
		return nil, err
	}

	host := "127.0.0.1"
	if cfg.Remote {
		host = "0.0.0.0"
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s:%d: %w", host, port, err)
	}
	conn := pc.(*net.UDPConn)

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	r := &Reactor{
		conn:        conn,
		workers:     workers,
		log:         log,
		handoff:     handoff,
		reassembler: chunk.NewReassembler(log),
	}
	return r, nil
}

// Start launches the worker pool. It returns immediately; call Stop to
// shut down.
func (r *Reactor) Start() {
	atomic.StoreInt32(&r.running, 1)
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.workerLoop(i)
	}
}

// Stop closes the socket, which ends every worker's pending receive at
// once, and waits for the workers to exit.
func (r *Reactor) Stop() {
	atomic.StoreInt32(&r.running, 0)
	r.conn.Close()
	r.wg.Wait()
	r.reassembler.Close()
}

func (r *Reactor) workerLoop(id int) {
	defer r.wg.Done()
	buf := make([]byte, maxDatagramSize)

	for atomic.LoadInt32(&r.running) == 1 {
		r.conn.SetReadDeadline(time.Now().Add(ReceiveTimeout))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				r.reassembler.Sweep()
				continue
			}
			if atomic.LoadInt32(&r.running) == 0 {
				return
			}
			r.log.Warn("transport: reactor worker read error", "worker", id, "error", err)
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		r.handleDatagram(raw)
	}
}

func (r *Reactor) handleDatagram(raw []byte) {
	text, err := Decode(raw)
	if err != nil {
		atomic.AddInt64(&r.lostDecompress, 1)
		r.log.Warn("transport: gzip decompression failed, dropping packet", "error", err)
		return
	}

	if chunk.LooksLikeChunk(string(text)) {
		env, err := chunk.ParseEnvelope(string(text))
		if err != nil {
			r.log.Warn("transport: malformed chunk envelope, dropping", "error", err)
			return
		}
		body, complete, err := r.reassembler.Accept(*env)
		if err != nil {
			r.log.Warn("transport: chunk reassembly error, dropping", "error", err)
			return
		}
		if !complete {
			return
		}
		r.handoff(body)
		return
	}

	r.handoff(string(text))
}

// LostCounts returns (decompressFailures, chunkBufferTimeouts) for health
// reporting.
func (r *Reactor) LostCounts() (decompress, chunkTimeouts int64) {
	return atomic.LoadInt64(&r.lostDecompress), r.reassembler.LostCount()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
