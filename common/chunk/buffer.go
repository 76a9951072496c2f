package chunk

import (
	"strings"
	"sync"
	"time"

	"github.com/lyzr/tokenmesh/common/logger"
)

// TTL is the lifetime of a partial reassembly buffer (§4.2, §7.3).
const TTL = 30 * time.Second

type partial struct {
	slots       []string
	filled      []bool
	received    int
	serviceType string
	operation   string
	createdAt   time.Time
}

// Reassembler holds in-flight chunk buffers keyed by correlationId. Grounded
// on the TTL-map shape of common/cache.MemoryCache, adapted here to
// accumulate ordered chunk slots rather than opaque values. Unlike
// MemoryCache, expiry is not swept by a dedicated goroutine: §5's resource
// model piggybacks chunk cleanup on the reactor's receive-timeout loop
// (transport.ReceiveTimeout), so callers drive expiry by calling Sweep
// periodically from there instead.
type Reassembler struct {
	mu      sync.Mutex
	buffers map[string]*partial
	log     *logger.Logger

	lost int64
}

// NewReassembler creates an empty reassembler. It starts no goroutines;
// the owning reactor calls Sweep on its own timeout cadence.
func NewReassembler(log *logger.Logger) *Reassembler {
	return &Reassembler{
		buffers: make(map[string]*partial),
		log:     log,
	}
}

// Accept stores one chunk. When the buffer becomes complete it returns the
// reassembled body (concatenation of chunkData in index order) and removes
// the buffer (§4.2 steps 1-3). Duplicate or out-of-range indices are
// ignored with a warning, per §4.2 step 2.
func (r *Reassembler) Accept(env Envelope) (body string, complete bool, err error) {
	data, uerr := UnescapeChunkData(env.ChunkData)
	if uerr != nil {
		return "", false, uerr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.buffers[env.CorrelationID]
	if !ok {
		p = &partial{
			slots:       make([]string, env.TotalChunks),
			filled:      make([]bool, env.TotalChunks),
			serviceType: env.ServiceType,
			operation:   env.OperationName,
			createdAt:   time.Now(),
		}
		r.buffers[env.CorrelationID] = p
	}

	if env.ChunkIndex < 0 || env.ChunkIndex >= len(p.slots) {
		r.log.Warn("chunk: out-of-range chunk index ignored",
			"correlationId", env.CorrelationID, "chunkIndex", env.ChunkIndex, "totalChunks", len(p.slots))
		return "", false, nil
	}
	if p.filled[env.ChunkIndex] {
		r.log.Warn("chunk: duplicate chunk index ignored",
			"correlationId", env.CorrelationID, "chunkIndex", env.ChunkIndex)
		return "", false, nil
	}

	p.slots[env.ChunkIndex] = data
	p.filled[env.ChunkIndex] = true
	p.received++

	if p.received < len(p.slots) {
		return "", false, nil
	}

	delete(r.buffers, env.CorrelationID)
	var sb strings.Builder
	for _, s := range p.slots {
		sb.WriteString(s)
	}
	return sb.String(), true, nil
}

// LostCount returns the number of buffers discarded by TTL expiry.
func (r *Reassembler) LostCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lost
}

// Close is a no-op (§5: chunk cleanup runs on the reactor's timeout path, not a
// dedicated goroutine, so there is nothing to stop here).
func (r *Reassembler) Close() {}

// Sweep discards buffers older than TTL. The reactor calls this once per
// worker receive-timeout tick (§4.2 "Socket binding", §5) rather than
// running its own ticker goroutine.
func (r *Reassembler) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, p := range r.buffers {
		if now.Sub(p.createdAt) > TTL {
			delete(r.buffers, id)
			r.lost++
			r.log.Warn("chunk: reassembly buffer expired", "correlationId", id, "received", p.received, "totalChunks", len(p.slots))
		}
	}
}
