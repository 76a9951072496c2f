// Package place models the per-place state machine and loss counters a
// dispatcher maintains (§4.5 "State machine (per place)", §7). Grounded on
// the atomic-counter health-state shape of common/metrics/system.go,
// adapted from process-wide resource gauges to one Petri-net place's
// lifecycle and error-kind tallies.
package place

import "sync/atomic"

// State is one of the five states a place's dispatcher cycles through
// (§4.5).
type State int32

const (
	IDLE State = iota
	BUFFERING
	FIRING
	ROUTING
	STOPPED
)

func (s State) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case BUFFERING:
		return "BUFFERING"
	case FIRING:
		return "FIRING"
	case ROUTING:
		return "ROUTING"
	case STOPPED:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Place tracks one Petri-net place's current state and the §7 error-kind
// counters its dispatcher updates as it runs. All fields are accessed
// across the reactor workers (BufferOverflow, MalformedEnvelope) and the
// dispatcher goroutine (everything else), so every counter and the state
// itself are atomics.
type Place struct {
	ID string

	state int32

	malformedEnvelope int64
	bufferOverflow    int64
	expiredToken      int64
	handlerFailure    int64
	routingUnmatched  int64
	forkOverflow      int64
	joinTimeout       int64
	resolverMiss      int64
	dispatched        int64
}

// New creates a place in its initial IDLE state.
func New(id string) *Place {
	return &Place{ID: id, state: int32(IDLE)}
}

// State returns the current state.
func (p *Place) State() State { return State(atomic.LoadInt32(&p.state)) }

// SetState transitions the place to s (§4.5's transitions are driven by
// the dispatcher loop; this is a plain store, not a validated transition
// table, since the loop itself only ever requests legal transitions).
func (p *Place) SetState(s State) { atomic.StoreInt32(&p.state, int32(s)) }

// Stopped reports whether the place has been shut down.
func (p *Place) Stopped() bool { return p.State() == STOPPED }

func (p *Place) IncMalformedEnvelope() { atomic.AddInt64(&p.malformedEnvelope, 1) }
func (p *Place) IncBufferOverflow()    { atomic.AddInt64(&p.bufferOverflow, 1) }
func (p *Place) IncExpiredToken()      { atomic.AddInt64(&p.expiredToken, 1) }
func (p *Place) IncHandlerFailure()    { atomic.AddInt64(&p.handlerFailure, 1) }
func (p *Place) IncRoutingUnmatched()  { atomic.AddInt64(&p.routingUnmatched, 1) }
func (p *Place) IncForkOverflow()      { atomic.AddInt64(&p.forkOverflow, 1) }
func (p *Place) IncJoinTimeout()       { atomic.AddInt64(&p.joinTimeout, 1) }
func (p *Place) IncResolverMiss()      { atomic.AddInt64(&p.resolverMiss, 1) }
func (p *Place) IncDispatched()        { atomic.AddInt64(&p.dispatched, 1) }

// Counters is a point-in-time snapshot of every §7 error-kind tally plus
// the successful-dispatch count, for health/metrics reporting.
type Counters struct {
	State             string `json:"state"`
	Dispatched        int64  `json:"dispatched"`
	MalformedEnvelope int64  `json:"malformedEnvelope"`
	BufferOverflow    int64  `json:"bufferOverflow"`
	ExpiredToken      int64  `json:"expiredToken"`
	HandlerFailure    int64  `json:"handlerFailure"`
	RoutingUnmatched  int64  `json:"routingUnmatched"`
	ForkOverflow      int64  `json:"forkOverflow"`
	JoinTimeout       int64  `json:"joinTimeout"`
	ResolverMiss      int64  `json:"resolverMiss"`
}

// Snapshot returns the current Counters.
func (p *Place) Snapshot() Counters {
	return Counters{
		State:             p.State().String(),
		Dispatched:        atomic.LoadInt64(&p.dispatched),
		MalformedEnvelope: atomic.LoadInt64(&p.malformedEnvelope),
		BufferOverflow:    atomic.LoadInt64(&p.bufferOverflow),
		ExpiredToken:      atomic.LoadInt64(&p.expiredToken),
		HandlerFailure:    atomic.LoadInt64(&p.handlerFailure),
		RoutingUnmatched:  atomic.LoadInt64(&p.routingUnmatched),
		ForkOverflow:      atomic.LoadInt64(&p.forkOverflow),
		JoinTimeout:       atomic.LoadInt64(&p.joinTimeout),
		ResolverMiss:      atomic.LoadInt64(&p.resolverMiss),
	}
}
