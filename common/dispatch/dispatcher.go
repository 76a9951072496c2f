// Package dispatch implements the Service Dispatcher (§2, §4.4): one
// cooperative firing loop per place that pops the lowest-cost arrival,
// invokes the place's business handler, applies the Correlator's
// fork/join/decision rules, and sends outbound envelopes through the
// reactor's send path. Grounded on the single-threaded, select-driven
// consumption loop of cmd/workflow-runner/coordinator/coordinator.go's
// Coordinator.Start (blocking pop with a timeout, continue-on-empty,
// exit on context cancellation), adapted from a Redis BLPOP into the
// priority buffer's own blocking Pop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/tokenmesh/common/correlator"
	"github.com/lyzr/tokenmesh/common/envelope"
	"github.com/lyzr/tokenmesh/common/eventlog"
	"github.com/lyzr/tokenmesh/common/handler"
	"github.com/lyzr/tokenmesh/common/logger"
	"github.com/lyzr/tokenmesh/common/place"
	"github.com/lyzr/tokenmesh/common/routing"
	"github.com/lyzr/tokenmesh/common/scheduler"
	"github.com/lyzr/tokenmesh/common/token"
	"github.com/lyzr/tokenmesh/common/transport"
)

// Dispatcher is one place's firing engine (§4.4). It owns the place's
// reactor (inbound), priority buffer, optional join accumulator, and
// outbound sender.
type Dispatcher struct {
	cfg     Config
	place   *place.Place
	buffer  *scheduler.Buffer
	table   *routing.Table
	handler handler.BusinessHandler
	sink    eventlog.Sink
	log     *logger.Logger

	reactor *transport.Reactor
	sender  *transport.Sender
	joinAcc *correlator.JoinAccumulator
	guards  *correlator.GuardEvaluator

	wg sync.WaitGroup
}

// New wires a Dispatcher for cfg. table is shared with the admin API's
// hot-patch/Redis-sync surface; handler is the place's pluggable business
// logic; sink may be eventlog.NopSink{} when no analytical database is
// configured.
func New(cfg Config, table *routing.Table, h handler.BusinessHandler, sink eventlog.Sink, log *logger.Logger) (*Dispatcher, error) {
	sender, err := transport.NewSender()
	if err != nil {
		return nil, fmt.Errorf("dispatch: create sender for place %s: %w", cfg.PlaceID, err)
	}

	d := &Dispatcher{
		cfg:     cfg,
		place:   place.New(cfg.PlaceID),
		buffer:  scheduler.NewBuffer(cfg.MaxQueue),
		table:   table,
		handler: h,
		sink:    sink,
		log:     log,
		sender:  sender,
		guards:  correlator.NewGuardEvaluator(),
	}
	if cfg.JoinBranches > 0 {
		d.joinAcc = correlator.NewJoinAccumulator(cfg.JoinBranches, log)
	}

	reactor, err := transport.NewReactor(transport.Config{
		ChannelID: cfg.ChannelID,
		BasePort:  cfg.BasePort,
		Remote:    cfg.Remote,
		Workers:   cfg.Workers,
	}, log, d.onArrival)
	if err != nil {
		sender.Close()
		return nil, fmt.Errorf("dispatch: create reactor for place %s: %w", cfg.PlaceID, err)
	}
	d.reactor = reactor

	return d, nil
}

// Place exposes the place's state/counters for health reporting.
func (d *Dispatcher) Place() *place.Place { return d.place }

// ReactorLosses reports the reactor's GZIP-decompression failures and
// chunk-reassembly timeouts (§7 "ChunkReassemblyTimeout"). These are
// tallied on the reactor's worker goroutines, upstream of envelope
// parsing and the priority buffer, so they are surfaced separately from
// place.Counters rather than folded into it.
func (d *Dispatcher) ReactorLosses() (decompressFailures, chunkReassemblyTimeouts int64) {
	return d.reactor.LostCounts()
}

// Start launches the reactor's worker pool and the dispatcher's single
// firing goroutine. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	d.reactor.Start()
	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop drains and shuts the place down per §4.5 "Cancellation": the
// buffer's blocked Pop is released, the firing goroutine exits after its
// current invocation completes, then the reactor and send socket close.
func (d *Dispatcher) Stop() {
	d.buffer.Stop()
	d.wg.Wait()
	d.reactor.Stop()
	d.sender.Close()
	d.place.SetState(place.STOPPED)
}

// onArrival is the reactor's Handoff: it parses just enough of the wire
// envelope to admit the arrival into the priority buffer (§4.4 steps
// 1-2). A parse failure here is MalformedEnvelope and the datagram is
// dropped without ever touching the buffer (§7: "never buffered").
func (d *Dispatcher) onArrival(raw string) {
	p, err := envelope.Parse(raw)
	if err != nil {
		d.place.IncMalformedEnvelope()
		d.log.Warn("dispatch: malformed envelope, dropping", "place", d.cfg.PlaceID, "error", err)
		return
	}

	if _, ok := d.buffer.Offer(p.Header.SequenceID, p.Header.PrioritiseSID, raw); !ok {
		d.place.IncBufferOverflow()
		d.log.Warn("dispatch: buffer overflow, arrival lost", "place", d.cfg.PlaceID, "sequenceId", p.Header.SequenceID)
		return
	}
	if d.place.State() == place.IDLE {
		d.place.SetState(place.BUFFERING)
	}
}

// loop is the single-threaded cooperative firing engine (§4.4). It runs
// until the buffer is stopped, at which point Pop returns ok=false.
func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	for {
		entry, ok := d.buffer.Pop()
		if !ok {
			return
		}
		d.place.SetState(place.FIRING)
		d.fire(ctx, entry)
		if d.place.Stopped() {
			return
		}
	}
}

// fire executes steps 3-9 of §4.4 for one popped arrival.
func (d *Dispatcher) fire(ctx context.Context, entry *scheduler.Entry) {
	arrivalMS := time.Now().UnixMilli()

	p, err := envelope.Parse(entry.RawEnvelope)
	if err != nil {
		// Admission already validated this envelope; a failure here
		// would mean corruption at rest, which cannot happen with an
		// in-memory buffer. Treated the same as any malformed arrival.
		d.place.IncMalformedEnvelope()
		d.recordEvent(entry, arrivalMS, arrivalMS, MalformedEnvelope, err)
		d.advanceState()
		return
	}

	tok, err := envelope.ParseTokenBody(p.Join.AttributeValue)
	if err != nil {
		d.place.IncMalformedEnvelope()
		d.recordEvent(entry, arrivalMS, arrivalMS, MalformedEnvelope, err)
		d.advanceState()
		return
	}
	tok.SequenceID = p.Header.SequenceID
	tok.PrioritiseID = p.Header.PrioritiseSID
	if p.Header.JoinID != nil {
		tok.JoinID = *p.Header.JoinID
		tok.HasJoinID = true
	}

	now := time.Now().UnixMilli()
	if tok.Expired(now) {
		d.place.IncExpiredToken()
		d.log.Info("dispatch: token expired, discarding", "place", d.cfg.PlaceID, "tokenId", tok.ID)
		d.recordEvent(entry, arrivalMS, now, ExpiredToken, nil)
		d.advanceState()
		return
	}

	if d.joinAcc != nil {
		merged, ready, timedOut := d.accumulate(p, tok, now)
		if timedOut {
			d.place.IncJoinTimeout()
			d.recordEvent(entry, arrivalMS, now, JoinTimeout, nil)
			d.advanceState()
			return
		}
		if !ready {
			// Waiting on further branches; nothing to fire yet, but the
			// arrival itself was accepted and accounted for.
			d.recordEvent(entry, arrivalMS, now, Dispatched, nil)
			d.advanceState()
			return
		}
		tok = merged
	}

	startMS := time.Now().UnixMilli()
	input := handler.Input{
		ServiceName:  d.cfg.ServiceName,
		Operation:    d.cfg.Operation,
		CurrentPlace: d.cfg.PlaceID,
		TokenID:      tok.ID,
		Data:         tok.Data.ToMap(),
	}
	result := d.handler.Process(ctx, input)
	d.place.SetState(place.ROUTING)

	outcome, errDetail := d.route(tok, p.Monitor.ProcessStartTime, result, now)

	d.recordEvent(entry, arrivalMS, startMS, outcome, errDetail)
	if outcome == ForkOverflow {
		// route has put the place in STOPPED; loop exits after this firing.
		return
	}
	d.advanceState()
}

// advanceState restores BUFFERING/IDLE after a firing completes (§4.5
// "ROUTING -> BUFFERING ... or ROUTING -> IDLE").
func (d *Dispatcher) advanceState() {
	if d.buffer.Size() > 0 {
		d.place.SetState(place.BUFFERING)
	} else {
		d.place.SetState(place.IDLE)
	}
}

// accumulate feeds one arrival into the place's join accumulator and
// reports whether quorum was reached (§4.5 "Join").
func (d *Dispatcher) accumulate(p *envelope.Payload, tok *token.Token, now int64) (merged *token.Token, ready, timedOut bool) {
	branch, ok := envelope.ParseBranchAttrName(p.Join.AttributeName)
	if !ok {
		branch = token.Branch(tok.ID)
	}
	parentID := tok.ID - int64(branch)
	if tok.HasJoinID {
		parentID = tok.JoinID
	}

	result, complete, timedOutNow := d.joinAcc.Accept(parentID, branch, tok.Data, tok.NotAfter, now)
	if timedOutNow {
		return nil, false, true
	}
	if !complete {
		return nil, false, false
	}
	return &token.Token{
		ID:                result.ParentID,
		Version:           tok.Version,
		NotAfter:          result.NotAfter,
		CurrentPlace:      d.cfg.PlaceID,
		WorkflowStartTime: tok.WorkflowStartTime,
		Data:              result.Data,
	}, true, false
}

// route applies steps 6-8 of §4.4: merge the handler's result into the
// token, consult the routing table, apply fork/decision rules, and send
// each outbound envelope. It returns the ErrorKind to record.
func (d *Dispatcher) route(tok *token.Token, processStart int64, result handler.Result, now int64) (ErrorKind, error) {
	if result.Tag == handler.Error {
		d.place.IncHandlerFailure()
		if err := d.routeErrorArc(tok, processStart, now); err != nil {
			d.log.Warn("dispatch: error-arc routing failed", "place", d.cfg.PlaceID, "error", err)
		}
		return HandlerFailure, result.Err
	}

	routingPath := ""
	switch result.Tag {
	case handler.Structured:
		for k, v := range result.Data {
			tok.Data.Set(k, v)
		}
	case handler.Routed:
		for k, v := range result.Data {
			tok.Data.Set(k, v)
		}
		routingPath = result.RoutingPath
	case handler.Fragment:
		tok.Data.Set("fragment", result.Fragment)
	}

	route, ok := d.table.PlaceRoute(d.cfg.PlaceID)
	if !ok {
		d.place.IncRoutingUnmatched()
		d.log.Warn("dispatch: no routing table entry for place, dropping", "place", d.cfg.PlaceID)
		return RoutingUnmatched, nil
	}

	if err := d.dispatchByKind(route, tok, routingPath, processStart, now); err != nil {
		switch {
		case errors.Is(err, correlator.ErrForkOverflow):
			d.place.IncForkOverflow()
			d.place.SetState(place.STOPPED)
			return ForkOverflow, err
		case errors.Is(err, correlator.ErrRoutingUnmatched):
			d.place.IncRoutingUnmatched()
			return RoutingUnmatched, err
		case errors.Is(err, routing.ErrResolverMiss):
			d.place.IncResolverMiss()
			return ResolverMiss, err
		default:
			return RoutingUnmatched, err
		}
	}

	d.place.IncDispatched()
	return Dispatched, nil
}

// dispatchByKind sends tok onward according to route's transition kind
// (§4.5).
func (d *Dispatcher) dispatchByKind(route routing.PlaceRoute, tok *token.Token, routingPath string, processStart, now int64) error {
	switch route.Kind {
	case routing.KindEdge:
		return d.send(route.Successor, tok, nil, envelope.NormalAttrName(), nil, processStart, now)

	case routing.KindFork:
		children, err := correlator.Fork(tok, route.ForkCount, d.forkTargetIsJoin(route))
		if err != nil {
			return err
		}
		for i, child := range children {
			target := ""
			if i < len(route.ForkTargets) {
				target = route.ForkTargets[i]
			}
			attrName := envelope.NormalAttrName()
			var joinID *int64
			if child.JoinDestination {
				attrName = envelope.BranchAttrName(child.Fork.BranchNumber)
				parent := child.Fork.ParentTokenID
				joinID = &parent
			}
			fork := child.Fork
			if err := d.send(target, child.Token, &fork, attrName, joinID, processStart, now); err != nil {
				d.log.Warn("dispatch: fork branch send failed", "place", d.cfg.PlaceID, "branch", child.Fork.BranchNumber, "error", err)
			}
		}
		return nil

	case routing.KindDecision:
		arc, err := correlator.SelectArcGuarded(route.Arcs, routingPath, tok.Data.ToMap(), d.guards)
		if err != nil {
			return err
		}
		return d.send(arc.Destination, tok, nil, envelope.NormalAttrName(), nil, processStart, now)

	case routing.KindJoin:
		// A join place with no further outbound transition is a
		// terminal merge point for this branch of the workflow; the
		// merged token has already been accounted for via
		// place.IncDispatched by the caller.
		return nil

	default:
		return fmt.Errorf("dispatch: place %s has unknown routing kind %q", d.cfg.PlaceID, route.Kind)
	}
}

// forkTargetIsJoin reports whether a fork's branches feed a Join's T_in,
// per §4.5's attributeName/joinID rule. All branches of one fork are
// assumed to share a single destination kind (fan-out then fan-in), so the
// first configured target's kind decides it for every branch.
func (d *Dispatcher) forkTargetIsJoin(route routing.PlaceRoute) bool {
	if len(route.ForkTargets) == 0 {
		return false
	}
	target, ok := d.table.PlaceRoute(route.ForkTargets[0])
	return ok && target.Kind == routing.KindJoin
}

// routeErrorArc sends tok along the place's "error" decision arc when one
// is declared (§4.4 step 5); otherwise the failure is logged and dropped.
func (d *Dispatcher) routeErrorArc(tok *token.Token, processStart, now int64) error {
	route, ok := d.table.PlaceRoute(d.cfg.PlaceID)
	if !ok || route.Kind != routing.KindDecision {
		return nil
	}
	arc, err := correlator.SelectArc(route.Arcs, "error")
	if err != nil || arc.DecisionValue != "error" {
		return nil
	}
	return d.send(arc.Destination, tok, nil, envelope.NormalAttrName(), nil, processStart, now)
}

// send resolves targetPlaceID to a UDP destination and transmits tok as a
// wire envelope (§4.4 step 8).
func (d *Dispatcher) send(targetPlaceID string, tok *token.Token, fork *envelope.ForkFields, attrName string, joinID *int64, processStart, now int64) error {
	if targetPlaceID == "" {
		return fmt.Errorf("dispatch: %w: place %s has no configured successor", routing.ErrResolverMiss, d.cfg.PlaceID)
	}

	targetRoute, ok := d.table.PlaceRoute(targetPlaceID)
	if !ok {
		return fmt.Errorf("dispatch: %w: unknown place %q", routing.ErrResolverMiss, targetPlaceID)
	}

	endpoint, ok := d.table.Resolve(targetRoute.ServiceName, targetRoute.Operation)
	if !ok {
		return fmt.Errorf("dispatch: %w: (%s, %s)", routing.ErrResolverMiss, targetRoute.ServiceName, targetRoute.Operation)
	}

	port, err := routing.Port(endpoint.ChannelID, endpoint.BasePort)
	if err != nil {
		return fmt.Errorf("dispatch: compute destination port: %w", err)
	}

	body, err := envelope.BuildTokenBody(tok, fork)
	if err != nil {
		return fmt.Errorf("dispatch: build token body: %w", err)
	}

	xmlStr, err := envelope.Build(envelope.BuildOpts{
		ServiceName:             targetRoute.ServiceName,
		Operation:               targetRoute.Operation,
		SequenceID:              tok.SequenceID,
		RuleBaseVersion:         d.cfg.RuleBaseVersion,
		PrioritiseSID:           tok.PrioritiseID,
		MonitorIncomingEvents:   false,
		JoinID:                  joinID,
		JoinAttrName:            attrName,
		TokenJSONBody:           body,
		NotAfter:                tok.NotAfter,
		ProcessStartTime:        processStart,
		ProcessElapsedTime:      now - processStart,
		SourceEventGeneratorID:  d.cfg.PlaceID,
		EventGeneratorTimestamp: now,
	})
	if err != nil {
		return fmt.Errorf("dispatch: build envelope: %w", err)
	}

	return d.sender.Send(endpoint.Host, port, xmlStr)
}

func (d *Dispatcher) recordEvent(entry *scheduler.Entry, arrivalMS, startMS int64, outcome ErrorKind, errDetail error) {
	detail := ""
	if errDetail != nil {
		detail = errDetail.Error()
	}
	event := eventlog.DispatchEvent{
		PlaceID:     d.cfg.PlaceID,
		SequenceID:  entry.SequenceID,
		CostKey:     int64(entry.Cost),
		ArrivalMS:   arrivalMS,
		StartMS:     startMS,
		ElapsedMS:   time.Now().UnixMilli() - startMS,
		Outcome:     string(outcome),
		ErrorDetail: detail,
	}
	if err := d.sink.Append(context.Background(), event); err != nil {
		d.log.Warn("dispatch: event log append failed", "place", d.cfg.PlaceID, "error", err)
	}
}
