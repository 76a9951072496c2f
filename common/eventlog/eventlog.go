// Package eventlog implements the Event Log Sink collaborator: an
// append-only record of every dispatch outcome (§2, §4.4 step 9). Out of
// scope for the core per spec.md's own framing ("the analytical database"),
// but a concrete Postgres-backed implementation is wired here so the
// dispatcher has somewhere real to append to, grounded on
// common/repository/run.go's pgx query shape.
package eventlog

import "context"

// DispatchEvent is one append-only record (§4.4 step 9: "arrival time,
// start, elapsed, sequenceId, costKey, outcome").
type DispatchEvent struct {
	PlaceID      string
	TokenID      int64
	SequenceID   int64
	CostKey      int64 // bit pattern of scheduler.CostKey, reinterpreted signed for storage
	ArrivalMS    int64
	StartMS      int64
	ElapsedMS    int64
	Outcome      string // "dispatched" | error kind (§7)
	ErrorDetail  string
}

// Sink is the append-only Event Log Sink interface (§2 "append(event)").
type Sink interface {
	Append(ctx context.Context, event DispatchEvent) error
}

// NopSink discards all events; used when no Postgres sink is configured.
type NopSink struct{}

func (NopSink) Append(ctx context.Context, event DispatchEvent) error { return nil }
