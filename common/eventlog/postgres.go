package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/tokenmesh/common/db"
	"github.com/lyzr/tokenmesh/common/logger"
)

// NotifyChannel is the Postgres LISTEN/NOTIFY channel a PostgresSink
// announces each appended event on, for cmd/monitor's live fanout.
// Separate from the Redis pub/sub routing-sync channel, which carries
// only routing-table patches, never dispatch events.
const NotifyChannel = "dispatch_events"

type notifyPayload struct {
	PlaceID    string `json:"placeId"`
	TokenID    int64  `json:"tokenId"`
	SequenceID int64  `json:"sequenceId"`
	Outcome    string `json:"outcome"`
	ElapsedMS  int64  `json:"elapsedMs"`
}

// PostgresSink appends dispatch events to the `dispatch_events` table
// (§SPEC_FULL "EXTERNAL INTERFACES"). Grounded on
// common/repository/run.go's pgx query shape: a thin wrapper issuing a
// single parameterized INSERT per call.
type PostgresSink struct {
	db  *db.DB
	log *logger.Logger
}

// NewPostgresSink creates a sink writing through database.
func NewPostgresSink(database *db.DB, log *logger.Logger) *PostgresSink {
	return &PostgresSink{db: database, log: log}
}

const insertEventQuery = `
	INSERT INTO dispatch_events
		(place_id, token_id, sequence_id, cost_key, arrival_ms, start_ms, elapsed_ms, outcome, error_detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Append inserts one dispatch event. Failures are returned to the caller
// (the dispatcher logs them, per §7's "policy: never propagate
// exceptions" — event-log failures are an operational concern, not a
// dispatch-kind error, and must not block the firing loop).
func (s *PostgresSink) Append(ctx context.Context, event DispatchEvent) error {
	_, err := s.db.Exec(ctx, insertEventQuery,
		event.PlaceID, event.TokenID, event.SequenceID, event.CostKey,
		event.ArrivalMS, event.StartMS, event.ElapsedMS, event.Outcome, event.ErrorDetail,
	)
	if err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}

	s.notify(ctx, event)
	return nil
}

// notify announces the just-appended event on NotifyChannel for
// cmd/monitor's live fanout. Best-effort: a notify failure (e.g. payload
// over Postgres's 8000-byte NOTIFY limit, which a flat dispatch event
// never approaches) is logged, not returned, since the event is already
// durably recorded by the INSERT above.
func (s *PostgresSink) notify(ctx context.Context, event DispatchEvent) {
	payload, err := json.Marshal(notifyPayload{
		PlaceID:    event.PlaceID,
		TokenID:    event.TokenID,
		SequenceID: event.SequenceID,
		Outcome:    event.Outcome,
		ElapsedMS:  event.ElapsedMS,
	})
	if err != nil {
		s.log.Warn("eventlog: marshal notify payload failed", "error", err)
		return
	}
	if _, err := s.db.Exec(ctx, "SELECT pg_notify($1, $2)", NotifyChannel, string(payload)); err != nil {
		s.log.Warn("eventlog: notify failed", "channel", NotifyChannel, "error", err)
	}
}

// Schema is the DDL for the dispatch_events table (§SPEC_FULL "EXTERNAL
// INTERFACES"), applied by deployment tooling outside the core.
const Schema = `
CREATE TABLE IF NOT EXISTS dispatch_events (
	id           BIGSERIAL PRIMARY KEY,
	place_id     TEXT NOT NULL,
	token_id     BIGINT NOT NULL,
	sequence_id  BIGINT NOT NULL,
	cost_key     BIGINT NOT NULL,
	arrival_ms   BIGINT NOT NULL,
	start_ms     BIGINT NOT NULL,
	elapsed_ms   BIGINT NOT NULL,
	outcome      TEXT NOT NULL,
	error_detail TEXT NOT NULL DEFAULT '',
	recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS dispatch_events_place_id_idx ON dispatch_events (place_id, recorded_at);
`
