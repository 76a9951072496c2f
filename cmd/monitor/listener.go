package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lyzr/tokenmesh/common/db"
	"github.com/lyzr/tokenmesh/common/eventlog"
	"github.com/lyzr/tokenmesh/common/logger"
)

// notifyPayload mirrors eventlog's private notifyPayload shape: the JSON
// body a PostgresSink publishes on eventlog.NotifyChannel.
type notifyPayload struct {
	PlaceID    string `json:"placeId"`
	TokenID    int64  `json:"tokenId"`
	SequenceID int64  `json:"sequenceId"`
	Outcome    string `json:"outcome"`
	ElapsedMS  int64  `json:"elapsedMs"`
}

// Listener holds a dedicated Postgres connection LISTENing on
// eventlog.NotifyChannel and forwards each notification to a Hub,
// replacing cmd/fanout's RedisSubscriber: dispatch events ride Postgres
// NOTIFY rather than Redis pub/sub, which stays reserved for routing-
// table sync (§SPEC_FULL DOMAIN STACK).
type Listener struct {
	database *db.DB
	hub      *Hub
	log      *logger.Logger
}

// NewListener builds a Listener that will forward to hub.
func NewListener(database *db.DB, hub *Hub, log *logger.Logger) *Listener {
	return &Listener{database: database, hub: hub, log: log}
}

// Run acquires a dedicated connection, issues LISTEN, and forwards
// notifications until ctx is cancelled. Reconnects on transient
// acquire/listen failures rather than giving up, since a dropped
// connection here only delays live updates — dispatch events are still
// durably recorded regardless.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := l.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("monitor: listener connection lost, retrying", "error", err)
			continue
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.database.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+eventlog.NotifyChannel); err != nil {
		return err
	}
	l.log.Info("monitor: listening for dispatch events", "channel", eventlog.NotifyChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return err
		}

		var payload notifyPayload
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			l.log.Warn("monitor: malformed notify payload", "error", err)
			continue
		}

		data, err := json.Marshal(payload)
		if err != nil {
			continue
		}

		select {
		case l.hub.broadcast <- &Event{Place: payload.PlaceID, Data: data}:
		default:
			l.log.Warn("monitor: hub broadcast channel full, dropping event", "place", payload.PlaceID)
		}
	}
}
