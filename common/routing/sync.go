package routing

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/tokenmesh/common/logger"
)

// SyncChannel is the Redis pub/sub channel name the Rule Deployer
// publishes routing-table JSON-Patch deltas to for a given service
// (§SPEC_FULL DOMAIN STACK item 2: "routing:updates:<service>"). Routing
// updates, never tokens, travel over Redis — the core's Non-goal against
// a persistent token queue is preserved.
func SyncChannel(serviceName string) string {
	return "routing:updates:" + serviceName
}

// Subscriber listens on a Place's routing-table sync channel and applies
// incoming JSON-Patch deltas to its local Table.
type Subscriber struct {
	client    *redis.Client
	table     *Table
	validator *PatchValidator
	log       *logger.Logger
}

// NewSubscriber creates a routing-table sync subscriber.
func NewSubscriber(client *redis.Client, table *Table, log *logger.Logger) *Subscriber {
	return &Subscriber{
		client:    client,
		table:     table,
		validator: NewPatchValidator(),
		log:       log,
	}
}

// Run subscribes to serviceName's sync channel and applies patches until
// ctx is canceled. Malformed patches are logged and skipped; they never
// crash the subscriber loop, matching the core's "never propagate
// exceptions" error policy (§7).
func (s *Subscriber) Run(ctx context.Context, serviceName string) error {
	pubsub := s.client.Subscribe(ctx, SyncChannel(serviceName))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("routing: sync subscriber channel closed for %s", serviceName)
			}
			if err := s.table.ApplyPatch(s.validator, []byte(msg.Payload)); err != nil {
				s.log.Warn("routing: discarding invalid hot-patch", "channel", msg.Channel, "error", err)
				continue
			}
			s.log.Info("routing: applied hot-patch", "channel", msg.Channel)
		}
	}
}

// Publish sends a JSON-Patch delta to serviceName's sync channel. Used by
// the admin HTTP `PATCH /routing` handler after applying the patch
// locally, so every other Place instance for the same service converges.
func Publish(ctx context.Context, client *redis.Client, serviceName string, rawPatch []byte) error {
	return client.Publish(ctx, SyncChannel(serviceName), rawPatch).Err()
}
