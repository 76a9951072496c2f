package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/tokenmesh/common/config"
	"github.com/lyzr/tokenmesh/common/db"
	"github.com/lyzr/tokenmesh/common/eventlog"
	"github.com/lyzr/tokenmesh/common/logger"
	"github.com/lyzr/tokenmesh/common/ratelimit"
	"github.com/lyzr/tokenmesh/common/routing"
	"github.com/lyzr/tokenmesh/common/telemetry"
)

// Components holds the ambient dependencies one Place process shares:
// config, logging, the Postgres-backed event log, the Redis client (both
// the routing-sync subscriber and the admin rate limiter run on top of
// it), the live routing table, and telemetry. The Dispatcher itself is
// not part of Components — cmd/place builds it separately once its
// business handler is known.
type Components struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *db.DB
	EventSink   eventlog.Sink
	Redis       *redis.Client
	Table       *routing.Table
	RateLimiter *ratelimit.RateLimiter
	Telemetry   *telemetry.Telemetry

	cleanupFuncs []func() error
}

// Shutdown runs every registered cleanup function in reverse (LIFO) order.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// Health reports whether the backing stores this place depends on (beyond
// its own Petri-net state, which the admin /healthz endpoint reports
// separately) are reachable.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
