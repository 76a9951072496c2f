package bootstrap

import (
	"github.com/lyzr/tokenmesh/common/config"
	"github.com/lyzr/tokenmesh/common/logger"
)

// Option configures the bootstrap process.
type Option func(*options)

type options struct {
	skipDB        bool
	skipRedis     bool
	skipTelemetry bool
	customLogger  *logger.Logger
	customConfig  *config.Config
}

// WithoutDB skips Postgres/event-log initialization; the place falls
// back to eventlog.NopSink{}.
func WithoutDB() Option {
	return func(o *options) { o.skipDB = true }
}

// WithoutRedis skips Redis initialization; the place runs without
// routing-table sync fanout or admin rate limiting.
func WithoutRedis() Option {
	return func(o *options) { o.skipRedis = true }
}

// WithoutTelemetry skips the pprof hook.
func WithoutTelemetry() Option {
	return func(o *options) { o.skipTelemetry = true }
}

// WithCustomLogger uses a custom logger instead of creating one.
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses a custom config instead of loading from env.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

func defaultOptions() *options {
	return &options{}
}
