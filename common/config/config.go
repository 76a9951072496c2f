package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all place-process configuration, loaded from the
// environment (§6 "Configuration (ReactorSettings)").
type Config struct {
	Service   ServiceConfig
	Place     PlaceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
	Admin     AdminConfig
}

// ServiceConfig holds process-wide settings independent of any one place.
type ServiceConfig struct {
	Name        string
	Environment string
	LogLevel    string
	LogFormat   string
}

// PlaceConfig is §6's ReactorSettings plus the place identity a
// dispatch.Config is built from: which business service/operation this
// place fires, its UDP socket position, and its scheduling knobs.
type PlaceConfig struct {
	PlaceID         string
	ServiceName     string
	Operation       string
	RuleBaseVersion string

	// ChannelID/BasePort/Remote position the reactor's UDP socket
	// (§4.2 "Socket binding", §6 "Port computation"). RemoteHost is
	// "service.remote.host"; setting it also sets Remote.
	ChannelID  string
	BasePort   int
	Remote     bool
	RemoteHost string

	// MaxQueue is MAXQUEUE (§6, default 5); PoolSize is the reactor's
	// worker-goroutine count ("poolSize", default 2).
	MaxQueue int
	PoolSize int

	// CompressionEnabled is loaded from COMPRESSION_ENABLED (§4.2
	// "Decompression", §6 "Compression"). Nothing reads it: dispatch.Config
	// has no such field, and transport.Sender compresses every datagram
	// larger than transport.GzipThreshold whatever its value.
	CompressionEnabled bool

	// JoinBranches, when > 0, marks this place as a Join's T_in
	// (§4.5 "Join").
	JoinBranches int
}

// DatabaseConfig holds Postgres connection settings for the Event Log
// Sink (§2, §7).
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds settings for the routing-table sync channel
// (§SPEC_FULL DOMAIN STACK item 2) and the admin API's rate limiter
// (item 5) — never a queue for in-flight tokens.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the "host:port" form go-redis expects.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// AdminConfig holds the admin HTTP surface's settings (§SPEC_FULL DOMAIN
// STACK item 5).
type AdminConfig struct {
	Port             int
	GlobalRateLimit  int64
	RateLimitEnabled bool
}

// Load loads configuration from environment variables for one place
// process.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Place: PlaceConfig{
			PlaceID:            getEnv("PLACE_ID", serviceName),
			ServiceName:        getEnv("PLACE_SERVICE_NAME", serviceName),
			Operation:          getEnv("PLACE_OPERATION", ""),
			RuleBaseVersion:    getEnv("RULE_BASE_VERSION", "v001"),
			ChannelID:          getEnv("CHANNEL_ID", "ip1"),
			BasePort:           getEnvInt("BASE_PORT", 9000),
			Remote:             getEnvBool("REMOTE", false) || getEnv("SERVICE_REMOTE_HOST", "") != "",
			RemoteHost:         getEnv("SERVICE_REMOTE_HOST", ""),
			MaxQueue:           getEnvInt("MAX_QUEUE", 5),
			PoolSize:           getEnvInt("POOL_SIZE", 2),
			CompressionEnabled: getEnvBool("COMPRESSION_ENABLED", true),
			JoinBranches:       getEnvInt("JOIN_BRANCHES", 0),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "tokenmesh"),
			User:        getEnv("POSTGRES_USER", "tokenmesh"),
			Password:    getEnv("POSTGRES_PASSWORD", "tokenmesh"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", true),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
		Admin: AdminConfig{
			Port:             getEnvInt("ADMIN_PORT", 8080),
			GlobalRateLimit:  int64(getEnvInt("ADMIN_GLOBAL_RATE_LIMIT", 600)),
			RateLimitEnabled: getEnvBool("ADMIN_RATE_LIMIT_ENABLED", true),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for invariant violations the core
// can't recover from at runtime.
func (c *Config) Validate() error {
	if c.Place.BasePort < 1 || c.Place.BasePort > 65535 {
		return fmt.Errorf("invalid base port: %d", c.Place.BasePort)
	}
	if c.Place.MaxQueue < 1 {
		return fmt.Errorf("max queue must be >= 1, got %d", c.Place.MaxQueue)
	}
	if c.Place.PoolSize < 1 {
		return fmt.Errorf("pool size must be >= 1, got %d", c.Place.PoolSize)
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("postgres max_conns must be >= min_conns")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
