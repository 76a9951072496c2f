package server

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/lyzr/tokenmesh/common/dispatch"
	"github.com/lyzr/tokenmesh/common/logger"
	"github.com/lyzr/tokenmesh/common/metrics"
	"github.com/lyzr/tokenmesh/common/middleware"
	"github.com/lyzr/tokenmesh/common/place"
	"github.com/lyzr/tokenmesh/common/ratelimit"
	"github.com/lyzr/tokenmesh/common/routing"
)

// Admin exposes the per-place diagnostic and control surface: /healthz,
// /metrics and /routing (GET to inspect, PATCH to hot-reload). One Admin
// serves a single place process; the dispatcher and table it wraps are
// the same ones the place's reactor is firing against.
type Admin struct {
	dispatcher  *dispatch.Dispatcher
	table       *routing.Table
	validator   *routing.PatchValidator
	serviceName string
	redis       *redis.Client // may be nil: publishing the patch fleet-wide is best-effort
	log         *logger.Logger
}

// NewAdmin builds the echo.Echo admin surface for a place, rate-limited
// via common/middleware so a hot-looping admin client can't starve the
// place's own dispatch loop of CPU/socket attention. serviceName/redisClient
// may be zero/nil, in which case a successful PATCH /routing only updates
// this process's table and is not fanned out to sibling replicas.
func NewAdmin(d *dispatch.Dispatcher, table *routing.Table, serviceName string, redisClient *redis.Client, limiter *ratelimit.RateLimiter, globalLimit int64, log *logger.Logger) *echo.Echo {
	a := &Admin{
		dispatcher:  d,
		table:       table,
		validator:   routing.NewPatchValidator(),
		serviceName: serviceName,
		redis:       redisClient,
		log:         log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if limiter != nil {
		e.Use(middleware.GlobalRateLimitMiddleware(limiter, globalLimit))
	}

	e.GET("/healthz", a.handleHealth)
	e.GET("/metrics", a.handleMetrics)
	e.GET("/routing", a.handleGetRouting)
	e.PATCH("/routing", a.handlePatchRouting)

	return e
}

// handleHealth reports the place's §4.5 state machine position. A
// stopped place still answers 200 (the process is alive enough to serve
// HTTP); only the reported state tells the caller it has exited service.
func (a *Admin) handleHealth(c echo.Context) error {
	snap := a.dispatcher.Place().Snapshot()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"state":   snap.State,
		"system":  metrics.GetSystemInfo(),
		"runtime": metrics.Sample(),
	})
}

// metricsResponse bundles the §7 error-kind counters with the reactor's
// pre-buffer loss counts, which live outside place.Counters because
// they're tallied on reactor worker goroutines before a token ever
// reaches the dispatcher's own firing loop.
type metricsResponse struct {
	place.Counters
	DecompressFailures      int64 `json:"decompressFailures"`
	ChunkReassemblyTimeouts int64 `json:"chunkReassemblyTimeouts"`
}

func (a *Admin) handleMetrics(c echo.Context) error {
	decompress, chunkTimeouts := a.dispatcher.ReactorLosses()
	resp := metricsResponse{
		Counters:                a.dispatcher.Place().Snapshot(),
		DecompressFailures:      decompress,
		ChunkReassemblyTimeouts: chunkTimeouts,
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *Admin) handleGetRouting(c echo.Context) error {
	return c.JSON(http.StatusOK, a.table.Snapshot())
}

// handlePatchRouting applies an RFC 6902 JSON Patch document to the
// routing table, via the same routing.Table.ApplyPatch path the Redis
// sync subscriber uses, so a patch is validated and applied identically
// whichever Place instance receives it first. On success the raw patch is
// re-published to the service's sync channel so sibling Place replicas
// converge too (§SPEC_FULL DOMAIN STACK items 2-3).
func (a *Admin) handlePatchRouting(c echo.Context) error {
	patchBytes, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "could not read patch body"})
	}

	if err := a.table.ApplyPatch(a.validator, patchBytes); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	if a.redis != nil && a.serviceName != "" {
		if err := routing.Publish(context.Background(), a.redis, a.serviceName, patchBytes); err != nil {
			a.log.Warn("routing: failed to fan out hot-patch to sibling replicas", "error", err)
		}
	}

	a.log.Info("routing table hot-patched", "service", a.serviceName)
	return c.JSON(http.StatusOK, a.table.Snapshot())
}

func readBody(c echo.Context) ([]byte, error) {
	defer c.Request().Body.Close()
	return io.ReadAll(c.Request().Body)
}
