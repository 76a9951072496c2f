// Command place runs one token-transport place: a UDP reactor/dispatcher
// pair implementing §4's firing semantics for a single Petri-net place,
// plus the admin HTTP surface (§SPEC_FULL DOMAIN STACK item 5). One
// process per place; which business service/operation it fires and where
// its routing table comes from are environment-configured so the same
// binary runs every place in a deployed workflow.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyzr/tokenmesh/common/bootstrap"
	"github.com/lyzr/tokenmesh/common/dispatch"
	"github.com/lyzr/tokenmesh/common/handler"
	"github.com/lyzr/tokenmesh/common/logger"
	"github.com/lyzr/tokenmesh/common/routing"
	"github.com/lyzr/tokenmesh/common/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, os.Getenv("PLACE_SERVICE_NAME"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "place: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	cfg := components.Config
	log := components.Logger

	if path := os.Getenv("ROUTING_TABLE_FILE"); path != "" {
		if err := routing.LoadFile(components.Table, path); err != nil {
			log.Error("place: failed to load routing table", "error", err)
			os.Exit(1)
		}
	}

	d, err := dispatch.New(dispatch.Config{
		PlaceID:         cfg.Place.PlaceID,
		ServiceName:     cfg.Place.ServiceName,
		Operation:       cfg.Place.Operation,
		RuleBaseVersion: cfg.Place.RuleBaseVersion,
		ChannelID:       cfg.Place.ChannelID,
		BasePort:        cfg.Place.BasePort,
		Remote:          cfg.Place.Remote,
		MaxQueue:        cfg.Place.MaxQueue,
		Workers:         cfg.Place.PoolSize,
		JoinBranches:    cfg.Place.JoinBranches,
	}, components.Table, businessHandler(log), components.EventSink, log)
	if err != nil {
		log.Error("place: failed to build dispatcher", "error", err)
		os.Exit(1)
	}

	d.Start(ctx)
	defer d.Stop()

	if components.Redis != nil {
		sub := routing.NewSubscriber(components.Redis, components.Table, log)
		go func() {
			if err := sub.Run(ctx, cfg.Place.ServiceName); err != nil && ctx.Err() == nil {
				log.Warn("place: routing sync subscriber exited", "error", err)
			}
		}()
	}

	e := server.NewAdmin(d, components.Table, cfg.Place.ServiceName, components.Redis, components.RateLimiter, cfg.Admin.GlobalRateLimit, log)
	admin := server.New(fmt.Sprintf("place-admin-%s", cfg.Place.PlaceID), cfg.Admin.Port, e, log)

	log.Info("place ready",
		"place", cfg.Place.PlaceID,
		"service", cfg.Place.ServiceName,
		"operation", cfg.Place.Operation,
		"basePort", cfg.Place.BasePort,
		"adminPort", cfg.Admin.Port,
	)

	if err := admin.Start(); err != nil {
		log.Error("place: admin server error", "error", err)
		os.Exit(1)
	}
}

// businessHandler selects the place's Business Handler implementation.
// HANDLER_HTTP_ENDPOINT, when set, wires the default HTTP-backed handler
// (§2 "Business Handler"); otherwise the place passes token data through
// unchanged, useful for pure routing places (Fork/Join/Decision-only
// places that do no business work of their own).
func businessHandler(log *logger.Logger) handler.BusinessHandler {
	if endpoint := os.Getenv("HANDLER_HTTP_ENDPOINT"); endpoint != "" {
		return handler.NewHTTPHandler(endpoint, log)
	}
	return handler.Func(func(ctx context.Context, in handler.Input) handler.Result {
		return handler.Result{Tag: handler.Structured, Data: in.Data}
	})
}
