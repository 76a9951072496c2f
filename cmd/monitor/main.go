// Command monitor serves a live websocket feed of dispatch events
// (§SPEC_FULL DOMAIN STACK item 7), adapted from
// the teacher's cmd/fanout: browsers subscribe to a place id over
// /ws?place=..., and every dispatch event a running place's
// eventlog.PostgresSink records is relayed to subscribers within one
// Postgres LISTEN/NOTIFY round trip. One monitor process typically
// serves an entire deployed workflow, not one process per place.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyzr/tokenmesh/common/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, os.Getenv("MONITOR_SERVICE_NAME"), bootstrap.WithoutRedis())
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitor: failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	log := components.Logger
	if components.DB == nil {
		log.Error("monitor: requires a database connection for LISTEN/NOTIFY")
		os.Exit(1)
	}

	hub := NewHub(log)
	go hub.Run()

	listener := NewListener(components.DB, hub, log)
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("monitor: listener exited", "error", err)
		}
	}()

	srv := NewServer(hub, log)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	mux.HandleFunc("/health", srv.HandleHealth)

	port := os.Getenv("MONITOR_PORT")
	if port == "" {
		port = "8090"
	}
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
		// Long-lived websocket connections; no read/write deadlines here,
		// each client's own ping/pong cadence keeps dead peers from
		// lingering forever.
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("monitor ready", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("monitor: http server error", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("monitor: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("monitor: http shutdown error", "error", err)
	}
}
