package main

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/lyzr/tokenmesh/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict to the admin console's own origin once it has one.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the websocket upgrade endpoint dispatch-event watchers
// connect to. Unlike cmd/fanout's Server, it carries no HITL approval
// surface — this domain has no approval workflow, only read-only event
// observation.
type Server struct {
	hub *Hub
	log *logger.Logger
}

// NewServer builds a Server fanning out through hub.
func NewServer(hub *Hub, log *logger.Logger) *Server {
	return &Server{hub: hub, log: log}
}

// HandleWebSocket upgrades the connection and subscribes it to one
// place's dispatch events.
// URL: /ws?place=P_INGEST
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	place := r.URL.Query().Get("place")
	if place == "" {
		http.Error(w, "place query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("monitor: websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, place, s.log)
	s.hub.register <- client

	s.log.Info("monitor: new websocket connection", "place", place, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// HandleHealth reports liveness plus the current subscriber count.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","connections":` + strconv.Itoa(s.hub.GetConnectionCount()) + `}`))
}
