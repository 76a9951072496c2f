package main

import (
	"sync"

	"github.com/lyzr/tokenmesh/common/logger"
)

// Hub fans dispatch-event notifications out to whichever websocket
// clients are watching a given place, adapted from cmd/fanout/hub.go's
// per-username connection map into a per-place one: the topic a browser
// subscribes to here is a place id, not a user.
type Hub struct {
	connections map[string][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event

	log *logger.Logger
}

// Event is one dispatch-event notification to fan out to subscribers of
// Place.
type Event struct {
	Place string
	Data  []byte
}

// NewHub creates an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Event, 256),
		log:         log,
	}
}

// Run is the hub's single goroutine owning connections; all mutation
// goes through register/unregister/broadcast so no lock is needed beyond
// what GetConnectionCount needs for reads from other
// goroutines.
func (h *Hub) Run() {
	h.log.Info("monitor hub started")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastToPlace(event)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.connections[client.place] = append(h.connections[client.place], client)
	h.log.Info("monitor: client registered", "place", client.place, "total", len(h.connections[client.place]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.place]
	for i, c := range clients {
		if c == client {
			h.connections[client.place] = append(clients[:i], clients[i+1:]...)
			close(client.send)
			if len(h.connections[client.place]) == 0 {
				delete(h.connections, client.place)
			}
			h.log.Info("monitor: client unregistered", "place", client.place)
			break
		}
	}
}

func (h *Hub) broadcastToPlace(event *Event) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[event.Place]
	if len(clients) == 0 {
		return
	}
	for _, client := range clients {
		select {
		case client.send <- event.Data:
		default:
			h.log.Warn("monitor: client send buffer full, dropping connection", "place", client.place)
			// Unregister (which closes send exactly once) from outside Run's
			// own goroutine, which is the one executing this broadcast.
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

// GetConnectionCount returns the total number of active websocket
// connections across all places.
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}
