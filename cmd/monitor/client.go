package main

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/tokenmesh/common/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Client is one browser's websocket subscription to a single place's
// dispatch events.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	place string
	send  chan []byte
	log   *logger.Logger
}

// NewClient wraps an already-upgraded connection, subscribed to place.
func NewClient(hub *Hub, conn *websocket.Conn, place string, log *logger.Logger) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		place: place,
		send:  make(chan []byte, 64),
		log:   log,
	}
}

// readPump drains the connection so ping/pong control frames are
// processed and a closed socket is noticed; this channel carries no
// client-to-server payloads, so any data frame is discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("monitor: websocket read error", "place", c.place, "error", err)
			}
			break
		}
	}
}

// writePump is the only goroutine allowed to write to conn, forwarding
// whatever the hub places on send and keeping the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
