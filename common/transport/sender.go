package transport

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/lyzr/tokenmesh/common/chunk"
)

// GzipThreshold is the size above which outbound payloads are GZIP
// compressed before sending (§4.4 step 8 "GZIP + chunking if > 4 KB
// wire"). Same threshold as chunk.MaxWireLength.
const GzipThreshold = chunk.MaxWireLength

// Sender is the reactor's outbound path: one ephemeral UDP socket used to
// send envelopes to resolved successor destinations (§4.4 step 8, §4.2
// "The UDP send socket ... may be shared across dispatchers only if the
// underlying OS socket is send-safe; otherwise each dispatcher holds its
// own ephemeral socket"). net.UDPConn.WriteTo is safe for concurrent use,
// so one Sender may be shared by a place's dispatcher and any outbound
// helpers.
type Sender struct {
	conn *net.UDPConn
}

// NewSender opens an ephemeral UDP socket for sending.
func NewSender() (*Sender, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("transport: open send socket: %w", err)
	}
	return &Sender{conn: conn}, nil
}

// Close releases the send socket.
func (s *Sender) Close() error { return s.conn.Close() }

// Send transmits body to host:port, chunking above GzipThreshold, per §4.4
// step 8. Each datagram (whole body or chunk) is GZIP-compressed only if it
// is itself larger than GzipThreshold, so a body sent whole is never
// compressed.
func (s *Sender) Send(host string, port int, body string) error {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	if addr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return fmt.Errorf("transport: resolve %s:%d: %w", host, port, err)
		}
		addr = resolved
	}

	if len(body) <= GzipThreshold {
		return s.sendOne(addr, []byte(body))
	}

	correlationID := uuid.NewString()
	for _, env := range chunk.Split(correlationID, "", "", body) {
		payload, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("transport: marshal chunk envelope: %w", err)
		}
		if err := s.sendOne(addr, payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) sendOne(addr *net.UDPAddr, raw []byte) error {
	wire := raw
	if len(raw) > GzipThreshold {
		compressed, err := Compress(raw)
		if err != nil {
			return fmt.Errorf("transport: gzip compress: %w", err)
		}
		wire = compressed
	}
	if _, err := s.conn.WriteToUDP(wire, addr); err != nil {
		return fmt.Errorf("transport: send to %s: %w", addr, err)
	}
	return nil
}
