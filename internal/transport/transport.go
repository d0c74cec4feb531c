// Package transport owns the UDP socket and the handful of byte-level
// operations both the dispatcher (replies) and the sender API
// (server-initiated commands) need to put a message on the wire.
package transport

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/logging"
	"github.com/besim-project/besimd/pkg/protocol"
)

// Socket wraps the bound UDP listener. It is safe for concurrent use:
// net.PacketConn's WriteTo is goroutine-safe, and Socket holds no other
// mutable state.
type Socket struct {
	conn   net.PacketConn
	logger *zap.Logger
}

// Listen binds a UDP socket at addr (e.g. ":6199").
func Listen(addr string) (*Socket, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Socket{conn: conn, logger: logging.With(zap.String("component", "transport"))}, nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Recv blocks for the next datagram, reads it into buf and returns its
// length and source address.
func (s *Socket) Recv(buf []byte) (int, net.Addr, error) {
	return s.conn.ReadFrom(buf)
}

// Send wraps body in a Wrapper and a Frame and writes it to addr. Every
// server-originated frame uses protocol.DownlinkSeq in the seq field,
// per spec: the device does not treat that field as meaningful on
// downlink traffic.
func (s *Socket) Send(addr net.Addr, id protocol.MsgID, response, write bool, body []byte) error {
	wrapped := protocol.EncodeDownlink(id, response, write, body)
	frame := &protocol.Frame{Payload: wrapped}
	raw := frame.Encode(protocol.DownlinkSeq)

	if _, err := s.conn.WriteTo(raw, addr); err != nil {
		return fmt.Errorf("transport: write to %s: %w", addr, err)
	}
	s.logger.Debug("sent downlink",
		zap.String("addr", addr.String()),
		zap.String("msg", id.String()),
		zap.Bool("response", response))
	return nil
}
