package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rrbotics/rrf/message"
	"github.com/rrbotics/rrf/wsbridge"
)

// WebSocketSink forwards heartbeats over the gateway's WebSocket control
// protocol, used out-of-cluster where no direct broker address is reachable.
type WebSocketSink struct {
	cfg  wsbridge.Config
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWebSocket opens the gateway connection and sends the initial control
// packet for the heartbeat push exchange.
func DialWebSocket(ctx context.Context, cfg wsbridge.Config) (*WebSocketSink, error) {
	full, err := OutOfClusterConfig(cfg).Normalize()
	if err != nil {
		return nil, fmt.Errorf("watcher: invalid gateway config: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: full.ConnectionTimeout}
	dctx, cancel := context.WithTimeout(ctx, full.ConnectionTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dctx, full.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("watcher: dialing gateway: %w", err)
	}

	if err := conn.WriteJSON(full.ControlPacket()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watcher: sending control packet: %w", err)
	}

	return &WebSocketSink{cfg: full, conn: conn}, nil
}

// Send pushes hb as a JSON binary frame.
func (s *WebSocketSink) Send(ctx context.Context, hb message.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("watcher: encoding heartbeat: %w", err)
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, body)
}

// Close closes the underlying connection.
func (s *WebSocketSink) Close() error {
	return s.conn.Close()
}
