package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/streadway/amqp"

	"github.com/rrbotics/rrf/wsbridge"
)

// DefaultExchange is the remote log sink's exchange name, overridable by the
// LOG_EXCHANGE environment variable (§6).
func DefaultExchange() string {
	if v := os.Getenv("LOG_EXCHANGE"); v != "" {
		return v
	}
	return "logstash"
}

// BrokerSink forwards log records directly to the broker, used in-cluster.
type BrokerSink struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// DialBroker opens a direct AMQP connection and declares the log exchange.
func DialBroker(address, exchange string) (*BrokerSink, error) {
	conn, err := amqp.Dial(address)
	if err != nil {
		return nil, fmt.Errorf("logging: dialing broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("logging: opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("logging: declaring log exchange: %w", err)
	}
	return &BrokerSink{conn: conn, channel: ch, exchange: exchange}, nil
}

func (s *BrokerSink) Send(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.channel.Publish(s.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (s *BrokerSink) Close() error {
	s.channel.Close()
	return s.conn.Close()
}

// WebSocketSink forwards log records over the gateway's WebSocket push
// protocol, used out-of-cluster.
type WebSocketSink struct {
	cfg  wsbridge.Config
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketSinkConfig builds the push-mode wsbridge.Config for the log
// exchange; the returned config is dialed the same way the heartbeat
// watcher dials its own gateway connection.
func NewWebSocketSinkConfig(base wsbridge.Config, exchange string) wsbridge.Config {
	base.CommandType = wsbridge.CommandPush
	base.Exchange = exchange
	base.ExchangeType = wsbridge.ExchangeFanout
	return base
}

// DialWebSocketSink opens the gateway connection for cfg (already built via
// NewWebSocketSinkConfig) and sends its control packet.
func DialWebSocketSink(ctx context.Context, cfg wsbridge.Config) (*WebSocketSink, error) {
	full, err := cfg.Normalize()
	if err != nil {
		return nil, fmt.Errorf("logging: invalid gateway config: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: full.ConnectionTimeout}
	dctx, cancel := context.WithTimeout(ctx, full.ConnectionTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dctx, full.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("logging: dialing gateway: %w", err)
	}

	if err := conn.WriteJSON(full.ControlPacket()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("logging: sending control packet: %w", err)
	}

	return &WebSocketSink{cfg: full, conn: conn}, nil
}

func (s *WebSocketSink) Send(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(rec)
}

func (s *WebSocketSink) Close() error {
	return s.conn.Close()
}
