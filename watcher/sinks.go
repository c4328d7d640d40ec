package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/rrbotics/rrf/message"
)

// InClusterSink forwards heartbeats directly to the broker over AMQP,
// publishing to the fixed "heartbeat" fanout exchange, used when
// RABBIT_ADDRESS is configured and the gateway WebSocket hop can be
// skipped (§4.9).
type InClusterSink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// DialInCluster opens a direct AMQP connection to address and declares the
// heartbeat fanout exchange.
func DialInCluster(address string) (*InClusterSink, error) {
	conn, err := amqp.Dial(address)
	if err != nil {
		return nil, fmt.Errorf("watcher: dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("watcher: opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(heartbeatExchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("watcher: declaring heartbeat exchange: %w", err)
	}

	return &InClusterSink{conn: conn, channel: ch}, nil
}

// Send publishes hb as JSON to the heartbeat exchange.
func (s *InClusterSink) Send(ctx context.Context, hb message.Heartbeat) error {
	body, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("watcher: encoding heartbeat: %w", err)
	}

	return s.channel.Publish(heartbeatExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now().UTC(),
	})
}

// Close tears down the channel and connection.
func (s *InClusterSink) Close() error {
	s.channel.Close()
	return s.conn.Close()
}
