// Package watcher implements the heartbeat watcher (C9): a dedicated worker
// that drains the shared watcher outbox and forwards each Heartbeat onto the
// remote gateway's "heartbeat" exchange, using a direct broker connection
// in-cluster and the same WebSocket control-packet protocol as the bridge
// worker out-of-cluster.
package watcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rrbotics/rrf/message"
	"github.com/rrbotics/rrf/process"
	"github.com/rrbotics/rrf/wsbridge"
)

// heartbeatExchange is the fixed exchange name heartbeats are forwarded to,
// regardless of mode (§4.9).
const heartbeatExchange = "heartbeat"

// Sink delivers one encoded heartbeat to the remote gateway. InClusterSink
// and WebSocketSink provide the two concrete implementations.
type Sink interface {
	Send(ctx context.Context, hb message.Heartbeat) error
	Close() error
}

// Watcher is the RobotProcess implementation backing the heartbeat watcher
// worker. It embeds *process.Runtime for the consume contract (it reads from
// its sole declared consume endpoint) and implements process.Process via Run.
// The dispatcher hands its watcher outbox to workers only as their Heartbeat
// target (process.Config.WatcherOut); it does not connect that outbox to any
// worker's consume endpoint.
type Watcher struct {
	*process.Runtime

	sink   Sink
	logger *zap.Logger
}

// New builds a Watcher that forwards through sink.
func New(rt *process.Runtime, sink Sink) *Watcher {
	return &Watcher{Runtime: rt, sink: sink, logger: rt.Logger()}
}

// Run drains the watcher outbox until ctx is cancelled, forwarding each
// Heartbeat to the sink. A send failure is logged and the loop continues —
// a single dropped heartbeat is not fatal to the watcher, unlike a bridge
// worker's transport errors.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.sink.Close()

	for {
		raw, err := w.Consume(ctx, "", false)
		if err != nil {
			return err
		}

		hb, ok := raw.(message.Heartbeat)
		if !ok {
			w.logger.Warn("watcher outbox received non-heartbeat value", zap.String("type", fmt.Sprintf("%T", raw)))
			continue
		}

		if err := w.sink.Send(ctx, hb); err != nil {
			w.logger.Warn("failed to forward heartbeat", zap.Error(err))
		}
	}
}

// OutOfClusterConfig builds the wsbridge.Config used to relay heartbeats
// over the WebSocket gateway when no direct broker address is configured.
func OutOfClusterConfig(base wsbridge.Config) wsbridge.Config {
	base.CommandType = wsbridge.CommandPush
	base.Exchange = heartbeatExchange
	base.ExchangeType = wsbridge.ExchangeFanout
	return base
}
