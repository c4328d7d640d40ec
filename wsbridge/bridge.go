package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rrbotics/rrf/message"
	"github.com/rrbotics/rrf/process"
)

// Bridge is the RobotProcess implementation backing a WebSocket bridge
// worker. It embeds *process.Runtime for the publish/consume/respond_to
// contract and implements process.Process via Run.
type Bridge struct {
	*process.Runtime

	cfg    Config
	logger *zap.Logger
}

// New builds a Bridge from its construction parameters. It is the Builder
// the dispatcher registers under whatever worker name the topology gives a
// WebSocket bridge process.
func New(rt *process.Runtime, cfg Config) (*Bridge, error) {
	normalized, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	return &Bridge{Runtime: rt, cfg: normalized, logger: rt.Logger()}, nil
}

// Run implements process.Process. It dials once, exchanges the control
// packet, then runs the mode-specific loop until the connection drops or
// ctx is cancelled; the supervisor is responsible for reconnecting by
// calling Run again.
func (b *Bridge) Run(ctx context.Context) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(b.cfg.controlPacket()); err != nil {
		return fmt.Errorf("wsbridge: sending control packet: %w", err)
	}

	switch b.cfg.CommandType {
	case CommandPull:
		return b.runPull(ctx, conn)
	case CommandPush:
		return b.runPush(ctx, conn)
	default:
		return fmt.Errorf("wsbridge: unreachable command_type %q", b.cfg.CommandType)
	}
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: b.cfg.ConnectionTimeout,
	}
	dctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectionTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dctx, b.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("wsbridge: dial %s: %w", b.cfg.URL, err)
	}
	return conn, nil
}

// runPull reads frames until the connection closes or ctx is cancelled,
// decoding each binary payload and routing it per rpc_user_type (§4.7).
func (b *Bridge) runPull(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan error, 1)

	go func() {
		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				done <- classifyCloseError(err)
				return
			}

			if msgType == websocket.TextMessage {
				if string(payload) == "ping" {
					continue
				}
				done <- fmt.Errorf("wsbridge: unrecognized control frame %q", payload)
				return
			}

			if err := b.handlePullFrame(ctx, payload); err != nil {
				done <- err
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (b *Bridge) handlePullFrame(ctx context.Context, payload []byte) error {
	decoded, err := decodePayload(b.cfg.DataType, payload)
	if err != nil {
		b.logger.Warn("dropping undecodable frame", zap.Error(err))
		return nil
	}

	switch b.cfg.RPCUserType {
	case RPCClient:
		req, ok := decoded.(message.Request)
		if !ok {
			return fmt.Errorf("wsbridge: rpc_user_type=client expects a Request, got %T", decoded)
		}
		return b.RespondTo(ctx, req, req.Data)
	case RPCService:
		bindReq, ok := decoded.(message.BindRequest)
		if !ok {
			return fmt.Errorf("wsbridge: rpc_user_type=service expects a BindRequest, got %T", decoded)
		}
		return b.Publish(ctx, "", bindReq)
	default:
		return b.Publish(ctx, "", decoded)
	}
}

// runPush drives three cooperative goroutines — ping, drain-and-send, and a
// silent receiver that only watches for the peer closing the connection —
// joined by first-to-return (§4.7, §5).
func (b *Bridge) runPush(ctx context.Context, conn *websocket.Conn) error {
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 3)

	go func() { done <- b.pingLoop(pctx, conn) }()
	go func() { done <- b.sendLoop(pctx, conn) }()
	go func() { done <- b.silentReceiveLoop(pctx, conn) }()

	err := <-done
	cancel()
	// drain the other two so their goroutines don't leak past Run returning.
	<-done
	<-done
	return err
}

// pingPacket is the keepalive control packet push mode sends on every tick;
// pull mode's bare text "ping" is the gateway's own keepalive back to us, not
// something we emit (§4.7, original_source logger/handler.py's push_loop).
var pingPacket = map[string]string{"command": "ping"}

func (b *Bridge) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.WriteJSON(pingPacket); err != nil {
				return classifyCloseError(err)
			}
		}
	}
}

func (b *Bridge) sendLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msg, err := b.Consume(ctx, "", false)
		if err != nil {
			return err
		}

		payload, err := b.encodeOutbound(msg)
		if err != nil {
			return err
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			return classifyCloseError(err)
		}
	}
}

// silentReceiveLoop only exists to detect the peer closing the connection
// while push mode has nothing of its own to read; any frame it does receive
// is discarded.
func (b *Bridge) silentReceiveLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				done <- classifyCloseError(err)
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// encodeOutbound frames msg for the push-mode binary write. In default
// (non-RPC) mode the gateway expects raw bytes only — anything else fails
// the connection (§4.7 push task 2) rather than being silently coerced
// through JSON. RPC modes also accept Request/BindRequest, BSON-encoded.
func (b *Bridge) encodeOutbound(msg any) ([]byte, error) {
	if v, ok := msg.([]byte); ok {
		return v, nil
	}
	if b.cfg.RPCUserType != RPCClient && b.cfg.RPCUserType != RPCService {
		return nil, fmt.Errorf("wsbridge: push default mode requires []byte payloads, got %T", msg)
	}
	switch v := msg.(type) {
	case message.Request:
		return v.ToBSON()
	case message.BindRequest:
		return v.ToBSON()
	default:
		return json.Marshal(v)
	}
}

// classifyCloseError categorises the two expected close conditions (§4.7)
// without logging them: a graceful close returns the sentinel
// ErrGracefulClose the caller can choose to ignore; any other error is
// wrapped and returned so the supervisor logs it and its restart backoff
// applies.
func classifyCloseError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ErrGracefulClose
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("wsbridge: connection closed: %w", err)
	}
	return fmt.Errorf("wsbridge: transport error: %w", err)
}

// ErrGracefulClose is returned by Run when the peer closed the connection
// normally; the supervisor still applies its exception backoff before
// reconnecting, since a closed bridge has nothing better to do in the
// meantime.
var ErrGracefulClose = errors.New("wsbridge: connection closed normally")
