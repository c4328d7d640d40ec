package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rrbotics/rrf/process"
	"github.com/rrbotics/rrf/queue"
)

var upgrader = websocket.Upgrader{}

func TestConfigNormalizeMapsLegacyPushAndDefaults(t *testing.T) {
	cfg, err := Config{CommandType: commandLegacyPush, Exchange: "tele"}.normalize()
	require.NoError(t, err)
	assert.Equal(t, CommandPush, cfg.CommandType)
	assert.Equal(t, ExchangeFanout, cfg.ExchangeType)
	assert.Equal(t, time.Second, cfg.PingInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.ConnectionTimeout)
}

func TestConfigNormalizeRejectsRPCUserTypeWithoutTopic(t *testing.T) {
	_, err := Config{CommandType: CommandPull, RPCUserType: RPCClient}.normalize()
	assert.Error(t, err)
}

func TestBindKeyForClientAndService(t *testing.T) {
	client := Config{RPCUserType: RPCClient, RobotName: "robot-1"}
	assert.Equal(t, "robot-1.*", client.bindKey())

	service := Config{RPCUserType: RPCService, ServiceName: "nav"}
	assert.Equal(t, "*.nav", service.bindKey())
}

func TestDecodePayloadJSONAndString(t *testing.T) {
	v, err := decodePayload(DataJSON, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v)

	s, err := decodePayload(DataString, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

// TestRunPullPublishesDecodedFrames spins up a local WebSocket server that
// reads the bridge's control packet then sends one JSON frame, and verifies the bridge
// publishes the decoded payload onto its declared publish queue.
func TestRunPullPublishesDecodedFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var ctrl controlPacket
		require.NoError(t, conn.ReadJSON(&ctrl))
		assert.Equal(t, "pull", ctrl.Command)

		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(`{"speed":1}`)))

		// keep the connection open briefly so the bridge has time to process
		// the frame before the handler returns and closes it.
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	url := "ws" + server.URL[len("http"):]

	outQueue := queue.New("telemetry", 4)
	rt := process.NewRuntime(process.Config{
		Name:        "bridge",
		Logger:      zap.NewNop(),
		Endpoints:   process.Endpoints{Publish: map[string][]*queue.Queue{"telemetry": {outQueue}}},
		SystemInbox: queue.New("bridge.system", 1),
	})

	bridge, err := New(rt, Config{
		CommandType: CommandPull,
		Exchange:    "telemetry",
		URL:         url,
		DataType:    DataJSON,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_ = bridge.Run(ctx) // expect a transport error once the server closes; ignored here

	v, ok := outQueue.GetNonBlocking()
	require.True(t, ok)
	assert.Equal(t, map[string]any{"speed": 1.0}, v)
}
