package process

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rrbotics/rrf/message"
	"github.com/rrbotics/rrf/queue"
)

func testRuntime(t *testing.T, endpoints Endpoints) *Runtime {
	t.Helper()
	return NewRuntime(Config{
		Name:        "p1",
		Logger:      zap.NewNop(),
		Endpoints:   endpoints,
		SystemInbox: queue.New("p1.system", 8),
		RobotName:   "robby",
	})
}

func TestPublishFansOutToEveryConsumer(t *testing.T) {
	q1 := queue.New("messages.p2", 4)
	q2 := queue.New("messages.p3", 4)
	rt := testRuntime(t, Endpoints{
		Publish: map[string][]*queue.Queue{"messages": {q1, q2}},
	})

	ctx := context.Background()
	require.NoError(t, rt.Publish(ctx, "messages", "hi"))

	v1, err := q1.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", v1)

	v2, err := q2.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", v2)
}

func TestPublishDefaultsToSolePublishQueue(t *testing.T) {
	q := queue.New("out", 1)
	rt := testRuntime(t, Endpoints{Publish: map[string][]*queue.Queue{"out": {q}}})

	require.NoError(t, rt.Publish(context.Background(), "", "msg"))
	v, ok := q.GetNonBlocking()
	require.True(t, ok)
	assert.Equal(t, "msg", v)
}

func TestPublishAmbiguousQueueNameIsConfigurationError(t *testing.T) {
	rt := testRuntime(t, Endpoints{Publish: map[string][]*queue.Queue{
		"a": {queue.New("a", 1)},
		"b": {queue.New("b", 1)},
	}})

	err := rt.Publish(context.Background(), "", "msg")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestConsumeUnknownQueueNameIsConfigurationError(t *testing.T) {
	rt := testRuntime(t, Endpoints{Consume: map[string]*queue.Queue{
		"in": queue.New("in", 1),
	}})

	_, err := rt.Consume(context.Background(), "nope", false)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestConsumeClearAllMessagesReturnsLast(t *testing.T) {
	q := queue.New("in", 8)
	rt := testRuntime(t, Endpoints{Consume: map[string]*queue.Queue{"in": q}})

	ctx := context.Background()
	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))
	require.NoError(t, q.Put(ctx, 3))

	v, err := rt.Consume(ctx, "in", true)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestIsFullRejectsBothArgumentsSet(t *testing.T) {
	rt := testRuntime(t, Endpoints{})
	_, err := rt.IsFull("a", "b")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestIsFullOnPublishEndpointReflectsAnyFanoutQueueFull(t *testing.T) {
	full := queue.New("full", 1)
	require.NoError(t, full.Put(context.Background(), "x"))
	notFull := queue.New("notfull", 4)

	rt := testRuntime(t, Endpoints{Publish: map[string][]*queue.Queue{
		"out": {full, notFull},
	}})

	isFull, err := rt.IsFull("out", "")
	require.NoError(t, err)
	assert.True(t, isFull)
}

func TestSendRequestAndWaitResponseRoundTrip(t *testing.T) {
	reqQueue := queue.New("svc", 4)
	callerInbox := queue.New("caller.system", 4)
	serviceInbox := queue.New("service.system", 4)

	caller := NewRuntime(Config{
		Name:        "caller",
		Logger:      zap.NewNop(),
		Endpoints:   Endpoints{Publish: map[string][]*queue.Queue{"svc": {reqQueue}}},
		SystemInbox: callerInbox,
		SystemQueues: map[string]*queue.Queue{
			"caller": callerInbox,
		},
	})

	service := NewRuntime(Config{
		Name:        "service",
		Logger:      zap.NewNop(),
		Endpoints:   Endpoints{Consume: map[string]*queue.Queue{"svc": reqQueue}},
		SystemInbox: serviceInbox,
		SystemQueues: map[string]*queue.Queue{
			"caller": callerInbox,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	uid, err := caller.SendRequest(ctx, "", "echo", "ping")
	require.NoError(t, err)

	raw, err := service.Consume(ctx, "", false)
	require.NoError(t, err)
	req := raw.(message.Request)
	assert.Equal(t, "ping", req.Data)

	require.NoError(t, service.RespondTo(ctx, req, "pong"))

	resp, err := caller.WaitResponse(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp)
}

func TestWaitResponseBuffersOutOfOrderReplies(t *testing.T) {
	inbox := queue.New("caller.system", 8)
	caller := NewRuntime(Config{Name: "caller", Logger: zap.NewNop(), SystemInbox: inbox})

	ctx := context.Background()
	other := message.Request{UID: uuid.New(), ClientProcess: "caller", Data: "other"}
	mine := message.Request{UID: uuid.New(), ClientProcess: "caller", Data: "mine"}

	require.NoError(t, inbox.Put(ctx, other))
	require.NoError(t, inbox.Put(ctx, mine))

	got, err := caller.WaitResponse(ctx, mine.UID.String())
	require.NoError(t, err)
	assert.Equal(t, "mine", got)

	// the buffered reply for "other" should still be retrievable afterwards.
	got2, err := caller.WaitResponse(ctx, other.UID.String())
	require.NoError(t, err)
	assert.Equal(t, "other", got2)
}

func TestWaitResponseOverflowsAfter50Buffered(t *testing.T) {
	inbox := queue.New("caller.system", 64)
	caller := NewRuntime(Config{Name: "caller", Logger: zap.NewNop(), SystemInbox: inbox})

	ctx := context.Background()
	for i := 0; i < 52; i++ {
		require.NoError(t, inbox.Put(ctx, message.Request{UID: uuid.New(), ClientProcess: "caller", Data: i}))
	}

	_, err := caller.WaitResponse(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrReplyBufferOverflow)
}
