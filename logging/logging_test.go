package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rrbotics/rrf/queue"
)

type fakeRemote struct {
	sent chan Record
}

func (f *fakeRemote) Send(ctx context.Context, rec Record) error {
	f.sent <- rec
	return nil
}
func (f *fakeRemote) Close() error { return nil }

func TestWorkerLoggerForwardsOntoLogQueue(t *testing.T) {
	logQ := queue.New("log", 8)
	logger := NewWorkerLogger("p1", zapcore.InfoLevel, logQ)

	logger.Info("hello", zapcoreStringField("key", "value"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	raw, err := logQ.Get(ctx)
	require.NoError(t, err)

	rec := raw.(Record)
	assert.Equal(t, "p1", rec.Worker)
	assert.Equal(t, "hello", rec.Message)
	assert.Equal(t, "value", rec.Fields["key"])
}

func TestListenerFansOutToRemoteSink(t *testing.T) {
	logQ := queue.New("log", 8)
	remote := &fakeRemote{sent: make(chan Record, 4)}
	listener := NewListener(logQ, remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Run(ctx)

	require.NoError(t, logQ.Put(ctx, Record{Worker: "p1", Message: "hi", Level: zapcore.InfoLevel, Time: time.Now()}))

	select {
	case rec := <-remote.sent:
		assert.Equal(t, "hi", rec.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remote sink delivery")
	}
}

func zapcoreStringField(key, val string) zapcore.Field {
	return zapcore.Field{Key: key, Type: zapcore.StringType, String: val}
}
