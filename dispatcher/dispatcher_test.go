package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rrbotics/rrf/process"
	"github.com/rrbotics/rrf/shared"
)

// countingConsumer increments the shared "hi_received" counter once per
// message it consumes from "messages".
type countingConsumer struct {
	*process.Runtime
}

func (c *countingConsumer) Run(ctx context.Context) error {
	for {
		_, err := c.Consume(ctx, "", false)
		if err != nil {
			return err
		}
		obj, _ := c.Shared("hi_received")
		counter := obj.(*shared.Value[int])
		counter.Set(counter.Get() + 1)
	}
}

// onceEmitter publishes a single message then blocks until ctx is done, so
// the supervisor does not immediately restart it and re-publish.
type onceEmitter struct {
	*process.Runtime
	msg string
}

func (o *onceEmitter) Run(ctx context.Context) error {
	if err := o.Publish(ctx, "", o.msg); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestFanInTwoPublishersOneConsumer(t *testing.T) {
	topo := Topology{
		Processes: map[string]ProcessSpec{
			"p1":     {Publish: []string{"messages"}, Params: map[string]any{}, KeepAlive: true},
			"p1_new": {Publish: []string{"messages"}, Params: map[string]any{}, KeepAlive: true},
			"p2":     {Consume: []string{"messages"}, Params: map[string]any{}, KeepAlive: true},
		},
		SharedObjects: map[string]shared.Tag{"hi_received": shared.TagValueInt},
	}

	builders := map[string]Builder{
		"p1":     func(rt *process.Runtime, _ map[string]any) (process.Process, error) { return &onceEmitter{Runtime: rt, msg: "hi"}, nil },
		"p1_new": func(rt *process.Runtime, _ map[string]any) (process.Process, error) { return &onceEmitter{Runtime: rt, msg: "hi"}, nil },
		"p2":     func(rt *process.Runtime, _ map[string]any) (process.Process, error) { return &countingConsumer{Runtime: rt}, nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := New(ctx, topo, builders, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	defer d.Shutdown()

	require.Eventually(t, func() bool {
		obj, ok := d.registry.Get("hi_received")
		if !ok {
			return false
		}
		return obj.(*shared.Value[int]).Get() == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestValidateRejectsConsumeWithNoPublisher(t *testing.T) {
	topo := Topology{
		Processes: map[string]ProcessSpec{
			"p2": {Consume: []string{"messages"}},
		},
	}
	err := topo.Validate()
	require.Error(t, err)
}

func TestAddSharedObjectFailsOnExistingName(t *testing.T) {
	topo := Topology{
		Processes:     map[string]ProcessSpec{"noop": {KeepAlive: true}},
		SharedObjects: map[string]shared.Tag{"counter": shared.TagValueInt},
	}
	builders := map[string]Builder{
		"noop": func(rt *process.Runtime, _ map[string]any) (process.Process, error) {
			return &blockingWorker{Runtime: rt}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, err := New(ctx, topo, builders, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	defer d.Shutdown()

	assert.Error(t, d.AddSharedObject("counter", shared.TagValueInt))
}

func TestDelSharedObjectOnAbsentNameIsNoOp(t *testing.T) {
	topo := Topology{Processes: map[string]ProcessSpec{"noop": {KeepAlive: true}}}
	builders := map[string]Builder{
		"noop": func(rt *process.Runtime, _ map[string]any) (process.Process, error) {
			return &blockingWorker{Runtime: rt}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, err := New(ctx, topo, builders, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	defer d.Shutdown()

	assert.NotPanics(t, func() { d.DelSharedObject("never-existed") })
}

type blockingWorker struct {
	*process.Runtime
}

func (b *blockingWorker) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
