// Package process implements the worker runtime contract (C3): bounded-queue
// publish/consume with multi-subscriber fan-out, request/response
// correlation over a per-worker system inbox, heartbeats, and the
// close_objects/clear_queues resource-cleanup hooks the supervisor invokes
// around a worker's Run method.
//
// It is the Go counterpart of the source framework's RobotProcess base
// class: every concrete worker embeds *Runtime and implements Run(ctx).
package process

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rrbotics/rrf/message"
	"github.com/rrbotics/rrf/queue"
	"github.com/rrbotics/rrf/shared"
)

const maxBufferedReplies = 50

// Endpoints bundles the queue handles the dispatcher wires for one worker.
type Endpoints struct {
	// Consume maps a declared consume name to the queue allocated for this
	// worker under that name, shared with every publisher of the name.
	Consume map[string]*queue.Queue
	// Publish maps a declared publish name to the ordered list of queues —
	// one per distinct consumer subscription on that name — that a single
	// Publish call fans a copy out to.
	Publish map[string][]*queue.Queue
}

// Process is implemented by every worker. Run is invoked by the supervisor
// and should run until ctx is cancelled or it returns/panics with an error.
type Process interface {
	Run(ctx context.Context) error
}

// ObjectCloser is optionally implemented by workers that hold resources
// needing explicit teardown before queue draining. The supervisor calls
// CloseObjects before ClearQueues during FreeResources.
type ObjectCloser interface {
	CloseObjects()
}

// Runtime is the base every concrete worker embeds. It implements the
// publish/consume/request-response contract; the embedding type supplies
// Run (and optionally CloseObjects).
type Runtime struct {
	name   string
	logger *zap.Logger

	endpoints    Endpoints
	sharedState  map[string]shared.Object
	systemInbox  *queue.Queue
	systemQueues map[string]*queue.Queue // name -> every worker's inbox, for RespondTo routing
	watcherOut   *queue.Queue            // heartbeat outbox, nil if not wired

	robotName string // for heartbeat envelopes

	queuesToClear []string
	buffered      map[string]any // uid.String() -> data, out-of-order replies
}

// Config carries everything the dispatcher allocates for one worker.
type Config struct {
	Name         string
	Logger       *zap.Logger
	Endpoints    Endpoints
	SharedState  map[string]shared.Object
	SystemInbox  *queue.Queue
	SystemQueues map[string]*queue.Queue
	WatcherOut   *queue.Queue
	RobotName    string
}

// NewRuntime constructs the embeddable base from a dispatcher-built Config.
func NewRuntime(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		name:         cfg.Name,
		logger:       logger.Named(cfg.Name),
		endpoints:    cfg.Endpoints,
		sharedState:  cfg.SharedState,
		systemInbox:  cfg.SystemInbox,
		systemQueues: cfg.SystemQueues,
		watcherOut:   cfg.WatcherOut,
		robotName:    cfg.RobotName,
		buffered:     make(map[string]any),
	}
}

// Name returns the worker's topology name.
func (r *Runtime) Name() string { return r.name }

// Logger returns the worker-scoped logger.
func (r *Runtime) Logger() *zap.Logger { return r.logger }

// Shared returns the shared-state object registered under name, along with
// whether it exists. Callers type-assert to the concrete type they expect
// (*shared.Dict, *shared.List, *shared.Lock, *shared.Value[T]).
func (r *Runtime) Shared(name string) (shared.Object, bool) {
	obj, ok := r.sharedState[name]
	return obj, ok
}

// HasConsumeQueue reports whether name is a declared consume endpoint.
func (r *Runtime) HasConsumeQueue(name string) bool {
	_, ok := r.endpoints.Consume[name]
	return ok
}

// HasPublishQueue reports whether name is a declared publish endpoint.
func (r *Runtime) HasPublishQueue(name string) bool {
	_, ok := r.endpoints.Publish[name]
	return ok
}

// soleConsumeName returns the one declared consume name, or an error if
// there isn't exactly one.
func (r *Runtime) soleConsumeName() (string, error) {
	if len(r.endpoints.Consume) == 0 {
		return "", configErrorf("process %q has no queues to read", r.name)
	}
	if len(r.endpoints.Consume) != 1 {
		return "", configErrorf("process %q has more than one read queue; specify a consume queue name", r.name)
	}
	for name := range r.endpoints.Consume {
		return name, nil
	}
	panic("unreachable")
}

func (r *Runtime) solePublishName() (string, error) {
	if len(r.endpoints.Publish) == 0 {
		return "", configErrorf("process %q has no queues to write", r.name)
	}
	if len(r.endpoints.Publish) != 1 {
		return "", configErrorf("process %q has more than one write queue; specify a publish queue name", r.name)
	}
	for name := range r.endpoints.Publish {
		return name, nil
	}
	panic("unreachable")
}

// Publish deposits a copy of message into every queue subscribed to
// queueName (fan-out). If queueName is empty and there is exactly one
// publish endpoint, that endpoint is used; otherwise a ConfigurationError is
// returned.
func (r *Runtime) Publish(ctx context.Context, queueName string, msg any) error {
	return r.publish(ctx, queueName, msg, false)
}

// PublishClearOnOverflow is like Publish, but on a full queue it first drains
// pending items (best-effort, lossy under contention — see queue.PutClearOnOverflow)
// before enqueuing.
func (r *Runtime) PublishClearOnOverflow(ctx context.Context, queueName string, msg any) error {
	return r.publish(ctx, queueName, msg, true)
}

func (r *Runtime) publish(ctx context.Context, queueName string, msg any, clearOnOverflow bool) error {
	if len(r.endpoints.Publish) == 0 {
		return configErrorf("publish called with 0 output queues for process %q", r.name)
	}

	if queueName == "" {
		name, err := r.solePublishName()
		if err != nil {
			return err
		}
		queueName = name
	}

	queues, ok := r.endpoints.Publish[queueName]
	if !ok {
		return configErrorf("publish queue %q does not exist for process %q", queueName, r.name)
	}

	for _, q := range queues {
		var err error
		if clearOnOverflow {
			err = q.PutClearOnOverflow(ctx, msg)
		} else {
			err = q.Put(ctx, msg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Consume blocks until a message arrives on queueName (or the sole declared
// consume queue, if queueName is empty) and returns it. If clearAllMessages
// is set, after the first arrival the call drains any further messages
// already queued, non-blockingly, and returns only the last one.
func (r *Runtime) Consume(ctx context.Context, queueName string, clearAllMessages bool) (any, error) {
	if len(r.endpoints.Consume) == 0 {
		return nil, configErrorf("consume called with 0 input queues for process %q", r.name)
	}

	if queueName == "" {
		name, err := r.soleConsumeName()
		if err != nil {
			return nil, err
		}
		queueName = name
	}

	q, ok := r.endpoints.Consume[queueName]
	if !ok {
		return nil, configErrorf("consume queue %q does not exist for process %q", queueName, r.name)
	}

	if clearAllMessages {
		return q.DrainLast(ctx)
	}
	return q.Get(ctx)
}

// IsFull checks fullness of exactly one named endpoint — publishQueueName or
// consumeQueueName, never both. For a publish endpoint it returns true if
// any underlying fan-out queue is full.
func (r *Runtime) IsFull(publishQueueName, consumeQueueName string) (bool, error) {
	if publishQueueName == "" && consumeQueueName == "" {
		return false, configErrorf("is_full: neither publish_queue_name nor consume_queue_name was given")
	}
	if publishQueueName != "" && consumeQueueName != "" {
		return false, configErrorf("is_full: only one of publish_queue_name/consume_queue_name must be set")
	}

	if consumeQueueName != "" {
		q, ok := r.endpoints.Consume[consumeQueueName]
		if !ok {
			return false, configErrorf("consume queue %q does not exist for process %q", consumeQueueName, r.name)
		}
		return q.Full(), nil
	}

	queues, ok := r.endpoints.Publish[publishQueueName]
	if !ok {
		return false, configErrorf("publish queue %q does not exist for process %q", publishQueueName, r.name)
	}
	for _, q := range queues {
		if q.Full() {
			return true, nil
		}
	}
	return false, nil
}

// IsEmpty checks emptiness of a consume endpoint only — there is no
// well-defined notion of "empty" for a fanned-out publish endpoint.
func (r *Runtime) IsEmpty(consumeQueueName string) (bool, error) {
	if len(r.endpoints.Consume) == 0 {
		return false, configErrorf("process %q has no queues to read", r.name)
	}

	if consumeQueueName == "" {
		name, err := r.soleConsumeName()
		if err != nil {
			return false, err
		}
		consumeQueueName = name
	}

	q, ok := r.endpoints.Consume[consumeQueueName]
	if !ok {
		return false, configErrorf("consume queue %q does not exist for process %q", consumeQueueName, r.name)
	}
	return q.Empty(), nil
}

// SendRequest wraps data in a Request envelope, publishes it on queueName
// (subject to the same publish-endpoint defaulting as Publish), and returns
// the envelope's uid for a later WaitResponse call.
func (r *Runtime) SendRequest(ctx context.Context, queueName, serviceName string, data any) (string, error) {
	req, err := message.NewRequest(r.name, serviceName, data)
	if err != nil {
		return "", err
	}
	if err := r.publish(ctx, queueName, req, false); err != nil {
		return "", err
	}
	return req.UID.String(), nil
}

// WaitResponse blocks until a reply matching uid arrives on this worker's
// system inbox. Replies for other in-flight requests that arrive first are
// buffered by uid (up to 50) for a later WaitResponse call to pick up, so
// ordering relative to other responses does not matter.
func (r *Runtime) WaitResponse(ctx context.Context, uid string) (any, error) {
	if data, ok := r.buffered[uid]; ok {
		delete(r.buffered, uid)
		return data, nil
	}

	for {
		if len(r.buffered) > maxBufferedReplies {
			return nil, ErrReplyBufferOverflow
		}

		raw, err := r.systemInbox.Get(ctx)
		if err != nil {
			return nil, err
		}

		reply, ok := raw.(message.Request)
		if !ok {
			return nil, fmt.Errorf("process: system inbox received non-reply value %T", raw)
		}

		if reply.UID.String() == uid {
			return reply.Data, nil
		}
		r.buffered[reply.UID.String()] = reply.Data
	}
}

// RespondTo builds a reply carrying req's UID, ClientProcess and ServiceName
// with data as its Data (req itself is not modified), and routes it into the
// original caller's system inbox, keyed by req.ClientProcess.
func (r *Runtime) RespondTo(ctx context.Context, req message.Request, data any) error {
	inbox, ok := r.systemQueues[req.ClientProcess]
	if !ok {
		return fmt.Errorf("process: no system inbox registered for client process %q", req.ClientProcess)
	}
	reply := message.Request{
		UID:           req.UID,
		ClientProcess: req.ClientProcess,
		ServiceName:   req.ServiceName,
		Data:          data,
	}
	return inbox.Put(ctx, reply)
}

// Heartbeat sends data as a heartbeat message if a watcher outbox is wired.
// The put waits at most heartbeatPutTimeout for room in the outbox; if it
// times out the heartbeat is dropped with a warning and no error is returned.
func (r *Runtime) Heartbeat(ctx context.Context, processClass string, data any) {
	if r.watcherOut == nil {
		return
	}

	hb := message.NewHeartbeat(r.robotName, r.name, processClass, data)

	putCtx, cancel := contextWithTimeout(ctx, heartbeatPutTimeout)
	defer cancel()

	if err := r.watcherOut.Put(putCtx, hb); err != nil {
		r.logger.Warn("heartbeat outbox full, dropping heartbeat", zap.Error(err))
	}
}

// MarkQueueForClearing registers queueName to be drained (non-destructively
// to the peer) during ClearQueues, which the supervisor calls automatically
// via FreeResources after every exit from Run.
func (r *Runtime) MarkQueueForClearing(queueName string) {
	r.queuesToClear = append(r.queuesToClear, queueName)
}

// ClearQueues drains every queue registered via MarkQueueForClearing. Each
// drain uses a short per-item timeout so a malformed or stalled queue cannot
// hang teardown indefinitely.
func (r *Runtime) ClearQueues(ctx context.Context) {
	if len(r.queuesToClear) == 0 {
		return
	}
	r.logger.Info("clearing queues", zap.Strings("queues", r.queuesToClear))

	for _, name := range r.queuesToClear {
		r.clearQueue(ctx, name)
	}
}

func (r *Runtime) clearQueue(ctx context.Context, name string) {
	if q, ok := r.endpoints.Consume[name]; ok {
		for {
			drainCtx, cancel := contextWithTimeout(ctx, queueDrainTimeout)
			_, err := q.Get(drainCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
	if queues, ok := r.endpoints.Publish[name]; ok {
		for _, q := range queues {
			for {
				drainCtx, cancel := contextWithTimeout(ctx, queueDrainTimeout)
				_, err := q.Get(drainCtx)
				cancel()
				if err != nil {
					break
				}
			}
		}
	}
}

// FreeResources runs the worker's teardown sequence: CloseObjects (if the
// embedding worker implements ObjectCloser) followed by ClearQueues. Called
// by the supervisor after Run returns, whether by normal exit or exception.
func FreeResources(ctx context.Context, p Process, r *Runtime) {
	if closer, ok := p.(ObjectCloser); ok {
		closer.CloseObjects()
	}
	r.ClearQueues(ctx)
}
