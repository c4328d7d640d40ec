package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rrbotics/rrf/logging"
	"github.com/rrbotics/rrf/process"
	"github.com/rrbotics/rrf/queue"
	"github.com/rrbotics/rrf/shared"
)

// Builder constructs one worker's user-code instance from its wired runtime
// base and the passthrough construction kwargs copied from its topology
// param block (§4.5 step 4). Every worker name the caller intends to run
// must have a Builder registered.
type Builder func(rt *process.Runtime, params map[string]any) (process.Process, error)

// worker bundles everything the dispatcher tracks about one supervised
// worker for the lifetime of the process pool.
type worker struct {
	name      string
	runtime   *process.Runtime
	keepAlive process.KeepAlive
	cancel    context.CancelFunc
}

// Dispatcher owns the queue fabric, shared-state registry, log pipeline, and
// the supervised worker pool built from a topology document.
type Dispatcher struct {
	logger *zap.Logger

	mu       sync.Mutex
	topology Topology
	builders map[string]Builder

	queues       map[string]*queue.Queue // every allocated fan-out queue, keyed by "name#consumer"
	systemQueues map[string]*queue.Queue
	registry     *shared.Registry
	watcherOut   *queue.Queue

	workers map[string]*worker
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	logQueue *queue.Queue
}

// Options configures dispatcher construction beyond the topology itself.
type Options struct {
	Logger *zap.Logger
	// OutOfCluster, when true, allocates a heartbeat watcher outbox (for the
	// WebSocket-routed heartbeat watcher) instead of leaving Heartbeat a no-op.
	OutOfCluster bool
	RobotName    string
	// LogRemoteSink, if non-nil, receives every log record drained off the
	// shared log queue in addition to the console (§4.4). Left nil when no
	// remote logstash/gateway credentials are configured.
	LogRemoteSink logging.RemoteSink
}

// workerLogger tees base with a queueCore so every record a worker emits
// also lands on the dispatcher's shared log queue for §4.4 fan-out.
func workerLogger(base *zap.Logger, name string, logQ *queue.Queue) *zap.Logger {
	return zap.New(zapcore.NewTee(base.Core(), logging.NewWorkerCore(name, zapcore.DebugLevel, logQ))).Named(name)
}

// New runs the construction algorithm described in §4.5: it validates the
// topology against the supplied builders, allocates the queue fan-out
// fabric, shared state, and per-worker system inboxes, then spawns every
// worker under supervision. The returned Dispatcher is already running;
// call Shutdown to tear it down.
func New(ctx context.Context, topo Topology, builders map[string]Builder, opts Options) (*Dispatcher, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	for name := range builders {
		if _, ok := topo.Processes[name]; !ok {
			return nil, fmt.Errorf("dispatcher: builder %q does not appear in topology", name)
		}
	}
	for name := range topo.Processes {
		if _, ok := builders[name]; !ok {
			return nil, fmt.Errorf("dispatcher: topology process %q has no registered builder", name)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dctx, cancel := context.WithCancel(ctx)

	d := &Dispatcher{
		logger:       logger,
		topology:     topo,
		builders:     builders,
		queues:       make(map[string]*queue.Queue),
		systemQueues: make(map[string]*queue.Queue),
		registry:     shared.NewRegistry(),
		workers:      make(map[string]*worker),
		ctx:          dctx,
		cancel:       cancel,
		logQueue:     queue.New("__log__", 1024),
	}

	if opts.OutOfCluster {
		d.watcherOut = queue.New("__heartbeat__", 256)
	}

	sizes := topo.maxQueueSizes(topo.queueNames())

	// §4.5 step 3: one fresh queue per (queue name, consumer), fanned out to
	// every publisher of that name.
	consumeEndpoints := make(map[string]map[string]*queue.Queue) // process -> name -> queue
	publishEndpoints := make(map[string]map[string][]*queue.Queue)

	for procName, spec := range topo.Processes {
		for _, qname := range spec.Consume {
			size := sizes[qname]
			q := queue.New(fmt.Sprintf("%s#%s", qname, procName), size)
			d.queues[fmt.Sprintf("%s#%s", qname, procName)] = q

			if consumeEndpoints[procName] == nil {
				consumeEndpoints[procName] = make(map[string]*queue.Queue)
			}
			consumeEndpoints[procName][qname] = q

			for pubName, pubSpec := range topo.Processes {
				for _, pn := range pubSpec.Publish {
					if pn != qname {
						continue
					}
					if publishEndpoints[pubName] == nil {
						publishEndpoints[pubName] = make(map[string][]*queue.Queue)
					}
					publishEndpoints[pubName][qname] = append(publishEndpoints[pubName][qname], q)
				}
			}
		}
	}

	for name, tag := range topo.SharedObjects {
		if err := d.registry.Add(name, tag); err != nil {
			cancel()
			return nil, err
		}
	}

	for procName := range topo.Processes {
		d.systemQueues[procName] = queue.New(procName+"#system", defaultSystemInboxSize)
	}

	listener := logging.NewListener(d.logQueue, opts.LogRemoteSink)
	go listener.Run(dctx)

	for procName, spec := range topo.Processes {
		rt := process.NewRuntime(process.Config{
			Name:   procName,
			Logger: workerLogger(logger, procName, d.logQueue),
			Endpoints: process.Endpoints{
				Consume: consumeEndpoints[procName],
				Publish: publishEndpoints[procName],
			},
			SharedState:  d.registry.Snapshot(),
			SystemInbox:  d.systemQueues[procName],
			SystemQueues: d.systemQueues,
			WatcherOut:   d.watcherOut,
			RobotName:    opts.RobotName,
		})

		p, err := builders[procName](rt, spec.Params)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("dispatcher: building process %q: %w", procName, err)
		}

		d.spawnLocked(procName, p, rt, process.KeepAlive(spec.KeepAlive))
	}

	go d.monitorBackpressure()

	return d, nil
}

// spawnLocked starts supervision for a freshly built worker. Callers must
// already hold (or not yet need) d.mu; used both from New and AddProcess.
func (d *Dispatcher) spawnLocked(name string, p process.Process, rt *process.Runtime, keepAlive process.KeepAlive) {
	wctx, wcancel := context.WithCancel(d.ctx)
	w := &worker{name: name, runtime: rt, keepAlive: keepAlive, cancel: wcancel}
	d.workers[name] = w

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		process.Supervise(wctx, name, d.logger, p, rt, func() process.KeepAlive { return keepAlive }, func() {
			workerRestarts.WithLabelValues(name).Inc()
		})
	}()
}

// AddProcess implements the add_process admin operation: it fails if name
// collides with a running worker or an existing topology entry.
func (d *Dispatcher) AddProcess(name string, spec ProcessSpec, build Builder) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.workers[name]; exists {
		return fmt.Errorf("dispatcher: process %q already running", name)
	}
	if _, exists := d.topology.Processes[name]; exists {
		return fmt.Errorf("dispatcher: process %q already declared in topology", name)
	}

	wantedSizes := make(map[string]struct{}, len(spec.Consume))
	for _, qn := range spec.Consume {
		wantedSizes[qn] = struct{}{}
	}
	sizes := d.topology.maxQueueSizes(wantedSizes)

	consume := make(map[string]*queue.Queue)
	for _, qn := range spec.Consume {
		consume[qn] = queue.New(fmt.Sprintf("%s#%s", qn, name), sizes[qn])
	}

	d.systemQueues[name] = queue.New(name+"#system", defaultSystemInboxSize)

	rt := process.NewRuntime(process.Config{
		Name:         name,
		Logger:       workerLogger(d.logger, name, d.logQueue),
		Endpoints:    process.Endpoints{Consume: consume},
		SharedState:  d.registry.Snapshot(),
		SystemInbox:  d.systemQueues[name],
		SystemQueues: d.systemQueues,
		WatcherOut:   d.watcherOut,
	})

	p, err := build(rt, spec.Params)
	if err != nil {
		return fmt.Errorf("dispatcher: building process %q: %w", name, err)
	}

	d.topology.Processes[name] = spec
	d.spawnLocked(name, p, rt, process.KeepAlive(spec.KeepAlive))
	return nil
}

// StopProcess cancels the named worker's supervision context; the worker's
// current Run invocation is responsible for observing ctx cancellation and
// returning.
func (d *Dispatcher) StopProcess(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.workers[name]
	if !ok {
		return fmt.Errorf("dispatcher: no running process %q", name)
	}
	w.cancel()
	delete(d.workers, name)
	return nil
}

// AddSharedObject implements add_shared_object: fails if name already exists.
func (d *Dispatcher) AddSharedObject(name string, tag shared.Tag) error {
	return d.registry.Add(name, tag)
}

// DelSharedObject implements del_shared_object: idempotent, warns (does not
// error) when name was already absent.
func (d *Dispatcher) DelSharedObject(name string) {
	if existed := d.registry.Del(name); !existed {
		d.logger.Warn("del_shared_object on absent name", zap.String("name", name))
	}
}

// Shutdown cancels every supervised worker and waits for their supervision
// loops to return.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.wg.Wait()
}

// backpressureSupported is false on platforms where queue.Size is not a
// reliable sample (notably Darwin, per §4.5) — the monitor still runs but
// skips sampling and logs once.
var backpressureSupported = runtime.GOOS != "darwin"

// monitorBackpressure samples every endpoint's (size, capacity) every 2s; if
// capacity-size <= floor(capacity*0.1) it warns, then sleeps 5s to avoid log
// storms (§4.5, §8 asymmetry note for capacities < 10).
func (d *Dispatcher) monitorBackpressure() {
	if !backpressureSupported {
		d.logger.Warn("backpressure monitor disabled: platform does not expose a reliable queue size")
		return
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}

		warned := d.sampleOnce()
		if warned {
			select {
			case <-d.ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// splitQueueKey recovers the declared queue name and owning process name
// from a "name#process" allocation key, so a backpressure warning can name
// both explicitly (scenario 4) instead of relying on the reader to parse the
// mangled key.
func splitQueueKey(key string) (queueName, process string) {
	if idx := strings.LastIndexByte(key, '#'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

func (d *Dispatcher) sampleOnce() (warned bool) {
	d.mu.Lock()
	queues := make(map[string]*queue.Queue, len(d.queues))
	for k, v := range d.queues {
		queues[k] = v
	}
	d.mu.Unlock()

	for name, q := range queues {
		capacity := q.Capacity()
		size := q.Size()
		queueDepth.WithLabelValues(name).Set(float64(size))
		queueCapacity.WithLabelValues(name).Set(float64(capacity))

		threshold := capacity / 10
		if capacity-size <= threshold {
			queueName, owner := splitQueueKey(name)
			d.logger.Warn("queue approaching capacity",
				zap.String("queue", queueName),
				zap.String("process", owner),
				zap.Int("size", size),
				zap.Int("capacity", capacity))
			warned = true
		}
	}
	return warned
}
