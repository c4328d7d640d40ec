// Package dispatcher implements topology-driven construction and
// supervision of a worker fleet (C5): it turns a parsed topology document
// into wired queue endpoints, shared state, and supervised goroutines, and
// exposes the admin operations and backpressure monitor that run alongside
// them.
package dispatcher

import (
	"fmt"

	"github.com/rrbotics/rrf/shared"
)

// defaultQueueSize is used for any queue name with no entry in queues_sizes.
const defaultQueueSize = 50

// defaultSystemInboxSize is the capacity of every worker's per-worker system
// inbox, used for RPC replies.
const defaultSystemInboxSize = 50

// Description carries the optional project/subsystem/robot identification
// forwarded into every log record the dispatcher and its workers emit.
type Description struct {
	Project   string `yaml:"project"`
	Subsystem string `yaml:"subsystem"`
	Robot     string `yaml:"robot"`
}

// ProcessSpec is one entry in the topology's processes map: the declared
// consume/publish endpoints plus arbitrary passthrough construction kwargs.
type ProcessSpec struct {
	Consume []string       `yaml:"-"`
	Publish []string       `yaml:"-"`
	Params  map[string]any `yaml:"-"`

	// KeepAlive controls the supervisor's behaviour after Run returns.
	// config.Parse sets it to true (restart) when the param block has no
	// keep_alive key; the Go zero value is false (terminate).
	KeepAlive bool `yaml:"-"`
}

// Topology is the parsed form of the topology document described by the
// Dispatcher's data model: a processes map, per-queue capacity overrides, a
// shared-object type map, and optional identification metadata.
type Topology struct {
	Processes     map[string]ProcessSpec
	QueuesSizes   map[string]int
	SharedObjects map[string]shared.Tag
	Description   Description
}

// maxQueueSizes computes the effective capacity for every name in
// queueNames, applying defaultQueueSize to any name absent from QueuesSizes
// (§4.5 step 2).
func (t Topology) maxQueueSizes(queueNames map[string]struct{}) map[string]int {
	sizes := make(map[string]int, len(queueNames))
	for name := range queueNames {
		if size, ok := t.QueuesSizes[name]; ok {
			sizes[name] = size
		} else {
			sizes[name] = defaultQueueSize
		}
	}
	return sizes
}

// Validate checks the topology's own internal consistency (non-empty
// processes, every consumed queue name has at least one publisher) ahead of
// checking it against the concrete worker set passed to New.
func (t Topology) Validate() error {
	if len(t.Processes) == 0 {
		return fmt.Errorf("dispatcher: topology has no processes")
	}

	published := make(map[string]struct{})
	for _, spec := range t.Processes {
		for _, name := range spec.Publish {
			published[name] = struct{}{}
		}
	}

	for procName, spec := range t.Processes {
		for _, name := range spec.Consume {
			if _, ok := published[name]; !ok {
				return fmt.Errorf("dispatcher: process %q consumes queue %q, which no process publishes", procName, name)
			}
		}
	}

	for name, tag := range t.SharedObjects {
		switch tag {
		case shared.TagDict, shared.TagList, shared.TagLock,
			shared.TagValueBool, shared.TagValueInt, shared.TagValueFloat, shared.TagValueString:
		default:
			return fmt.Errorf("dispatcher: shared object %q has unknown tag %q", name, tag)
		}
	}

	return nil
}

// queueNames collects every distinct queue name referenced by any process's
// consume or publish declarations.
func (t Topology) queueNames() map[string]struct{} {
	names := make(map[string]struct{})
	for _, spec := range t.Processes {
		for _, n := range spec.Consume {
			names[n] = struct{}{}
		}
		for _, n := range spec.Publish {
			names[n] = struct{}{}
		}
	}
	return names
}
