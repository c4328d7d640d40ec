// Package config loads the human-authored topology document: YAML with
// environment-variable substitution, parsed into the shape the dispatcher
// package consumes. This is the ambient "external loader" collaborator the
// core dispatcher algorithm assumes but never implements itself.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rrbotics/rrf/dispatcher"
	"github.com/rrbotics/rrf/shared"
)

// rawDocument mirrors the on-disk YAML shape before passthrough kwargs are
// separated from the reserved consume/publish/keep_alive keys.
type rawDocument struct {
	Processes     map[string]map[string]any `yaml:"processes"`
	QueuesSizes   map[string]int             `yaml:"queues_sizes"`
	SharedObjects map[string]string          `yaml:"shared_objects"`
	Description   dispatcher.Description     `yaml:"description"`
}

// Load reads a topology document from path, substitutes ${VAR} /
// ${VAR:-default} references against the process environment, and parses it
// into a dispatcher.Topology.
func Load(path string) (dispatcher.Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return dispatcher.Topology{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse behaves like Load but takes the document bytes directly, useful for
// tests and for documents assembled in memory.
func Parse(raw []byte) (dispatcher.Topology, error) {
	expanded := os.Expand(string(raw), expandVar)

	var doc rawDocument
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return dispatcher.Topology{}, fmt.Errorf("config: invalid topology yaml: %w", err)
	}

	topo := dispatcher.Topology{
		Processes:     make(map[string]dispatcher.ProcessSpec, len(doc.Processes)),
		QueuesSizes:   doc.QueuesSizes,
		SharedObjects: make(map[string]shared.Tag, len(doc.SharedObjects)),
		Description:   doc.Description,
	}

	for name, tag := range doc.SharedObjects {
		topo.SharedObjects[name] = shared.Tag(tag)
	}

	for name, block := range doc.Processes {
		spec := dispatcher.ProcessSpec{
			Params:    make(map[string]any),
			KeepAlive: true,
		}

		for key, value := range block {
			switch key {
			case "consume":
				spec.Consume = toStringList(value)
			case "publish":
				spec.Publish = toStringList(value)
			case "keep_alive":
				if b, ok := value.(bool); ok {
					spec.KeepAlive = b
				}
			default:
				spec.Params[key] = value
			}
		}

		topo.Processes[name] = spec
	}

	return topo, nil
}

// toStringList accepts either a single scalar queue name or a YAML sequence
// of names, matching the topology document's "queue name or ordered list"
// field shape (§3).
func toStringList(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// expandVar implements os.Expand's ${name} / ${name:-default} substitution
// against the process environment.
func expandVar(name string) string {
	if idx := indexColonDash(name); idx >= 0 {
		key, def := name[:idx], name[idx+2:]
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return def
	}
	return os.Getenv(name)
}

func indexColonDash(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '-' {
			return i
		}
	}
	return -1
}
