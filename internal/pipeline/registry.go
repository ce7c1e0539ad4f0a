package pipeline

import (
	"log/slog"
	"sync"

	"github.com/rezkam/jobengine/internal/core"
)

// Registry is the process-wide map from payload "type" to pipeline
// factory described by spec §4.5 / §6. Duplicate registration replaces
// silently (§9 open question, documented decision): the previous factory
// for that type is dropped and a Debug-level log line records it.
type Registry struct {
	mu    sync.RWMutex
	types map[string]core.PipelineFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]core.PipelineFactory)}
}

// Register installs factory under pipelineType, replacing any existing
// registration for that type.
func (r *Registry) Register(pipelineType string, factory core.PipelineFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[pipelineType]; exists {
		slog.Debug("pipeline type re-registered, replacing factory", slog.String("type", pipelineType))
	}
	r.types[pipelineType] = factory
}

// Resolve looks up the factory registered for pipelineType. Lookup is O(1).
func (r *Registry) Resolve(pipelineType string) (core.PipelineFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.types[pipelineType]
	return f, ok
}

var _ core.PipelineRegistry = (*Registry)(nil)
