// Package registry holds parsed, validated pipeline definitions keyed by
// (id, version). The state machine consumes pipelines through the resolver
// interface; the registry is the in-process definition source.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/mizuhara/suiro/internal/suiro/dag"
	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/pkg/errors"
)

// Registry stores immutable pipeline versions. A version, once registered,
// is never replaced.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]map[string]*domain.Pipeline // id -> version -> pipeline
	order     map[string][]string                    // id -> versions in registration order
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		pipelines: make(map[string]map[string]*domain.Pipeline),
		order:     make(map[string][]string),
	}
}

// Register validates and stores a pipeline version. Re-registering an
// existing (id, version) pair is rejected; definitions are immutable.
func (r *Registry) Register(pipeline *domain.Pipeline) error {
	if pipeline.ID == "" || pipeline.Version == "" {
		return errors.NewValidationError("pipeline", pipeline.ID, "id and version are required")
	}
	if err := dag.Validate(pipeline); err != nil {
		return errors.WrapPipelineError(pipeline.ID, "register", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.pipelines[pipeline.ID]
	if !ok {
		versions = make(map[string]*domain.Pipeline)
		r.pipelines[pipeline.ID] = versions
	}
	if _, exists := versions[pipeline.Version]; exists {
		return errors.WrapPipelineError(pipeline.ID, "register",
			errors.NewValidationError("version", pipeline.Version, "version already registered"))
	}

	versions[pipeline.Version] = pipeline.DeepCopy()
	r.order[pipeline.ID] = append(r.order[pipeline.ID], pipeline.Version)
	return nil
}

// Resolve returns the pipeline for (id, version). An empty version resolves
// to the latest registered one.
func (r *Registry) Resolve(ctx context.Context, pipelineID, version string) (*domain.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.pipelines[pipelineID]
	if !ok {
		return nil, errors.WrapPipelineError(pipelineID, "resolve", errors.ErrPipelineNotFound)
	}

	if version == "" {
		order := r.order[pipelineID]
		version = order[len(order)-1]
	}
	pipeline, ok := versions[version]
	if !ok {
		return nil, errors.WrapPipelineError(pipelineID, "resolve", errors.ErrPipelineNotFound)
	}
	return pipeline.DeepCopy(), nil
}

// Latest returns the most recently registered version of a pipeline.
func (r *Registry) Latest(ctx context.Context, pipelineID string) (*domain.Pipeline, error) {
	return r.Resolve(ctx, pipelineID, "")
}

// Versions returns a pipeline's registered versions in registration order.
func (r *Registry) Versions(pipelineID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order[pipelineID]...)
}

// List returns the registered pipeline ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.pipelines))
	for id := range r.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
