// Package executor hands dispatched operations to the external services that
// actually run them. Adapters are thin: they translate a dispatch request to
// one asynchronous service call and return; outcomes flow back through the
// state machine's RecordResult entry point, never through the adapter.
package executor

import (
	"context"
	"encoding/json"

	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/internal/suiro/session"
	"github.com/mizuhara/suiro/pkg/errors"
	"github.com/mizuhara/suiro/pkg/logger"
)

// Router dispatches each operation to the adapter registered for its kind.
// It implements session.Dispatcher.
type Router struct {
	adapters map[domain.OperationKind]session.Dispatcher
	log      *logger.Logger
}

// NewRouter creates a router with no adapters bound.
func NewRouter(log *logger.Logger) *Router {
	return &Router{
		adapters: make(map[domain.OperationKind]session.Dispatcher),
		log:      log.WithField("component", "executor-router"),
	}
}

// Bind registers an adapter for an operation kind, replacing any previous
// binding.
func (r *Router) Bind(kind domain.OperationKind, adapter session.Dispatcher) {
	r.adapters[kind] = adapter
}

// Dispatch routes the request by operation kind.
func (r *Router) Dispatch(ctx context.Context, req session.DispatchRequest) error {
	adapter, ok := r.adapters[req.Operation.Kind]
	if !ok {
		r.log.Error("no adapter for operation kind",
			"kind", string(req.Operation.Kind), "job_id", req.JobID)
		return errors.WrapDispatchError(req.JobID, req.Operation.ID, errors.ErrExecutorUnavailable)
	}
	return adapter.Dispatch(ctx, req)
}

// payload is the JSON document every adapter hands to its service: enough
// for the external worker to identify the work and report back.
type payload struct {
	SessionID  string                 `json:"session_id"`
	PipelineID string                 `json:"pipeline_id"`
	JobID      string                 `json:"job_id"`
	Operation  string                 `json:"operation_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// buildPayload merges operation parameters, session parameters, and the
// recovery override, in increasing precedence.
func buildPayload(req session.DispatchRequest) ([]byte, error) {
	merged := make(map[string]interface{})
	for k, v := range req.Operation.Parameters {
		merged[k] = v
	}
	for k, v := range req.Parameters {
		merged[k] = v
	}
	for k, v := range req.Override {
		merged[k] = v
	}

	return json.Marshal(payload{
		SessionID:  req.SessionID,
		PipelineID: req.PipelineID,
		JobID:      req.JobID,
		Operation:  req.Operation.ID,
		Parameters: merged,
	})
}
