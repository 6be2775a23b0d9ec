package domain

import (
	"strings"
	"time"

	"github.com/mizuhara/suiro/pkg/errors"
)

// OperationKind identifies which external execution service an operation
// targets. The kind is a tagged variant: parameters and target format are
// validated per kind at pipeline construction, not at dispatch time.
type OperationKind string

const (
	OperationFunctionInvoke  OperationKind = "function-invoke"
	OperationContainerTask   OperationKind = "container-task"
	OperationManagedWorkflow OperationKind = "managed-workflow"
	OperationCustomCommand   OperationKind = "custom-command"
)

// Valid reports whether the kind is one of the known variants.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationFunctionInvoke, OperationContainerTask, OperationManagedWorkflow, OperationCustomCommand:
		return true
	}
	return false
}

// Operation is the smallest unit of remote work. Immutable once its pipeline
// is published.
type Operation struct {
	ID         string
	Kind       OperationKind
	Target     string // opaque ARN-like identifier resolved by the executor
	Parameters map[string]interface{}
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// targetPrefixes maps kinds to the resource prefix their target must carry.
// Custom commands take any non-empty target.
var targetPrefixes = map[OperationKind]string{
	OperationFunctionInvoke:  "arn:aws:lambda:",
	OperationContainerTask:   "arn:aws:ecs:",
	OperationManagedWorkflow: "arn:aws:states:",
}

// Validate checks the operation's kind-specific invariants.
func (o *Operation) Validate() error {
	if o.ID == "" {
		return errors.NewValidationError("operation.id", o.ID, "must not be empty")
	}
	if !o.Kind.Valid() {
		return errors.NewValidationError("operation.kind", string(o.Kind), "unknown operation kind")
	}
	if o.Target == "" {
		return errors.NewValidationError("operation.target", o.Target, "must not be empty")
	}
	if prefix, ok := targetPrefixes[o.Kind]; ok && !strings.HasPrefix(o.Target, prefix) {
		return errors.NewValidationError("operation.target", o.Target, "target does not match kind "+string(o.Kind))
	}
	if o.Timeout < 0 {
		return errors.NewValidationError("operation.timeout", o.Timeout, "must not be negative")
	}
	if o.RetryCount < 0 {
		return errors.NewValidationError("operation.retryCount", o.RetryCount, "must not be negative")
	}
	if o.RetryDelay < 0 {
		return errors.NewValidationError("operation.retryDelay", o.RetryDelay, "must not be negative")
	}
	return nil
}

// DeepCopy returns an independent copy of the operation.
func (o *Operation) DeepCopy() Operation {
	opCopy := *o
	opCopy.Parameters = copyParameters(o.Parameters)
	return opCopy
}

func copyParameters(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
