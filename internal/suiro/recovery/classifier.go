// Package recovery turns failed sessions into safe re-execution plans. The
// classifier labels raw failure signals; the planner derives a minimal rerun
// set from the labels and the pipeline topology.
package recovery

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mizuhara/suiro/internal/suiro/domain"
)

// Service fault codes with a known category. Codes win over signal kinds
// because executors pass them through verbatim from the underlying service.
var codeCategories = map[string]domain.ErrorCategory{
	"Throttling":                             domain.CategoryResourceConstraint,
	"ThrottlingException":                    domain.CategoryResourceConstraint,
	"TooManyRequestsException":               domain.CategoryResourceConstraint,
	"ProvisionedThroughputExceededException": domain.CategoryResourceConstraint,
	"LimitExceededException":                 domain.CategoryResourceConstraint,
	"ResourceLimitExceeded":                  domain.CategoryResourceConstraint,
	"OutOfMemoryError":                       domain.CategoryResourceConstraint,

	"ConnectTimeoutError": domain.CategoryTimeout,
	"ReadTimeoutError":    domain.CategoryTimeout,
	"TaskTimedOut":        domain.CategoryTimeout,
	"States.Timeout":      domain.CategoryTimeout,
	"RequestTimeout":      domain.CategoryTimeout,
	"GatewayTimeout":      domain.CategoryTimeout,

	"AccessDenied":          domain.CategoryPermission,
	"AccessDeniedException": domain.CategoryPermission,
	"UnauthorizedOperation": domain.CategoryPermission,
	"UnrecognizedClient":    domain.CategoryPermission,
	"InvalidSignature":      domain.CategoryPermission,
	"ExpiredToken":          domain.CategoryPermission,

	"ServiceUnavailable":          domain.CategoryTransient,
	"ServiceUnavailableException": domain.CategoryTransient,
	"InternalServerError":         domain.CategoryTransient,
	"InternalFailure":             domain.CategoryTransient,
	"RequestLimitExceeded":        domain.CategoryTransient,
	"TransientError":              domain.CategoryTransient,

	"States.TaskFailed":        domain.CategoryApplicationFault,
	"UnhandledError":           domain.CategoryApplicationFault,
	"FunctionError":            domain.CategoryApplicationFault,
	"EssentialContainerExited": domain.CategoryApplicationFault,
}

// Executor-level signal kinds, matched case-insensitively when no code
// matched.
var kindCategories = map[string]domain.ErrorCategory{
	"timeout":             domain.CategoryTimeout,
	"timed-out":           domain.CategoryTimeout,
	"throttling":          domain.CategoryResourceConstraint,
	"capacity":            domain.CategoryResourceConstraint,
	"out-of-memory":       domain.CategoryResourceConstraint,
	"permission":          domain.CategoryPermission,
	"access-denied":       domain.CategoryPermission,
	"transient":           domain.CategoryTransient,
	"connection-reset":    domain.CategoryTransient,
	"service-unavailable": domain.CategoryTransient,
	"task-failed":         domain.CategoryApplicationFault,
	"fault":               domain.CategoryApplicationFault,
	"application-error":   domain.CategoryApplicationFault,
}

// Classify maps a raw failure signal to a classified error record. The
// mapping is deterministic and total: unrecognized signals become Unknown,
// which is never recoverable.
func Classify(sessionID, jobID, operationID string, signal domain.FailureSignal, now time.Time) domain.ErrorRecord {
	category := classifyCategory(signal)
	return domain.ErrorRecord{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		JobID:       jobID,
		OperationID: operationID,
		Signal:      signal,
		Category:    category,
		Recoverable: category.Recoverable(),
		Timestamp:   now,
	}
}

// ClassifyOutcome classifies a terminal outcome's signal. Timed-out outcomes
// are always Timeout regardless of the signal payload.
func ClassifyOutcome(sessionID, jobID, operationID string, outcome domain.Outcome, now time.Time) domain.ErrorRecord {
	var signal domain.FailureSignal
	if outcome.Signal != nil {
		signal = *outcome.Signal
	}
	if outcome.Kind == domain.OutcomeTimedOut {
		record := Classify(sessionID, jobID, operationID, signal, now)
		record.Category = domain.CategoryTimeout
		record.Recoverable = true
		return record
	}
	return Classify(sessionID, jobID, operationID, signal, now)
}

func classifyCategory(signal domain.FailureSignal) domain.ErrorCategory {
	if signal.Code != "" {
		if category, ok := codeCategories[signal.Code]; ok {
			return category
		}
	}
	if signal.Kind != "" {
		if category, ok := kindCategories[strings.ToLower(signal.Kind)]; ok {
			return category
		}
	}
	return domain.CategoryUnknown
}
