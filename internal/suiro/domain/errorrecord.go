package domain

import "time"

// ErrorCategory is the classified failure taxonomy.
type ErrorCategory string

const (
	CategoryResourceConstraint ErrorCategory = "resource-constraint"
	CategoryTimeout            ErrorCategory = "timeout"
	CategoryPermission         ErrorCategory = "permission"
	CategoryTransient          ErrorCategory = "transient"
	CategoryApplicationFault   ErrorCategory = "application-fault"
	CategoryUnknown            ErrorCategory = "unknown"
)

// Recoverable reports whether failures in this category may be retried
// without operator or configuration change. Unknown fails safe.
func (c ErrorCategory) Recoverable() bool {
	switch c {
	case CategoryTransient, CategoryResourceConstraint, CategoryTimeout:
		return true
	}
	return false
}

// ErrorRecord is a classified failure owned by the session that produced it.
// The recovery planner references records, never mutates them.
type ErrorRecord struct {
	ID          string
	SessionID   string
	JobID       string
	OperationID string
	Signal      FailureSignal
	Category    ErrorCategory
	Recoverable bool
	Timestamp   time.Time
}
