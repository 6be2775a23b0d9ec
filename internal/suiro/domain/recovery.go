package domain

import "time"

// PlanAction says what the derived session does with a job.
type PlanAction string

const (
	ActionSkip              PlanAction = "skip"
	ActionRerun             PlanAction = "rerun"
	ActionRerunWithOverride PlanAction = "rerun-with-override"
)

// PlanEntry is one job's instruction within a recovery plan. Confidence is an
// optional annotation (0 when unset); it never changes plan semantics.
type PlanEntry struct {
	JobID      string
	Action     PlanAction
	Override   map[string]interface{} // parameter patch for rerun-with-override
	Confidence float64
}

// RecoveryPlan is a pure data artifact: the minimal, ordered re-execution
// instructions derived from a failed session. Applying it creates a new
// session; the plan itself never executes anything.
type RecoveryPlan struct {
	ID         string
	SessionID  string // originating session
	Entries    []PlanEntry
	Errors     []ErrorRecord // classified errors that justified the plan
	Incomplete bool          // true when a non-recoverable failure blocks full recovery
	BlockedBy  []string      // job ids halting the walk
	CreatedAt  time.Time
}

// Entry returns the plan entry for jobID, or nil when the job has none
// (blocked branches produce no entries).
func (p *RecoveryPlan) Entry(jobID string) *PlanEntry {
	for i := range p.Entries {
		if p.Entries[i].JobID == jobID {
			return &p.Entries[i]
		}
	}
	return nil
}

// RerunSet returns the ids of jobs the plan wants re-executed.
func (p *RecoveryPlan) RerunSet() map[string]struct{} {
	out := make(map[string]struct{})
	for i := range p.Entries {
		if p.Entries[i].Action != ActionSkip {
			out[p.Entries[i].JobID] = struct{}{}
		}
	}
	return out
}
