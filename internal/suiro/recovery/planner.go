package recovery

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mizuhara/suiro/internal/suiro/dag"
	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/pkg/errors"
)

// Confidence annotations per category; a rerun forced by topology rather
// than a failure gets full confidence.
var rerunConfidence = map[domain.ErrorCategory]float64{
	domain.CategoryTransient:          0.9,
	domain.CategoryResourceConstraint: 0.75,
	domain.CategoryTimeout:            0.6,
}

const overrideConfidence = 0.5

// Plan derives a re-execution plan from a halted session. Jobs that already
// succeeded or were skipped become skip entries; recoverable failures become
// rerun entries; every transitive dependent of a rerun job reruns too. A
// non-recoverable failure without an override blocks its branch: the blocked
// jobs get no entries and the plan is flagged incomplete. A session with
// nothing to rerun yields an empty, complete plan.
//
// overrides maps job id to a parameter patch supplied by the caller as
// remediation (larger memory, different endpoint). An override upgrades a
// rerun to rerun-with-override and unblocks an otherwise non-recoverable job.
func Plan(session *domain.Session, pipeline *domain.Pipeline, overrides map[string]map[string]interface{}, now time.Time) (*domain.RecoveryPlan, error) {
	if err := dag.Validate(pipeline); err != nil {
		return nil, err
	}

	latest := latestErrorByJob(session.Errors)

	rerun := make(map[string]bool)
	blocking := make(map[string]bool)

	for id, state := range session.JobStates {
		switch state {
		case domain.JobFailed, domain.JobTimedOut:
			record, ok := latest[id]
			recoverable := ok && record.Recoverable
			if _, patched := overrides[id]; recoverable || patched {
				rerun[id] = true
			} else {
				blocking[id] = true
			}
		case domain.JobPending, domain.JobDispatched, domain.JobRetrying:
			// Never reached a terminal state; must run in the derived session
			rerun[id] = true
		}
	}

	// Downstream recomputation: every transitive dependent of a rerun job
	// reruns regardless of its own prior status.
	propagate(pipeline, rerun)

	// A blocked branch produces no entries at all.
	blocked := make(map[string]bool)
	for id := range blocking {
		blocked[id] = true
	}
	propagate(pipeline, blocked)

	plan := &domain.RecoveryPlan{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Errors:    append([]domain.ErrorRecord(nil), session.Errors...),
		CreatedAt: now,
	}

	if len(blocking) > 0 {
		plan.Incomplete = true
		plan.BlockedBy = sortedKeys(blocking)
	}

	// Nothing failed and nothing left to run: the plan stays empty.
	if len(rerun) == 0 && len(blocking) == 0 {
		return plan, nil
	}

	batches, err := dag.TopologicalBatches(pipeline)
	if err != nil {
		return nil, err
	}

	for _, batch := range batches {
		for _, id := range batch {
			if blocked[id] {
				continue
			}
			switch {
			case rerun[id]:
				entry := domain.PlanEntry{JobID: id, Action: domain.ActionRerun, Confidence: 1.0}
				if record, ok := latest[id]; ok {
					if c, known := rerunConfidence[record.Category]; known {
						entry.Confidence = c
					}
				}
				if patch, ok := overrides[id]; ok {
					entry.Action = domain.ActionRerunWithOverride
					entry.Override = copyPatch(patch)
					entry.Confidence = overrideConfidence
				}
				plan.Entries = append(plan.Entries, entry)
			default:
				plan.Entries = append(plan.Entries, domain.PlanEntry{
					JobID: id, Action: domain.ActionSkip, Confidence: 1.0,
				})
			}
		}
	}
	return plan, nil
}

// Apply creates the derived session a complete plan describes: skip entries
// keep their prior terminal status, rerun entries start pending, and the new
// session references the original through RecoveredFrom.
func Apply(plan *domain.RecoveryPlan, original *domain.Session, now time.Time) (*domain.Session, error) {
	if plan.Incomplete {
		return nil, errors.WrapSessionError(original.ID, "apply-plan", errors.ErrPlanIncomplete)
	}
	if len(plan.Entries) == 0 {
		return nil, errors.WrapSessionError(original.ID, "apply-plan", errors.ErrNothingToRecover)
	}

	states := make(map[string]domain.JobState, len(plan.Entries))
	for i := range plan.Entries {
		entry := &plan.Entries[i]
		if entry.Action == domain.ActionSkip {
			prior := original.JobStates[entry.JobID]
			if prior == "" {
				prior = domain.JobSkipped
			}
			states[entry.JobID] = prior
		} else {
			states[entry.JobID] = domain.JobPending
		}
	}

	derived := &domain.Session{
		ID:              uuid.NewString(),
		PipelineID:      original.PipelineID,
		PipelineVersion: original.PipelineVersion,
		Status:          domain.SessionCreated,
		JobStates:       states,
		Parameters:      copyPatch(original.Parameters),
		RecoveredFrom:   original.ID,
		Metadata:        map[string]string{"recovery_plan_id": plan.ID},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return derived, nil
}

func latestErrorByJob(records []domain.ErrorRecord) map[string]*domain.ErrorRecord {
	latest := make(map[string]*domain.ErrorRecord)
	for i := range records {
		record := &records[i]
		if prev, ok := latest[record.JobID]; !ok || record.Timestamp.After(prev.Timestamp) {
			latest[record.JobID] = record
		}
	}
	return latest
}

// propagate expands seeds to include every transitive dependent.
func propagate(pipeline *domain.Pipeline, seeds map[string]bool) {
	dependents := pipeline.Dependents()

	queue := make([]string, 0, len(seeds))
	for id := range seeds {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			if !seeds[dep] {
				seeds[dep] = true
				queue = append(queue, dep)
			}
		}
	}
}

func copyPatch(patch map[string]interface{}) map[string]interface{} {
	if patch == nil {
		return nil
	}
	out := make(map[string]interface{}, len(patch))
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
