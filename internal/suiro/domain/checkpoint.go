package domain

import "time"

// CheckpointEvent identifies what triggered a checkpoint write.
type CheckpointEvent string

const (
	EventJobCompleted      CheckpointEvent = "job-completed"
	EventJobFailed         CheckpointEvent = "job-failed"
	EventJobTimedOut       CheckpointEvent = "job-timed-out"
	EventJobSkipped        CheckpointEvent = "job-skipped"
	EventJobRetrying       CheckpointEvent = "job-retrying"
	EventSessionTransition CheckpointEvent = "session-transition"
)

// Checkpoint is an immutable, append-only record of session progress. The
// current session state is the fold of all checkpoints up to the latest
// sequence number; each checkpoint snapshots the full job-status map so the
// fold is a last-writer projection and replay is trivially deterministic.
type Checkpoint struct {
	SessionID string
	Sequence  int64
	JobStates map[string]JobState
	Event     CheckpointEvent
	JobID     string // job that triggered the event, empty for session transitions
	Status    SessionStatus
	CreatedAt time.Time
}

// Replay folds checkpoints in sequence order into the job-status map and the
// final session status they describe. Checkpoints must be sorted by sequence
// ascending; replaying any prefix yields the state as of that checkpoint.
func Replay(checkpoints []Checkpoint) (map[string]JobState, SessionStatus) {
	states := make(map[string]JobState)
	status := SessionCreated
	for i := range checkpoints {
		cp := &checkpoints[i]
		for id, state := range cp.JobStates {
			states[id] = state
		}
		if cp.Status != "" {
			status = cp.Status
		}
	}
	return states, status
}
