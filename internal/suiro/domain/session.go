package domain

import (
	"fmt"
	"time"

	"github.com/mizuhara/suiro/pkg/errors"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionRunning    SessionStatus = "running"
	SessionPaused     SessionStatus = "paused"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionRecovering SessionStatus = "recovering"
)

// sessionTransitions defines the allowed session status transitions.
// failed -> recovering marks the original session while a derived session is
// being created; the original record is never reopened for dispatch.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionCreated:    {SessionRunning, SessionCancelled},
	SessionRunning:    {SessionPaused, SessionCompleted, SessionFailed, SessionCancelled},
	SessionPaused:     {SessionRunning, SessionCancelled},
	SessionFailed:     {SessionRecovering},
	SessionRecovering: {},
	SessionCompleted:  {},
	SessionCancelled:  {},
}

// IsTerminal reports whether no further dispatch can happen from this status.
// A failed session is terminal for its own record; recovery always derives a
// new session.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled, SessionRecovering:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s -> next is allowed.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// JobState represents the per-job execution status within a session
type JobState string

const (
	JobPending    JobState = "pending"
	JobDispatched JobState = "dispatched"
	JobRetrying   JobState = "retrying"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
	JobTimedOut   JobState = "timed_out"
	JobSkipped    JobState = "skipped"
)

// IsTerminal reports whether the job has reached a final status.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobTimedOut, JobSkipped:
		return true
	}
	return false
}

// Satisfied reports whether a dependency in this state unblocks dependents.
func (s JobState) Satisfied() bool {
	return s == JobSucceeded || s == JobSkipped
}

// Session is one execution attempt of a pipeline with bound parameters. It
// exclusively owns its job-status map; all mutation goes through the session
// state machine.
type Session struct {
	ID              string
	PipelineID      string
	PipelineVersion string
	Status          SessionStatus
	JobStates       map[string]JobState
	Sequence        int64 // latest checkpoint sequence number
	Parameters      map[string]interface{}
	RecoveredFrom   string // originating session id when derived by recovery
	Errors          []ErrorRecord
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// TransitionTo moves the session to the next status, updating lifecycle
// timestamps. Returns ErrInvalidTransition when the move is not allowed.
func (s *Session) TransitionTo(next SessionStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return errors.WrapSessionError(s.ID, "transition",
			fmt.Errorf("%w: %s to %s", errors.ErrInvalidTransition, s.Status, next))
	}

	if next == SessionRunning && s.StartedAt == nil {
		started := now
		s.StartedAt = &started
	}
	if next.IsTerminal() && next != SessionRecovering {
		completed := now
		s.CompletedAt = &completed
	}

	s.Status = next
	s.UpdatedAt = now
	return nil
}

// Progress summarizes the session's per-job statuses.
type Progress struct {
	Total      int
	Succeeded  int
	Failed     int
	Skipped    int
	InFlight   int
	Pending    int
	Percentage float64
}

// Progress derives progress counters from the job-status map.
func (s *Session) Progress() Progress {
	p := Progress{Total: len(s.JobStates)}
	for _, state := range s.JobStates {
		switch state {
		case JobSucceeded:
			p.Succeeded++
		case JobFailed, JobTimedOut:
			p.Failed++
		case JobSkipped:
			p.Skipped++
		case JobDispatched, JobRetrying:
			p.InFlight++
		default:
			p.Pending++
		}
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Succeeded+p.Skipped) / float64(p.Total) * 100.0
	}
	return p
}

// Settled reports whether no job can make further progress: nothing pending,
// retrying, or in flight.
func (s *Session) Settled() bool {
	for _, state := range s.JobStates {
		if !state.IsTerminal() {
			return false
		}
	}
	return true
}

// CopyJobStates returns an independent copy of the job-status map.
func (s *Session) CopyJobStates() map[string]JobState {
	out := make(map[string]JobState, len(s.JobStates))
	for id, state := range s.JobStates {
		out[id] = state
	}
	return out
}

// DeepCopy returns an independent copy of the session.
func (s *Session) DeepCopy() *Session {
	if s == nil {
		return nil
	}
	sessionCopy := *s
	sessionCopy.JobStates = s.CopyJobStates()
	sessionCopy.Parameters = copyParameters(s.Parameters)
	sessionCopy.Errors = append([]ErrorRecord(nil), s.Errors...)
	if s.Metadata != nil {
		sessionCopy.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			sessionCopy.Metadata[k] = v
		}
	}
	if s.StartedAt != nil {
		started := *s.StartedAt
		sessionCopy.StartedAt = &started
	}
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		sessionCopy.CompletedAt = &completed
	}
	return &sessionCopy
}
