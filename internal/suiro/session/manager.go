// Package session implements the session state machine: the single writer
// for a session's job-status map and checkpoint log. Sessions are independent
// and run in parallel; all coordination is confined to one session's state.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mizuhara/suiro/internal/suiro/dag"
	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/internal/suiro/events"
	"github.com/mizuhara/suiro/internal/suiro/governor"
	"github.com/mizuhara/suiro/internal/suiro/recovery"
	"github.com/mizuhara/suiro/internal/suiro/store"
	"github.com/mizuhara/suiro/pkg/errors"
	"github.com/mizuhara/suiro/pkg/logger"
)

// DispatchRequest hands one operation to an external executor. Override, when
// set, is a recovery remediation patch merged over Parameters.
type DispatchRequest struct {
	SessionID  string
	PipelineID string
	JobID      string
	Operation  domain.Operation
	Parameters map[string]interface{}
	Override   map[string]interface{}
}

// Dispatcher is the executor-facing side of the state machine. Dispatch hands
// work off; the outcome arrives later through RecordResult.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// PipelineResolver returns the parsed pipeline a session was started from.
type PipelineResolver interface {
	Resolve(ctx context.Context, pipelineID, version string) (*domain.Pipeline, error)
}

// Result is the state machine's answer to a lifecycle call: the session as
// persisted, the jobs dispatched by this call, and the resulting status.
type Result struct {
	Session    *domain.Session
	Dispatched []string
	Status     domain.SessionStatus
}

// StartOptions carries optional per-session inputs.
type StartOptions struct {
	// Conditions are pre-resolved booleans for conditional jobs. A job with a
	// false condition is skipped instead of dispatched.
	Conditions map[string]bool
	Metadata   map[string]string
}

// Config tunes the manager's shared resources.
type Config struct {
	Retry             governor.RetryConfig
	PipelineCacheTTL  time.Duration
	PipelineCacheSize int
}

// DefaultConfig returns the standard manager configuration.
func DefaultConfig() Config {
	return Config{
		Retry:             governor.DefaultRetryConfig(),
		PipelineCacheTTL:  5 * time.Minute,
		PipelineCacheSize: 256,
	}
}

// Manager drives sessions through their lifecycle. Calls for the same session
// are serialized by a per-session lock; the retry scheduler and pipeline
// cache are process-wide.
type Manager struct {
	store      store.Store
	pipelines  PipelineResolver
	dispatcher Dispatcher
	bus        events.EventBus
	log        *logger.Logger
	retryCfg   governor.RetryConfig
	cache      *governor.Cache
	cacheTTL   time.Duration

	// schedule defers a retry re-dispatch; replaced in tests
	schedule func(delay time.Duration, fn func())
	now      func() time.Time

	mu     sync.Mutex
	coords map[string]*coordinator
}

// coordinator is the in-memory per-session state: the dispatch slot tracker,
// retry attempt counters, and resolved conditions.
type coordinator struct {
	mu         sync.Mutex
	slots      *governor.Slots
	attempts   map[string]int
	conditions map[string]bool
	overrides  map[string]map[string]interface{}
}

// NewManager creates a session manager.
func NewManager(st store.Store, pipelines PipelineResolver, dispatcher Dispatcher, bus events.EventBus, log *logger.Logger, cfg Config) *Manager {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = governor.DefaultRetryConfig()
	}
	if cfg.PipelineCacheTTL == 0 {
		cfg.PipelineCacheTTL = 5 * time.Minute
	}
	return &Manager{
		store:      st,
		pipelines:  pipelines,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log.WithField("component", "session-manager"),
		retryCfg:   cfg.Retry,
		cache:      governor.NewCache(cfg.PipelineCacheSize),
		cacheTTL:   cfg.PipelineCacheTTL,
		schedule: func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		},
		now:    time.Now,
		coords: make(map[string]*coordinator),
	}
}

// Start validates the pipeline, creates a session, transitions it to running
// and dispatches the first ready batch. Validation failures are rejected
// synchronously and never persisted as a session.
func (m *Manager) Start(ctx context.Context, pipeline *domain.Pipeline, parameters map[string]interface{}, opts *StartOptions) (*Result, error) {
	if err := dag.Validate(pipeline); err != nil {
		return nil, err
	}
	for _, name := range pipeline.RequiredParams {
		if _, ok := parameters[name]; !ok {
			m.log.Warn("missing required parameter", "pipeline_id", pipeline.ID, "parameter", name)
			return nil, errors.WrapPipelineError(pipeline.ID, "start", errors.ErrMissingParameter)
		}
	}

	now := m.now()
	states := make(map[string]domain.JobState, len(pipeline.Jobs))
	for i := range pipeline.Jobs {
		states[pipeline.Jobs[i].ID] = domain.JobPending
	}

	session := &domain.Session{
		ID:              uuid.NewString(),
		PipelineID:      pipeline.ID,
		PipelineVersion: pipeline.Version,
		Status:          domain.SessionCreated,
		JobStates:       states,
		Parameters:      parameters,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts != nil {
		session.Metadata = opts.Metadata
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	coord := m.coordinator(session.ID)
	coord.mu.Lock()
	defer coord.mu.Unlock()

	coord.slots = governor.NewSlots(pipeline.MaxConcurrentJobs)
	if opts != nil {
		coord.conditions = opts.Conditions
	}
	m.cachePipeline(pipeline)

	if err := session.TransitionTo(domain.SessionRunning, now); err != nil {
		return nil, err
	}
	m.publishSessionStatus(ctx, session.ID, domain.SessionCreated, domain.SessionRunning)

	dispatched := m.dispatchReady(ctx, session, pipeline, coord)
	m.settle(ctx, session)

	if err := m.checkpoint(ctx, session, domain.EventSessionTransition, ""); err != nil {
		return nil, err
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	m.log.Info("session started",
		"session_id", session.ID, "pipeline_id", pipeline.ID, "dispatched", len(dispatched))
	return &Result{Session: session.DeepCopy(), Dispatched: dispatched, Status: session.Status}, nil
}

// RecordResult applies one job outcome: exactly one checkpoint per effective
// call, then ready-set recomputation and further dispatch. A result for a job
// already in a terminal state is rejected as a no-op and logged. Concurrent
// calls for the same session are serialized.
func (m *Manager) RecordResult(ctx context.Context, sessionID, jobID string, outcome domain.Outcome) (*Result, error) {
	coord := m.coordinator(sessionID)
	coord.mu.Lock()
	defer coord.mu.Unlock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pipeline, err := m.resolvePipeline(ctx, session)
	if err != nil {
		return nil, err
	}
	m.ensureSlots(coord, pipeline)

	state, ok := session.JobStates[jobID]
	if !ok {
		return nil, errors.WrapSessionError(sessionID, "record-result", errors.ErrJobNotFound)
	}
	if state.IsTerminal() {
		// Late or duplicate result; the conflicting write is rejected and the
		// session is left unchanged.
		m.log.Warn("duplicate result for settled job ignored",
			"session_id", sessionID, "job_id", jobID, "state", string(state), "outcome", string(outcome.Kind))
		return &Result{Session: session, Status: session.Status}, nil
	}
	if state == domain.JobPending {
		m.log.Warn("result for undispatched job ignored",
			"session_id", sessionID, "job_id", jobID)
		return &Result{Session: session, Status: session.Status}, nil
	}

	if session.Status == domain.SessionCompleted || session.Status == domain.SessionFailed || session.Status == domain.SessionRecovering {
		m.log.Warn("result for terminal session ignored", "session_id", sessionID, "job_id", jobID)
		return &Result{Session: session, Status: session.Status}, nil
	}

	event := m.applyOutcome(ctx, session, pipeline, coord, jobID, outcome)

	var dispatched []string
	if session.Status == domain.SessionRunning {
		dispatched = m.dispatchReady(ctx, session, pipeline, coord)
		m.settle(ctx, session)
	}

	if err := m.checkpoint(ctx, session, event, jobID); err != nil {
		return nil, err
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	return &Result{Session: session.DeepCopy(), Dispatched: dispatched, Status: session.Status}, nil
}

// applyOutcome mutates the job-status map for one outcome and returns the
// checkpoint event describing it.
func (m *Manager) applyOutcome(ctx context.Context, session *domain.Session, pipeline *domain.Pipeline, coord *coordinator, jobID string, outcome domain.Outcome) domain.CheckpointEvent {
	prior := session.JobStates[jobID]

	switch outcome.Kind {
	case domain.OutcomeSucceeded:
		session.JobStates[jobID] = domain.JobSucceeded
		coord.slots.Release()
		m.publishJobStatus(ctx, session.ID, jobID, prior, domain.JobSucceeded)
		return domain.EventJobCompleted

	default:
		job := pipeline.Job(jobID)
		operationID := ""
		if job != nil && len(job.Operations) > 0 {
			operationID = job.Operations[0].ID
		}
		record := recovery.ClassifyOutcome(session.ID, jobID, operationID, outcome, m.now())

		budget := retryBudget(job)
		retryable := session.Status == domain.SessionRunning || session.Status == domain.SessionPaused
		if retryable && record.Recoverable && coord.attempts[jobID] < budget {
			attempt := coord.attempts[jobID]
			coord.attempts[jobID]++

			if session.Status == domain.SessionPaused {
				// Pause withholds dispatch, not the budget: park the job as
				// pending and let Resume dispatch the retry.
				session.JobStates[jobID] = domain.JobPending
				coord.slots.Release()
				m.publishJobStatus(ctx, session.ID, jobID, prior, domain.JobPending)
				m.log.Info("retry deferred, session paused",
					"session_id", session.ID, "job_id", jobID, "attempt", attempt+1)
				return domain.EventJobRetrying
			}

			session.JobStates[jobID] = domain.JobRetrying
			m.publishJobStatus(ctx, session.ID, jobID, prior, domain.JobRetrying)

			delay := m.retryCfg.Backoff(attempt)
			m.log.Info("scheduling retry",
				"session_id", session.ID, "job_id", jobID, "attempt", attempt+1, "delay", delay.String())
			sessionID := session.ID
			m.schedule(delay, func() { m.redispatch(context.Background(), sessionID, jobID) })
			return domain.EventJobRetrying
		}

		terminal := domain.JobFailed
		event := domain.EventJobFailed
		if outcome.Kind == domain.OutcomeTimedOut {
			terminal = domain.JobTimedOut
			event = domain.EventJobTimedOut
		}
		session.JobStates[jobID] = terminal
		session.Errors = append(session.Errors, record)
		coord.slots.Release()
		m.publishJobStatus(ctx, session.ID, jobID, prior, terminal)
		m.skipDependents(ctx, session, pipeline, jobID)

		m.log.Warn("job failed permanently",
			"session_id", session.ID, "job_id", jobID,
			"category", string(record.Category), "recoverable", record.Recoverable)
		return event
	}
}

// skipDependents marks every still-pending transitive dependent of jobID as
// skipped; failure propagates downstream.
func (m *Manager) skipDependents(ctx context.Context, session *domain.Session, pipeline *domain.Pipeline, jobID string) {
	dependents := pipeline.Dependents()

	queue := []string{jobID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			if session.JobStates[dep] == domain.JobPending {
				session.JobStates[dep] = domain.JobSkipped
				m.publishJobStatus(ctx, session.ID, dep, domain.JobPending, domain.JobSkipped)
			}
			queue = append(queue, dep)
		}
	}
}

// dispatchReady resolves skips and dispatches ready jobs within the slot
// budget. Skipping can satisfy further dependents, so it loops until the
// skip set is empty.
func (m *Manager) dispatchReady(ctx context.Context, session *domain.Session, pipeline *domain.Pipeline, coord *coordinator) []string {
	var dispatched []string

	for {
		rs := dag.Ready(session, pipeline, coord.conditions)

		for _, id := range rs.Skip {
			session.JobStates[id] = domain.JobSkipped
			m.publishJobStatus(ctx, session.ID, id, domain.JobPending, domain.JobSkipped)
		}

		for _, id := range rs.Dispatch {
			if !coord.slots.TryAcquire() {
				return dispatched
			}
			session.JobStates[id] = domain.JobDispatched
			m.publishJobStatus(ctx, session.ID, id, domain.JobPending, domain.JobDispatched)

			if err := m.dispatchJob(ctx, session, pipeline.Job(id), coord.overrides[id]); err != nil {
				m.dispatchFailed(ctx, session, pipeline, coord, id, err)
				continue
			}
			dispatched = append(dispatched, id)
		}

		if len(rs.Skip) == 0 {
			return dispatched
		}
	}
}

// dispatchJob hands every operation of a job to the executor, retrying
// transient dispatch failures per the backoff policy.
func (m *Manager) dispatchJob(ctx context.Context, session *domain.Session, job *domain.Job, override map[string]interface{}) error {
	for _, op := range job.Operations {
		req := DispatchRequest{
			SessionID:  session.ID,
			PipelineID: session.PipelineID,
			JobID:      job.ID,
			Operation:  op,
			Parameters: session.Parameters,
			Override:   override,
		}
		err := governor.Retry(ctx, m.retryCfg, nil, func(ctx context.Context) error {
			return m.dispatcher.Dispatch(ctx, req)
		})
		if err != nil {
			return errors.WrapDispatchError(job.ID, op.ID, err)
		}
	}
	return nil
}

// dispatchFailed settles a job whose dispatch exhausted its retries.
func (m *Manager) dispatchFailed(ctx context.Context, session *domain.Session, pipeline *domain.Pipeline, coord *coordinator, jobID string, err error) {
	m.log.Error("dispatch failed", "session_id", session.ID, "job_id", jobID, "error", err.Error())

	record := recovery.Classify(session.ID, jobID, "", domain.FailureSignal{
		Kind:    "transient",
		Message: err.Error(),
	}, m.now())
	session.JobStates[jobID] = domain.JobFailed
	session.Errors = append(session.Errors, record)
	coord.slots.Release()
	m.publishJobStatus(ctx, session.ID, jobID, domain.JobDispatched, domain.JobFailed)
	m.skipDependents(ctx, session, pipeline, jobID)
}

// redispatch re-enters a retrying job after its backoff delay.
func (m *Manager) redispatch(ctx context.Context, sessionID, jobID string) {
	coord := m.coordinator(sessionID)
	coord.mu.Lock()
	defer coord.mu.Unlock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		m.log.Error("retry aborted, session unavailable", "session_id", sessionID, "error", err.Error())
		return
	}
	if session.JobStates[jobID] != domain.JobRetrying {
		return
	}
	if session.Status == domain.SessionPaused {
		m.parkRetry(ctx, session, coord, jobID)
		return
	}
	if session.Status != domain.SessionRunning {
		return
	}
	pipeline, err := m.resolvePipeline(ctx, session)
	if err != nil {
		m.log.Error("retry aborted, pipeline unavailable", "session_id", sessionID, "error", err.Error())
		return
	}

	session.JobStates[jobID] = domain.JobDispatched
	m.publishJobStatus(ctx, sessionID, jobID, domain.JobRetrying, domain.JobDispatched)

	event := domain.EventJobRetrying
	if err := m.dispatchJob(ctx, session, pipeline.Job(jobID), coord.overrides[jobID]); err != nil {
		m.dispatchFailed(ctx, session, pipeline, coord, jobID, err)
		m.settle(ctx, session)
		event = domain.EventJobFailed
	}

	if err := m.checkpoint(ctx, session, event, jobID); err != nil {
		m.log.Error("retry checkpoint failed", "session_id", sessionID, "error", err.Error())
		return
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		m.log.Error("retry update failed", "session_id", sessionID, "error", err.Error())
	}
}

// parkRetry returns a retrying job to pending when its backoff elapses while
// the session is paused. The attempt stays counted; Resume dispatches it.
func (m *Manager) parkRetry(ctx context.Context, session *domain.Session, coord *coordinator, jobID string) {
	session.JobStates[jobID] = domain.JobPending
	coord.slots.Release()
	m.publishJobStatus(ctx, session.ID, jobID, domain.JobRetrying, domain.JobPending)

	if err := m.checkpoint(ctx, session, domain.EventJobRetrying, jobID); err != nil {
		m.log.Error("retry park checkpoint failed", "session_id", session.ID, "error", err.Error())
		return
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		m.log.Error("retry park update failed", "session_id", session.ID, "error", err.Error())
		return
	}
	m.log.Info("retry parked, session paused", "session_id", session.ID, "job_id", jobID)
}

// Pause withholds new dispatch. In-flight jobs are not cancelled; their
// results are still recorded while paused. A retry whose backoff elapses
// while paused is parked back to pending and dispatched on Resume.
func (m *Manager) Pause(ctx context.Context, sessionID string) (*Result, error) {
	return m.transition(ctx, sessionID, domain.SessionPaused, false)
}

// Resume returns a paused session to running and dispatches anything that
// became ready while paused.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*Result, error) {
	return m.transition(ctx, sessionID, domain.SessionRunning, true)
}

// Cancel skips all pending jobs and stops further dispatch. Already-dispatched
// jobs report their own outcome later, which is recorded and ignored for
// control purposes.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (*Result, error) {
	coord := m.coordinator(sessionID)
	coord.mu.Lock()
	defer coord.mu.Unlock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	prior := session.Status
	if err := session.TransitionTo(domain.SessionCancelled, m.now()); err != nil {
		return nil, err
	}
	for id, state := range session.JobStates {
		if state == domain.JobPending || state == domain.JobRetrying {
			session.JobStates[id] = domain.JobSkipped
			m.publishJobStatus(ctx, sessionID, id, state, domain.JobSkipped)
		}
	}

	if err := m.checkpoint(ctx, session, domain.EventSessionTransition, ""); err != nil {
		return nil, err
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	m.publishSessionStatus(ctx, sessionID, prior, domain.SessionCancelled)
	m.log.Info("session cancelled", "session_id", sessionID)
	return &Result{Session: session.DeepCopy(), Status: session.Status}, nil
}

// Recover plans and, when the plan is complete, applies recovery for a failed
// session: the original transitions to recovering and a derived session
// starts running from the rerun set. An incomplete plan is returned along
// with ErrPlanIncomplete so the caller can supply overrides and retry.
func (m *Manager) Recover(ctx context.Context, sessionID string, overrides map[string]map[string]interface{}) (*Result, *domain.RecoveryPlan, error) {
	coord := m.coordinator(sessionID)
	coord.mu.Lock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		coord.mu.Unlock()
		return nil, nil, err
	}
	if session.Status != domain.SessionFailed {
		coord.mu.Unlock()
		return nil, nil, errors.WrapSessionError(sessionID, "recover", errors.ErrSessionTerminal)
	}
	pipeline, err := m.resolvePipeline(ctx, session)
	if err != nil {
		coord.mu.Unlock()
		return nil, nil, err
	}

	now := m.now()
	plan, err := recovery.Plan(session, pipeline, overrides, now)
	if err != nil {
		coord.mu.Unlock()
		return nil, nil, err
	}
	m.publishEvent(ctx, events.Event{
		Type:      events.RecoveryPlanGenerated,
		SessionID: sessionID,
		Data:      events.RecoveryEventData{PlanID: plan.ID, Incomplete: plan.Incomplete},
		Timestamp: now,
	})

	derived, err := recovery.Apply(plan, session, now)
	if err != nil {
		coord.mu.Unlock()
		return nil, plan, err
	}

	prior := session.Status
	if err := session.TransitionTo(domain.SessionRecovering, now); err != nil {
		coord.mu.Unlock()
		return nil, plan, err
	}
	if err := m.checkpoint(ctx, session, domain.EventSessionTransition, ""); err != nil {
		coord.mu.Unlock()
		return nil, plan, err
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		coord.mu.Unlock()
		return nil, plan, err
	}
	m.publishSessionStatus(ctx, sessionID, prior, domain.SessionRecovering)
	coord.mu.Unlock()

	if err := m.store.CreateSession(ctx, derived); err != nil {
		return nil, plan, err
	}

	// Activate the derived session under its own lock
	derivedCoord := m.coordinator(derived.ID)
	derivedCoord.mu.Lock()
	defer derivedCoord.mu.Unlock()

	derivedCoord.slots = governor.NewSlots(pipeline.MaxConcurrentJobs)
	derivedCoord.conditions = coord.conditions
	derivedCoord.overrides = planOverrides(plan)

	if err := derived.TransitionTo(domain.SessionRunning, now); err != nil {
		return nil, plan, err
	}
	m.publishSessionStatus(ctx, derived.ID, domain.SessionCreated, domain.SessionRunning)

	dispatched := m.dispatchReady(ctx, derived, pipeline, derivedCoord)
	m.settle(ctx, derived)

	if err := m.checkpoint(ctx, derived, domain.EventSessionTransition, ""); err != nil {
		return nil, plan, err
	}
	if err := m.store.UpdateSession(ctx, derived); err != nil {
		return nil, plan, err
	}

	m.log.Info("session recovered",
		"session_id", sessionID, "derived_session_id", derived.ID,
		"plan_id", plan.ID, "dispatched", len(dispatched))
	return &Result{Session: derived.DeepCopy(), Dispatched: dispatched, Status: derived.Status}, plan, nil
}

// Get returns the persisted session record.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// ListByPipeline returns a pipeline's sessions, newest first.
func (m *Manager) ListByPipeline(ctx context.Context, pipelineID string, filter *store.Filter) ([]*domain.Session, error) {
	return m.store.ListByPipeline(ctx, pipelineID, filter)
}

// Reconstruct folds the session's checkpoint log into the job-status map and
// session status it describes. The fold is deterministic and idempotent.
func (m *Manager) Reconstruct(ctx context.Context, sessionID string) (map[string]domain.JobState, domain.SessionStatus, error) {
	checkpoints, err := m.store.ListCheckpoints(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	states, status := domain.Replay(checkpoints)
	return states, status, nil
}

// transition performs a pause/resume style status change under the session
// lock, optionally redispatching after the move.
func (m *Manager) transition(ctx context.Context, sessionID string, next domain.SessionStatus, redispatch bool) (*Result, error) {
	coord := m.coordinator(sessionID)
	coord.mu.Lock()
	defer coord.mu.Unlock()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	prior := session.Status
	if err := session.TransitionTo(next, m.now()); err != nil {
		return nil, err
	}

	var dispatched []string
	if redispatch {
		pipeline, err := m.resolvePipeline(ctx, session)
		if err != nil {
			return nil, err
		}
		m.ensureSlots(coord, pipeline)
		dispatched = m.dispatchReady(ctx, session, pipeline, coord)
		m.settle(ctx, session)
	}

	if err := m.checkpoint(ctx, session, domain.EventSessionTransition, ""); err != nil {
		return nil, err
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	m.publishSessionStatus(ctx, sessionID, prior, next)
	return &Result{Session: session.DeepCopy(), Dispatched: dispatched, Status: session.Status}, nil
}

// settle transitions a running session to its terminal status once no job
// can make further progress.
func (m *Manager) settle(ctx context.Context, session *domain.Session) {
	if session.Status != domain.SessionRunning || !session.Settled() {
		return
	}

	next := domain.SessionCompleted
	for _, state := range session.JobStates {
		if state == domain.JobFailed || state == domain.JobTimedOut {
			next = domain.SessionFailed
			break
		}
	}

	if err := session.TransitionTo(next, m.now()); err != nil {
		m.log.Error("settle transition failed", "session_id", session.ID, "error", err.Error())
		return
	}
	m.publishSessionStatus(ctx, session.ID, domain.SessionRunning, next)
	m.log.Info("session settled", "session_id", session.ID, "status", string(next))
}

// checkpoint appends exactly one checkpoint snapshotting the full job-status
// map. A sequence collision means another writer got there first: the write
// is rejected, logged, and the session left unchanged.
func (m *Manager) checkpoint(ctx context.Context, session *domain.Session, event domain.CheckpointEvent, jobID string) error {
	next := session.Sequence + 1
	cp := &domain.Checkpoint{
		SessionID: session.ID,
		Sequence:  next,
		JobStates: session.CopyJobStates(),
		Event:     event,
		JobID:     jobID,
		Status:    session.Status,
		CreatedAt: m.now(),
	}

	if err := m.store.PutCheckpoint(ctx, cp); err != nil {
		if errors.Is(err, errors.ErrCheckpointConflict) {
			m.log.Error("checkpoint sequence collision, write rejected",
				"session_id", session.ID, "sequence", next)
		}
		return err
	}
	session.Sequence = next
	session.UpdatedAt = cp.CreatedAt

	m.publishEvent(ctx, events.Event{
		Type:      events.CheckpointWritten,
		SessionID: session.ID,
		Data:      events.CheckpointEventData{Sequence: next, Event: event},
		Timestamp: cp.CreatedAt,
	})
	return nil
}

func (m *Manager) coordinator(sessionID string) *coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	coord, ok := m.coords[sessionID]
	if !ok {
		coord = &coordinator{
			slots:    governor.NewSlots(0),
			attempts: make(map[string]int),
		}
		m.coords[sessionID] = coord
	}
	return coord
}

// ensureSlots binds the slot capacity for coordinators created lazily, e.g.
// after a restart.
func (m *Manager) ensureSlots(coord *coordinator, pipeline *domain.Pipeline) {
	if coord.slots == nil {
		coord.slots = governor.NewSlots(pipeline.MaxConcurrentJobs)
	}
}

// resolvePipeline returns the session's pipeline, preferring the process-wide
// lookup cache. Staleness within the TTL is acceptable: pipelines are
// immutable per version.
func (m *Manager) resolvePipeline(ctx context.Context, session *domain.Session) (*domain.Pipeline, error) {
	key := session.PipelineID + "@" + session.PipelineVersion
	if cached, ok := m.cache.Get(key); ok {
		return cached.(*domain.Pipeline), nil
	}

	pipeline, err := m.pipelines.Resolve(ctx, session.PipelineID, session.PipelineVersion)
	if err != nil {
		return nil, err
	}
	m.cache.Set(key, pipeline, m.cacheTTL)
	return pipeline, nil
}

func (m *Manager) cachePipeline(pipeline *domain.Pipeline) {
	m.cache.Set(pipeline.ID+"@"+pipeline.Version, pipeline, m.cacheTTL)
}

func (m *Manager) publishSessionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) {
	m.publishEvent(ctx, events.Event{
		Type:      events.SessionStatusChanged,
		SessionID: sessionID,
		Data:      events.SessionEventData{From: from, To: to},
		Timestamp: m.now(),
	})
}

func (m *Manager) publishJobStatus(ctx context.Context, sessionID, jobID string, from, to domain.JobState) {
	m.publishEvent(ctx, events.Event{
		Type:      events.JobStatusChanged,
		SessionID: sessionID,
		Data:      events.JobEventData{JobID: jobID, From: from, To: to},
		Timestamp: m.now(),
	})
}

// publishEvent is fire-and-forget: handler errors are logged, never
// propagated into session control flow.
func (m *Manager) publishEvent(ctx context.Context, event events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, event); err != nil {
		m.log.Warn("event handler error", "event", string(event.Type), "error", err.Error())
	}
}

func retryBudget(job *domain.Job) int {
	if job == nil {
		return 0
	}
	budget := 0
	for i := range job.Operations {
		if job.Operations[i].RetryCount > budget {
			budget = job.Operations[i].RetryCount
		}
	}
	return budget
}

func planOverrides(plan *domain.RecoveryPlan) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for i := range plan.Entries {
		entry := &plan.Entries[i]
		if entry.Action == domain.ActionRerunWithOverride {
			out[entry.JobID] = entry.Override
		}
	}
	return out
}
