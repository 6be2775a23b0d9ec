package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/pkg/errors"
)

// memoryStore is the in-memory reference implementation. All data is lost on
// restart; it is the default for development and tests and the executable
// specification for the persistence contract.
type memoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*domain.Session
	checkpoints map[string][]domain.Checkpoint // keyed by session id, sequence ascending
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions:    make(map[string]*domain.Session),
		checkpoints: make(map[string][]domain.Checkpoint),
	}
}

func (m *memoryStore) CreateSession(ctx context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return errors.WrapStoreError("memory", "create-session", errors.ErrSessionExists)
	}
	m.sessions[session.ID] = session.DeepCopy()
	return nil
}

func (m *memoryStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, errors.ErrSessionNotFound
	}
	return session.DeepCopy(), nil
}

func (m *memoryStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return errors.ErrSessionNotFound
	}
	m.sessions[session.ID] = session.DeepCopy()
	return nil
}

func (m *memoryStore) PutCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.checkpoints[checkpoint.SessionID]
	for i := range log {
		if log[i].Sequence == checkpoint.Sequence {
			return errors.NewConsistencyError(checkpoint.SessionID, checkpoint.Sequence, errors.ErrCheckpointConflict)
		}
	}

	cp := *checkpoint
	cp.JobStates = make(map[string]domain.JobState, len(checkpoint.JobStates))
	for id, state := range checkpoint.JobStates {
		cp.JobStates[id] = state
	}

	log = append(log, cp)
	sort.Slice(log, func(i, j int) bool { return log[i].Sequence < log[j].Sequence })
	m.checkpoints[checkpoint.SessionID] = log
	return nil
}

func (m *memoryStore) ListCheckpoints(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.checkpoints[sessionID]
	out := make([]domain.Checkpoint, len(log))
	for i := range log {
		cp := log[i]
		cp.JobStates = make(map[string]domain.JobState, len(log[i].JobStates))
		for id, state := range log[i].JobStates {
			cp.JobStates[id] = state
		}
		out[i] = cp
	}
	return out, nil
}

func (m *memoryStore) ListByPipeline(ctx context.Context, pipelineID string, filter *Filter) ([]*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.Session
	for _, session := range m.sessions {
		if session.PipelineID != pipelineID {
			continue
		}
		if !filter.Matches(session) {
			continue
		}
		result = append(result, session.DeepCopy())
	}

	// Newest first; id as tie-break for deterministic output
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter != nil && filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) HealthCheck(ctx context.Context) error {
	return nil
}
