// Package store persists session records and their append-only checkpoint
// logs. The checkpoint log is the durable source of truth: the state
// machine's in-memory view of a session is always reconstructible from it.
package store

import (
	"context"

	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/pkg/errors"
)

// Store defines the persistence interface the session state machine depends
// on. Implementations: memory, DynamoDB.
type Store interface {
	// CreateSession persists a new session record; fails if the id exists
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession returns the session record by id
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSession replaces an existing session record
	UpdateSession(ctx context.Context, session *domain.Session) error

	// PutCheckpoint appends one checkpoint. The write must fail with
	// ErrCheckpointConflict when the (sessionID, sequence) pair already
	// exists; this collision is the concurrency guard.
	PutCheckpoint(ctx context.Context, checkpoint *domain.Checkpoint) error

	// ListCheckpoints returns a session's checkpoints ordered by sequence
	ListCheckpoints(ctx context.Context, sessionID string) ([]domain.Checkpoint, error)

	// ListByPipeline returns sessions for a pipeline, newest first
	ListByPipeline(ctx context.Context, pipelineID string, filter *Filter) ([]*domain.Session, error)

	// Close releases backend resources
	Close() error

	// HealthCheck verifies backend availability
	HealthCheck(ctx context.Context) error
}

// Filter narrows ListByPipeline results.
type Filter struct {
	Statuses []domain.SessionStatus // OR condition; empty matches all
	Limit    int                    // 0 = unlimited
}

// Matches reports whether the session passes the filter.
func (f *Filter) Matches(session *domain.Session) bool {
	if f == nil || len(f.Statuses) == 0 {
		return true
	}
	for _, status := range f.Statuses {
		if session.Status == status {
			return true
		}
	}
	return false
}

// Config selects and configures a backend.
type Config struct {
	Backend  string          `yaml:"backend"` // "memory", "dynamodb"
	DynamoDB *DynamoDBConfig `yaml:"dynamodb"`
}

// DynamoDBConfig holds DynamoDB-specific configuration
type DynamoDBConfig struct {
	Region          string `yaml:"region"`
	SessionTable    string `yaml:"session_table"`
	CheckpointTable string `yaml:"checkpoint_table"`
	Endpoint        string `yaml:"endpoint"` // override for local development
}

// NewStore creates a storage backend based on configuration.
func NewStore(cfg *Config) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "dynamodb":
		return NewDynamoDBStore(cfg.DynamoDB)
	default:
		return nil, errors.NewValidationError("store.backend", cfg.Backend, "unknown storage backend")
	}
}
