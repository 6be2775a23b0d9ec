// Package logstore persists run logs emitted by external workers while a
// session executes. Logs are append-only and keyed by session: reads replay a
// session's stream for operators debugging a failed run.
package logstore

import (
	"context"
	"fmt"
	"time"

	"github.com/mizuhara/suiro/pkg/logger"
)

// Record is one log line reported by a worker.
type Record struct {
	SessionID string                 `json:"session_id"`
	JobID     string                 `json:"job_id"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Query narrows a read. A zero query returns the whole session stream.
type Query struct {
	JobID string // only records from this job
	Limit int    // 0 = unlimited
}

// Store is the run-log backend interface.
type Store interface {
	Append(ctx context.Context, records []Record) error
	Read(ctx context.Context, sessionID string, query Query) ([]Record, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend string      `yaml:"backend"` // "local" or "s3"
	Local   LocalConfig `yaml:"local"`
	S3      S3Config    `yaml:"s3"`
}

// LocalConfig parameterizes the filesystem backend.
type LocalConfig struct {
	Directory string `yaml:"directory"`
}

// S3Config parameterizes the S3 backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// NewStore creates a run-log store from configuration.
func NewStore(ctx context.Context, cfg *Config, log *logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Local, log)
	case "s3":
		return NewS3Store(ctx, cfg.S3, log)
	default:
		return nil, fmt.Errorf("unknown log store backend: %s", cfg.Backend)
	}
}
