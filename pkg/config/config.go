// Package config loads the service configuration from YAML with environment
// overrides. Every subsystem's settings live here so a single file drives a
// deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mizuhara/suiro/internal/suiro/executor"
	"github.com/mizuhara/suiro/internal/suiro/governor"
	"github.com/mizuhara/suiro/internal/suiro/logstore"
	"github.com/mizuhara/suiro/internal/suiro/session"
	"github.com/mizuhara/suiro/internal/suiro/store"
	"github.com/mizuhara/suiro/pkg/logger"
)

// Config is the complete service configuration.
type Config struct {
	Store    store.Config         `yaml:"store"`
	Logs     logstore.Config      `yaml:"logs"`
	Retry    governor.RetryConfig `yaml:"retry"`
	Sessions SessionConfig        `yaml:"sessions"`
	Executor ExecutorConfig       `yaml:"executor"`
	Logging  LoggingConfig        `yaml:"logging"`
}

// SessionConfig tunes the session coordinator.
type SessionConfig struct {
	PipelineCacheTTL  time.Duration `yaml:"pipeline_cache_ttl"`
	PipelineCacheSize int           `yaml:"pipeline_cache_size"`
}

// UnmarshalYAML accepts the TTL in "5m" form and leaves omitted fields
// untouched.
func (s *SessionConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		PipelineCacheTTL  *string `yaml:"pipeline_cache_ttl"`
		PipelineCacheSize *int    `yaml:"pipeline_cache_size"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.PipelineCacheTTL != nil {
		d, err := time.ParseDuration(*raw.PipelineCacheTTL)
		if err != nil {
			return err
		}
		s.PipelineCacheTTL = d
	}
	if raw.PipelineCacheSize != nil {
		s.PipelineCacheSize = *raw.PipelineCacheSize
	}
	return nil
}

// ExecutorConfig contains execution adapter settings. Region applies to every
// AWS-backed adapter unless the per-backend config overrides it.
type ExecutorConfig struct {
	Region string             `yaml:"region"`
	ECS    executor.ECSConfig `yaml:"ecs"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: store.Config{
			Backend: "memory",
		},
		Logs: logstore.Config{
			Backend: "local",
			Local: logstore.LocalConfig{
				Directory: "/var/lib/suiro/logs",
			},
		},
		Retry: governor.DefaultRetryConfig(),
		Sessions: SessionConfig{
			PipelineCacheTTL:  5 * time.Minute,
			PipelineCacheSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file. An empty path returns defaults.
// Environment variables override file values afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays SUIRO_* environment variables onto the loaded values.
func (c *Config) applyEnv() {
	if v := os.Getenv("SUIRO_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("SUIRO_DYNAMODB_ENDPOINT"); v != "" {
		if c.Store.DynamoDB == nil {
			c.Store.DynamoDB = &store.DynamoDBConfig{}
		}
		c.Store.DynamoDB.Endpoint = v
	}
	if v := os.Getenv("SUIRO_LOGS_BACKEND"); v != "" {
		c.Logs.Backend = v
	}
	if v := os.Getenv("SUIRO_LOGS_BUCKET"); v != "" {
		c.Logs.S3.Bucket = v
	}
	if v := os.Getenv("SUIRO_REGION"); v != "" {
		c.Executor.Region = v
		if c.Store.DynamoDB != nil && c.Store.DynamoDB.Region == "" {
			c.Store.DynamoDB.Region = v
		}
		if c.Logs.S3.Region == "" {
			c.Logs.S3.Region = v
		}
	}
	if v := os.Getenv("SUIRO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SUIRO_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks cross-field invariants before the service starts.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "", "memory":
	case "dynamodb":
		if c.Store.DynamoDB == nil {
			return fmt.Errorf("store.dynamodb section is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	switch c.Logs.Backend {
	case "", "local":
	case "s3":
		if c.Logs.S3.Bucket == "" {
			return fmt.Errorf("logs.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown logs backend: %s", c.Logs.Backend)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Sessions.PipelineCacheSize < 0 {
		return fmt.Errorf("sessions.pipeline_cache_size must not be negative")
	}
	return nil
}

// SessionManagerConfig translates the file-level settings into the session
// coordinator's config.
func (c *Config) SessionManagerConfig() session.Config {
	return session.Config{
		Retry:             c.Retry,
		PipelineCacheTTL:  c.Sessions.PipelineCacheTTL,
		PipelineCacheSize: c.Sessions.PipelineCacheSize,
	}
}

// LoggerConfig translates the logging settings into the logger's config.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  logger.ParseLevel(c.Logging.Level),
		Format: c.Logging.Format,
	}
}
