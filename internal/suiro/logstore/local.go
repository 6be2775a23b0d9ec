package logstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mizuhara/suiro/pkg/errors"
	"github.com/mizuhara/suiro/pkg/logger"
)

// LocalStore keeps one JSONL file per session under a base directory. Handles
// stay open across appends; readers open their own handle so an in-progress
// session can be inspected without disturbing the writer.
type LocalStore struct {
	dir string
	log *logger.Logger

	mu      sync.Mutex
	handles map[string]*os.File
}

// NewLocalStore creates a filesystem run-log store rooted at cfg.Directory.
func NewLocalStore(cfg LocalConfig, log *logger.Logger) (*LocalStore, error) {
	dir := cfg.Directory
	if dir == "" {
		dir = "/var/lib/suiro/logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapStoreError("local", "init", err)
	}
	return &LocalStore{
		dir:     dir,
		log:     log.WithField("backend", "local-logs"),
		handles: make(map[string]*os.File),
	}, nil
}

func (s *LocalStore) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

// Append writes records to their sessions' files. Records may span sessions.
func (s *LocalStore) Append(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]*os.File)
	for _, rec := range records {
		if rec.SessionID == "" {
			return errors.WrapStoreError("local", "append", fmt.Errorf("record without session id"))
		}
		f, err := s.handle(rec.SessionID)
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.WrapStoreError("local", "append", err)
		}
		data = append(data, '\n')
		if _, err := f.Write(data); err != nil {
			return errors.WrapStoreError("local", "append", err)
		}
		touched[rec.SessionID] = f
	}

	for _, f := range touched {
		if err := f.Sync(); err != nil {
			return errors.WrapStoreError("local", "append", err)
		}
	}
	return nil
}

func (s *LocalStore) handle(sessionID string) (*os.File, error) {
	if f, ok := s.handles[sessionID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.sessionPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.WrapStoreError("local", "open", err)
	}
	s.handles[sessionID] = f
	s.log.Debug("opened session log file", "session_id", sessionID)
	return f, nil
}

// Read returns a session's records in append order, filtered by the query.
// A missing file is an empty stream, not an error.
func (s *LocalStore) Read(_ context.Context, sessionID string, query Query) ([]Record, error) {
	f, err := os.Open(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapStoreError("local", "read", err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, errors.WrapStoreError("local", "read", err)
		}
		if query.JobID != "" && rec.JobID != query.JobID {
			continue
		}
		out = append(out, rec)
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapStoreError("local", "read", err)
	}
	return out, nil
}

// DeleteSession removes a session's log file and drops its cached handle.
func (s *LocalStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.handles[sessionID]; ok {
		f.Close()
		delete(s.handles, sessionID)
	}
	if err := os.Remove(s.sessionPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return errors.WrapStoreError("local", "delete", err)
	}
	return nil
}

// Close closes all cached handles.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range s.handles {
		f.Close()
		delete(s.handles, id)
	}
	return nil
}
