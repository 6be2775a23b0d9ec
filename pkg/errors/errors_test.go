package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapSessionError(t *testing.T) {
	err := WrapSessionError("sess-1", "record-result", ErrDuplicateResult)

	if !IsSessionError(err) {
		t.Error("expected a SessionError")
	}
	if !errors.Is(err, ErrDuplicateResult) {
		t.Error("wrapped sentinel not reachable via errors.Is")
	}

	sessionID, ok := GetSessionID(err)
	if !ok || sessionID != "sess-1" {
		t.Errorf("GetSessionID = %q, %v; want sess-1, true", sessionID, ok)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if WrapSessionError("s", "op", nil) != nil {
		t.Error("WrapSessionError(nil) should be nil")
	}
	if WrapStoreError("memory", "put", nil) != nil {
		t.Error("WrapStoreError(nil) should be nil")
	}
	if WrapDispatchError("j", "o", nil) != nil {
		t.Error("WrapDispatchError(nil) should be nil")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("max_concurrent_jobs", 0, "must be at least 1")

	if !IsValidationError(err) {
		t.Error("expected a ValidationError")
	}

	want := "validation failed: max_concurrent_jobs: must be at least 1"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConsistencyError(t *testing.T) {
	err := NewConsistencyError("sess-2", 7, ErrCheckpointConflict)

	if !IsConsistencyError(err) {
		t.Error("expected a ConsistencyError")
	}
	if !IsConflict(err) {
		t.Error("checkpoint collision should be a conflict")
	}

	sessionID, ok := GetSessionID(err)
	if !ok || sessionID != "sess-2" {
		t.Errorf("GetSessionID = %q, %v; want sess-2, true", sessionID, ok)
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrSessionNotFound, true},
		{ErrPipelineNotFound, true},
		{ErrJobNotFound, true},
		{fmt.Errorf("lookup: %w", ErrSessionNotFound), true},
		{ErrCheckpointConflict, false},
		{errors.New("something else"), false},
	}

	for _, tc := range cases {
		if got := IsNotFound(tc.err); got != tc.want {
			t.Errorf("IsNotFound(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestDispatchErrorCarriesJobID(t *testing.T) {
	err := WrapDispatchError("transform", "invoke-fn", ErrExecutorUnavailable)

	jobID, ok := GetJobID(err)
	if !ok || jobID != "transform" {
		t.Errorf("GetJobID = %q, %v; want transform, true", jobID, ok)
	}
	if !IsDispatchError(err) {
		t.Error("expected a DispatchError")
	}
}

func TestWrappedChains(t *testing.T) {
	inner := WrapStoreError("dynamodb", "put-checkpoint", ErrCheckpointConflict)
	outer := WrapSessionError("sess-3", "record-result", inner)

	if !IsStoreError(outer) {
		t.Error("StoreError not reachable through SessionError")
	}
	if !errors.Is(outer, ErrCheckpointConflict) {
		t.Error("sentinel not reachable through two wraps")
	}
}
