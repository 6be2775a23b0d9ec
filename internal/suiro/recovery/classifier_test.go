package recovery

import (
	"testing"
	"time"

	"github.com/mizuhara/suiro/internal/suiro/domain"
)

func TestClassifyByCode(t *testing.T) {
	cases := []struct {
		code        string
		category    domain.ErrorCategory
		recoverable bool
	}{
		{"ThrottlingException", domain.CategoryResourceConstraint, true},
		{"ProvisionedThroughputExceededException", domain.CategoryResourceConstraint, true},
		{"TaskTimedOut", domain.CategoryTimeout, true},
		{"ReadTimeoutError", domain.CategoryTimeout, true},
		{"AccessDenied", domain.CategoryPermission, false},
		{"ExpiredToken", domain.CategoryPermission, false},
		{"ServiceUnavailable", domain.CategoryTransient, true},
		{"InternalServerError", domain.CategoryTransient, true},
		{"States.TaskFailed", domain.CategoryApplicationFault, false},
		{"FunctionError", domain.CategoryApplicationFault, false},
	}

	for _, tc := range cases {
		record := Classify("sess-1", "job-1", "op-1", domain.FailureSignal{Code: tc.code}, time.Now())
		if record.Category != tc.category {
			t.Errorf("Classify(code=%s) category = %s, want %s", tc.code, record.Category, tc.category)
		}
		if record.Recoverable != tc.recoverable {
			t.Errorf("Classify(code=%s) recoverable = %v, want %v", tc.code, record.Recoverable, tc.recoverable)
		}
	}
}

func TestClassifyByKind(t *testing.T) {
	cases := []struct {
		kind     string
		category domain.ErrorCategory
	}{
		{"timeout", domain.CategoryTimeout},
		{"Throttling", domain.CategoryResourceConstraint},
		{"connection-reset", domain.CategoryTransient},
		{"access-denied", domain.CategoryPermission},
		{"task-failed", domain.CategoryApplicationFault},
	}

	for _, tc := range cases {
		record := Classify("sess-1", "job-1", "op-1", domain.FailureSignal{Kind: tc.kind}, time.Now())
		if record.Category != tc.category {
			t.Errorf("Classify(kind=%s) category = %s, want %s", tc.kind, record.Category, tc.category)
		}
	}
}

func TestClassifyCodeWinsOverKind(t *testing.T) {
	signal := domain.FailureSignal{Kind: "task-failed", Code: "ThrottlingException"}
	record := Classify("sess-1", "job-1", "op-1", signal, time.Now())
	if record.Category != domain.CategoryResourceConstraint {
		t.Errorf("category = %s, want resource-constraint (code precedence)", record.Category)
	}
}

func TestClassifyUnknownFailsSafe(t *testing.T) {
	for _, signal := range []domain.FailureSignal{
		{},
		{Kind: "mystery"},
		{Code: "NeverSeenBefore"},
		{Kind: "mystery", Code: "NeverSeenBefore", Message: "?"},
	} {
		record := Classify("sess-1", "job-1", "op-1", signal, time.Now())
		if record.Category != domain.CategoryUnknown {
			t.Errorf("Classify(%+v) category = %s, want unknown", signal, record.Category)
		}
		if record.Recoverable {
			t.Errorf("Classify(%+v) recoverable = true, want false", signal)
		}
	}
}

func TestClassifyPopulatesRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signal := domain.FailureSignal{Kind: "timeout", Message: "deadline exceeded"}

	record := Classify("sess-1", "job-1", "op-1", signal, now)
	if record.ID == "" {
		t.Error("record id is empty")
	}
	if record.SessionID != "sess-1" || record.JobID != "job-1" || record.OperationID != "op-1" {
		t.Errorf("record scope = %s/%s/%s", record.SessionID, record.JobID, record.OperationID)
	}
	if record.Signal.Message != "deadline exceeded" {
		t.Errorf("signal not carried through: %+v", record.Signal)
	}
	if !record.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", record.Timestamp, now)
	}
}

func TestClassifyOutcomeTimedOut(t *testing.T) {
	outcome := domain.TimedOut(domain.FailureSignal{Kind: "mystery"})
	record := ClassifyOutcome("sess-1", "job-1", "op-1", outcome, time.Now())
	if record.Category != domain.CategoryTimeout || !record.Recoverable {
		t.Errorf("timed-out outcome classified as %s (recoverable=%v)", record.Category, record.Recoverable)
	}
}

func TestClassifyOutcomeFailedNilSignal(t *testing.T) {
	outcome := domain.Outcome{Kind: domain.OutcomeFailed}
	record := ClassifyOutcome("sess-1", "job-1", "op-1", outcome, time.Now())
	if record.Category != domain.CategoryUnknown {
		t.Errorf("category = %s, want unknown", record.Category)
	}
}
