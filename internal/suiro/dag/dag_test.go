package dag

import (
	"testing"
	"time"

	"github.com/mizuhara/suiro/internal/suiro/domain"
)

func op(id string) domain.Operation {
	return domain.Operation{
		ID:      id,
		Kind:    domain.OperationFunctionInvoke,
		Target:  "arn:aws:lambda:us-east-1:123456789012:function:" + id,
		Timeout: time.Minute,
	}
}

func job(id string, deps ...string) domain.Job {
	return domain.Job{ID: id, Operations: []domain.Operation{op("op-" + id)}, DependsOn: deps}
}

func pipeline(jobs ...domain.Job) *domain.Pipeline {
	return &domain.Pipeline{ID: "pipe-1", Name: "test", Version: "1", Jobs: jobs}
}

// diamond: a -> {b, c} -> d
func diamond() *domain.Pipeline {
	return pipeline(
		job("a"),
		job("b", "a"),
		job("c", "a"),
		job("d", "b", "c"),
	)
}

func TestValidateOK(t *testing.T) {
	if err := Validate(diamond()); err != nil {
		t.Fatalf("Validate(diamond) error = %v", err)
	}
}

func TestValidateDuplicateID(t *testing.T) {
	p := pipeline(job("a"), job("a"))
	err := Validate(p)

	var dagErr *Error
	if err == nil {
		t.Fatal("expected duplicate-id error")
	}
	if !asDagError(err, &dagErr) || dagErr.Kind != DuplicateID {
		t.Fatalf("error = %v, want DuplicateID", err)
	}
}

func TestValidateDanglingDependency(t *testing.T) {
	p := pipeline(job("a"), job("b", "ghost"))
	err := Validate(p)

	var dagErr *Error
	if err == nil || !asDagError(err, &dagErr) || dagErr.Kind != DanglingDependency {
		t.Fatalf("error = %v, want DanglingDependency", err)
	}
}

func TestValidateCycle(t *testing.T) {
	p := pipeline(job("a", "c"), job("b", "a"), job("c", "b"))
	err := Validate(p)

	var dagErr *Error
	if err == nil || !asDagError(err, &dagErr) || dagErr.Kind != Cycle {
		t.Fatalf("error = %v, want Cycle", err)
	}
	if len(dagErr.JobIDs) == 0 {
		t.Fatal("cycle error must name at least one job on the cycle")
	}

	onCycle := map[string]bool{"a": true, "b": true, "c": true}
	for _, id := range dagErr.JobIDs {
		if !onCycle[id] {
			t.Errorf("reported job %q is not on the cycle", id)
		}
	}
}

func TestValidateSelfCycle(t *testing.T) {
	// Self-dependency is caught by job validation before traversal
	p := pipeline(job("a", "a"))
	if err := Validate(p); err == nil {
		t.Fatal("expected error for self-dependency")
	}
}

func TestTopologicalBatches(t *testing.T) {
	batches, err := TopologicalBatches(diamond())
	if err != nil {
		t.Fatalf("TopologicalBatches error = %v", err)
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if len(batches) != len(want) {
		t.Fatalf("got %d batches, want %d: %v", len(batches), len(want), batches)
	}
	for i := range want {
		if len(batches[i]) != len(want[i]) {
			t.Fatalf("batch %d = %v, want %v", i, batches[i], want[i])
		}
		for j := range want[i] {
			if batches[i][j] != want[i][j] {
				t.Errorf("batch %d = %v, want %v", i, batches[i], want[i])
			}
		}
	}
}

// Every job appears in exactly one batch and all its dependencies appear in
// strictly earlier batches.
func TestTopologicalBatchesPartitionProperty(t *testing.T) {
	p := pipeline(
		job("ingest"),
		job("clean", "ingest"),
		job("enrich", "ingest"),
		job("join", "clean", "enrich"),
		job("report", "join"),
		job("audit"),
	)

	batches, err := TopologicalBatches(p)
	if err != nil {
		t.Fatalf("TopologicalBatches error = %v", err)
	}

	batchOf := make(map[string]int)
	for i, batch := range batches {
		for _, id := range batch {
			if _, dup := batchOf[id]; dup {
				t.Errorf("job %q appears in more than one batch", id)
			}
			batchOf[id] = i
		}
	}

	if len(batchOf) != len(p.Jobs) {
		t.Errorf("partition covers %d jobs, want %d", len(batchOf), len(p.Jobs))
	}

	for i := range p.Jobs {
		jobDef := &p.Jobs[i]
		for _, dep := range jobDef.DependsOn {
			if batchOf[dep] >= batchOf[jobDef.ID] {
				t.Errorf("dependency %q of %q not in an earlier batch", dep, jobDef.ID)
			}
		}
	}
}

func TestTopologicalBatchesCycle(t *testing.T) {
	p := pipeline(job("a", "b"), job("b", "a"))
	if _, err := TopologicalBatches(p); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestReadyInitial(t *testing.T) {
	p := diamond()
	s := &domain.Session{JobStates: map[string]domain.JobState{
		"a": domain.JobPending, "b": domain.JobPending,
		"c": domain.JobPending, "d": domain.JobPending,
	}}

	rs := Ready(s, p, nil)
	if len(rs.Dispatch) != 1 || rs.Dispatch[0] != "a" {
		t.Errorf("Dispatch = %v, want [a]", rs.Dispatch)
	}
	if len(rs.Skip) != 0 {
		t.Errorf("Skip = %v, want empty", rs.Skip)
	}
}

func TestReadyAfterDependencySatisfied(t *testing.T) {
	p := diamond()
	s := &domain.Session{JobStates: map[string]domain.JobState{
		"a": domain.JobSucceeded, "b": domain.JobPending,
		"c": domain.JobPending, "d": domain.JobPending,
	}}

	rs := Ready(s, p, nil)
	if len(rs.Dispatch) != 2 || rs.Dispatch[0] != "b" || rs.Dispatch[1] != "c" {
		t.Errorf("Dispatch = %v, want [b c]", rs.Dispatch)
	}
}

func TestReadySkippedDependencySatisfies(t *testing.T) {
	p := pipeline(job("a"), job("b", "a"))
	s := &domain.Session{JobStates: map[string]domain.JobState{
		"a": domain.JobSkipped, "b": domain.JobPending,
	}}

	rs := Ready(s, p, nil)
	if len(rs.Dispatch) != 1 || rs.Dispatch[0] != "b" {
		t.Errorf("Dispatch = %v, want [b]", rs.Dispatch)
	}
}

func TestReadyFailedDependencyBlocks(t *testing.T) {
	p := diamond()
	s := &domain.Session{JobStates: map[string]domain.JobState{
		"a": domain.JobSucceeded, "b": domain.JobFailed,
		"c": domain.JobSucceeded, "d": domain.JobPending,
	}}

	rs := Ready(s, p, nil)
	if len(rs.Dispatch) != 0 {
		t.Errorf("Dispatch = %v, want empty (d blocked by failed b)", rs.Dispatch)
	}
}

func TestReadyFalseConditionSkips(t *testing.T) {
	conditional := job("b", "a")
	conditional.Conditional = true
	p := pipeline(job("a"), conditional)

	s := &domain.Session{JobStates: map[string]domain.JobState{
		"a": domain.JobSucceeded, "b": domain.JobPending,
	}}

	rs := Ready(s, p, map[string]bool{"b": false})
	if len(rs.Dispatch) != 0 {
		t.Errorf("Dispatch = %v, want empty", rs.Dispatch)
	}
	if len(rs.Skip) != 1 || rs.Skip[0] != "b" {
		t.Errorf("Skip = %v, want [b]", rs.Skip)
	}

	// True condition dispatches normally
	rs = Ready(s, p, map[string]bool{"b": true})
	if len(rs.Dispatch) != 1 || rs.Dispatch[0] != "b" {
		t.Errorf("Dispatch = %v, want [b]", rs.Dispatch)
	}
}

func TestReadyUnresolvedConditionSkips(t *testing.T) {
	conditional := job("b", "a")
	conditional.Conditional = true
	p := pipeline(job("a"), conditional)

	s := &domain.Session{JobStates: map[string]domain.JobState{
		"a": domain.JobSucceeded, "b": domain.JobPending,
	}}

	// A guarded job only runs on an explicit true; an absent resolution must
	// not dispatch it.
	rs := Ready(s, p, nil)
	if len(rs.Dispatch) != 0 {
		t.Errorf("Dispatch = %v, want empty", rs.Dispatch)
	}
	if len(rs.Skip) != 1 || rs.Skip[0] != "b" {
		t.Errorf("Skip = %v, want [b]", rs.Skip)
	}
}

func asDagError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}
