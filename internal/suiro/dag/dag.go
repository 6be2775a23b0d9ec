// Package dag validates pipeline structure and computes execution order.
// Pipelines are immutable, so every function here is a pure read; all results
// are deterministic with ties broken by job id ascending.
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mizuhara/suiro/internal/suiro/domain"
	"github.com/mizuhara/suiro/pkg/errors"
)

// ErrorKind classifies a structural pipeline defect.
type ErrorKind string

const (
	DanglingDependency ErrorKind = "dangling-dependency"
	Cycle              ErrorKind = "cycle"
	DuplicateID        ErrorKind = "duplicate-id"
)

// Error reports a pipeline structure violation with the participating jobs.
type Error struct {
	Kind   ErrorKind
	JobIDs []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dag: %s: jobs [%s]", e.Kind, strings.Join(e.JobIDs, ", "))
}

// Unwrap maps the kind to its sentinel so errors.Is works across packages.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case DuplicateID:
		return errors.ErrDuplicateJobID
	case DanglingDependency:
		return errors.ErrDanglingDependency
	case Cycle:
		return errors.ErrDependencyCycle
	}
	return nil
}

// Validate checks the pipeline's structural invariants: unique job ids, no
// dangling dependencies, no cycles, and per-job operation validity.
func Validate(p *domain.Pipeline) error {
	seen := make(map[string]struct{}, len(p.Jobs))
	for i := range p.Jobs {
		id := p.Jobs[i].ID
		if _, dup := seen[id]; dup {
			return &Error{Kind: DuplicateID, JobIDs: []string{id}}
		}
		seen[id] = struct{}{}
	}

	for i := range p.Jobs {
		if err := p.Jobs[i].Validate(); err != nil {
			return err
		}
		for _, dep := range p.Jobs[i].DependsOn {
			if _, ok := seen[dep]; !ok {
				return &Error{Kind: DanglingDependency, JobIDs: []string{p.Jobs[i].ID, dep}}
			}
		}
	}

	if cycle := findCycle(p); cycle != nil {
		return &Error{Kind: Cycle, JobIDs: cycle}
	}
	return nil
}

// findCycle runs a depth-first traversal tracking the in-progress stack; any
// back-edge to a job still on the stack is a cycle. Returns the jobs on the
// cycle, or nil.
func findCycle(p *domain.Pipeline) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(p.Jobs))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)

		job := p.Job(id)
		if job != nil {
			for _, dep := range job.DependsOn {
				switch state[dep] {
				case inStack:
					// Back-edge: slice the stack from the first occurrence
					for i, onStack := range stack {
						if onStack == dep {
							cycle = append([]string(nil), stack[i:]...)
							break
						}
					}
					return true
				case unvisited:
					if visit(dep) {
						return true
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	// Deterministic traversal order so the reported cycle is stable
	ids := sortedJobIDs(p)
	for _, id := range ids {
		if state[id] == unvisited {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalBatches partitions the pipeline's jobs into dependency levels
// using Kahn's algorithm. Each batch contains mutually independent jobs whose
// dependencies are all satisfied by earlier batches; jobs within a batch are
// sorted by id ascending.
func TopologicalBatches(p *domain.Pipeline) ([][]string, error) {
	inDegree := make(map[string]int, len(p.Jobs))
	dependents := p.Dependents()

	for i := range p.Jobs {
		inDegree[p.Jobs[i].ID] = len(p.Jobs[i].DependsOn)
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var batches [][]string
	visited := 0

	for len(queue) > 0 {
		batches = append(batches, queue)
		visited += len(queue)

		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		queue = next
	}

	if visited != len(p.Jobs) {
		return nil, &Error{Kind: Cycle, JobIDs: unvisitedJobs(p, inDegree)}
	}
	return batches, nil
}

// ReadySet is the outcome of a ready computation: jobs eligible for dispatch
// and jobs whose pre-resolved condition came back false, which transition
// directly to skipped.
type ReadySet struct {
	Dispatch []string
	Skip     []string
}

// Ready returns the jobs whose dependencies are all satisfied (succeeded or
// skipped), whose own status is pending, and whose condition (when the job
// declares one) resolved to true. Conditions are evaluated by an external
// collaborator; the caller supplies the resolved booleans. A conditional job
// with no resolution in the map is skipped: a guarded job only runs on an
// explicit true.
func Ready(session *domain.Session, p *domain.Pipeline, conditions map[string]bool) ReadySet {
	var rs ReadySet

	for _, id := range sortedJobIDs(p) {
		if session.JobStates[id] != domain.JobPending {
			continue
		}

		job := p.Job(id)
		satisfied := true
		for _, dep := range job.DependsOn {
			if !session.JobStates[dep].Satisfied() {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}

		if job.Conditional && !conditions[id] {
			rs.Skip = append(rs.Skip, id)
			continue
		}
		rs.Dispatch = append(rs.Dispatch, id)
	}
	return rs
}

func sortedJobIDs(p *domain.Pipeline) []string {
	ids := make([]string, 0, len(p.Jobs))
	for i := range p.Jobs {
		ids = append(ids, p.Jobs[i].ID)
	}
	sort.Strings(ids)
	return ids
}

func unvisitedJobs(p *domain.Pipeline, inDegree map[string]int) []string {
	var ids []string
	for i := range p.Jobs {
		if inDegree[p.Jobs[i].ID] > 0 {
			ids = append(ids, p.Jobs[i].ID)
		}
	}
	sort.Strings(ids)
	return ids
}
