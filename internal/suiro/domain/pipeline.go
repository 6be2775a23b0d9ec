package domain

import (
	"time"

	"github.com/mizuhara/suiro/pkg/errors"
)

// Job is a schedulable unit wrapping one or more operations. Today each job
// carries one terminal operation; the list form keeps composition open.
type Job struct {
	ID          string
	Name        string
	Operations  []Operation
	DependsOn   []string // job ids within the same pipeline
	Timeout     time.Duration
	Conditional bool // condition expression exists; evaluated externally, resolved bool supplied at ready time
}

// Validate checks job-local invariants. Cross-job invariants (dangling
// dependencies, cycles) belong to pipeline validation.
func (j *Job) Validate() error {
	if j.ID == "" {
		return errors.NewValidationError("job.id", j.ID, "must not be empty")
	}
	if len(j.Operations) == 0 {
		return errors.NewValidationError("job.operations", nil, "job must carry at least one operation")
	}
	seen := make(map[string]struct{}, len(j.Operations))
	for i := range j.Operations {
		op := &j.Operations[i]
		if err := op.Validate(); err != nil {
			return err
		}
		if _, dup := seen[op.ID]; dup {
			return errors.NewValidationError("operation.id", op.ID, "duplicate operation id within job")
		}
		seen[op.ID] = struct{}{}
	}
	for _, dep := range j.DependsOn {
		if dep == j.ID {
			return errors.NewValidationError("job.dependsOn", dep, "job may not depend on itself")
		}
	}
	return nil
}

// DeepCopy returns an independent copy of the job.
func (j *Job) DeepCopy() Job {
	jobCopy := *j
	jobCopy.Operations = make([]Operation, len(j.Operations))
	for i := range j.Operations {
		jobCopy.Operations[i] = j.Operations[i].DeepCopy()
	}
	jobCopy.DependsOn = append([]string(nil), j.DependsOn...)
	return jobCopy
}

// Pipeline is a named, versioned DAG of jobs. Immutable after creation; a new
// version is a new Pipeline sharing the logical name.
type Pipeline struct {
	ID                string
	Name              string
	Version           string
	Jobs              []Job
	MaxConcurrentJobs int
	RequiredParams    []string
	Tags              map[string]string
	CreatedAt         time.Time
}

// Job returns the job with the given id, or nil.
func (p *Pipeline) Job(jobID string) *Job {
	for i := range p.Jobs {
		if p.Jobs[i].ID == jobID {
			return &p.Jobs[i]
		}
	}
	return nil
}

// JobIDs returns the set of job ids in the pipeline.
func (p *Pipeline) JobIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(p.Jobs))
	for i := range p.Jobs {
		ids[p.Jobs[i].ID] = struct{}{}
	}
	return ids
}

// Dependents returns, for every job, the ids of jobs that depend on it.
func (p *Pipeline) Dependents() map[string][]string {
	out := make(map[string][]string, len(p.Jobs))
	for i := range p.Jobs {
		job := &p.Jobs[i]
		for _, dep := range job.DependsOn {
			out[dep] = append(out[dep], job.ID)
		}
	}
	return out
}

// DeepCopy returns an independent copy of the pipeline.
func (p *Pipeline) DeepCopy() *Pipeline {
	if p == nil {
		return nil
	}
	pipelineCopy := *p
	pipelineCopy.Jobs = make([]Job, len(p.Jobs))
	for i := range p.Jobs {
		pipelineCopy.Jobs[i] = p.Jobs[i].DeepCopy()
	}
	pipelineCopy.RequiredParams = append([]string(nil), p.RequiredParams...)
	if p.Tags != nil {
		pipelineCopy.Tags = make(map[string]string, len(p.Tags))
		for k, v := range p.Tags {
			pipelineCopy.Tags[k] = v
		}
	}
	return &pipelineCopy
}
