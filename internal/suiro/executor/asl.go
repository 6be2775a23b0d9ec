package executor

import (
	"encoding/json"
	"fmt"

	"github.com/mizuhara/suiro/internal/suiro/dag"
	"github.com/mizuhara/suiro/internal/suiro/domain"
)

// GenerateStateMachine renders a pipeline as an Amazon States Language
// document: one stage per topological batch, with multi-job batches expressed
// as Parallel states. The document is an export artifact for running a whole
// pipeline under Step Functions instead of the session state machine.
func GenerateStateMachine(pipeline *domain.Pipeline) ([]byte, error) {
	batches, err := dag.TopologicalBatches(pipeline)
	if err != nil {
		return nil, err
	}

	states := make(map[string]interface{})
	var stageNames []string

	for i, batch := range batches {
		name := fmt.Sprintf("Stage%d", i+1)
		stageNames = append(stageNames, name)

		job := pipeline.Job(batch[0])
		if len(batch) == 1 && len(job.Operations) == 1 {
			states[name] = taskState(&job.Operations[0])
			continue
		}

		branches := make([]interface{}, 0, len(batch))
		for _, id := range batch {
			branches = append(branches, jobBranch(pipeline.Job(id)))
		}
		states[name] = map[string]interface{}{
			"Type":     "Parallel",
			"Branches": branches,
		}
	}

	// Chain the stages
	for i, name := range stageNames {
		state := states[name].(map[string]interface{})
		if i == len(stageNames)-1 {
			state["End"] = true
		} else {
			state["Next"] = stageNames[i+1]
		}
	}

	doc := map[string]interface{}{
		"Comment": fmt.Sprintf("Pipeline %s version %s", pipeline.Name, pipeline.Version),
		"StartAt": stageNames[0],
		"States":  states,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// jobBranch renders one job's operations as a linear branch of task states.
func jobBranch(job *domain.Job) map[string]interface{} {
	states := make(map[string]interface{})
	names := make([]string, len(job.Operations))
	for i := range job.Operations {
		names[i] = fmt.Sprintf("%s-%d", job.ID, i+1)
	}

	for i := range job.Operations {
		state := taskState(&job.Operations[i])
		if i == len(job.Operations)-1 {
			state["End"] = true
		} else {
			state["Next"] = names[i+1]
		}
		states[names[i]] = state
	}

	return map[string]interface{}{
		"StartAt": names[0],
		"States":  states,
	}
}

// taskState renders one operation as a Task state without transition fields;
// the caller chains it.
func taskState(op *domain.Operation) map[string]interface{} {
	state := map[string]interface{}{
		"Type":     "Task",
		"Resource": op.Target,
	}
	if op.Timeout > 0 {
		state["TimeoutSeconds"] = int(op.Timeout.Seconds())
	}
	if op.RetryCount > 0 {
		interval := 1
		if op.RetryDelay > 0 {
			interval = int(op.RetryDelay.Seconds())
		}
		state["Retry"] = []interface{}{map[string]interface{}{
			"ErrorEquals":     []string{"States.ALL"},
			"MaxAttempts":     op.RetryCount,
			"IntervalSeconds": interval,
			"BackoffRate":     2.0,
		}}
	}
	return state
}
