package domain

// OutcomeKind is the terminal verdict an external executor reports for a
// dispatched job.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeTimedOut  OutcomeKind = "timed_out"
)

// FailureSignal is the raw failure information delivered alongside a failed
// outcome. The classifier turns it into an ErrorRecord; the core never
// interprets Context beyond passing it through.
type FailureSignal struct {
	Kind    string // executor-level signal kind, e.g. "throttling", "task-failed"
	Code    string // service fault code when the executor surfaced one
	Message string
	Context map[string]interface{}
}

// Outcome is one job result flowing back into the state machine.
type Outcome struct {
	Kind   OutcomeKind
	Signal *FailureSignal // set when Kind is failed or timed_out
	Output map[string]interface{}
}

// Succeeded is a convenience constructor for a successful outcome.
func Succeeded() Outcome {
	return Outcome{Kind: OutcomeSucceeded}
}

// Failed is a convenience constructor for a failed outcome.
func Failed(signal FailureSignal) Outcome {
	return Outcome{Kind: OutcomeFailed, Signal: &signal}
}

// TimedOut is a convenience constructor for a timed-out outcome.
func TimedOut(signal FailureSignal) Outcome {
	return Outcome{Kind: OutcomeTimedOut, Signal: &signal}
}
