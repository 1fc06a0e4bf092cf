package workflow

import "context"

// ResultData is the structured payload a step produces. Values merge
// into the owning request's free-form results.
type ResultData map[string]string

// StepContext carries everything an adapter may act on: the request's
// subject attributes plus the result data of earlier steps this step
// declared it uses. Adapters never share state any other way.
type StepContext struct {
	RequestID string        `json:"request_id"`
	Lifecycle LifecycleType `json:"lifecycle"`
	StepID    string        `json:"step_id"`
	StepName  string        `json:"step_name"`

	Attributes *Attributes `json:"attributes"`

	// Prior holds result data of earlier steps, keyed by step name,
	// filtered to the names in the step template's Uses.
	Prior map[string]ResultData `json:"prior,omitempty"`
}

// StepOutcome is an adapter's successful return: either the step is
// done (with optional results) or it awaits out-of-band completion.
// Failures are returned as errors from Execute, not as outcomes.
type StepOutcome struct {
	Pending bool       `json:"pending,omitempty"`
	TaskRef string     `json:"task_ref,omitempty"`
	Results ResultData `json:"results,omitempty"`
}

// Done creates a completed outcome carrying results.
func Done(results ResultData) *StepOutcome {
	return &StepOutcome{Results: results}
}

// PendingExternal creates an outcome that suspends the step until a
// human completes the referenced task.
func PendingExternal(taskRef string) *StepOutcome {
	return &StepOutcome{Pending: true, TaskRef: taskRef}
}

// Namers provide a name string.
type Namer interface {
	// Name returns the step name this adapter serves.
	Name() string
}

// Adapters perform one step's action against an external system.
//
// An Execute error is absorbed into step state as a failure; it is
// never surfaced as a transport error to API callers. The engine bounds
// Execute with a deadline on ctx; adapters must honor it. Calls are
// at-least-once across process crashes, so actions should be
// idempotent.
type Adapter interface {
	Namer

	Execute(ctx context.Context, sc *StepContext) (*StepOutcome, error)
}
