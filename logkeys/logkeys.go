// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	// a lifecycle request ID.
	RequestID = "request_id"

	// lifecycle type of a request. i.e. onboarding, offboarding.
	LifecycleType = "lifecycle_type"

	StepID   = "step_id"
	StepName = "step_name"
	TaskRef  = "task_ref"

	// request or step status after a transition.
	Status = "status"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
