package workflow

// RequestStatus is the lifecycle request state.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestFailed     RequestStatus = "failed"
)

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestInProgress, RequestCompleted, RequestFailed:
		return true
	}
	return false
}

// Terminal reports whether a request in this status is immutable
// (except for audit appends).
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed
}

// StepStatus is the workflow step state.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"

	// StepSkipped is only ever assigned at request creation when a
	// step's inclusion predicate evaluates false.
	StepSkipped StepStatus = "skipped"
)

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// Criticality determines a step's failure policy.
type Criticality string

const (
	// Critical step failure halts the entire request.
	Critical Criticality = "critical"

	// NonCritical step failure is recorded and the request proceeds.
	NonCritical Criticality = "non_critical"
)

// Valid reports whether c is a known criticality.
func (c Criticality) Valid() bool {
	return c == Critical || c == NonCritical
}
