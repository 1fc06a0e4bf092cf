// Package storage defines types and primitives for lifecycle engine storage backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/staffops/staffcycle/workflow"
)

var (
	// ErrNotFound is returned when a request, step, or event lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrVersionMismatch is returned by UpdateRequestStep when the stored
	// request version differs from the caller's. The losing writer should
	// re-read state and recompute its action.
	ErrVersionMismatch = errors.New("request version mismatch")

	ErrEmptyRequest      = errors.New("empty request")
	ErrEmptyStep         = errors.New("empty step")
	ErrEmptyEvent        = errors.New("empty event")
	ErrMissingRequestID  = errors.New("missing request id")
	ErrMissingStepID     = errors.New("missing step id")
	ErrMissingSteps      = errors.New("missing steps")
	ErrDuplicateOrder    = errors.New("duplicate step order")
	ErrRequestExists     = errors.New("request already exists")
	ErrMissingEventType  = errors.New("missing event type")
)

// Request is the stored form of one lifecycle request. Owned
// exclusively by the engine; mutated only through UpdateRequestStep.
type Request struct {
	ID         string                  `json:"id"`
	Type       workflow.LifecycleType  `json:"type"`
	Attributes *workflow.Attributes    `json:"attributes"`
	Status     workflow.RequestStatus  `json:"status"`

	// Version is the optimistic-concurrency token. Every successful
	// UpdateRequestStep increments it by one.
	Version int `json:"version"`

	// Results are free-form fields merged in from completed steps,
	// e.g. an externally assigned account identifier.
	Results workflow.ResultData `json:"results,omitempty"`

	Error       string    `json:"error_message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Validate checks r for missing values.
func (r *Request) Validate() error {
	if r == nil {
		return ErrEmptyRequest
	}
	if r.ID == "" {
		return ErrMissingRequestID
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %s", workflow.ErrInvalidLifecycleType, r.Type)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid request status: %s", r.Status)
	}
	return nil
}

// Step is the stored form of one step of a request's plan.
type Step struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	Name      string `json:"name"`

	// Order is unique and strictly increasing within a request.
	Order int `json:"order"`

	Status      workflow.StepStatus  `json:"status"`
	Criticality workflow.Criticality `json:"criticality"`
	Manual      bool                 `json:"manual,omitempty"`
	Uses        []string             `json:"uses,omitempty"`

	// TaskRef identifies the external task of a suspended manual step.
	TaskRef string `json:"external_task_ref,omitempty"`

	Results workflow.ResultData `json:"result_data,omitempty"`
	Error   string              `json:"error_message,omitempty"`

	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Deadline is set when a non-manual step is claimed InProgress.
	// The engine worker fails steps still InProgress past it.
	Deadline time.Time `json:"deadline,omitempty"`
}

// Validate checks s for missing values.
func (s *Step) Validate() error {
	if s == nil {
		return ErrEmptyStep
	}
	if s.ID == "" {
		return ErrMissingStepID
	}
	if s.RequestID == "" {
		return ErrMissingRequestID
	}
	if s.Name == "" {
		return errors.New("missing step name")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid step status: %s", s.Status)
	}
	if !s.Criticality.Valid() {
		return fmt.Errorf("invalid step criticality: %s", s.Criticality)
	}
	return nil
}

// Event is one append-only audit log entry. Events are never mutated or
// deleted, including those describing failures.
type Event struct {
	ID        string            `json:"id"`
	RequestID string            `json:"request_id"`
	Type      string            `json:"type"`
	Actor     string            `json:"actor,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	At        time.Time         `json:"at"`
}

// Validate checks e for missing values.
func (e *Event) Validate() error {
	if e == nil {
		return ErrEmptyEvent
	}
	if e.RequestID == "" {
		return ErrMissingRequestID
	}
	if e.Type == "" {
		return ErrMissingEventType
	}
	return nil
}

// RequestFilter narrows RetrieveRequests. Zero values match everything.
type RequestFilter struct {
	Status workflow.RequestStatus
	Type   workflow.LifecycleType
}

// Matches reports whether r passes the filter.
func (f RequestFilter) Matches(r *Request) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	return true
}

// Store is the primary interface for lifecycle engine storage backends.
type Store interface {
	// CreateRequest stores r and its full step plan in one atomic
	// operation. A request must never exist with zero or a partial
	// step set. Steps must carry unique orders; ErrRequestExists is
	// returned for a duplicate request ID.
	CreateRequest(ctx context.Context, r *Request, steps []*Step) error

	// RetrieveRequest returns the request by ID, or ErrNotFound.
	RetrieveRequest(ctx context.Context, id string) (*Request, error)

	// RetrieveRequests returns requests matching f, newest first.
	RetrieveRequests(ctx context.Context, f RequestFilter) ([]*Request, error)

	// RetrieveSteps returns the request's steps ordered by Order.
	RetrieveSteps(ctx context.Context, requestID string) ([]*Step, error)

	// RetrieveStep returns the step by its own ID, or ErrNotFound.
	RetrieveStep(ctx context.Context, stepID string) (*Step, error)

	// UpdateRequestStep writes r (and s, when non-nil) atomically if
	// and only if the stored request version equals fromVersion;
	// otherwise ErrVersionMismatch. On success the stored version
	// becomes fromVersion+1 regardless of r.Version. This
	// compare-and-swap is the only way request or step state mutates
	// after creation.
	UpdateRequestStep(ctx context.Context, fromVersion int, r *Request, s *Step) error

	// RetrieveManualSteps returns every step across requests that is
	// manual and InProgress (the pending manual task view).
	RetrieveManualSteps(ctx context.Context) ([]*Step, error)

	// CountRequestsByStatus returns request counts keyed by status.
	CountRequestsByStatus(ctx context.Context) (map[workflow.RequestStatus]int, error)
}

// EventStore is the append-only audit trail.
type EventStore interface {
	// AppendEvent appends e to the request's audit trail.
	AppendEvent(ctx context.Context, e *Event) error

	// RetrieveEvents returns the request's audit trail in append order.
	RetrieveEvents(ctx context.Context, requestID string) ([]*Event, error)
}

// WorkerStore is used by the engine worker for timed reconciliation.
type WorkerStore interface {
	// RetrieveTimedOutSteps returns non-manual InProgress steps whose
	// deadline passed before now. Manual steps suspend indefinitely
	// and are never returned.
	RetrieveTimedOutSteps(ctx context.Context, now time.Time) ([]*Step, error)
}

// AllStore is the set of interfaces a full backend implements.
type AllStore interface {
	Store
	EventStore
	WorkerStore
}
