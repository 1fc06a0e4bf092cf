// Package engine implements the StaffCycle lifecycle orchestration engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/logkeys"
	"github.com/staffops/staffcycle/utils/uuid"
	"github.com/staffops/staffcycle/workflow"

	"github.com/micromdm/nanolib/log"
)

var ErrNoSuchAdapter = errors.New("no such adapter")

func NewErrNoSuchAdapter(name string) error {
	return fmt.Errorf("%w: %s", ErrNoSuchAdapter, name)
}

// DefaultTimeout bounds a single adapter call. It is also the deadline
// recorded on a claimed step; the worker fails steps still InProgress
// past it (e.g. after a crash mid-call).
const DefaultTimeout = time.Minute * 5

// Engine coordinates lifecycle requests with the external systems their
// steps act on. All request and step state lives in storage; the engine
// holds no per-request state in memory, which is what makes Advance
// safely restartable and horizontally replicable.
type Engine struct {
	adaptersMu sync.RWMutex
	adapters   map[string]workflow.Adapter

	store  storage.AllStore
	logger log.Logger
	ider   uuid.IDer

	timeout time.Duration
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTimeout configures the engine's adapter call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.timeout = timeout
	}
}

// New creates a new StaffCycle engine with default configurations.
func New(store storage.AllStore, opts ...Option) *Engine {
	engine := &Engine{
		adapters: make(map[string]workflow.Adapter),
		store:    store,
		logger:   log.NopLogger,
		ider:     uuid.NewUUID(),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// RegisterAdapter associates a with the engine by step name.
func (e *Engine) RegisterAdapter(a workflow.Adapter) error {
	if a == nil || a.Name() == "" {
		return errors.New("invalid adapter")
	}
	e.adaptersMu.Lock()
	defer e.adaptersMu.Unlock()
	e.adapters[a.Name()] = a
	e.logger.Debug(logkeys.Message, "registered adapter", logkeys.StepName, a.Name())
	return nil
}

// Adapter returns the registered adapter for a step name.
func (e *Engine) Adapter(name string) workflow.Adapter {
	e.adaptersMu.RLock()
	defer e.adaptersMu.RUnlock()
	return e.adapters[name]
}

// AdapterRegistered returns true if the step name has an adapter.
func (e *Engine) AdapterRegistered(name string) bool {
	e.adaptersMu.RLock()
	defer e.adaptersMu.RUnlock()
	_, ok := e.adapters[name]
	return ok
}

// CheckAdapters verifies every step name declared across the lifecycle
// definitions has a registered adapter. Intended to fail fast at
// startup before any request can reference a step with no
// implementation.
func (e *Engine) CheckAdapters() error {
	for _, name := range workflow.StepNames() {
		if !e.AdapterRegistered(name) {
			return NewErrNoSuchAdapter(name)
		}
	}
	return nil
}

// RequestDetail is a request with its materialized step plan.
type RequestDetail struct {
	Request *storage.Request `json:"request"`
	Steps   []*storage.Step  `json:"steps"`
}

// RequestView is a RequestDetail plus the request's audit trail.
type RequestView struct {
	RequestDetail
	Events []*storage.Event `json:"events"`
}

// ManualTask is the derived view of a manual step awaiting out-of-band
// completion.
type ManualTask struct {
	StepID    string                 `json:"step_id"`
	StepName  string                 `json:"step_name"`
	TaskRef   string                 `json:"task_ref"`
	RequestID string                 `json:"request_id"`
	Lifecycle workflow.LifecycleType `json:"lifecycle"`
	Subject   string                 `json:"subject"`
	StartedAt time.Time              `json:"started_at"`
}

func (e *Engine) detail(ctx context.Context, r *storage.Request) (*RequestDetail, error) {
	steps, err := e.store.RetrieveSteps(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("retrieving steps: %w", err)
	}
	return &RequestDetail{Request: r, Steps: steps}, nil
}

// RetrieveRequest returns the full view of one request: request, steps,
// and audit trail.
func (e *Engine) RetrieveRequest(ctx context.Context, requestID string) (*RequestView, error) {
	r, err := e.store.RetrieveRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("retrieving request: %w", err)
	}
	detail, err := e.detail(ctx, r)
	if err != nil {
		return nil, err
	}
	events, err := e.store.RetrieveEvents(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("retrieving events: %w", err)
	}
	return &RequestView{RequestDetail: *detail, Events: events}, nil
}

// RetrieveRequests returns requests matching f.
func (e *Engine) RetrieveRequests(ctx context.Context, f storage.RequestFilter) ([]*storage.Request, error) {
	return e.store.RetrieveRequests(ctx, f)
}

// ManualTasks returns every pending manual task across all requests.
func (e *Engine) ManualTasks(ctx context.Context) ([]*ManualTask, error) {
	steps, err := e.store.RetrieveManualSteps(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieving manual steps: %w", err)
	}
	var tasks []*ManualTask
	for _, step := range steps {
		task := &ManualTask{
			StepID:    step.ID,
			StepName:  step.Name,
			TaskRef:   step.TaskRef,
			RequestID: step.RequestID,
			StartedAt: step.StartedAt,
		}
		r, err := e.store.RetrieveRequest(ctx, step.RequestID)
		if err != nil {
			return tasks, fmt.Errorf("retrieving request %s: %w", step.RequestID, err)
		}
		task.Lifecycle = r.Type
		if r.Attributes != nil {
			task.Subject = r.Attributes.Name
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// RequestStats returns request counts keyed by status.
func (e *Engine) RequestStats(ctx context.Context) (map[workflow.RequestStatus]int, error) {
	return e.store.CountRequestsByStatus(ctx)
}

func logAndError(err error, logger log.Logger, msg string) error {
	logger.Info(
		logkeys.Message, msg,
		logkeys.Error, err,
	)
	return fmt.Errorf("%s: %w", msg, err)
}
