// Package manual implements a step adapter for steps a human completes.
package manual

import (
	"context"

	"github.com/staffops/staffcycle/logkeys"
	"github.com/staffops/staffcycle/utils/uuid"
	"github.com/staffops/staffcycle/workflow"

	"github.com/micromdm/nanolib/log"
)

// Adapter suspends a step pending human action. It mints a task
// reference for operators to find the work item by; the step stays
// open until the task is completed through the API.
type Adapter struct {
	name   string
	ider   uuid.IDer
	logger log.Logger
}

type Option func(*Adapter)

func WithLogger(logger log.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithIDer sets the task reference generator.
func WithIDer(ider uuid.IDer) Option {
	return func(a *Adapter) {
		a.ider = ider
	}
}

// New creates a new manual adapter for the step named name.
func New(name string, opts ...Option) *Adapter {
	a := &Adapter{
		name:   name,
		ider:   uuid.NewUUID(),
		logger: log.NopLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logkeys.StepName, a.name)
	return a
}

func (a *Adapter) Name() string {
	return a.name
}

// Execute opens a manual task and suspends the step.
func (a *Adapter) Execute(ctx context.Context, sc *workflow.StepContext) (*workflow.StepOutcome, error) {
	ref := "task-" + a.ider.ID()
	a.logger.Debug(
		logkeys.Message, "opened manual task",
		logkeys.RequestID, sc.RequestID,
		logkeys.TaskRef, ref,
	)
	return workflow.PendingExternal(ref), nil
}
