// Package test contains step adapters for testing.
package test

import (
	"context"
	"sync"

	"github.com/staffops/staffcycle/workflow"
)

// Call records one adapter execution.
type Call struct {
	StepName  string
	RequestID string
	Prior     map[string]workflow.ResultData
}

// Adapter is a scripted step adapter for tests. Each execution is
// recorded; the configured Err or Outcome is returned.
type Adapter struct {
	name string

	// Err, when set, fails every execution.
	Err error

	// Outcome is returned when Err is nil. A nil Outcome defaults to
	// a completed step with no results.
	Outcome *workflow.StepOutcome

	callMu sync.RWMutex
	calls  []Call
}

// New creates a new test adapter for the step named name.
func New(name string) *Adapter {
	return &Adapter{name: name}
}

func (a *Adapter) Name() string {
	return a.name
}

// Calls returns the recorded executions.
func (a *Adapter) Calls() []Call {
	a.callMu.RLock()
	defer a.callMu.RUnlock()
	return a.calls
}

func (a *Adapter) Execute(_ context.Context, sc *workflow.StepContext) (*workflow.StepOutcome, error) {
	a.callMu.Lock()
	a.calls = append(a.calls, Call{
		StepName:  sc.StepName,
		RequestID: sc.RequestID,
		Prior:     sc.Prior,
	})
	a.callMu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	if a.Outcome == nil {
		return workflow.Done(nil), nil
	}
	return a.Outcome, nil
}
