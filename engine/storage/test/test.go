// Package test offers a conformance test suite for lifecycle engine
// storage backends.
package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/workflow"
)

func testAttributes() *workflow.Attributes {
	return &workflow.Attributes{
		Name:       "Dana Ortiz",
		Email:      "dana.ortiz@example.com",
		Role:       "SRE",
		Department: "Infrastructure",
	}
}

func testRequest(id string) *storage.Request {
	return &storage.Request{
		ID:         id,
		Type:       workflow.Onboarding,
		Attributes: testAttributes(),
		Status:     workflow.RequestPending,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func testSteps(requestID string) []*storage.Step {
	return []*storage.Step{
		{
			ID:          requestID + ".s0",
			RequestID:   requestID,
			Name:        workflow.StepDirectoryAccount,
			Order:       0,
			Status:      workflow.StepPending,
			Criticality: workflow.Critical,
		},
		{
			ID:          requestID + ".s1",
			RequestID:   requestID,
			Name:        workflow.StepEmailMailbox,
			Order:       1,
			Status:      workflow.StepPending,
			Criticality: workflow.Critical,
			Uses:        []string{workflow.StepDirectoryAccount},
		},
		{
			ID:          requestID + ".s2",
			RequestID:   requestID,
			Name:        workflow.StepEquipmentHandout,
			Order:       2,
			Status:      workflow.StepPending,
			Criticality: workflow.NonCritical,
			Manual:      true,
		},
	}
}

// TestStore runs the conformance suite against the backend made
// by newStore.
func TestStore(t *testing.T, newStore func() storage.AllStore) {
	s := newStore()

	t.Run("testCreateRetrieve", func(t *testing.T) {
		testCreateRetrieve(t, s)
	})

	t.Run("testUpdateRequestStep", func(t *testing.T) {
		testUpdateRequestStep(t, s)
	})

	t.Run("testManualSteps", func(t *testing.T) {
		testManualSteps(t, newStore())
	})

	t.Run("testFilterAndCounts", func(t *testing.T) {
		testFilterAndCounts(t, newStore())
	})

	t.Run("testEvents", func(t *testing.T) {
		testEvents(t, newStore())
	})

	t.Run("testTimedOutSteps", func(t *testing.T) {
		testTimedOutSteps(t, newStore())
	})
}

func testCreateRetrieve(t *testing.T, s storage.AllStore) {
	ctx := context.Background()

	_, err := s.RetrieveRequest(ctx, "req.does.not.exist")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
	}

	_, err = s.RetrieveStep(ctx, "step.does.not.exist")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
	}

	r := testRequest("req.create")
	steps := testSteps(r.ID)
	if err = s.CreateRequest(ctx, r, steps); err != nil {
		t.Fatal(err)
	}

	// duplicate ID
	if err = s.CreateRequest(ctx, testRequest(r.ID), testSteps(r.ID)); !errors.Is(err, storage.ErrRequestExists) {
		t.Errorf("have: %v, want: %v", err, storage.ErrRequestExists)
	}

	got, err := s.RetrieveRequest(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.Type, r.Type; have != want {
		t.Errorf("[type] have: %v, want: %v", have, want)
	}
	if have, want := got.Status, workflow.RequestPending; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if have, want := got.Version, 0; have != want {
		t.Errorf("[version] have: %v, want: %v", have, want)
	}
	if got.Attributes == nil {
		t.Fatal("nil attributes")
	}
	if have, want := got.Attributes.Email, r.Attributes.Email; have != want {
		t.Errorf("[email] have: %v, want: %v", have, want)
	}

	gotSteps, err := s.RetrieveSteps(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(gotSteps), len(steps); have != want {
		t.Fatalf("[step count] have: %v, want: %v", have, want)
	}
	for i, step := range gotSteps {
		if have, want := step.Order, i; have != want {
			t.Errorf("[order] have: %v, want: %v", have, want)
		}
		if have, want := step.Name, steps[i].Name; have != want {
			t.Errorf("[name] have: %v, want: %v", have, want)
		}
	}
	if have, want := len(gotSteps[1].Uses), 1; have != want {
		t.Fatalf("[uses] have: %v, want: %v", have, want)
	}

	single, err := s.RetrieveStep(ctx, steps[2].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !single.Manual {
		t.Error("expected manual step")
	}
}

func testUpdateRequestStep(t *testing.T, s storage.AllStore) {
	ctx := context.Background()

	r := testRequest("req.update")
	steps := testSteps(r.ID)
	if err := s.CreateRequest(ctx, r, steps); err != nil {
		t.Fatal(err)
	}

	// claim the first step
	r.Status = workflow.RequestInProgress
	step := steps[0]
	step.Status = workflow.StepInProgress
	step.StartedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.UpdateRequestStep(ctx, 0, r, step); err != nil {
		t.Fatal(err)
	}

	got, err := s.RetrieveRequest(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.Version, 1; have != want {
		t.Errorf("[version] have: %v, want: %v", have, want)
	}
	if have, want := got.Status, workflow.RequestInProgress; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}

	gotStep, err := s.RetrieveStep(ctx, step.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := gotStep.Status, workflow.StepInProgress; have != want {
		t.Errorf("[step status] have: %v, want: %v", have, want)
	}

	// stale writer must lose
	err = s.UpdateRequestStep(ctx, 0, r, step)
	if !errors.Is(err, storage.ErrVersionMismatch) {
		t.Errorf("have: %v, want: %v", err, storage.ErrVersionMismatch)
	}

	// the losing write must not have touched anything
	got, err = s.RetrieveRequest(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.Version, 1; have != want {
		t.Errorf("[version] have: %v, want: %v", have, want)
	}

	// request-only update (no step)
	r.Status = workflow.RequestFailed
	r.Error = "step directory_account failed: simulated"
	if err = s.UpdateRequestStep(ctx, 1, r, nil); err != nil {
		t.Fatal(err)
	}
	got, err = s.RetrieveRequest(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.Version, 2; have != want {
		t.Errorf("[version] have: %v, want: %v", have, want)
	}
	if have, want := got.Status, workflow.RequestFailed; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if have, want := got.Error, r.Error; have != want {
		t.Errorf("[error] have: %v, want: %v", have, want)
	}

	// unknown request
	bogus := testRequest("req.bogus")
	err = s.UpdateRequestStep(ctx, 0, bogus, nil)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
	}
}

func testManualSteps(t *testing.T, s storage.AllStore) {
	ctx := context.Background()

	r := testRequest("req.manual")
	steps := testSteps(r.ID)
	if err := s.CreateRequest(ctx, r, steps); err != nil {
		t.Fatal(err)
	}

	open, err := s.RetrieveManualSteps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(open), 0; have != want {
		t.Fatalf("[open tasks] have: %v, want: %v", have, want)
	}

	// suspend the manual step
	r.Status = workflow.RequestInProgress
	manual := steps[2]
	manual.Status = workflow.StepInProgress
	manual.TaskRef = "task-ref-1"
	if err = s.UpdateRequestStep(ctx, 0, r, manual); err != nil {
		t.Fatal(err)
	}

	open, err = s.RetrieveManualSteps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(open), 1; have != want {
		t.Fatalf("[open tasks] have: %v, want: %v", have, want)
	}
	if have, want := open[0].TaskRef, "task-ref-1"; have != want {
		t.Errorf("[task ref] have: %v, want: %v", have, want)
	}

	// a non-manual in-progress step is not a task
	auto := steps[0]
	auto.Status = workflow.StepInProgress
	if err = s.UpdateRequestStep(ctx, 1, r, auto); err != nil {
		t.Fatal(err)
	}
	open, err = s.RetrieveManualSteps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(open), 1; have != want {
		t.Fatalf("[open tasks] have: %v, want: %v", have, want)
	}

	// completing the manual step closes the task
	manual.Status = workflow.StepCompleted
	manual.Results = workflow.ResultData{"asset_tag": "IT-1234"}
	manual.CompletedAt = time.Now().UTC().Truncate(time.Second)
	if err = s.UpdateRequestStep(ctx, 2, r, manual); err != nil {
		t.Fatal(err)
	}
	open, err = s.RetrieveManualSteps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(open), 0; have != want {
		t.Fatalf("[open tasks] have: %v, want: %v", have, want)
	}

	got, err := s.RetrieveStep(ctx, manual.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := got.Results["asset_tag"], "IT-1234"; have != want {
		t.Errorf("[results] have: %v, want: %v", have, want)
	}
}

func testFilterAndCounts(t *testing.T, s storage.AllStore) {
	ctx := context.Background()

	on := testRequest("req.filter.on")
	if err := s.CreateRequest(ctx, on, testSteps(on.ID)); err != nil {
		t.Fatal(err)
	}

	off := testRequest("req.filter.off")
	off.Type = workflow.Offboarding
	if err := s.CreateRequest(ctx, off, testSteps(off.ID)); err != nil {
		t.Fatal(err)
	}
	off.Status = workflow.RequestInProgress
	if err := s.UpdateRequestStep(ctx, 0, off, nil); err != nil {
		t.Fatal(err)
	}

	all, err := s.RetrieveRequests(ctx, storage.RequestFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(all), 2; have != want {
		t.Fatalf("[all] have: %v, want: %v", have, want)
	}

	pending, err := s.RetrieveRequests(ctx, storage.RequestFilter{Status: workflow.RequestPending})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(pending), 1; have != want {
		t.Fatalf("[pending] have: %v, want: %v", have, want)
	}
	if have, want := pending[0].ID, on.ID; have != want {
		t.Errorf("[id] have: %v, want: %v", have, want)
	}

	offboarding, err := s.RetrieveRequests(ctx, storage.RequestFilter{Type: workflow.Offboarding})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(offboarding), 1; have != want {
		t.Fatalf("[offboarding] have: %v, want: %v", have, want)
	}

	counts, err := s.CountRequestsByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := counts[workflow.RequestPending], 1; have != want {
		t.Errorf("[pending count] have: %v, want: %v", have, want)
	}
	if have, want := counts[workflow.RequestInProgress], 1; have != want {
		t.Errorf("[in progress count] have: %v, want: %v", have, want)
	}
}
