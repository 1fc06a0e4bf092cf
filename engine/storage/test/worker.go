package test

import (
	"context"
	"testing"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/workflow"
)

func testTimedOutSteps(t *testing.T, s storage.AllStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	r := testRequest("req.timeout")
	steps := testSteps(r.ID)
	if err := s.CreateRequest(ctx, r, steps); err != nil {
		t.Fatal(err)
	}

	timedOut, err := s.RetrieveTimedOutSteps(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(timedOut), 0; have != want {
		t.Fatalf("[timed out] have: %v, want: %v", have, want)
	}

	// overdue non-manual step
	r.Status = workflow.RequestInProgress
	overdue := steps[0]
	overdue.Status = workflow.StepInProgress
	overdue.StartedAt = now.Add(-time.Hour)
	overdue.Deadline = now.Add(-time.Minute)
	if err = s.UpdateRequestStep(ctx, 0, r, overdue); err != nil {
		t.Fatal(err)
	}

	// in-progress non-manual step still within deadline
	fresh := steps[1]
	fresh.Status = workflow.StepInProgress
	fresh.StartedAt = now
	fresh.Deadline = now.Add(time.Hour)
	if err = s.UpdateRequestStep(ctx, 1, r, fresh); err != nil {
		t.Fatal(err)
	}

	// suspended manual step has no deadline and never times out
	suspended := steps[2]
	suspended.Status = workflow.StepInProgress
	suspended.TaskRef = "task-ref-timeout"
	if err = s.UpdateRequestStep(ctx, 2, r, suspended); err != nil {
		t.Fatal(err)
	}

	timedOut, err = s.RetrieveTimedOutSteps(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(timedOut), 1; have != want {
		t.Fatalf("[timed out] have: %v, want: %v", have, want)
	}
	if have, want := timedOut[0].ID, overdue.ID; have != want {
		t.Errorf("[id] have: %v, want: %v", have, want)
	}
}
