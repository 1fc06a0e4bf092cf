package manual

import (
	"context"
	"testing"

	"github.com/staffops/staffcycle/utils/uuid"
	"github.com/staffops/staffcycle/workflow"
)

func TestManualExecute(t *testing.T) {
	a := New(workflow.StepEquipmentHandout, WithIDer(uuid.NewStaticIDs("aaa", "bbb")))

	sc := &workflow.StepContext{
		RequestID:  "req-4",
		Lifecycle:  workflow.Onboarding,
		StepName:   workflow.StepEquipmentHandout,
		Attributes: &workflow.Attributes{Name: "n", Email: "e"},
	}

	outcome, err := a.Execute(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Pending {
		t.Error("outcome should be pending")
	}
	if have, want := outcome.TaskRef, "task-aaa"; have != want {
		t.Errorf("[task ref] have: %v, want: %v", have, want)
	}

	// each execution mints a distinct reference
	outcome, err = a.Execute(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := outcome.TaskRef, "task-bbb"; have != want {
		t.Errorf("[task ref] have: %v, want: %v", have, want)
	}
}
