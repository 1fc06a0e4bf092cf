package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	adaptertest "github.com/staffops/staffcycle/adapter/test"
	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/engine/storage/inmem"
	"github.com/staffops/staffcycle/workflow"
)

func onboardingAttributes() *workflow.Attributes {
	return &workflow.Attributes{
		Name:       "Jo Doe",
		Email:      "jo.doe@example.com",
		Role:       "Engineer",
		Department: "Platform",
	}
}

func offboardingAttributes() *workflow.Attributes {
	a := onboardingAttributes()
	a.EndDate = "2026-09-30"
	return a
}

type testSetup struct {
	store    storage.AllStore
	engine   *Engine
	adapters map[string]*adaptertest.Adapter
}

// newTestSetup builds an engine on in-memory storage with a recording
// test adapter registered per step name.
func newTestSetup(t *testing.T) *testSetup {
	t.Helper()
	return newTestSetupStore(t, inmem.New())
}

func newTestSetupStore(t *testing.T, store storage.AllStore) *testSetup {
	t.Helper()
	ts := &testSetup{
		store:    store,
		adapters: make(map[string]*adaptertest.Adapter),
	}
	ts.engine = New(ts.store)
	for _, name := range workflow.StepNames() {
		a := adaptertest.New(name)
		ts.adapters[name] = a
		if err := ts.engine.RegisterAdapter(a); err != nil {
			t.Fatal(err)
		}
	}
	if err := ts.engine.CheckAdapters(); err != nil {
		t.Fatal(err)
	}
	return ts
}

func stepByName(steps []*storage.Step, name string) *storage.Step {
	for _, s := range steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func eventTypes(events []*storage.Event) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func containsEvent(events []*storage.Event, eventType string) bool {
	return countEvents(events, eventType) > 0
}

func countEvents(events []*storage.Event, eventType string) (count int) {
	for _, e := range events {
		if e.Type == eventType {
			count++
		}
	}
	return
}

// racingStore wraps a backend and, when armed, performs a competing
// version bump immediately before a caller's UpdateRequestStep so the
// caller loses the compare-and-swap exactly once.
type racingStore struct {
	storage.AllStore
	mu        sync.Mutex
	skip      int
	conflicts int
}

// armConflict schedules one injected conflict after skipping the next
// skip UpdateRequestStep calls.
func (s *racingStore) armConflict(skip int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skip = skip
	s.conflicts = 1
}

func (s *racingStore) UpdateRequestStep(ctx context.Context, fromVersion int, r *storage.Request, step *storage.Step) error {
	s.mu.Lock()
	inject := false
	if s.skip > 0 {
		s.skip--
	} else if s.conflicts > 0 {
		s.conflicts--
		inject = true
	}
	s.mu.Unlock()
	if inject {
		stored, err := s.AllStore.RetrieveRequest(ctx, r.ID)
		if err != nil {
			return err
		}
		if err = s.AllStore.UpdateRequestStep(ctx, stored.Version, stored, nil); err != nil {
			return err
		}
	}
	return s.AllStore.UpdateRequestStep(ctx, fromVersion, r, step)
}

func TestOnboardingLifecycle(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	ts.adapters[workflow.StepDirectoryAccount].Outcome = workflow.Done(workflow.ResultData{"account_id": "jdoe"})
	ts.adapters[workflow.StepEquipmentHandout].Outcome = workflow.PendingExternal("task-equipment-1")

	detail, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}
	if have, want := detail.Request.Status, workflow.RequestPending; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	// full onboarding plan materialized, flags off skip their steps
	if have, want := len(detail.Steps), 6; have != want {
		t.Fatalf("[steps] have: %v, want: %v", have, want)
	}
	for _, name := range []string{workflow.StepBuildingAccess, workflow.StepOrientationSchedule} {
		if have, want := stepByName(detail.Steps, name).Status, workflow.StepSkipped; have != want {
			t.Errorf("[%s status] have: %v, want: %v", name, have, want)
		}
	}

	// advance runs automated steps and suspends on the manual one
	detail, err = ts.engine.Advance(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := detail.Request.Status, workflow.RequestInProgress; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	for _, name := range []string{workflow.StepDirectoryAccount, workflow.StepEmailMailbox} {
		if have, want := stepByName(detail.Steps, name).Status, workflow.StepCompleted; have != want {
			t.Errorf("[%s status] have: %v, want: %v", name, have, want)
		}
	}
	manualStep := stepByName(detail.Steps, workflow.StepEquipmentHandout)
	if have, want := manualStep.Status, workflow.StepInProgress; have != want {
		t.Errorf("[manual status] have: %v, want: %v", have, want)
	}
	if have, want := manualStep.TaskRef, "task-equipment-1"; have != want {
		t.Errorf("[task ref] have: %v, want: %v", have, want)
	}
	if have, want := stepByName(detail.Steps, workflow.StepWelcomeAnnouncement).Status, workflow.StepPending; have != want {
		t.Errorf("[later step status] have: %v, want: %v", have, want)
	}

	// explicit data passing: only declared dependencies are visible
	mailboxCalls := ts.adapters[workflow.StepEmailMailbox].Calls()
	if have, want := len(mailboxCalls), 1; have != want {
		t.Fatalf("[mailbox calls] have: %v, want: %v", have, want)
	}
	if have, want := mailboxCalls[0].Prior[workflow.StepDirectoryAccount]["account_id"], "jdoe"; have != want {
		t.Errorf("[prior] have: %v, want: %v", have, want)
	}

	// re-entrancy: advancing a suspended request dispatches nothing
	handoutCalls := len(ts.adapters[workflow.StepEquipmentHandout].Calls())
	if _, err = ts.engine.Advance(ctx, detail.Request.ID); err != nil {
		t.Fatal(err)
	}
	if have, want := len(ts.adapters[workflow.StepEquipmentHandout].Calls()), handoutCalls; have != want {
		t.Errorf("[handout calls] have: %v, want: %v", have, want)
	}
	for _, name := range []string{workflow.StepDirectoryAccount, workflow.StepEmailMailbox} {
		if have, want := len(ts.adapters[name].Calls()), 1; have != want {
			t.Errorf("[%s calls] have: %v, want: %v", name, have, want)
		}
	}

	// the suspended step is visible as a manual task
	tasks, err := ts.engine.ManualTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(tasks), 1; have != want {
		t.Fatalf("[tasks] have: %v, want: %v", have, want)
	}
	if have, want := tasks[0].StepID, manualStep.ID; have != want {
		t.Errorf("[task step id] have: %v, want: %v", have, want)
	}
	if have, want := tasks[0].Subject, "Jo Doe"; have != want {
		t.Errorf("[task subject] have: %v, want: %v", have, want)
	}

	// completing the task resumes the request to completion
	detail, err = ts.engine.CompleteManualTask(ctx, manualStep.ID, workflow.ResultData{"asset_tag": "IT-0042"}, "it.ops")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := detail.Request.Status, workflow.RequestCompleted; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if detail.Request.CompletedAt.IsZero() {
		t.Error("expected completion time")
	}
	if have, want := stepByName(detail.Steps, workflow.StepEquipmentHandout).Results["asset_tag"], "IT-0042"; have != want {
		t.Errorf("[manual results] have: %v, want: %v", have, want)
	}
	// results merge upward into the request
	if have, want := detail.Request.Results["account_id"], "jdoe"; have != want {
		t.Errorf("[request results] have: %v, want: %v", have, want)
	}
	if have, want := detail.Request.Results["asset_tag"], "IT-0042"; have != want {
		t.Errorf("[request results] have: %v, want: %v", have, want)
	}

	// second completion of the same task is rejected and advances nothing
	_, err = ts.engine.CompleteManualTask(ctx, manualStep.ID, workflow.ResultData{"asset_tag": "IT-9999"}, "it.ops")
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("have: %v, want: %v", err, ErrAlreadyCompleted)
	}
	view, err := ts.engine.RetrieveRequest(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := view.Steps[3].Results["asset_tag"], "IT-0042"; have != want {
		t.Errorf("[results after dup] have: %v, want: %v", have, want)
	}

	// audit trail records the whole lifecycle in order
	events := view.Events
	if len(events) == 0 {
		t.Fatal("no events")
	}
	if have, want := events[0].Type, EventRequestCreated; have != want {
		t.Errorf("[first event] have: %v, want: %v", have, want)
	}
	if have, want := events[len(events)-1].Type, EventRequestCompleted; have != want {
		t.Errorf("[last event] have: %v, want: %v (%v)", have, want, eventTypes(events))
	}
	for _, want := range []string{EventRequestStarted, EventStepSkipped, EventStepStarted, EventStepCompleted, EventStepSuspended, EventTaskCompleted} {
		if !containsEvent(events, want) {
			t.Errorf("missing event %v (%v)", want, eventTypes(events))
		}
	}
	// the request's own pending-to-in-progress transition is recorded
	// once, at the first claim only
	if have, want := countEvents(events, EventRequestStarted), 1; have != want {
		t.Errorf("[request.started] have: %v, want: %v", have, want)
	}
	for _, e := range events {
		if e.Type == EventRequestStarted {
			if have, want := e.Metadata[metaOldStatus], string(workflow.RequestPending); have != want {
				t.Errorf("[old status] have: %v, want: %v", have, want)
			}
			if have, want := e.Metadata[metaNewStatus], string(workflow.RequestInProgress); have != want {
				t.Errorf("[new status] have: %v, want: %v", have, want)
			}
		}
	}
	// the task completion records who did it
	for _, e := range events {
		if e.Type == EventTaskCompleted {
			if have, want := e.Actor, "it.ops"; have != want {
				t.Errorf("[actor] have: %v, want: %v", have, want)
			}
		}
	}
}

func TestCriticalStepFailure(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	ts.adapters[workflow.StepEmailMailbox].Err = errors.New("smtp backend unavailable")

	detail, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}

	detail, err = ts.engine.Advance(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := detail.Request.Status, workflow.RequestFailed; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if have, want := detail.Request.Error, "step email_mailbox failed: smtp backend unavailable"; have != want {
		t.Errorf("[error] have: %v, want: %v", have, want)
	}
	if have, want := stepByName(detail.Steps, workflow.StepEmailMailbox).Status, workflow.StepFailed; have != want {
		t.Errorf("[failed step] have: %v, want: %v", have, want)
	}
	// steps after the critical failure are never touched
	for _, name := range []string{workflow.StepEquipmentHandout, workflow.StepWelcomeAnnouncement} {
		if have, want := stepByName(detail.Steps, name).Status, workflow.StepPending; have != want {
			t.Errorf("[%s status] have: %v, want: %v", name, have, want)
		}
	}

	// advancing a terminal request is a no-op
	calls := len(ts.adapters[workflow.StepEmailMailbox].Calls())
	detail, err = ts.engine.Advance(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := detail.Request.Status, workflow.RequestFailed; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if have, want := len(ts.adapters[workflow.StepEmailMailbox].Calls()), calls; have != want {
		t.Errorf("[calls] have: %v, want: %v", have, want)
	}
	if have, want := len(ts.adapters[workflow.StepWelcomeAnnouncement].Calls()), 0; have != want {
		t.Errorf("[later calls] have: %v, want: %v", have, want)
	}

	view, err := ts.engine.RetrieveRequest(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !containsEvent(view.Events, EventStepFailed) {
		t.Errorf("missing event %v (%v)", EventStepFailed, eventTypes(view.Events))
	}
	if !containsEvent(view.Events, EventRequestFailed) {
		t.Errorf("missing event %v (%v)", EventRequestFailed, eventTypes(view.Events))
	}
}

func TestNonCriticalStepFailure(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	attrs := offboardingAttributes()
	attrs.Flags = map[string]bool{workflow.FlagArchiveMailbox: true}

	ts.adapters[workflow.StepMailboxArchive].Err = errors.New("archive quota exceeded")
	ts.adapters[workflow.StepEquipmentReturn].Outcome = workflow.PendingExternal("task-return-1")

	detail, err := ts.engine.SubmitRequest(ctx, workflow.Offboarding, attrs)
	if err != nil {
		t.Fatal(err)
	}
	detail, err = ts.engine.Advance(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}

	// the non-critical failure is recorded but the request proceeds
	failed := stepByName(detail.Steps, workflow.StepMailboxArchive)
	if have, want := failed.Status, workflow.StepFailed; have != want {
		t.Errorf("[failed step] have: %v, want: %v", have, want)
	}
	if have, want := failed.Error, "archive quota exceeded"; have != want {
		t.Errorf("[step error] have: %v, want: %v", have, want)
	}
	if have, want := detail.Request.Status, workflow.RequestInProgress; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}

	manualStep := stepByName(detail.Steps, workflow.StepEquipmentReturn)
	detail, err = ts.engine.CompleteManualTask(ctx, manualStep.ID, nil, "facilities")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := detail.Request.Status, workflow.RequestCompleted; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if have, want := stepByName(detail.Steps, workflow.StepDepartureAnnouncement).Status, workflow.StepCompleted; have != want {
		t.Errorf("[announcement] have: %v, want: %v", have, want)
	}
}

func TestCompleteManualTaskErrors(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	_, err := ts.engine.CompleteManualTask(ctx, "step.does.not.exist", nil, "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
	}

	ts.adapters[workflow.StepEquipmentHandout].Outcome = workflow.PendingExternal("task-x")
	detail, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}

	// not yet reached: the manual step is still pending
	manualStep := stepByName(detail.Steps, workflow.StepEquipmentHandout)
	_, err = ts.engine.CompleteManualTask(ctx, manualStep.ID, nil, "")
	if !errors.Is(err, ErrTaskNotPending) {
		t.Errorf("have: %v, want: %v", err, ErrTaskNotPending)
	}

	// not a manual step at all
	auto := stepByName(detail.Steps, workflow.StepDirectoryAccount)
	_, err = ts.engine.CompleteManualTask(ctx, auto.ID, nil, "")
	if !errors.Is(err, ErrNotManualStep) {
		t.Errorf("have: %v, want: %v", err, ErrNotManualStep)
	}
}

func TestSubmitRequestValidation(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	if _, err := ts.engine.SubmitRequest(ctx, "promotion", onboardingAttributes()); !errors.Is(err, workflow.ErrInvalidLifecycleType) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrInvalidLifecycleType)
	}

	attrs := onboardingAttributes()
	attrs.Email = ""
	if _, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, attrs); !errors.Is(err, workflow.ErrMissingEmail) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrMissingEmail)
	}

	if _, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, nil); !errors.Is(err, workflow.ErrEmptyAttributes) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrEmptyAttributes)
	}

	// nothing persisted from rejected submissions
	reqs, err := ts.engine.RetrieveRequests(ctx, storage.RequestFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(reqs), 0; have != want {
		t.Errorf("[requests] have: %v, want: %v", have, want)
	}
}

func TestMissingAdapterFailsStep(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	e := New(s)
	// no adapters registered at all

	if err := e.CheckAdapters(); err == nil {
		t.Error("expected check to fail with no adapters")
	}

	detail, err := e.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}
	detail, err = e.Advance(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	// the missing adapter fails the (critical) first step
	if have, want := detail.Request.Status, workflow.RequestFailed; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if have, want := stepByName(detail.Steps, workflow.StepDirectoryAccount).Status, workflow.StepFailed; have != want {
		t.Errorf("[step] have: %v, want: %v", have, want)
	}
}

func TestRequestStats(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	if _, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes()); err != nil {
		t.Fatal(err)
	}
	detail, err := ts.engine.SubmitRequest(ctx, workflow.Offboarding, offboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}
	ts.adapters[workflow.StepEquipmentReturn].Outcome = workflow.PendingExternal("task-stats")
	if _, err = ts.engine.Advance(ctx, detail.Request.ID); err != nil {
		t.Fatal(err)
	}

	counts, err := ts.engine.RequestStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := counts[workflow.RequestPending], 1; have != want {
		t.Errorf("[pending] have: %v, want: %v", have, want)
	}
	if have, want := counts[workflow.RequestInProgress], 1; have != want {
		t.Errorf("[in progress] have: %v, want: %v", have, want)
	}
}

func TestWorkerTimeoutReconciliation(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	detail, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}
	r := detail.Request

	// simulate a crash mid-step: the claim was persisted but no outcome
	// was ever recorded
	r.Status = workflow.RequestInProgress
	step := stepByName(detail.Steps, workflow.StepDirectoryAccount)
	step.Status = workflow.StepInProgress
	step.StartedAt = time.Now().Add(-time.Hour)
	step.Deadline = time.Now().Add(-time.Minute)
	if err = ts.store.UpdateRequestStep(ctx, 0, r, step); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(ts.engine, ts.store)
	if err = w.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	view, err := ts.engine.RetrieveRequest(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	// the abandoned critical step times out and fails the request
	if have, want := view.Request.Status, workflow.RequestFailed; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	failed := stepByName(view.Steps, workflow.StepDirectoryAccount)
	if have, want := failed.Status, workflow.StepFailed; have != want {
		t.Errorf("[step] have: %v, want: %v", have, want)
	}
	if have, want := failed.Error, "timeout"; have != want {
		t.Errorf("[step error] have: %v, want: %v", have, want)
	}
}

func TestAdvanceClaimConflictRetry(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{AllStore: inmem.New()}
	ts := newTestSetupStore(t, rs)

	ts.adapters[workflow.StepDirectoryAccount].Outcome = workflow.Done(workflow.ResultData{"account_id": "jdoe"})
	ts.adapters[workflow.StepEquipmentHandout].Outcome = workflow.PendingExternal("task-race-1")

	detail, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}

	// a competitor bumps the version between our read and the first
	// step claim; the losing claim re-reads and recomputes
	rs.armConflict(0)
	detail, err = ts.engine.Advance(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := detail.Request.Status, workflow.RequestInProgress; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if have, want := stepByName(detail.Steps, workflow.StepEquipmentHandout).Status, workflow.StepInProgress; have != want {
		t.Errorf("[manual status] have: %v, want: %v", have, want)
	}
	// the lost claim never dispatched: each automated step ran once
	for _, name := range []string{workflow.StepDirectoryAccount, workflow.StepEmailMailbox, workflow.StepEquipmentHandout} {
		if have, want := len(ts.adapters[name].Calls()), 1; have != want {
			t.Errorf("[%s calls] have: %v, want: %v", name, have, want)
		}
	}

	// race the manual completion too: the losing completion re-reads,
	// sees the task still awaiting completion, and retries
	manualStep := stepByName(detail.Steps, workflow.StepEquipmentHandout)
	rs.armConflict(0)
	detail, err = ts.engine.CompleteManualTask(ctx, manualStep.ID, workflow.ResultData{"asset_tag": "IT-0042"}, "it.ops")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := detail.Request.Status, workflow.RequestCompleted; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}
	if have, want := detail.Request.Results["asset_tag"], "IT-0042"; have != want {
		t.Errorf("[results] have: %v, want: %v", have, want)
	}

	view, err := ts.engine.RetrieveRequest(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	// the retried completion recorded exactly once
	if have, want := countEvents(view.Events, EventTaskCompleted), 1; have != want {
		t.Errorf("[task.completed] have: %v, want: %v (%v)", have, want, eventTypes(view.Events))
	}
}

func TestAdvanceOutcomeConflictSurrender(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{AllStore: inmem.New()}
	ts := newTestSetupStore(t, rs)

	detail, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}

	// the claim succeeds (skip 1) but a competitor moves the request
	// before the outcome is recorded: the step stays claimed for the
	// worker and the adapter is not dispatched a second time
	rs.armConflict(1)
	detail, err = ts.engine.Advance(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(ts.adapters[workflow.StepDirectoryAccount].Calls()), 1; have != want {
		t.Errorf("[calls] have: %v, want: %v", have, want)
	}
	if have, want := stepByName(detail.Steps, workflow.StepDirectoryAccount).Status, workflow.StepInProgress; have != want {
		t.Errorf("[step status] have: %v, want: %v", have, want)
	}
	if have, want := len(ts.adapters[workflow.StepEmailMailbox].Calls()), 0; have != want {
		t.Errorf("[later calls] have: %v, want: %v", have, want)
	}

	// a later advance sees the claimed step as in-flight and dispatches
	// nothing more
	if _, err = ts.engine.Advance(ctx, detail.Request.ID); err != nil {
		t.Fatal(err)
	}
	if have, want := len(ts.adapters[workflow.StepDirectoryAccount].Calls()), 1; have != want {
		t.Errorf("[calls after re-advance] have: %v, want: %v", have, want)
	}
}

func TestNonManualPendingOutcome(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	// an automated adapter has no business suspending: treated as a
	// step failure, not an unreachable stuck task
	ts.adapters[workflow.StepDirectoryAccount].Outcome = workflow.PendingExternal("task-bogus")

	detail, err := ts.engine.SubmitRequest(ctx, workflow.Onboarding, onboardingAttributes())
	if err != nil {
		t.Fatal(err)
	}
	detail, err = ts.engine.Advance(ctx, detail.Request.ID)
	if err != nil {
		t.Fatal(err)
	}

	failed := stepByName(detail.Steps, workflow.StepDirectoryAccount)
	if have, want := failed.Status, workflow.StepFailed; have != want {
		t.Errorf("[step status] have: %v, want: %v", have, want)
	}
	if have, want := failed.Error, "pending outcome from non-manual step"; have != want {
		t.Errorf("[step error] have: %v, want: %v", have, want)
	}
	// a critical step, so the request fails
	if have, want := detail.Request.Status, workflow.RequestFailed; have != want {
		t.Errorf("[status] have: %v, want: %v", have, want)
	}

	// nothing hangs around looking like a manual task
	tasks, err := ts.engine.ManualTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(tasks), 0; have != want {
		t.Errorf("[tasks] have: %v, want: %v", have, want)
	}
}
