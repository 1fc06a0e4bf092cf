package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/utils/kv/kvmap"
	"github.com/staffops/staffcycle/utils/uuid"
	"github.com/staffops/staffcycle/workflow"
)

// failSetBucket fails every Set while armed.
type failSetBucket struct {
	*kvmap.KVMap
	failing bool
}

func (b *failSetBucket) Set(ctx context.Context, k string, v []byte) error {
	if b.failing {
		return errors.New("write failed")
	}
	return b.KVMap.Set(ctx, k, v)
}

func TestCreateRequestPartialWrite(t *testing.T) {
	ctx := context.Background()
	requestStore := &failSetBucket{KVMap: kvmap.NewBucket()}
	s := New(requestStore, kvmap.NewBucket(), kvmap.NewBucket(), uuid.NewUUID())

	r := &storage.Request{
		ID:        "req-1",
		Type:      workflow.Onboarding,
		Status:    workflow.RequestPending,
		CreatedAt: time.Now(),
	}
	steps := []*storage.Step{{
		ID:          "step-1",
		RequestID:   r.ID,
		Name:        workflow.StepDirectoryAccount,
		Status:      workflow.StepPending,
		Criticality: workflow.Critical,
	}}

	// a create failing on the final (request) write must not leave a
	// retrievable request behind
	requestStore.failing = true
	if err := s.CreateRequest(ctx, r, steps); err == nil {
		t.Fatal("expected create to fail")
	}
	if _, err := s.RetrieveRequest(ctx, r.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, storage.ErrNotFound)
	}

	// retrying the same create succeeds and the aggregate is whole
	requestStore.failing = false
	if err := s.CreateRequest(ctx, r, steps); err != nil {
		t.Fatal(err)
	}
	got, err := s.RetrieveSteps(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(got), 1; have != want {
		t.Fatalf("[steps] have: %v, want: %v", have, want)
	}
	if have, want := got[0].ID, "step-1"; have != want {
		t.Errorf("[step id] have: %v, want: %v", have, want)
	}
}
