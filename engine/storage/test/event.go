package test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
)

func testEvents(t *testing.T, s storage.AllStore) {
	ctx := context.Background()

	r := testRequest("req.events")
	if err := s.CreateRequest(ctx, r, testSteps(r.ID)); err != nil {
		t.Fatal(err)
	}

	events, err := s.RetrieveEvents(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(events), 0; have != want {
		t.Fatalf("[events] have: %v, want: %v", have, want)
	}

	types := []string{"request.created", "step.started", "step.failed"}
	for i, eventType := range types {
		err = s.AppendEvent(ctx, &storage.Event{
			ID:        fmt.Sprintf("%s.e%d", r.ID, i),
			RequestID: r.ID,
			Type:      eventType,
			Actor:     "system",
			Metadata:  map[string]string{"seq": fmt.Sprintf("%d", i)},
			At:        time.Now().UTC().Truncate(time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	events, err = s.RetrieveEvents(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(events), len(types); have != want {
		t.Fatalf("[events] have: %v, want: %v", have, want)
	}

	// append order must be preserved
	for i, event := range events {
		if have, want := event.Type, types[i]; have != want {
			t.Errorf("[type] have: %v, want: %v", have, want)
		}
		if have, want := event.Metadata["seq"], fmt.Sprintf("%d", i); have != want {
			t.Errorf("[metadata] have: %v, want: %v", have, want)
		}
	}

	// events of other requests do not leak in
	events, err = s.RetrieveEvents(ctx, "req.events.other")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(events), 0; have != want {
		t.Fatalf("[events] have: %v, want: %v", have, want)
	}
}
