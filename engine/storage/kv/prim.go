package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/utils/kv"
)

// key layout:
//   request bucket:  <request_id>            -> JSON request
//   step bucket:     <step_id>               -> JSON step
//                    <request_id>.steps      -> comma-joined step IDs, in order
//   event bucket:    <request_id>            -> JSON event list, in append order

const keySepStepIndex = ".steps"

func kvKeys(ctx context.Context, b kv.TraversingBucket) <-chan string {
	return b.Keys(ctx.Done())
}

func kvSetRequest(ctx context.Context, b kv.Bucket, r *storage.Request) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return b.Set(ctx, r.ID, raw)
}

func kvGetRequest(ctx context.Context, b kv.Bucket, id string) (*storage.Request, error) {
	if ok, err := b.Has(ctx, id); err != nil {
		return nil, fmt.Errorf("checking request exists: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: request %s", storage.ErrNotFound, id)
	}
	raw, err := b.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}
	r := new(storage.Request)
	if err = json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	return r, nil
}

func kvSetStep(ctx context.Context, b kv.Bucket, step *storage.Step) error {
	raw, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("marshal step: %w", err)
	}
	return b.Set(ctx, step.ID, raw)
}

func kvGetStep(ctx context.Context, b kv.Bucket, id string) (*storage.Step, error) {
	if ok, err := b.Has(ctx, id); err != nil {
		return nil, fmt.Errorf("checking step exists: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: step %s", storage.ErrNotFound, id)
	}
	raw, err := b.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting step: %w", err)
	}
	step := new(storage.Step)
	if err = json.Unmarshal(raw, step); err != nil {
		return nil, fmt.Errorf("unmarshal step: %w", err)
	}
	return step, nil
}

// kvSetSteps writes the steps and the per-request step index.
func kvSetSteps(ctx context.Context, b kv.Bucket, requestID string, steps []*storage.Step) error {
	ids := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := kvSetStep(ctx, b, step); err != nil {
			return err
		}
		ids = append(ids, step.ID)
	}
	return b.Set(ctx, requestID+keySepStepIndex, []byte(strings.Join(ids, ",")))
}

// kvGetRequestSteps reads the step index then the steps, preserving
// plan order.
func kvGetRequestSteps(ctx context.Context, b kv.Bucket, requestID string) ([]*storage.Step, error) {
	idxKey := requestID + keySepStepIndex
	if ok, err := b.Has(ctx, idxKey); err != nil {
		return nil, fmt.Errorf("checking step index: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: request %s", storage.ErrNotFound, requestID)
	}
	raw, err := b.Get(ctx, idxKey)
	if err != nil {
		return nil, fmt.Errorf("getting step index: %w", err)
	}
	var steps []*storage.Step
	for _, id := range strings.Split(string(raw), ",") {
		step, err := kvGetStep(ctx, b, id)
		if err != nil {
			return steps, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func kvAppendEvent(ctx context.Context, b kv.Bucket, e *storage.Event) error {
	events, err := kvGetEvents(ctx, b, e.RequestID)
	if err != nil {
		return err
	}
	events = append(events, e)
	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	return b.Set(ctx, e.RequestID, raw)
}

func kvGetEvents(ctx context.Context, b kv.Bucket, requestID string) ([]*storage.Event, error) {
	if ok, err := b.Has(ctx, requestID); err != nil {
		return nil, fmt.Errorf("checking events exist: %w", err)
	} else if !ok {
		// a request legitimately has no events until its first append
		return nil, nil
	}
	raw, err := b.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("getting events: %w", err)
	}
	var events []*storage.Event
	if err = json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	return events, nil
}
