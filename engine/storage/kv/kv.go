// Package kv implements a lifecycle engine storage backend using a key-value interface.
package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/utils/kv"
	"github.com/staffops/staffcycle/utils/uuid"

	"github.com/staffops/staffcycle/workflow"
)

// KV is a lifecycle engine storage backend using a key-value interface.
// A single mutex serializes writes which is what makes the version
// compare-and-swap atomic across buckets.
type KV struct {
	mu           sync.RWMutex
	requestStore kv.TraversingBucket
	stepStore    kv.TraversingBucket
	eventStore   kv.TraversingBucket
	ider         uuid.IDer
}

// New creates a new key-value lifecycle engine storage backend.
func New(requestStore, stepStore, eventStore kv.TraversingBucket, ider uuid.IDer) *KV {
	return &KV{
		requestStore: requestStore,
		stepStore:    stepStore,
		eventStore:   eventStore,
		ider:         ider,
	}
}

// CreateRequest implements the storage interface method.
func (s *KV) CreateRequest(ctx context.Context, r *storage.Request, steps []*storage.Step) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("validating request: %w", err)
	}
	if len(steps) < 1 {
		return storage.ErrMissingSteps
	}
	orders := make(map[int]struct{})
	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("validating step: %w", err)
		}
		if _, ok := orders[step.Order]; ok {
			return fmt.Errorf("%w: %d", storage.ErrDuplicateOrder, step.Order)
		}
		orders[step.Order] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.requestStore.Has(ctx, r.ID); err != nil {
		return fmt.Errorf("checking request exists: %w", err)
	} else if ok {
		return fmt.Errorf("%w: %s", storage.ErrRequestExists, r.ID)
	}

	// steps and index first, request record last: a write failing
	// part-way must not leave a retrievable request without its full
	// step plan
	if err := kvSetSteps(ctx, s.stepStore, r.ID, steps); err != nil {
		return fmt.Errorf("setting steps: %w", err)
	}
	if err := kvSetRequest(ctx, s.requestStore, r); err != nil {
		return fmt.Errorf("setting request: %w", err)
	}
	return nil
}

// RetrieveRequest implements the storage interface method.
func (s *KV) RetrieveRequest(ctx context.Context, id string) (*storage.Request, error) {
	if id == "" {
		return nil, storage.ErrMissingRequestID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return kvGetRequest(ctx, s.requestStore, id)
}

// RetrieveRequests implements the storage interface method.
func (s *KV) RetrieveRequests(ctx context.Context, f storage.RequestFilter) ([]*storage.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reqs []*storage.Request
	for id := range kvKeys(ctx, s.requestStore) {
		r, err := kvGetRequest(ctx, s.requestStore, id)
		if err != nil {
			return reqs, fmt.Errorf("getting request %s: %w", id, err)
		}
		if f.Matches(r) {
			reqs = append(reqs, r)
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
	return reqs, nil
}

// RetrieveSteps implements the storage interface method.
func (s *KV) RetrieveSteps(ctx context.Context, requestID string) ([]*storage.Step, error) {
	if requestID == "" {
		return nil, storage.ErrMissingRequestID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return kvGetRequestSteps(ctx, s.stepStore, requestID)
}

// RetrieveStep implements the storage interface method.
func (s *KV) RetrieveStep(ctx context.Context, stepID string) (*storage.Step, error) {
	if stepID == "" {
		return nil, storage.ErrMissingStepID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return kvGetStep(ctx, s.stepStore, stepID)
}

// UpdateRequestStep implements the storage interface method.
func (s *KV) UpdateRequestStep(ctx context.Context, fromVersion int, r *storage.Request, step *storage.Step) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("validating request: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := kvGetRequest(ctx, s.requestStore, r.ID)
	if err != nil {
		return fmt.Errorf("getting request: %w", err)
	}
	if stored.Version != fromVersion {
		return fmt.Errorf("%w: have: %d, want: %d", storage.ErrVersionMismatch, stored.Version, fromVersion)
	}

	update := *r
	update.Version = fromVersion + 1
	if err = kvSetRequest(ctx, s.requestStore, &update); err != nil {
		return fmt.Errorf("setting request: %w", err)
	}

	if step != nil {
		if err = step.Validate(); err != nil {
			return fmt.Errorf("validating step: %w", err)
		}
		if ok, err := s.stepStore.Has(ctx, step.ID); err != nil {
			return fmt.Errorf("checking step exists: %w", err)
		} else if !ok {
			return fmt.Errorf("%w: step %s", storage.ErrNotFound, step.ID)
		}
		if err = kvSetStep(ctx, s.stepStore, step); err != nil {
			return fmt.Errorf("setting step: %w", err)
		}
	}
	return nil
}

// RetrieveManualSteps implements the storage interface method.
func (s *KV) RetrieveManualSteps(ctx context.Context) ([]*storage.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var steps []*storage.Step
	for id := range kvKeys(ctx, s.requestStore) {
		reqSteps, err := kvGetRequestSteps(ctx, s.stepStore, id)
		if err != nil {
			return steps, fmt.Errorf("getting steps for %s: %w", id, err)
		}
		for _, step := range reqSteps {
			if step.Manual && step.Status == workflow.StepInProgress {
				steps = append(steps, step)
			}
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StartedAt.Before(steps[j].StartedAt)
	})
	return steps, nil
}

// CountRequestsByStatus implements the storage interface method.
func (s *KV) CountRequestsByStatus(ctx context.Context) (map[workflow.RequestStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[workflow.RequestStatus]int)
	for id := range kvKeys(ctx, s.requestStore) {
		r, err := kvGetRequest(ctx, s.requestStore, id)
		if err != nil {
			return counts, fmt.Errorf("getting request %s: %w", id, err)
		}
		counts[r.Status]++
	}
	return counts, nil
}

// AppendEvent implements the storage interface method.
func (s *KV) AppendEvent(ctx context.Context, e *storage.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("validating event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event := *e
	if event.ID == "" {
		event.ID = s.ider.ID()
	}
	return kvAppendEvent(ctx, s.eventStore, &event)
}

// RetrieveEvents implements the storage interface method.
func (s *KV) RetrieveEvents(ctx context.Context, requestID string) ([]*storage.Event, error) {
	if requestID == "" {
		return nil, storage.ErrMissingRequestID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return kvGetEvents(ctx, s.eventStore, requestID)
}

// RetrieveTimedOutSteps implements the storage interface method.
func (s *KV) RetrieveTimedOutSteps(ctx context.Context, now time.Time) ([]*storage.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var steps []*storage.Step
	for id := range kvKeys(ctx, s.requestStore) {
		reqSteps, err := kvGetRequestSteps(ctx, s.stepStore, id)
		if err != nil {
			return steps, fmt.Errorf("getting steps for %s: %w", id, err)
		}
		for _, step := range reqSteps {
			if step.Manual || step.Status != workflow.StepInProgress {
				continue
			}
			if !step.Deadline.IsZero() && step.Deadline.Before(now) {
				steps = append(steps, step)
			}
		}
	}
	return steps, nil
}
