package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/logkeys"
	"github.com/staffops/staffcycle/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// SubmitRequest validates the submission, resolves the step plan, and
// creates the request with its full plan in one atomic write. No
// partial request is ever persisted: validation and plan resolution
// happen before any storage I/O. Skip decisions are made here, once,
// and never re-evaluated.
func (e *Engine) SubmitRequest(ctx context.Context, t workflow.LifecycleType, attrs *workflow.Attributes) (*RequestDetail, error) {
	if err := attrs.Validate(t); err != nil {
		return nil, fmt.Errorf("validating attributes: %w", err)
	}

	plan, err := workflow.ResolveSteps(t, attrs)
	if err != nil {
		return nil, fmt.Errorf("resolving steps: %w", err)
	}

	now := time.Now()
	r := &storage.Request{
		ID:         e.ider.ID(),
		Type:       t,
		Attributes: attrs,
		Status:     workflow.RequestPending,
		CreatedAt:  now,
	}

	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.RequestID, r.ID,
		logkeys.LifecycleType, t,
	)

	steps := make([]*storage.Step, 0, len(plan))
	for _, p := range plan {
		status := workflow.StepPending
		if p.Skipped {
			status = workflow.StepSkipped
		}
		steps = append(steps, &storage.Step{
			ID:          e.ider.ID(),
			RequestID:   r.ID,
			Name:        p.Name,
			Order:       p.Order,
			Status:      status,
			Criticality: p.Criticality,
			Manual:      p.Manual,
			Uses:        p.Uses,
		})
	}

	if err = e.store.CreateRequest(ctx, r, steps); err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	e.audit(ctx, logger, r.ID, EventRequestCreated, "", map[string]string{
		metaNewStatus: string(r.Status),
		"step_count":  fmt.Sprintf("%d", len(steps)),
	})
	for _, s := range steps {
		if s.Status == workflow.StepSkipped {
			e.audit(ctx, logger, r.ID, EventStepSkipped, "", stepMeta(s, string(workflow.StepPending)))
		}
	}

	logger.Debug(
		logkeys.Message, "submitted request",
		logkeys.GenericCount, len(steps),
	)

	return &RequestDetail{Request: r, Steps: steps}, nil
}
