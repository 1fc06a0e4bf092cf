package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/logkeys"
	"github.com/staffops/staffcycle/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	// ErrNotManualStep is returned when completing a step that does
	// not await out-of-band completion.
	ErrNotManualStep = errors.New("not a manual step")

	// ErrAlreadyCompleted is returned on the second completion of the
	// same manual task. The first call changed state; the second is
	// rejected rather than silently accepted and triggers no further
	// advancement.
	ErrAlreadyCompleted = errors.New("manual task already completed")

	// ErrTaskNotPending is returned when the manual step exists but
	// has not yet been reached (or was skipped/failed).
	ErrTaskNotPending = errors.New("manual task not pending completion")
)

// CompleteManualTask is the out-of-band completion signal for a
// suspended manual step: it marks the step Completed with the provided
// payload as its result data and resumes advancing the request.
func (e *Engine) CompleteManualTask(ctx context.Context, stepID string, payload workflow.ResultData, completedBy string) (*RequestDetail, error) {
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.StepID, stepID)

	var requestID string
	for {
		s, err := e.store.RetrieveStep(ctx, stepID)
		if err != nil {
			return nil, fmt.Errorf("retrieving step: %w", err)
		}
		if !s.Manual {
			return nil, fmt.Errorf("%w: %s", ErrNotManualStep, s.Name)
		}
		switch s.Status {
		case workflow.StepCompleted:
			return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, s.Name)
		case workflow.StepInProgress:
			// awaiting completion
		default:
			return nil, fmt.Errorf("%w: %s: status: %s", ErrTaskNotPending, s.Name, s.Status)
		}
		requestID = s.RequestID

		r, err := e.store.RetrieveRequest(ctx, s.RequestID)
		if err != nil {
			return nil, fmt.Errorf("retrieving request: %w", err)
		}

		fromVersion := r.Version
		s.Status = workflow.StepCompleted
		s.Results = payload
		s.CompletedAt = time.Now()
		mergeResults(r, payload)
		err = e.store.UpdateRequestStep(ctx, fromVersion, r, s)
		if errors.Is(err, storage.ErrVersionMismatch) {
			// a competing completion or advance won; re-read. if the
			// competitor completed this task the next pass returns
			// ErrAlreadyCompleted.
			logger.Debug(logkeys.Message, "lost task completion race; recomputing")
			continue
		} else if err != nil {
			return nil, fmt.Errorf("completing manual step: %w", err)
		}

		e.audit(ctx, logger.With(logkeys.RequestID, r.ID), r.ID, EventTaskCompleted, completedBy, stepMeta(s, string(workflow.StepInProgress)))
		logger.Debug(
			logkeys.Message, "manual task completed",
			logkeys.RequestID, r.ID,
			logkeys.StepName, s.Name,
			logkeys.TaskRef, s.TaskRef,
			"completed_by", completedBy,
		)
		break
	}

	// resume the workflow from the next step
	return e.Advance(ctx, requestID)
}
