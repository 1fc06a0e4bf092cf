package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/logkeys"
	"github.com/staffops/staffcycle/workflow"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// errText for an adapter call that exceeded its deadline.
const timeoutError = "timeout"

// nextAction scans the ordered plan for the next thing to do.
// Returns the first Pending step, or inflight=true when an earlier step
// is InProgress (a suspended manual task, or a concurrent advance that
// owns the claim). Failed steps encountered here are non-critical by
// construction: a critical failure makes the request terminal before
// any later step is touched.
func nextAction(steps []*storage.Step) (next *storage.Step, inflight bool) {
	for _, s := range steps {
		switch s.Status {
		case workflow.StepCompleted, workflow.StepSkipped, workflow.StepFailed:
			continue
		case workflow.StepInProgress:
			return nil, true
		case workflow.StepPending:
			return s, false
		}
	}
	return nil, false
}

// Advance runs the request state machine: it re-reads persisted state,
// computes the single next eligible action, executes it, and repeats
// until the request completes, fails a critical step, or suspends on a
// manual task. Advance is re-entrant; it holds no continuation in
// memory between calls. Calling it on a terminal request is a safe
// no-op returning current state. A writer losing the request's version
// race re-reads and recomputes rather than erroring.
func (e *Engine) Advance(ctx context.Context, requestID string) (*RequestDetail, error) {
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.RequestID, requestID)

	for {
		r, err := e.store.RetrieveRequest(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("retrieving request: %w", err)
		}
		if r.Status.Terminal() {
			logger.Debug(
				logkeys.Message, "advance on terminal request",
				logkeys.Status, r.Status,
			)
			return e.detail(ctx, r)
		}

		steps, err := e.store.RetrieveSteps(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("retrieving steps: %w", err)
		}

		next, inflight := nextAction(steps)
		if inflight {
			// suspended on a manual task (or another advance owns the
			// claim); resumption comes from CompleteManualTask, not
			// from us waiting.
			return &RequestDetail{Request: r, Steps: steps}, nil
		}
		if next == nil {
			if err = e.completeRequest(ctx, logger, r); errors.Is(err, storage.ErrVersionMismatch) {
				continue
			} else if err != nil {
				return nil, err
			}
			return &RequestDetail{Request: r, Steps: steps}, nil
		}

		stepLogger := logger.With(
			logkeys.StepID, next.ID,
			logkeys.StepName, next.Name,
		)

		// claim the step via the request's version token so two
		// concurrent advances cannot both dispatch it
		fromVersion := r.Version
		reqOldStatus := r.Status
		r.Status = workflow.RequestInProgress
		next.Status = workflow.StepInProgress
		next.StartedAt = time.Now()
		if !next.Manual {
			next.Deadline = next.StartedAt.Add(e.timeout)
		}
		err = e.store.UpdateRequestStep(ctx, fromVersion, r, next)
		if errors.Is(err, storage.ErrVersionMismatch) {
			stepLogger.Debug(logkeys.Message, "lost step claim; recomputing")
			continue
		} else if err != nil {
			return nil, fmt.Errorf("claiming step: %w", err)
		}
		r.Version = fromVersion + 1
		if reqOldStatus == workflow.RequestPending {
			e.audit(ctx, logger, r.ID, EventRequestStarted, "", map[string]string{
				metaOldStatus: string(reqOldStatus),
				metaNewStatus: string(r.Status),
			})
		}
		e.audit(ctx, stepLogger, r.ID, EventStepStarted, "", stepMeta(next, string(workflow.StepPending)))

		outcome, execErr := e.executeStep(ctx, r, next, steps)

		var recordErr error
		switch {
		case execErr != nil:
			// adapter errors are a business outcome, absorbed into
			// step state; they never propagate to the caller
			terminal := false
			terminal, recordErr = e.recordFailure(ctx, stepLogger, r, next, execErr.Error())
			if recordErr == nil && terminal {
				return e.detail(ctx, r)
			}
		case outcome == nil:
			terminal := false
			terminal, recordErr = e.recordFailure(ctx, stepLogger, r, next, "adapter returned no outcome")
			if recordErr == nil && terminal {
				return e.detail(ctx, r)
			}
		case outcome.Pending && !next.Manual:
			// only manual steps may suspend: a pending outcome from an
			// automated adapter would strand the step InProgress with
			// no task to complete and no deadline for the worker
			terminal := false
			terminal, recordErr = e.recordFailure(ctx, stepLogger, r, next, "pending outcome from non-manual step")
			if recordErr == nil && terminal {
				return e.detail(ctx, r)
			}
		case outcome.Pending:
			recordErr = e.recordSuspension(ctx, stepLogger, r, next, outcome.TaskRef)
			if recordErr == nil {
				return e.detail(ctx, r)
			}
		default:
			recordErr = e.recordSuccess(ctx, stepLogger, r, next, outcome.Results)
		}
		if errors.Is(recordErr, storage.ErrVersionMismatch) {
			// the worker (or a competing writer) moved the request
			// under us; the outcome recording is lost and the step is
			// retried or already resolved. re-read and recompute.
			stepLogger.Info(
				logkeys.Message, "lost outcome record race; recomputing",
				logkeys.Error, recordErr,
			)
			continue
		} else if recordErr != nil {
			return nil, recordErr
		}
		// loop: continue advancing this request
	}
}

// executeStep invokes the adapter bound to the step under the engine's
// bounded timeout. A missing adapter or deadline expiry maps to an
// error return like any other adapter failure.
func (e *Engine) executeStep(ctx context.Context, r *storage.Request, s *storage.Step, steps []*storage.Step) (*workflow.StepOutcome, error) {
	a := e.Adapter(s.Name)
	if a == nil {
		return nil, NewErrNoSuchAdapter(s.Name)
	}

	sc := &workflow.StepContext{
		RequestID:  r.ID,
		Lifecycle:  r.Type,
		StepID:     s.ID,
		StepName:   s.Name,
		Attributes: r.Attributes,
	}
	// explicit data passing: only results of steps this one declared
	for _, use := range s.Uses {
		for _, prior := range steps {
			if prior.Name != use || prior.Status != workflow.StepCompleted {
				continue
			}
			if sc.Prior == nil {
				sc.Prior = make(map[string]workflow.ResultData)
			}
			sc.Prior[use] = prior.Results
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	outcome, err := a.Execute(execCtx, sc)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, errors.New(timeoutError)
	}
	return outcome, err
}

// recordSuccess marks the step Completed, merges its results into the
// request, and audits the transition.
func (e *Engine) recordSuccess(ctx context.Context, logger log.Logger, r *storage.Request, s *storage.Step, results workflow.ResultData) error {
	fromVersion := r.Version
	s.Status = workflow.StepCompleted
	s.Results = results
	s.CompletedAt = time.Now()
	s.Deadline = time.Time{}
	mergeResults(r, results)
	if err := e.store.UpdateRequestStep(ctx, fromVersion, r, s); err != nil {
		return err
	}
	r.Version = fromVersion + 1
	e.audit(ctx, logger, r.ID, EventStepCompleted, "", stepMeta(s, string(workflow.StepInProgress)))
	logger.Debug(logkeys.Message, "step completed")
	return nil
}

// recordFailure marks the step Failed and applies the step's failure
// policy: a critical failure makes the request terminal (later steps
// are never touched); a non-critical failure is recorded and the
// request proceeds. Returns whether the request became terminal.
func (e *Engine) recordFailure(ctx context.Context, logger log.Logger, r *storage.Request, s *storage.Step, errText string) (terminal bool, err error) {
	fromVersion := r.Version
	s.Status = workflow.StepFailed
	s.Error = errText
	s.CompletedAt = time.Now()
	s.Deadline = time.Time{}
	if s.Criticality == workflow.Critical {
		terminal = true
		r.Status = workflow.RequestFailed
		r.Error = fmt.Sprintf("step %s failed: %s", s.Name, errText)
		r.CompletedAt = s.CompletedAt
	}
	if err = e.store.UpdateRequestStep(ctx, fromVersion, r, s); err != nil {
		return false, err
	}
	r.Version = fromVersion + 1
	e.audit(ctx, logger, r.ID, EventStepFailed, "", stepMeta(s, string(workflow.StepInProgress)))
	if terminal {
		e.audit(ctx, logger, r.ID, EventRequestFailed, "", map[string]string{
			metaOldStatus: string(workflow.RequestInProgress),
			metaNewStatus: string(r.Status),
			metaError:     r.Error,
		})
	}
	logger.Info(
		logkeys.Message, "step failed",
		logkeys.Error, errText,
		"critical", s.Criticality == workflow.Critical,
	)
	return terminal, nil
}

// recordSuspension leaves the step InProgress with its external task
// reference; the request stays InProgress until the task completes.
func (e *Engine) recordSuspension(ctx context.Context, logger log.Logger, r *storage.Request, s *storage.Step, taskRef string) error {
	fromVersion := r.Version
	s.TaskRef = taskRef
	s.Deadline = time.Time{}
	if err := e.store.UpdateRequestStep(ctx, fromVersion, r, s); err != nil {
		return err
	}
	r.Version = fromVersion + 1
	e.audit(ctx, logger, r.ID, EventStepSuspended, "", stepMeta(s, string(workflow.StepInProgress)))
	logger.Debug(
		logkeys.Message, "step suspended on manual task",
		logkeys.TaskRef, taskRef,
	)
	return nil
}

// completeRequest transitions an exhausted plan's request to Completed.
func (e *Engine) completeRequest(ctx context.Context, logger log.Logger, r *storage.Request) error {
	fromVersion := r.Version
	oldStatus := r.Status
	r.Status = workflow.RequestCompleted
	r.CompletedAt = time.Now()
	if err := e.store.UpdateRequestStep(ctx, fromVersion, r, nil); err != nil {
		return err
	}
	r.Version = fromVersion + 1
	e.audit(ctx, logger, r.ID, EventRequestCompleted, "", map[string]string{
		metaOldStatus: string(oldStatus),
		metaNewStatus: string(r.Status),
	})
	logger.Debug(logkeys.Message, "request completed")
	return nil
}

func mergeResults(r *storage.Request, results workflow.ResultData) {
	if len(results) < 1 {
		return
	}
	if r.Results == nil {
		r.Results = make(workflow.ResultData)
	}
	for k, v := range results {
		r.Results[k] = v
	}
}
