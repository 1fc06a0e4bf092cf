package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/logkeys"

	"github.com/micromdm/nanolib/log"
)

const DefaultWorkerDuration = time.Minute * 5

// Worker polls the storage backend on an interval for non-manual steps
// that are still InProgress past their deadline and fails them with a
// timeout, then re-advances their requests. This is the reconciliation
// pass for a process that crashed between dispatching an adapter call
// and recording its outcome; adapters are expected to be idempotent as
// the call may be repeated on a later request. Manual steps suspend
// indefinitely and are never touched.
type Worker struct {
	engine  *Engine
	storage storage.WorkerStore
	logger  log.Logger

	// duration is the interval at which the worker will wake up to
	// continue polling the storage backend.
	duration time.Duration
}

type WorkerOption func(w *Worker)

func WithWorkerLogger(logger log.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithWorkerDuration configures the polling interval for the worker.
func WithWorkerDuration(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.duration = d
	}
}

func NewWorker(engine *Engine, storage storage.WorkerStore, opts ...WorkerOption) *Worker {
	w := &Worker{
		engine:   engine,
		storage:  storage,
		logger:   log.NopLogger,
		duration: DefaultWorkerDuration,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunOnce runs one reconciliation pass and logs errors.
func (w *Worker) RunOnce(ctx context.Context) error {
	if err := w.processTimeouts(ctx); err != nil {
		return logAndError(err, w.logger, "processing timeouts")
	}
	return nil
}

// Run starts and runs the worker forever on an interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug(logkeys.Message, "starting worker", "duration", w.duration)

	ticker := time.NewTicker(w.duration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) processTimeouts(ctx context.Context) error {
	steps, err := w.storage.RetrieveTimedOutSteps(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("retrieving timed-out steps: %w", err)
	}

	for _, step := range steps {
		stepLogger := w.logger.With(
			logkeys.RequestID, step.RequestID,
			logkeys.StepID, step.ID,
			logkeys.StepName, step.Name,
		)

		r, err := w.engine.store.RetrieveRequest(ctx, step.RequestID)
		if err != nil {
			stepLogger.Info(logkeys.Message, "retrieving request", logkeys.Error, err)
			continue
		}
		if r.Status.Terminal() {
			continue
		}

		_, err = w.engine.recordFailure(ctx, stepLogger, r, step, timeoutError)
		if errors.Is(err, storage.ErrVersionMismatch) {
			// an advance recorded the real outcome first; leave it be
			stepLogger.Debug(logkeys.Message, "step progressed before timeout")
			continue
		} else if err != nil {
			stepLogger.Info(logkeys.Message, "failing timed-out step", logkeys.Error, err)
			continue
		}

		// continue the request past the failed step (or settle a
		// critical failure's terminal state)
		if _, err = w.engine.Advance(ctx, step.RequestID); err != nil {
			stepLogger.Info(logkeys.Message, "advancing request", logkeys.Error, err)
		} else {
			stepLogger.Debug(logkeys.Message, "timed-out step failed and request advanced")
		}
	}
	return nil
}
