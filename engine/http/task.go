package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/staffops/staffcycle/engine"
	"github.com/staffops/staffcycle/engine/storage"
	"github.com/staffops/staffcycle/http/api"
	"github.com/staffops/staffcycle/logkeys"
	"github.com/staffops/staffcycle/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

type TaskLister interface {
	ManualTasks(ctx context.Context) ([]*engine.ManualTask, error)
}

type TaskCompleter interface {
	CompleteManualTask(ctx context.Context, stepID string, payload workflow.ResultData, completedBy string) (*engine.RequestDetail, error)
}

// ListTasksHandler creates a HandlerFunc that lists open manual tasks.
func ListTasksHandler(lister TaskLister, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		tasks, err := lister.ManualTasks(r.Context())
		if err != nil {
			logger.Info(logkeys.Message, "retrieving manual tasks", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}

		logger.Debug(
			logkeys.Message, "retrieved manual tasks",
			logkeys.GenericCount, len(tasks),
		)
		jsonResponse(w, logger, tasks)
	}
}

// CompleteTaskHandler creates a HandlerFunc that completes a manual
// task by step ID and resumes its request. Completing a task twice is
// a conflict, not an error that repeats the side effects.
func CompleteTaskHandler(completer TaskCompleter, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		id := flow.Param(r.Context(), "id")
		if id == "" {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, ErrNoID)
			api.JSONError(w, ErrNoID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.StepID, id)

		body := new(struct {
			Payload     workflow.ResultData `json:"payload"`
			CompletedBy string              `json:"completed_by"`
		})
		if err := json.NewDecoder(r.Body).Decode(body); err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}

		detail, err := completer.CompleteManualTask(r.Context(), id, body.Payload, body.CompletedBy)
		if err != nil {
			logger.Info(logkeys.Message, "completing manual task", logkeys.Error, err)
			status := 0
			switch {
			case errors.Is(err, storage.ErrNotFound):
				status = http.StatusNotFound
			case errors.Is(err, engine.ErrNotManualStep),
				errors.Is(err, engine.ErrAlreadyCompleted),
				errors.Is(err, engine.ErrTaskNotPending):
				status = http.StatusConflict
			}
			api.JSONError(w, err, status)
			return
		}

		logger.Debug(
			logkeys.Message, "completed manual task",
			logkeys.RequestID, detail.Request.ID,
			logkeys.Status, detail.Request.Status,
		)
		jsonResponse(w, logger, detail)
	}
}
