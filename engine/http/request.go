// Package http contains HTTP handlers that work with the StaffCycle engine.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

var (
	ErrNoID          = errors.New("missing id parameter")
	ErrInvalidStatus = errors.New("invalid status parameter")
)

type RequestSubmitter interface {
	SubmitRequest(ctx context.Context, t workflow.LifecycleType, attrs *workflow.Attributes) (*engine.RequestDetail, error)
}

type RequestAdvancer interface {
	Advance(ctx context.Context, requestID string) (*engine.RequestDetail, error)
}

type RequestRetriever interface {
	RetrieveRequest(ctx context.Context, requestID string) (*engine.RequestView, error)
}

type RequestLister interface {
	RetrieveRequests(ctx context.Context, f storage.RequestFilter) ([]*storage.Request, error)
}

type StatsRetriever interface {
	RequestStats(ctx context.Context) (map[workflow.RequestStatus]int, error)
}

func jsonResponse(w http.ResponseWriter, logger log.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
	}
}

// SubmitRequestHandler creates a HandlerFunc that submits a lifecycle request.
// The body's "start" field runs the first advance before responding.
func SubmitRequestHandler(submitter RequestSubmitter, advancer RequestAdvancer, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		body := new(struct {
			Type       workflow.LifecycleType `json:"type"`
			Attributes *workflow.Attributes   `json:"attributes"`
			Start      bool                   `json:"start"`
		})
		if err := json.NewDecoder(r.Body).Decode(body); err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}

		logger = logger.With(logkeys.LifecycleType, body.Type)

		// reject malformed submissions before any persistence
		if err := body.Attributes.Validate(body.Type); err != nil {
			logger.Info(logkeys.Message, "validating attributes", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}

		detail, err := submitter.SubmitRequest(r.Context(), body.Type, body.Attributes)
		if err != nil {
			logger.Info(logkeys.Message, "submitting request", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}

		logger = logger.With(logkeys.RequestID, detail.Request.ID)
		logger.Debug(
			logkeys.Message, "submitted request",
			logkeys.GenericCount, len(detail.Steps),
		)

		if body.Start {
			if detail, err = advancer.Advance(r.Context(), detail.Request.ID); err != nil {
				logger.Info(logkeys.Message, "advancing request", logkeys.Error, err)
				api.JSONError(w, err, 0)
				return
			}
		}

		jsonResponse(w, logger, detail)
	}
}

// GetRequestHandler creates a HandlerFunc that returns one request with
// its steps and audit trail.
func GetRequestHandler(retriever RequestRetriever, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		id := flow.Param(r.Context(), "id")
		if id == "" {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, ErrNoID)
			api.JSONError(w, ErrNoID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.RequestID, id)

		view, err := retriever.RetrieveRequest(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving request", logkeys.Error, err)
			status := 0
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			api.JSONError(w, err, status)
			return
		}

		jsonResponse(w, logger, view)
	}
}

// ListRequestsHandler creates a HandlerFunc that lists requests,
// optionally filtered with the "status" and "type" query parameters.
func ListRequestsHandler(lister RequestLister, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		var f storage.RequestFilter
		if status := r.URL.Query().Get("status"); status != "" {
			f.Status = workflow.RequestStatus(status)
			if !f.Status.Valid() {
				err := fmt.Errorf("%w: %s", ErrInvalidStatus, status)
				logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
				api.JSONError(w, err, http.StatusBadRequest)
				return
			}
		}
		if t := r.URL.Query().Get("type"); t != "" {
			f.Type = workflow.LifecycleType(t)
			if !f.Type.Valid() {
				err := fmt.Errorf("%w: %s", workflow.ErrInvalidLifecycleType, t)
				logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
				api.JSONError(w, err, http.StatusBadRequest)
				return
			}
		}

		reqs, err := lister.RetrieveRequests(r.Context(), f)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving requests", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}

		logger.Debug(
			logkeys.Message, "retrieved requests",
			logkeys.GenericCount, len(reqs),
		)
		jsonResponse(w, logger, reqs)
	}
}

// StartRequestHandler creates a HandlerFunc that advances a request.
// A request failing a critical step is an expected business outcome:
// the response is still 200 describing the resulting state, with the
// step's verbatim error in it. Starting a terminal request is a no-op.
func StartRequestHandler(advancer RequestAdvancer, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		id := flow.Param(r.Context(), "id")
		if id == "" {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, ErrNoID)
			api.JSONError(w, ErrNoID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.RequestID, id)

		logger.Debug(logkeys.Message, "starting request")
		detail, err := advancer.Advance(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "advancing request", logkeys.Error, err)
			status := 0
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			api.JSONError(w, err, status)
			return
		}

		jsonResponse(w, logger, detail)
	}
}

// StatsHandler creates a HandlerFunc returning request counts by status.
func StatsHandler(retriever StatsRetriever, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		counts, err := retriever.RequestStats(r.Context())
		if err != nil {
			logger.Info(logkeys.Message, "retrieving stats", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}

		jsonResponse(w, logger, &struct {
			Requests map[workflow.RequestStatus]int `json:"requests"`
		}{Requests: counts})
	}
}
