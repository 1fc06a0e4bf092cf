package http

import (
	"net/http"

	"github.com/micromdm/nanolib/log"
)

type APIEngine interface {
	RequestSubmitter
	RequestAdvancer
	RequestRetriever
	RequestLister
	StatsRetriever
	TaskLister
	TaskCompleter
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the various API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
// If prefix is empty and these handlers are used in sub-paths then
// handlers should have that sub-path stripped from the request.
// The logger is adorned with a "handler" key of the endpoint name.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, e APIEngine) {
	// lifecycle requests

	mux.Handle(
		prefix+"/requests",
		SubmitRequestHandler(e, e, logger.With("handler", "submit request")),
		"POST",
	)
	mux.Handle(
		prefix+"/requests",
		ListRequestsHandler(e, logger.With("handler", "list requests")),
		"GET",
	)
	mux.Handle(
		prefix+"/requests/:id",
		GetRequestHandler(e, logger.With("handler", "get request")),
		"GET",
	)
	mux.Handle(
		prefix+"/requests/:id/start",
		StartRequestHandler(e, logger.With("handler", "start request")),
		"POST",
	)

	// manual tasks

	mux.Handle(
		prefix+"/tasks",
		ListTasksHandler(e, logger.With("handler", "list tasks")),
		"GET",
	)
	mux.Handle(
		prefix+"/tasks/:id/complete",
		CompleteTaskHandler(e, logger.With("handler", "complete task")),
		"POST",
	)

	// metrics

	mux.Handle(
		prefix+"/stats",
		StatsHandler(e, logger.With("handler", "stats")),
		"GET",
	)
}
