// Package webhook implements a step adapter that calls an external
// provisioning service over HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/staffops/staffcycle/logkeys"
	"github.com/staffops/staffcycle/workflow"

	"github.com/micromdm/nanolib/log"
)

var ErrEmptyURL = errors.New("empty url")

// Doer executes an HTTP request.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Adapter executes one lifecycle step by POSTing its context to a
// webhook endpoint. The endpoint's JSON reply carries the step results.
type Adapter struct {
	name   string
	url    string
	apiKey string
	client Doer
	logger log.Logger
}

type Option func(*Adapter)

func WithLogger(logger log.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithClient sets the HTTP client used for webhook calls.
func WithClient(client Doer) Option {
	return func(a *Adapter) {
		a.client = client
	}
}

// WithAPIKey sets the key sent in the X-Api-Key header.
func WithAPIKey(key string) Option {
	return func(a *Adapter) {
		a.apiKey = key
	}
}

// New creates a new webhook adapter for the step named name posting to url.
func New(name, url string, opts ...Option) (*Adapter, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}
	a := &Adapter{
		name:   name,
		url:    url,
		client: http.DefaultClient,
		logger: log.NopLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logkeys.StepName, a.name)
	return a, nil
}

func (a *Adapter) Name() string {
	return a.name
}

// event is the webhook request body.
type event struct {
	RequestID  string                         `json:"request_id"`
	Lifecycle  workflow.LifecycleType         `json:"lifecycle"`
	Step       string                         `json:"step"`
	Attributes *workflow.Attributes           `json:"attributes"`
	Prior      map[string]workflow.ResultData `json:"prior,omitempty"`
}

// reply is the webhook response body.
type reply struct {
	Results workflow.ResultData `json:"results"`
	Error   string              `json:"error"`
}

// Execute posts the step context to the webhook and converts the reply
// into a step outcome. Non-2xx statuses and reply errors fail the step.
func (a *Adapter) Execute(ctx context.Context, sc *workflow.StepContext) (*workflow.StepOutcome, error) {
	body, err := json.Marshal(&event{
		RequestID:  sc.RequestID,
		Lifecycle:  sc.Lifecycle,
		Step:       sc.StepName,
		Attributes: sc.Attributes,
		Prior:      sc.Prior,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-Api-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// drain for connection reuse
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("webhook status: %d", resp.StatusCode)
	}

	var rep reply
	if err = json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if rep.Error != "" {
		return nil, fmt.Errorf("webhook error: %s", rep.Error)
	}

	a.logger.Debug(
		logkeys.Message, "executed step",
		logkeys.RequestID, sc.RequestID,
		logkeys.GenericCount, len(rep.Results),
	)

	return workflow.Done(rep.Results), nil
}
