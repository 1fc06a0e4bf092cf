package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/staffops/staffcycle/workflow"
)

func testStepContext() *workflow.StepContext {
	return &workflow.StepContext{
		RequestID: "req-1",
		Lifecycle: workflow.Onboarding,
		StepID:    "step-1",
		StepName:  workflow.StepDirectoryAccount,
		Attributes: &workflow.Attributes{
			Name:  "Avery Chen",
			Email: "avery.chen@example.com",
		},
		Prior: map[string]workflow.ResultData{
			"earlier": {"k": "v"},
		},
	}
}

func TestWebhookExecute(t *testing.T) {
	var got event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if have, want := r.Header.Get("X-Api-Key"), "secret"; have != want {
			t.Errorf("[api key] have: %v, want: %v", have, want)
		}
		if have, want := r.Header.Get("Content-Type"), "application/json"; have != want {
			t.Errorf("[content type] have: %v, want: %v", have, want)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(&reply{
			Results: workflow.ResultData{"account_id": "achen"},
		})
	}))
	defer server.Close()

	a, err := New(workflow.StepDirectoryAccount, server.URL, WithAPIKey("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if have, want := a.Name(), workflow.StepDirectoryAccount; have != want {
		t.Errorf("[name] have: %v, want: %v", have, want)
	}

	outcome, err := a.Execute(context.Background(), testStepContext())
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Pending {
		t.Error("outcome should not be pending")
	}
	if have, want := outcome.Results["account_id"], "achen"; have != want {
		t.Errorf("[results] have: %v, want: %v", have, want)
	}

	if have, want := got.RequestID, "req-1"; have != want {
		t.Errorf("[request id] have: %v, want: %v", have, want)
	}
	if have, want := got.Step, workflow.StepDirectoryAccount; have != want {
		t.Errorf("[step] have: %v, want: %v", have, want)
	}
	if have, want := got.Attributes.Email, "avery.chen@example.com"; have != want {
		t.Errorf("[email] have: %v, want: %v", have, want)
	}
	if have, want := got.Prior["earlier"]["k"], "v"; have != want {
		t.Errorf("[prior] have: %v, want: %v", have, want)
	}
}

func TestWebhookExecuteErrors(t *testing.T) {
	if _, err := New("step", ""); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("have: %v, want: %v", err, ErrEmptyURL)
	}

	// a non-2xx status fails the step
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()
	a, err := New("step", server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = a.Execute(context.Background(), testStepContext()); err == nil {
		t.Error("expected error for bad status")
	}

	// a reply carrying an error string fails the step
	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(&reply{Error: "directory unavailable"})
	}))
	defer server2.Close()
	a, err = New("step", server2.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = a.Execute(context.Background(), testStepContext()); err == nil {
		t.Error("expected error for reply error")
	}
}
