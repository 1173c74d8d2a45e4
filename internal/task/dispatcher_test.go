// ABOUTME: Tests for the hop dispatcher
// ABOUTME: Verifies trusted header injection and outcome reporting against a fake hop

package task

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attach-dev/attach-gateway/internal/auth"
)

func dispatchedTask(t *testing.T, o *Orchestrator, target string) *Task {
	t.Helper()
	id := testIdentity()
	created, err := o.Create(context.Background(), json.RawMessage(`{"input":"plan"}`), target, id)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	dispatched, err := o.Dispatch(context.Background(), created.ID, id.Subject)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	return dispatched
}

func TestDispatcher_SuccessfulHop(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	id := testIdentity()

	var gotUser, gotSession, gotTask, gotBody string
	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(auth.HeaderUser)
		gotSession = r.Header.Get(auth.HeaderSession)
		gotTask = r.Header.Get(auth.HeaderTask)
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"role":"assistant","content":"done"}}`))
	}))
	defer hop.Close()

	task := dispatchedTask(t, o, hop.URL)
	d := NewDispatcher(o, 5*time.Second)
	d.Forward(task)

	if gotUser != id.Subject {
		t.Errorf("%s = %q, want origin subject", auth.HeaderUser, gotUser)
	}
	if gotSession != id.SessionID {
		t.Errorf("%s = %q, want origin session", auth.HeaderSession, gotSession)
	}
	if gotTask != task.ID {
		t.Errorf("%s = %q, want task id", auth.HeaderTask, gotTask)
	}
	if gotBody != `{"input":"plan"}` {
		t.Errorf("hop body = %q", gotBody)
	}

	got, err := o.Status(task.ID, id.Subject)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got.State != StateDone {
		t.Errorf("State = %q, want done", got.State)
	}
	if string(got.Result) != `{"message":{"role":"assistant","content":"done"}}` {
		t.Errorf("Result = %s", got.Result)
	}
}

func TestDispatcher_HopErrorStatusStillCompletes(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	id := testIdentity()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"hop overloaded"}`))
	}))
	defer hop.Close()

	task := dispatchedTask(t, o, hop.URL)
	NewDispatcher(o, 5*time.Second).Forward(task)

	// The hop answered; its JSON body is the result even on a 5xx.
	got, _ := o.Status(task.ID, id.Subject)
	if got.State != StateDone {
		t.Errorf("State = %q, want done", got.State)
	}
	if string(got.Result) != `{"detail":"hop overloaded"}` {
		t.Errorf("Result = %s", got.Result)
	}
}

func TestDispatcher_TransportFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	id := testIdentity()

	// A closed server guarantees connection refused.
	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := hop.URL
	hop.Close()

	task := dispatchedTask(t, o, target)
	NewDispatcher(o, 2*time.Second).Forward(task)

	got, _ := o.Status(task.ID, id.Subject)
	if got.State != StateError {
		t.Errorf("State = %q, want error", got.State)
	}

	var detail map[string]string
	if err := json.Unmarshal(got.Result, &detail); err != nil {
		t.Fatalf("error result is not JSON: %v", err)
	}
	if detail["detail"] == "" {
		t.Error("error result missing detail")
	}
}

func TestDispatcher_NonJSONResponse(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	id := testIdentity()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer hop.Close()

	task := dispatchedTask(t, o, hop.URL)
	NewDispatcher(o, 5*time.Second).Forward(task)

	got, _ := o.Status(task.ID, id.Subject)
	if got.State != StateError {
		t.Errorf("State = %q, want error", got.State)
	}
}
