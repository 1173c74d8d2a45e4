// ABOUTME: HTTP hop dispatcher forwarding task payloads to the next agent
// ABOUTME: Injects trusted headers, collects the hop's JSON result, and self-reports

package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/attach-dev/attach-gateway/internal/auth"
)

// maxHopResponse bounds how much of a hop's reply is retained as the result.
const maxHopResponse = 4 << 20 // 4 MiB

// Dispatcher carries dispatched task payloads to their target hop.
type Dispatcher struct {
	orch    *Orchestrator
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher reporting outcomes back to orch.
func NewDispatcher(orch *Orchestrator, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		orch:    orch,
		client:  &http.Client{},
		timeout: timeout,
		logger:  slog.Default().With("component", "task.dispatcher"),
	}
}

// Forward delivers the task payload to its target and reports the outcome.
// Intended to run in its own goroutine after a successful Dispatch; the hop
// wait never holds any orchestrator lock. Any HTTP response from the hop
// completes the task; only transport failures mark it errored.
func (d *Dispatcher) Forward(t *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	result, err := d.call(ctx, t)
	if err != nil {
		d.logger.Warn("hop call failed", "task_id", t.ID, "target", t.TargetURL, "error", err)
		detail, _ := json.Marshal(map[string]string{"detail": err.Error()})
		d.report(t, false, detail)
		return
	}

	d.report(t, true, result)
}

// call POSTs the payload to the hop and returns its JSON body.
func (d *Dispatcher) call(ctx context.Context, t *Task) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.TargetURL, bytes.NewReader(t.Payload))
	if err != nil {
		return nil, fmt.Errorf("building hop request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderUser, t.OriginSubject)
	req.Header.Set(auth.HeaderSession, t.SessionID)
	req.Header.Set(auth.HeaderTask, t.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling hop: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHopResponse))
	if err != nil {
		return nil, fmt.Errorf("reading hop response: %w", err)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("hop returned non-JSON response (status %d)", resp.StatusCode)
	}
	return body, nil
}

// report records the outcome with the origin's authority: the gateway
// performed this hop on the origin subject's behalf.
func (d *Dispatcher) report(t *Task, success bool, result json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := d.orch.Report(ctx, t.ID, t.OriginSubject, success, result); err != nil {
		// An external reporter may have beaten us to the transition.
		d.logger.Warn("hop outcome not recorded", "task_id", t.ID, "error", err)
	}
}
