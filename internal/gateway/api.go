// ABOUTME: HTTP API handlers for health, auth discovery, task hand-off, and memory queries
// ABOUTME: Everything not matching a named route proxies through to the engine

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/attach-dev/attach-gateway/internal/auth"
	"github.com/attach-dev/attach-gateway/internal/mem"
	"github.com/attach-dev/attach-gateway/internal/proxy"
	"github.com/attach-dev/attach-gateway/internal/task"
	"github.com/attach-dev/attach-gateway/internal/usage"
)

// defaultTargetPath is where task payloads land when the caller names no
// target of its own.
const defaultTargetPath = "/api/chat"

// TaskSendRequest is the JSON request body for POST /a2a/tasks/send.
type TaskSendRequest struct {
	// Input is the work being handed off. Required; forwarded verbatim to
	// the target hop.
	Input json.RawMessage `json:"input"`

	// Target overrides the hop URL. Defaults to the engine's chat endpoint.
	Target string `json:"target,omitempty"`
}

// TaskReportRequest is the JSON request body for POST /a2a/tasks/{id}/report.
type TaskReportRequest struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// AuthConfigResponse is the JSON response for GET /auth/config, enough for
// a client to start an OIDC flow against the right issuer.
type AuthConfigResponse struct {
	Issuer   string `json:"issuer"`
	Audience string `json:"audience"`
}

// routes builds the full handler chain: header strip + verification at the
// edge, then per-route handlers, with the engine proxy as the catch-all.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", g.handleHealth)
	mux.HandleFunc("GET /auth/config", g.handleAuthConfig)

	mux.HandleFunc("POST /a2a/tasks/send", g.handleTaskSend)
	mux.HandleFunc("POST /a2a/tasks/{id}/dispatch", g.handleTaskDispatch)
	mux.HandleFunc("POST /a2a/tasks/{id}/report", g.handleTaskReport)
	mux.HandleFunc("GET /a2a/tasks/status/{id}", g.handleTaskStatus)

	mux.HandleFunc("GET /mem/events", g.handleMemEvents)

	// Inference traffic pays quota; the control surface above does not.
	proxyHandler := http.HandlerFunc(g.handleProxy)
	if g.meter != nil {
		mux.Handle("/", usage.Quota(g.meter, g.recorder, usage.QuotaOptions{
			MaxTokensPerWindow: int64(g.config.Quota.MaxTokensPerMin),
			Window:             g.config.Quota.Window,
		}, proxyHandler))
	} else {
		mux.Handle("/", proxyHandler)
	}

	return auth.Middleware(g.verifier, publicPaths)(mux)
}

// handleHealth reports liveness. Public.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthConfig exposes the verification parameters clients need.
// Public: a caller without a credential yet is exactly who asks.
func (g *Gateway) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, AuthConfigResponse{
		Issuer:   g.config.Auth.Issuer,
		Audience: g.config.Auth.Audience,
	})
}

// handleTaskSend creates a task bound to the caller's identity. The task
// stays in created until the caller dispatches it.
func (g *Gateway) handleTaskSend(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req TaskSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Input) == 0 {
		g.sendError(w, http.StatusBadRequest, "input is required")
		return
	}

	target := req.Target
	if target == "" {
		target = g.config.Engine.URL + defaultTargetPath
	}

	t, err := g.orch.Create(r.Context(), req.Input, target, id)
	if err != nil {
		g.taskError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, t)
}

// handleTaskDispatch flips the task to dispatched and forwards the payload
// to its target in the background.
func (g *Gateway) handleTaskDispatch(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	t, err := g.orch.Dispatch(r.Context(), r.PathValue("id"), id.Subject)
	if err != nil {
		g.taskError(w, err)
		return
	}

	go g.dispatcher.Forward(t)
	g.writeJSON(w, http.StatusOK, t)
}

// handleTaskReport records a hop outcome delivered by the caller rather
// than by the gateway's own dispatcher.
func (g *Gateway) handleTaskReport(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req TaskReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var success bool
	switch req.Status {
	case string(task.StateDone):
		success = true
	case string(task.StateError):
		success = false
	default:
		g.sendError(w, http.StatusBadRequest, `status must be "done" or "error"`)
		return
	}

	t, err := g.orch.Report(r.Context(), r.PathValue("id"), id.Subject, success, req.Result)
	if err != nil {
		g.taskError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, t)
}

// handleTaskStatus reads the task without changing it.
func (g *Gateway) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	t, err := g.orch.Status(r.PathValue("id"), id.Subject)
	if err != nil {
		g.taskError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, t)
}

// handleMemEvents queries the memory mirror. The verified subject always
// bounds the query: session and task parameters narrow within the caller's
// own history, never into another subject's.
func (g *Gateway) handleMemEvents(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	q := r.URL.Query()
	filter := mem.Filter{
		Subject:   id.Subject,
		SessionID: q.Get("session"),
		TaskID:    q.Get("task"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			g.sendError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	events, err := g.mirror.List(r.Context(), filter)
	if err != nil {
		g.sendError(w, http.StatusServiceUnavailable, "memory backend unavailable")
		return
	}
	if events == nil {
		events = []*mem.Event{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// maxMirroredBody bounds how much of a proxied prompt is mirrored.
const maxMirroredBody = 1 << 20 // 1 MiB

// handleProxy relays everything else to the engine. Prompt bodies are
// mirrored in the background so a session's history survives the exchange.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMirroredBody))
		if err != nil {
			g.sendError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		// Replay the sampled prefix plus whatever remains past the cap.
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))

		mem.WriteAsync(g.mirror, g.logger, &mem.Event{
			Role:      mem.RoleUser,
			Content:   string(body),
			Subject:   id.Subject,
			SessionID: id.SessionID,
		})
	}

	if err := g.proxy.Forward(w, r, id); err != nil {
		if errors.Is(err, proxy.ErrUpstreamUnavailable) {
			g.sendError(w, http.StatusBadGateway, "engine unavailable")
			return
		}
		g.sendError(w, http.StatusInternalServerError, "proxy failure")
	}
}

// taskError maps orchestration errors onto HTTP status codes.
func (g *Gateway) taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		g.sendError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, task.ErrForbidden):
		g.sendError(w, http.StatusForbidden, "not authorized for task")
	case errors.Is(err, task.ErrInvalidTransition):
		g.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mem.ErrMirrorUnavailable):
		g.sendError(w, http.StatusServiceUnavailable, "memory backend unavailable")
	default:
		g.logger.Error("task operation failed", "error", err)
		g.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendError writes a JSON error body matching the auth layer's shape.
func (g *Gateway) sendError(w http.ResponseWriter, status int, detail string) {
	g.writeJSON(w, status, map[string]string{"detail": detail})
}
