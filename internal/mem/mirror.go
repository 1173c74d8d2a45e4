// ABOUTME: Memory mirror interface and event model for prompt/response recording
// ABOUTME: Events are write-once and keyed by identity, session, and task

package mem

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrMirrorUnavailable is returned when the backing store cannot accept or
// serve events. The request path treats it as non-fatal unless the
// deployment is configured fail-closed.
var ErrMirrorUnavailable = errors.New("memory mirror unavailable")

// ErrEventNotFound is returned when a requested event ref does not exist.
var ErrEventNotFound = errors.New("memory event not found")

// Event roles mirror the chat-completions convention.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Event is a single mirrored interaction. Write-once, append-only; backends
// owe no update or delete contract.
type Event struct {
	Ref       string    `json:"ref"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Subject   string    `json:"subject"`
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows a List query. Zero fields match everything. Subject is the
// access-control dimension: callers serving one verified identity must set
// it so a query can never cross into another subject's history.
type Filter struct {
	Subject   string
	SessionID string
	TaskID    string
	Limit     int
}

// Mirror is the pluggable store events are recorded to. Implementations must
// be safe for concurrent use.
type Mirror interface {
	// Write persists the event and returns its ref. A zero Ref/Timestamp is
	// filled in by the backend.
	Write(ctx context.Context, event *Event) (string, error)

	// Read fetches a single event by ref.
	Read(ctx context.Context, ref string) (*Event, error)

	// List returns events matching the filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*Event, error)
}

// writeTimeout bounds background mirror writes so a stalled backend cannot
// accumulate goroutines.
const writeTimeout = 10 * time.Second

// WriteAsync records an event without blocking the request path. Failures
// are logged and dropped; callers needing the ref or fail-closed behavior
// use Mirror.Write directly.
func WriteAsync(m Mirror, logger *slog.Logger, event *Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if _, err := m.Write(ctx, event); err != nil {
			logger.Warn("memory mirror write failed",
				"role", event.Role,
				"session_id", event.SessionID,
				"task_id", event.TaskID,
				"error", err,
			)
		}
	}()
}
