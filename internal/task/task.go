// ABOUTME: Task model and state machine definitions for A2A hand-offs
// ABOUTME: Defines states, transitions, and the orchestration error taxonomy

package task

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Orchestration errors.
var (
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when an operation does not apply to
	// the task's current state, including the loser of a report race.
	ErrInvalidTransition = errors.New("invalid task transition")

	// ErrForbidden is returned when a verified subject other than the task's
	// origin tries to act on it. Cross-subject access is default-deny.
	ErrForbidden = errors.New("subject not authorized for task")
)

// State is a task's position in the hand-off lifecycle.
type State string

const (
	StateCreated    State = "created"
	StateDispatched State = "dispatched"
	StateDone       State = "done"
	StateError      State = "error"
)

// Terminal reports whether no further transition may leave the state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Task is the unit handed between agent hops. OriginSubject and SessionID
// are stamped from the creating identity and never change afterward.
type Task struct {
	ID            string          `json:"task_id"`
	State         State           `json:"state"`
	OriginSubject string          `json:"-"`
	SessionID     string          `json:"session_id"`
	TargetURL     string          `json:"-"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`

	// MemoryRefs point at the mirror records produced during this task's
	// lifetime, in causal order of production.
	MemoryRefs []string `json:"memory_refs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newTaskID mints a short unique identifier, stable for the task's lifetime.
func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
