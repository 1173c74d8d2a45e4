// ABOUTME: Task orchestrator implementing the hand-off state machine
// ABOUTME: Per-entry locking gives at-most-once transitions without global contention

package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/attach-dev/attach-gateway/internal/auth"
	"github.com/attach-dev/attach-gateway/internal/mem"
)

// sweepInterval is how often the eviction loop scans for stale tasks.
const sweepInterval = time.Minute

// entry pairs a task with its own lock so transitions on unrelated tasks
// never contend.
type entry struct {
	mu   sync.Mutex
	task Task
}

// Options configures an Orchestrator.
type Options struct {
	// TTL evicts tasks whose last update is older than this. Zero disables
	// eviction (tests).
	TTL time.Duration

	// FailClosed turns mirror write failures into operation errors instead
	// of log-and-continue.
	FailClosed bool
}

// Orchestrator owns the task table and is the only mutator of task state.
type Orchestrator struct {
	mu    sync.RWMutex
	tasks map[string]*entry

	mirror     mem.Mirror
	failClosed bool
	ttl        time.Duration
	logger     *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewOrchestrator creates an orchestrator mirroring to m.
func NewOrchestrator(m mem.Mirror, opts Options) *Orchestrator {
	o := &Orchestrator{
		tasks:      make(map[string]*entry),
		mirror:     m,
		failClosed: opts.FailClosed,
		ttl:        opts.TTL,
		logger:     slog.Default().With("component", "task"),
		done:       make(chan struct{}),
	}
	if o.ttl > 0 {
		go o.sweep()
	}
	return o
}

// Create allocates a task bound to the creating identity. The creating
// payload is mirrored before the task becomes visible, so no observer can
// ever see a task without its originating memory record.
func (o *Orchestrator) Create(ctx context.Context, payload json.RawMessage, targetURL string, id *auth.Identity) (*Task, error) {
	t := Task{
		ID:            newTaskID(),
		State:         StateCreated,
		OriginSubject: id.Subject,
		SessionID:     id.SessionID,
		TargetURL:     targetURL,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
	t.UpdatedAt = t.CreatedAt

	ref, err := o.mirrorWrite(ctx, &mem.Event{
		Role:      mem.RoleUser,
		Content:   string(payload),
		Subject:   t.OriginSubject,
		SessionID: t.SessionID,
		TaskID:    t.ID,
	})
	if err != nil {
		return nil, err
	}
	if ref != "" {
		t.MemoryRefs = append(t.MemoryRefs, ref)
	}

	o.mu.Lock()
	o.tasks[t.ID] = &entry{task: t}
	o.mu.Unlock()

	o.logger.Info("task created", "task_id", t.ID, "session_id", t.SessionID)
	return snapshot(&t), nil
}

// Dispatch transitions created→dispatched. A second dispatch of the same
// task is rejected, protecting against duplicate hop invocation.
func (o *Orchestrator) Dispatch(ctx context.Context, taskID, subject string) (*Task, error) {
	e, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.OriginSubject != subject {
		return nil, ErrForbidden
	}
	if e.task.State != StateCreated {
		return nil, fmt.Errorf("%w: cannot dispatch task in state %q", ErrInvalidTransition, e.task.State)
	}

	e.task.State = StateDispatched
	e.task.UpdatedAt = time.Now().UTC()

	o.logger.Info("task dispatched", "task_id", taskID, "target", e.task.TargetURL)
	return snapshot(&e.task), nil
}

// Report transitions dispatched→done (success) or dispatched→error. A
// failure may also be reported against a created task, abandoning it
// without a dispatch; success cannot, since nothing ran. The outcome is
// mirrored before the state flips so "what happened" is always durable
// before "task marked complete". Of two concurrent reporters the first to
// observe a reportable state wins; the loser gets ErrInvalidTransition.
func (o *Orchestrator) Report(ctx context.Context, taskID, subject string, success bool, result json.RawMessage) (*Task, error) {
	e, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.OriginSubject != subject {
		return nil, ErrForbidden
	}
	reportable := e.task.State == StateDispatched || (e.task.State == StateCreated && !success)
	if !reportable {
		return nil, fmt.Errorf("%w: cannot report task in state %q", ErrInvalidTransition, e.task.State)
	}

	ref, err := o.mirrorWrite(ctx, &mem.Event{
		Role:      mem.RoleAssistant,
		Content:   string(result),
		Subject:   e.task.OriginSubject,
		SessionID: e.task.SessionID,
		TaskID:    e.task.ID,
	})
	if err != nil {
		// Fail-closed: the transition does not happen without its record.
		return nil, err
	}
	if ref != "" {
		e.task.MemoryRefs = append(e.task.MemoryRefs, ref)
	}

	if success {
		e.task.State = StateDone
	} else {
		e.task.State = StateError
	}
	e.task.Result = result
	e.task.UpdatedAt = time.Now().UTC()

	o.logger.Info("task reported", "task_id", taskID, "state", e.task.State)
	return snapshot(&e.task), nil
}

// Status returns a read-only snapshot of the task. No state change.
func (o *Orchestrator) Status(taskID, subject string) (*Task, error) {
	e, err := o.lookup(taskID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.task.OriginSubject != subject {
		return nil, ErrForbidden
	}
	return snapshot(&e.task), nil
}

// Close stops the eviction loop.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// lookup finds the entry for a task id.
func (o *Orchestrator) lookup(taskID string) (*entry, error) {
	o.mu.RLock()
	e, ok := o.tasks[taskID]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound
	}
	return e, nil
}

// mirrorWrite records an event and applies the fail-open/fail-closed policy.
// Returns the ref, or "" when the failure was swallowed fail-open.
func (o *Orchestrator) mirrorWrite(ctx context.Context, event *mem.Event) (string, error) {
	ref, err := o.mirror.Write(ctx, event)
	if err == nil {
		return ref, nil
	}
	if o.failClosed {
		return "", fmt.Errorf("%w: %v", mem.ErrMirrorUnavailable, err)
	}
	o.logger.Warn("mirror write failed, continuing", "task_id", event.TaskID, "error", err)
	return "", nil
}

// sweep periodically evicts tasks whose last update is older than the TTL,
// keeping the table bounded. Retention of mirrored events is the memory
// backend's concern; only the in-memory task row is dropped.
func (o *Orchestrator) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.evictExpired()
		}
	}
}

// evictExpired removes entries older than the TTL.
func (o *Orchestrator) evictExpired() {
	cutoff := time.Now().UTC().Add(-o.ttl)

	o.mu.Lock()
	defer o.mu.Unlock()

	for id, e := range o.tasks {
		e.mu.Lock()
		stale := e.task.UpdatedAt.Before(cutoff)
		state := e.task.State
		e.mu.Unlock()

		if stale {
			delete(o.tasks, id)
			o.logger.Debug("task evicted", "task_id", id, "state", state)
		}
	}
}

// snapshot copies a task so callers cannot mutate orchestrator state.
func snapshot(t *Task) *Task {
	cp := *t
	cp.MemoryRefs = append([]string(nil), t.MemoryRefs...)
	return &cp
}
