// ABOUTME: No-op memory mirror used when no backend is configured
// ABOUTME: Accepts writes, retains nothing

package mem

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NullMirror discards every event. It still hands out refs so callers can
// treat the mirror uniformly regardless of backend.
type NullMirror struct{}

// NewNullMirror creates a mirror that retains nothing.
func NewNullMirror() *NullMirror {
	return &NullMirror{}
}

func (n *NullMirror) Write(ctx context.Context, event *Event) (string, error) {
	if event.Ref == "" {
		event.Ref = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event.Ref, nil
}

func (n *NullMirror) Read(ctx context.Context, ref string) (*Event, error) {
	return nil, ErrEventNotFound
}

func (n *NullMirror) List(ctx context.Context, filter Filter) ([]*Event, error) {
	return []*Event{}, nil
}
