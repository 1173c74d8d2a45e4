// ABOUTME: Sliding-window token meters for per-user quota accounting
// ABOUTME: In-memory implementation for single instances, Redis for fleets

package usage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMeterUnavailable indicates the meter backend could not be reached.
// Quota enforcement fails open on it.
var ErrMeterUnavailable = errors.New("usage meter unavailable")

// Meter accumulates token consumption per subject over a sliding window.
type Meter interface {
	// Consume records n tokens for the subject and returns the subject's
	// total within the window, including this consumption.
	Consume(ctx context.Context, subject string, n int64) (int64, error)
}

// EstimateTokens approximates the token count of a request or response body.
// Four bytes per token tracks common LLM tokenizers closely enough for
// quota purposes; exact counts come from the engine's own accounting.
func EstimateTokens(byteLen int) int64 {
	if byteLen <= 0 {
		return 0
	}
	n := int64(byteLen) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// sample is one consumption event inside the window.
type sample struct {
	at     time.Time
	tokens int64
}

// MemoryMeter is a process-local sliding-window meter. Suitable for a
// single gateway instance; use RedisMeter when replicas share a quota.
type MemoryMeter struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[string][]sample
	now     func() time.Time
}

// NewMemoryMeter creates a meter with the given sliding window.
func NewMemoryMeter(window time.Duration) *MemoryMeter {
	return &MemoryMeter{
		window:  window,
		buckets: make(map[string][]sample),
		now:     time.Now,
	}
}

// Consume implements Meter.
func (m *MemoryMeter) Consume(ctx context.Context, subject string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	kept := m.buckets[subject][:0]
	for _, s := range m.buckets[subject] {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	if n > 0 {
		kept = append(kept, sample{at: now, tokens: n})
	}

	if len(kept) == 0 {
		delete(m.buckets, subject)
		return 0, nil
	}
	m.buckets[subject] = kept

	var total int64
	for _, s := range kept {
		total += s.tokens
	}
	return total, nil
}
