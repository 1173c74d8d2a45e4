// ABOUTME: Tests for the quota middleware
// ABOUTME: Covers enforcement, fail-open metering, and both-direction recording

package usage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/attach-dev/attach-gateway/internal/auth"
)

type recordedUsage struct {
	subject, direction, model string
	tokens                    int64
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []recordedUsage
}

func (c *captureRecorder) Record(ctx context.Context, subject, direction, model string, tokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, recordedUsage{subject, direction, model, tokens})
}

type brokenMeter struct{}

func (brokenMeter) Consume(ctx context.Context, subject string, n int64) (int64, error) {
	return 0, ErrMeterUnavailable
}

func quotaRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	id := &auth.Identity{Subject: "https://issuer|alice", SessionID: "sid"}
	return req.WithContext(auth.WithIdentity(req.Context(), id))
}

func okHandler(response string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(response))
	})
}

func TestQuota_AllowsUnderBudget(t *testing.T) {
	rec := &captureRecorder{}
	h := Quota(NewMemoryMeter(time.Minute), rec, QuotaOptions{MaxTokensPerWindow: 1000, Window: time.Minute},
		okHandler(`{"response":"hello"}`))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, quotaRequest(`{"model":"llama3","prompt":"hi"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	if len(rec.entries) != 2 {
		t.Fatalf("recorded %d entries, want in + out", len(rec.entries))
	}
	in, out := rec.entries[0], rec.entries[1]
	if in.direction != DirectionIn || in.model != "llama3" || in.tokens == 0 {
		t.Errorf("in entry = %+v", in)
	}
	if out.direction != DirectionOut || out.tokens == 0 {
		t.Errorf("out entry = %+v", out)
	}
}

func TestQuota_DeniesOverBudget(t *testing.T) {
	meter := NewMemoryMeter(time.Minute)
	meter.Consume(context.Background(), "https://issuer|alice", 999)

	called := false
	h := Quota(meter, NullRecorder{}, QuotaOptions{MaxTokensPerWindow: 1000, Window: time.Minute},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, quotaRequest(strings.Repeat("x", 400)))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if called {
		t.Error("handler ran for an over-quota request")
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if !strings.Contains(w.Body.String(), "quota") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestQuota_OtherSubjectUnaffected(t *testing.T) {
	meter := NewMemoryMeter(time.Minute)
	meter.Consume(context.Background(), "https://issuer|bob", 100000)

	h := Quota(meter, NullRecorder{}, QuotaOptions{MaxTokensPerWindow: 1000, Window: time.Minute},
		okHandler(`{}`))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, quotaRequest(`{"prompt":"hi"}`))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, bob's usage must not bill alice", w.Code)
	}
}

func TestQuota_FailsOpenOnMeterError(t *testing.T) {
	h := Quota(brokenMeter{}, NullRecorder{}, QuotaOptions{MaxTokensPerWindow: 10, Window: time.Minute},
		okHandler(`{}`))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, quotaRequest(strings.Repeat("x", 4000)))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, meter failure must not block inference", w.Code)
	}
}

func TestQuota_BodyReplayedToHandler(t *testing.T) {
	var seen string
	h := Quota(NewMemoryMeter(time.Minute), NullRecorder{}, QuotaOptions{MaxTokensPerWindow: 1000, Window: time.Minute},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			seen = string(body)
		}))

	h.ServeHTTP(httptest.NewRecorder(), quotaRequest(`{"prompt":"exact bytes"}`))
	if seen != `{"prompt":"exact bytes"}` {
		t.Errorf("handler saw body %q", seen)
	}
}

func TestQuota_OversizedBodyPassesThroughIntact(t *testing.T) {
	const want = maxMeteredBody + 1024

	var got int
	h := Quota(NewMemoryMeter(time.Minute), NullRecorder{},
		QuotaOptions{MaxTokensPerWindow: 1 << 40, Window: time.Minute},
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				t.Errorf("reading body: %v", err)
			}
			got = len(body)
		}))

	h.ServeHTTP(httptest.NewRecorder(), quotaRequest(strings.Repeat("x", want)))
	if got != want {
		t.Errorf("handler received %d bytes, want %d", got, want)
	}
}
