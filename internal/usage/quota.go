// ABOUTME: Per-user token quota middleware enforcing a sliding-window limit
// ABOUTME: Estimates request tokens up front and meters response tokens after

package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/attach-dev/attach-gateway/internal/auth"
)

// maxMeteredBody bounds how much request body the quota layer buffers.
const maxMeteredBody = 8 << 20 // 8 MiB

// QuotaOptions configures the quota middleware.
type QuotaOptions struct {
	// MaxTokensPerWindow denies requests once a subject's window total
	// exceeds it.
	MaxTokensPerWindow int64

	// Window is the sliding window length, echoed as Retry-After.
	Window time.Duration
}

// Quota enforces the per-subject token budget. It runs after authentication,
// so a verified identity is always on the context. Meter failures are fail
// open: a broken quota backend degrades accounting, not inference.
func Quota(meter Meter, recorder Recorder, opts QuotaOptions, next http.Handler) http.Handler {
	logger := slog.Default().With("component", "usage.quota")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.MustFromContext(r.Context())

		body, err := io.ReadAll(io.LimitReader(r.Body, maxMeteredBody))
		if err != nil {
			http.Error(w, `{"detail":"failed to read request body"}`, http.StatusBadRequest)
			return
		}
		// Replay the sampled prefix plus whatever remains past the cap, so
		// oversized bodies reach the engine intact.
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))

		inTokens := EstimateTokens(len(body))
		model := modelFromBody(body)

		total, err := meter.Consume(r.Context(), id.Subject, inTokens)
		if err != nil {
			logger.Warn("quota meter unavailable, allowing request", "error", err)
		} else if total > opts.MaxTokensPerWindow {
			w.Header().Set("Retry-After", strconv.Itoa(int(opts.Window.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"detail":"token quota exceeded"}`))
			logger.Info("request over quota", "subject", id.Subject, "window_total", total)
			return
		}

		recorder.Record(r.Context(), id.Subject, DirectionIn, model, inTokens)

		cw := &countingWriter{ResponseWriter: w}
		next.ServeHTTP(cw, r)

		outTokens := EstimateTokens(int(cw.bytes))
		if outTokens > 0 {
			// The response happened; meter it even though the request's
			// context may already be done.
			if _, err := meter.Consume(context.WithoutCancel(r.Context()), id.Subject, outTokens); err != nil {
				logger.Warn("quota meter unavailable for response accounting", "error", err)
			}
			recorder.Record(context.WithoutCancel(r.Context()), id.Subject, DirectionOut, model, outTokens)
		}
	})
}

// modelFromBody pulls the model name out of a chat-style request body.
func modelFromBody(body []byte) string {
	var payload struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Model
}

// countingWriter tallies response bytes while passing streaming through.
type countingWriter struct {
	http.ResponseWriter
	bytes int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.bytes += int64(n)
	return n, err
}

func (c *countingWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
