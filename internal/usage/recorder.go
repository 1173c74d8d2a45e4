// ABOUTME: Usage recorders emitting per-user token consumption metrics
// ABOUTME: OTel counter implementation plus a no-op for metrics-off deployments

package usage

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Direction labels which side of the exchange the tokens belong to.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Recorder emits token usage for billing and dashboards. Recording is
// observational only; it never blocks or fails a request.
type Recorder interface {
	Record(ctx context.Context, subject, direction, model string, tokens int64)
}

// NullRecorder discards all usage.
type NullRecorder struct{}

func (NullRecorder) Record(ctx context.Context, subject, direction, model string, tokens int64) {}

// OTelRecorder counts tokens on an OpenTelemetry counter, attributed by
// user, direction, and model.
type OTelRecorder struct {
	tokens metric.Int64Counter
}

// NewOTelRecorder builds a recorder on the globally registered meter
// provider. Call observability.Setup first so the counter exports.
func NewOTelRecorder() (*OTelRecorder, error) {
	meter := otel.Meter("attach-gateway/usage")
	tokens, err := meter.Int64Counter("attach.usage.tokens",
		metric.WithDescription("Tokens processed per user"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}
	return &OTelRecorder{tokens: tokens}, nil
}

// Record implements Recorder.
func (r *OTelRecorder) Record(ctx context.Context, subject, direction, model string, tokens int64) {
	if tokens <= 0 {
		return
	}
	r.tokens.Add(ctx, tokens, metric.WithAttributes(
		attribute.String("user", subject),
		attribute.String("direction", direction),
		attribute.String("model", model),
	))
}
