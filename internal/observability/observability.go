// ABOUTME: OpenTelemetry metric provider setup with OTLP gRPC export
// ABOUTME: Registers the global meter provider feeding the usage counters

package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// exportInterval is how often accumulated metrics are pushed.
const exportInterval = 15 * time.Second

// Config configures metric export.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC endpoint, e.g. "localhost:4317"
	ServiceName string
	Version     string
	Insecure    bool
}

// Provider owns the metric pipeline. A disabled provider is a valid no-op:
// usage counters still register, they just never export.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	logger        *slog.Logger
}

// Setup builds the OTLP metric pipeline and installs it as the global
// meter provider.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{logger: slog.Default().With("component", "observability")}

	if !cfg.Enabled {
		p.logger.Info("metric export disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(exportInterval),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.logger.Info("metric export enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
	)
	return p, nil
}

// Shutdown flushes pending metrics and stops the pipeline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
