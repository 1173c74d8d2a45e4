// ABOUTME: Gateway orchestrator wiring verification, sessions, tasks, and the proxy
// ABOUTME: Manages component construction and HTTP server lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/attach-dev/attach-gateway/internal/auth"
	"github.com/attach-dev/attach-gateway/internal/config"
	"github.com/attach-dev/attach-gateway/internal/mem"
	"github.com/attach-dev/attach-gateway/internal/observability"
	"github.com/attach-dev/attach-gateway/internal/proxy"
	"github.com/attach-dev/attach-gateway/internal/task"
	"github.com/attach-dev/attach-gateway/internal/usage"
)

// publicPaths bypass credential verification. Everything else on the server
// requires a verified identity.
var publicPaths = []string{"/healthz", "/auth/config"}

// Gateway owns the identity side-car's components and HTTP server.
type Gateway struct {
	config     *config.Config
	verifier   auth.Verifier
	mirror     mem.Mirror
	orch       *task.Orchestrator
	dispatcher *task.Dispatcher
	proxy      *proxy.Proxy
	meter      usage.Meter
	recorder   usage.Recorder
	metrics    *observability.Provider
	httpServer *http.Server
	logger     *slog.Logger
}

// New assembles a gateway from configuration. Construction touches the
// network once, to fetch the OIDC issuer's JWKS.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	g := &Gateway{
		config: cfg,
		logger: logger.With("component", "gateway"),
	}

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		return nil, err
	}
	g.verifier = verifier

	mirror, err := buildMirror(cfg)
	if err != nil {
		return nil, err
	}
	g.mirror = mirror

	g.orch = task.NewOrchestrator(mirror, task.Options{
		TTL:        cfg.Tasks.TTL,
		FailClosed: cfg.Memory.FailClosed,
	})
	g.dispatcher = task.NewDispatcher(g.orch, cfg.Tasks.DispatchTimeout)

	g.proxy, err = proxy.New(cfg.Engine.URL)
	if err != nil {
		return nil, fmt.Errorf("creating engine proxy: %w", err)
	}

	g.metrics, err = observability.Setup(ctx, observability.Config{
		Enabled:     cfg.Metrics.Enabled,
		Endpoint:    cfg.Metrics.Endpoint,
		ServiceName: cfg.Metrics.ServiceName,
		Insecure:    cfg.Metrics.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up metrics: %w", err)
	}

	if err := g.buildUsage(cfg); err != nil {
		return nil, err
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// buildVerifier assembles the multi-format credential verifier.
func buildVerifier(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	oidc, err := auth.NewOIDCVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.ClockSkew)
	if err != nil {
		return nil, fmt.Errorf("creating OIDC verifier: %w", err)
	}
	return auth.NewMultiVerifier(
		oidc,
		auth.NewDIDKeyVerifier(cfg.Auth.ClockSkew),
		auth.NewDIDPKHVerifier(cfg.Auth.ClockSkew),
	), nil
}

// buildMirror selects the memory backend.
func buildMirror(cfg *config.Config) (mem.Mirror, error) {
	switch cfg.Memory.Backend {
	case "sqlite":
		m, err := mem.NewSQLiteMirror(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("opening memory mirror: %w", err)
		}
		return m, nil
	case "none", "":
		return mem.NewNullMirror(), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Memory.Backend)
	}
}

// buildUsage selects the quota meter backend and usage recorder.
func (g *Gateway) buildUsage(cfg *config.Config) error {
	if !cfg.Quota.Enabled {
		g.meter = nil
		g.recorder = usage.NullRecorder{}
		return nil
	}

	switch cfg.Quota.Backend {
	case "redis":
		m, err := usage.NewRedisMeter(cfg.Quota.RedisURL, cfg.Quota.Window)
		if err != nil {
			return fmt.Errorf("creating redis meter: %w", err)
		}
		g.meter = m
	case "memory", "":
		g.meter = usage.NewMemoryMeter(cfg.Quota.Window)
	default:
		return fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
	}

	if cfg.Metrics.Enabled {
		rec, err := usage.NewOTelRecorder()
		if err != nil {
			return fmt.Errorf("creating usage recorder: %w", err)
		}
		g.recorder = rec
	} else {
		g.recorder = usage.NullRecorder{}
	}
	return nil
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Graceful shutdown runs in both cases.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening",
			"addr", ln.Addr().String(),
			"engine", g.config.Engine.URL,
		)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the server and releases component resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.orch.Close()

	if closer, ok := g.mirror.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mirror close: %w", err))
		}
	}
	if closer, ok := g.meter.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("meter close: %w", err))
		}
	}
	if err := g.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
