// Package observability wires logging, tracing and Prometheus metrics for a
// blobsync run.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ObsConfig is the config subset needed by the observability package.
type ObsConfig struct {
	LogLevel       string
	LogFormat      string
	OTLPEndpoint   string
	OTLPProtocol   string
	ServiceName    string
	ServiceVersion string
}

// Observability holds the logger, the metrics and the cleanup they need.
type Observability struct {
	Logger   *slog.Logger
	Metrics  *Metrics
	Shutdown *ShutdownCoordinator
}

// New sets up the default logger and a fresh metrics registry. Tracing is
// exported over OTLP only when cfg.OTLPEndpoint is set; otherwise the
// global no-op tracer stays in place.
func New(ctx context.Context, cfg ObsConfig, w io.Writer) (*Observability, error) {
	o := &Observability{
		Logger:   SetupLogger(cfg.LogLevel, cfg.LogFormat, w),
		Metrics:  NewMetrics(),
		Shutdown: &ShutdownCoordinator{},
	}

	if cfg.OTLPEndpoint == "" {
		slog.DebugContext(ctx, "tracing disabled (no otlp_endpoint configured)")
		return o, nil
	}
	tp, err := InitTracer(ctx, TracerConfig{
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	o.Shutdown.Register("tracer", tp.Shutdown)
	slog.DebugContext(ctx, "tracing enabled", "endpoint", cfg.OTLPEndpoint, "protocol", cfg.OTLPProtocol)
	return o, nil
}

// Close flushes traces and stops the metrics server.
func (o *Observability) Close(ctx context.Context) error {
	return o.Shutdown.Shutdown(ctx)
}

// Handler serves /metrics from the registry and a liveness probe on /health.
func (o *Observability) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "OK")
	})
	return mux
}

// ServeMetrics serves Handler on addr until Close. The listener is bound
// before returning, so an unusable address is reported to the caller.
func (o *Observability) ServeMetrics(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: o.Handler()}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.InfoContext(ctx, "serving metrics", "addr", ln.Addr().String())

	o.Shutdown.Register("metrics-server", srv.Shutdown)
	return ln.Addr(), nil
}
