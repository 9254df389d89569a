package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestShutdownOrderAndErrors(t *testing.T) {
	var order []string
	sc := &ShutdownCoordinator{}
	errFlush := errors.New("flush failed")

	sc.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	sc.Register("tracer", func(context.Context) error { order = append(order, "tracer"); return errFlush })
	sc.Register("metrics", func(context.Context) error { order = append(order, "metrics"); return nil })

	err := sc.Shutdown(context.Background())
	if !errors.Is(err, errFlush) || !strings.Contains(err.Error(), "tracer: ") {
		t.Fatalf("got %v, want wrapped tracer error", err)
	}
	if strings.Join(order, ",") != "metrics,tracer,store" {
		t.Errorf("order = %v", order)
	}

	// A second shutdown has nothing left to run.
	order = nil
	if err := sc.Shutdown(context.Background()); err != nil || len(order) != 0 {
		t.Errorf("second shutdown ran %v, err %v", order, err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger("info", "json", &buf)

	logger.Debug("hidden")
	logger.Info("upload finished", "transferred", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "upload finished" || rec["transferred"] != float64(3) {
		t.Errorf("record = %v", rec)
	}
}

func TestConsoleHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.With("key", "docs/a b.txt").WithGroup("block").Debug("stored",
		"size_bytes", int64(4<<20),
		"index", 2,
		slog.Group("range", "start", 0),
	)

	out := buf.String()
	for _, want := range []string{
		"DBG", "stored",
		`key="docs/a b.txt"`,
		"block.size_bytes=4.0MiB",
		"block.index=2",
		"block.range.start=0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") || strings.Count(out, "\n") != 1 {
		t.Errorf("want exactly one line: %q", out)
	}
}

func TestConsoleHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf, nil)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled by default")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info disabled by default")
	}

	var level slog.LevelVar
	level.Set(slog.LevelError)
	h = NewConsoleHandler(&buf, &slog.HandlerOptions{Level: &level})
	if h.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn enabled at error level")
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		attr slog.Attr
		want string
	}{
		{slog.Int64("size_bytes", 1536), "1.5KiB"},
		{slog.Uint64("size_bytes", 0), "0B"},
		{slog.Int64("size_bytes", -1), "-1"},
		{slog.Int64("blocks", 1536), "1536"},
		{slog.String("path", "a=b"), `"a=b"`},
		{slog.Duration("duration", 1500 * time.Millisecond), "1.5s"},
	}
	for _, tt := range tests {
		if got := formatValue(tt.attr); got != tt.want {
			t.Errorf("formatValue(%v) = %q, want %q", tt.attr, got, tt.want)
		}
	}
}

// withRecorder installs an in-memory span recorder as the global provider.
func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	return rec
}

func TestOperation(t *testing.T) {
	rec := withRecorder(t)
	var buf bytes.Buffer
	SetupLogger("debug", "json", &buf)
	m := NewMetrics()

	op, ctx := StartOperation(context.Background(), m, "upload",
		attribute.String("key", "docs/a.txt"),
		attribute.Int64("size_bytes", 5),
	)
	slog.InfoContext(ctx, "inside")
	op.End(nil)

	op, _ = StartOperation(context.Background(), m, "upload")
	op.End(errors.New("connection reset"))

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("upload", "ok")); got != 1 {
		t.Errorf("ok total = %v", got)
	}
	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("upload", "error")); got != 1 {
		t.Errorf("error total = %v", got)
	}
	if got := testutil.CollectAndCount(m.OperationDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d", len(spans))
	}
	if spans[0].Name() != "upload" || len(spans[0].Attributes()) != 2 {
		t.Errorf("span 0 = %s %v", spans[0].Name(), spans[0].Attributes())
	}
	if spans[1].Status().Description != "connection reset" || len(spans[1].Events()) != 1 {
		t.Errorf("failed span status = %+v events = %d", spans[1].Status(), len(spans[1].Events()))
	}

	logs := buf.String()
	for _, want := range []string{
		`"msg":"operation completed"`,
		`"key":"docs/a.txt"`,
		`"trace_id":"` + spans[0].SpanContext().TraceID().String() + `"`,
		`"msg":"operation failed"`,
	} {
		if !strings.Contains(logs, want) {
			t.Errorf("logs missing %s:\n%s", want, logs)
		}
	}
}

func TestNewWithoutOTLP(t *testing.T) {
	var buf bytes.Buffer
	o, err := New(context.Background(), ObsConfig{LogLevel: "info", LogFormat: "text"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if o.Logger == nil || o.Metrics == nil {
		t.Fatal("missing components")
	}
	if err := o.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestNewWithOTLP(t *testing.T) {
	for _, protocol := range []string{"http", "grpc"} {
		t.Run(protocol, func(t *testing.T) {
			t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

			o, err := New(context.Background(), ObsConfig{
				OTLPEndpoint: "127.0.0.1:1",
				OTLPProtocol: protocol,
				ServiceName:  "blobsync-test",
			}, io.Discard)
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			// Nothing was exported, so shutdown only stops the batcher.
			_ = o.Close(ctx)
		})
	}
}

func TestNewUnknownProtocol(t *testing.T) {
	_, err := New(context.Background(), ObsConfig{OTLPEndpoint: "x:1", OTLPProtocol: "udp"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "unknown protocol") {
		t.Fatalf("got %v", err)
	}
}

func TestHandler(t *testing.T) {
	o, err := New(context.Background(), ObsConfig{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	o.Metrics.TransfersTotal.WithLabelValues("upload", "chunked").Inc()

	srv := httptest.NewServer(o.Handler())
	defer srv.Close()

	body := get(t, srv.URL+"/health")
	if body != "OK" {
		t.Errorf("/health = %q", body)
	}
	body = get(t, srv.URL+"/metrics")
	if !strings.Contains(body, `blobsync_transfers_total{direction="upload",strategy="chunked"} 1`) {
		t.Errorf("/metrics missing transfer counter:\n%s", body)
	}
}

func TestServeMetrics(t *testing.T) {
	o, err := New(context.Background(), ObsConfig{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := o.ServeMetrics(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if body := get(t, "http://"+addr.String()+"/health"); body != "OK" {
		t.Errorf("/health = %q", body)
	}
	if err := o.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := http.Get("http://" + addr.String() + "/health"); err == nil {
		t.Error("server still up after Close")
	}
}

func TestServeMetricsBadAddr(t *testing.T) {
	o, err := New(context.Background(), ObsConfig{}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.ServeMetrics(context.Background(), "not-an-address"); err == nil {
		t.Fatal("expected listen error")
	}
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
