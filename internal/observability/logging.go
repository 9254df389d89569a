package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/trace"
)

// SetupLogger builds the process logger and installs it as the slog
// default. format "json" writes JSON lines; anything else writes the
// compact console format.
func SetupLogger(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = NewConsoleHandler(w, opts)
	}

	logger := slog.New(&TraceHandler{Handler: handler})
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TraceHandler adds trace_id and span_id to records logged inside a span.
type TraceHandler struct {
	slog.Handler
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

var levelStyles = map[slog.Level]lipgloss.Style{
	slog.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	slog.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	slog.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	slog.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

// ConsoleHandler writes one short line per record:
//
//	15:04:05 INF upload finished transferred=3 size_bytes=12MiB
//
// Attributes whose key ends in _bytes are shown in IEC units.
type ConsoleHandler struct {
	level  slog.Leveler
	w      io.Writer
	mu     *sync.Mutex
	prefix string // group prefix for attributes added later
	attrs  string // preformatted attributes from WithAttrs
}

// NewConsoleHandler returns a ConsoleHandler writing to w.
func NewConsoleHandler(w io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ConsoleHandler{level: level, w: w, mu: &sync.Mutex{}}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.prefix, a)
	}
	c := *h
	c.attrs = b.String()
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	fmt.Fprintf(b, " %s%s=%s", prefix, a.Key, formatValue(a))
}

func formatValue(a slog.Attr) string {
	v := a.Value
	if strings.HasSuffix(a.Key, "_bytes") {
		switch v.Kind() {
		case slog.KindInt64:
			if n := v.Int64(); n >= 0 {
				return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
			}
		case slog.KindUint64:
			return strings.ReplaceAll(humanize.IBytes(v.Uint64()), " ", "")
		}
	}
	s := v.String()
	if strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func levelTag(l slog.Level) string {
	var tag string
	var style lipgloss.Style
	switch {
	case l >= slog.LevelError:
		tag, style = "ERR", levelStyles[slog.LevelError]
	case l >= slog.LevelWarn:
		tag, style = "WRN", levelStyles[slog.LevelWarn]
	case l >= slog.LevelInfo:
		tag, style = "INF", levelStyles[slog.LevelInfo]
	default:
		tag, style = "DBG", levelStyles[slog.LevelDebug]
	}
	return style.Render(tag)
}
