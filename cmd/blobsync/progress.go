package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-isatty"
	"github.com/muesli/reflow/truncate"
	"golang.org/x/term"
)

// progressMode selects how transfer progress is displayed.
type progressMode string

const (
	progressAuto  progressMode = "auto"
	progressTTY   progressMode = "tty"
	progressPlain progressMode = "plain"
)

const (
	defaultTermWidth = 80
	barWidth         = 30
	minLabelWidth    = 12
	maxLabelWidth    = 48
)

func parseProgressMode(s string) (progressMode, error) {
	switch m := progressMode(s); m {
	case progressAuto, progressTTY, progressPlain:
		return m, nil
	case "":
		return progressAuto, nil
	default:
		return "", fmt.Errorf("--progress must be auto, tty or plain, got %q", s)
	}
}

// fdWriter is implemented by *os.File.
type fdWriter interface {
	io.Writer
	Fd() uintptr
}

// progressPrinter is a transfer.ProgressSink that draws progress on w.
// In tty mode one line is redrawn in place; otherwise every event is a
// line of its own. It is safe for concurrent use.
type progressPrinter struct {
	mu         sync.Mutex
	w          io.Writer
	tty        bool
	bar        progress.Model
	labelWidth int

	// line state in tty mode
	current string
	done    bool
	dirty   bool
}

func newProgressPrinter(w io.Writer, mode progressMode) *progressPrinter {
	p := &progressPrinter{w: w}
	switch mode {
	case progressTTY:
		p.tty = true
	case progressAuto:
		p.tty = isTerminal(w)
	}
	if p.tty {
		p.bar = progress.New(progress.WithDefaultGradient(), progress.WithWidth(barWidth))
		p.labelWidth = min(max(terminalWidth(w)-barWidth-24, minLabelWidth), maxLabelWidth)
	}
	return p
}

// Report implements transfer.ProgressSink.
func (p *progressPrinter) Report(path, message string, fraction float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tty {
		fmt.Fprintf(p.w, "%s: %s (%.0f%%)\n", path, message, fraction*100)
		return
	}

	// Keep a finished file's final line; overwrite anything in flight.
	if p.dirty && path != p.current && p.done {
		fmt.Fprintln(p.w)
	}
	label := truncate.StringWithTail(path, uint(p.labelWidth), "…")
	fmt.Fprintf(p.w, "\r\x1b[2K%s %s %s",
		pathStyle.Width(p.labelWidth).Render(label),
		p.bar.ViewAs(fraction),
		messageStyle.Render(message),
	)
	p.current = path
	p.done = fraction >= 1
	p.dirty = true
}

// Done terminates a line left open in tty mode.
func (p *progressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dirty {
		fmt.Fprintln(p.w)
		p.dirty = false
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(fdWriter)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(fdWriter)
	if !ok {
		return defaultTermWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultTermWidth
	}
	return width
}
