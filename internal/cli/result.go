package cli

import (
	"fmt"
	"io"
)

// Result is a one-line message followed by ordered details, used for
// single-object outcomes such as a download. Created via Output.Result().
type Result struct {
	out     *Output
	meta    Meta
	message string
	details pairs
}

// With adds a detail key-value pair.
func (r *Result) With(key string, value any) *Result {
	r.details.add(key, value)
	return r
}

func (r *Result) Render() error { return r.out.Render(r) }
func (r *Result) Meta() Meta    { return r.meta }

// RenderText writes the message then the details indented with their
// values aligned.
func (r *Result) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintln(w, r.message); err != nil {
		return err
	}
	width := 0
	for _, d := range r.details {
		width = max(width, len(d.key)+1)
	}
	for _, d := range r.details {
		if _, err := fmt.Fprintf(w, "  %-*s  %v\n", width, d.key+":", d.value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Result) RenderJSON() any {
	return r.details.object(map[string]any{"message": r.message})
}

func (r *Result) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "**%s**\n\n", r.message); err != nil {
		return err
	}
	return r.details.markdown().writeEach(w, "- **%s:** %v\n")
}

// Error renders a failed command. Created via Output.Error().
type Error struct {
	out     *Output
	meta    Meta
	err     error
	code    string
	details pairs
}

// WithCode sets a short machine-readable code shown next to the message.
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

// With adds a detail key-value pair.
func (e *Error) With(key string, value any) *Error {
	e.details.add(key, value)
	return e
}

func (e *Error) Render() error { return e.out.Render(e) }
func (e *Error) Meta() Meta    { return e.meta }

func (e *Error) label() string {
	if e.code == "" {
		return "Error"
	}
	return "Error [" + e.code + "]"
}

func (e *Error) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s: %v\n", e.label(), e.err); err != nil {
		return err
	}
	return e.details.writeEach(w, "  %s: %v\n")
}

func (e *Error) RenderJSON() any {
	result := map[string]any{"error": e.err.Error()}
	if e.code != "" {
		result["code"] = e.code
	}
	return e.details.object(result)
}

func (e *Error) RenderMarkdown(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "> **%s:** %v\n", e.label(), e.err); err != nil {
		return err
	}
	if len(e.details) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return e.details.writeEach(w, "- %s: %v\n")
}
