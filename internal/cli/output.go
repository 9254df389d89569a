// Package cli renders command results as text tables, JSON envelopes or
// markdown, and runs commands with signal handling and timeouts.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat parses a format string. The empty string means text.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or markdown)", s)
	}
}

// Meta describes a rendered result.
type Meta struct {
	Type      string    `json:"type" yaml:"type"`
	Version   string    `json:"version,omitempty" yaml:"version,omitempty"`
	Generated time.Time `json:"generated" yaml:"generated"`
}

// NewMeta creates metadata with the given type and current timestamp.
func NewMeta(resultType string) Meta {
	return Meta{
		Type:      resultType,
		Version:   "v1",
		Generated: time.Now().UTC(),
	}
}

// Renderable can render itself in multiple formats.
type Renderable interface {
	Meta() Meta
	RenderText(w io.Writer) error
	RenderJSON() any
	RenderMarkdown(w io.Writer) error
}

// Output handles formatted rendering with automatic envelope/frontmatter.
type Output struct {
	format Format
	w      io.Writer
}

// NewOutput creates an output renderer for the given format.
func NewOutput(format Format, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Format returns the configured output format.
func (o *Output) Format() Format {
	return o.format
}

// Writer returns the destination writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Table creates a new table renderer attached to this output.
func (o *Output) Table(resultType string, headers ...string) *Table {
	return &Table{
		out:     o,
		meta:    NewMeta(resultType),
		headers: headers,
	}
}

// KV creates a new key-value renderer attached to this output.
func (o *Output) KV(resultType string) *KV {
	return &KV{
		out:  o,
		meta: NewMeta(resultType),
	}
}

// Result creates a new result renderer attached to this output.
func (o *Output) Result(resultType, message string) *Result {
	return &Result{
		out:     o,
		meta:    NewMeta(resultType),
		message: message,
	}
}

// Error creates a new error renderer attached to this output.
func (o *Output) Error(resultType string, err error) *Error {
	return &Error{
		out:  o,
		meta: NewMeta(resultType + "-error"),
		err:  err,
	}
}

// Render outputs the renderable in the configured format.
func (o *Output) Render(r Renderable) error {
	switch o.format {
	case FormatJSON:
		return o.renderJSON(r)
	case FormatMarkdown:
		return o.renderMarkdown(r)
	default:
		return r.RenderText(o.w)
	}
}

func (o *Output) renderJSON(r Renderable) error {
	envelope := struct {
		Meta Meta `json:"meta"`
		Data any  `json:"data"`
	}{
		Meta: r.Meta(),
		Data: r.RenderJSON(),
	}

	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}

func (o *Output) renderMarkdown(r Renderable) error {
	if _, err := fmt.Fprintln(o.w, "---"); err != nil {
		return err
	}

	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	if err := enc.Encode(r.Meta()); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if _, err := fmt.Fprint(o.w, "---\n\n"); err != nil {
		return err
	}
	return r.RenderMarkdown(o.w)
}
