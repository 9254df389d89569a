package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// KV renders ordered key-value pairs. Created via Output.KV().
type KV struct {
	out   *Output
	meta  Meta
	pairs pairs
}

type pair struct {
	key   string
	value any
}

// pairs keeps insertion order, which text and markdown output follow.
type pairs []pair

func (ps *pairs) add(key string, value any) {
	*ps = append(*ps, pair{key: key, value: value})
}

// object adds the pairs to m under JSON-style keys.
func (ps pairs) object(m map[string]any) map[string]any {
	for _, p := range ps {
		m[toJSONKey(p.key)] = p.value
	}
	return m
}

// writeEach formats every pair with format, which takes key then value.
func (ps pairs) writeEach(w io.Writer, format string) error {
	for _, p := range ps {
		if _, err := fmt.Fprintf(w, format, p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// Set adds a key-value pair. Value can be any type.
func (k *KV) Set(key string, value any) *KV {
	k.pairs.add(key, value)
	return k
}

// Render outputs the key-value pairs in the configured format.
func (k *KV) Render() error {
	return k.out.Render(k)
}

// Meta returns the metadata.
func (k *KV) Meta() Meta {
	return k.meta
}

// RenderText writes aligned key: value pairs using go-pretty.
func (k *KV) RenderText(w io.Writer) error {
	if len(k.pairs) == 0 {
		return nil
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateHeader = false

	for _, p := range k.pairs {
		tw.AppendRow(table.Row{p.key + ":", fmt.Sprintf("%v", p.value)})
	}

	_, err := io.WriteString(w, tw.Render()+"\n")
	return err
}

// RenderJSON returns the data as an object.
func (k *KV) RenderJSON() any {
	return k.pairs.object(make(map[string]any, len(k.pairs)))
}

// RenderMarkdown writes key-value pairs as a definition-style list.
func (k *KV) RenderMarkdown(w io.Writer) error {
	return k.pairs.markdown().writeEach(w, "**%s:** %v\n\n")
}

// markdown returns a copy with values passed through formatMarkdownValue.
func (ps pairs) markdown() pairs {
	out := make(pairs, len(ps))
	for i, p := range ps {
		out[i] = pair{key: p.key, value: formatMarkdownValue(p.value)}
	}
	return out
}

// formatMarkdownValue code-formats object keys and digests and escapes
// table pipes.
func formatMarkdownValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if looksLikeDigest(s) || strings.Contains(s, "/") {
		return "`" + s + "`"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}

// looksLikeDigest reports whether s is a long hex string such as an MD5
// digest or a zero-padded block id.
func looksLikeDigest(s string) bool {
	if len(s) < 16 {
		return false
	}
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return true
}

// toJSONKey converts a header to a JSON key (lowercase, underscores).
func toJSONKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}
