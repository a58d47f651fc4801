// Package frontmatter reads and edits the YAML metadata header embedded at
// the top of an artifact's primary content file.
package frontmatter

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

// Result holds the parsed header and body of a content file.
type Result struct {
	Fields map[string]any
	Body   string
}

// Parse extracts the front-matter header and body from raw content bytes.
// A missing or malformed header is not an error: Fields is nil and the
// entire content becomes Body.
func Parse(data []byte) (*Result, error) {
	fields, body := split(data)
	return &Result{Fields: fields, Body: body}, nil
}

// split separates YAML front matter (between leading --- delimiters)
// from the document body. If no header is found the entire content is body.
func split(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	// Find end delimiter.
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter; treat everything as body.
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	// Body starts after closing delimiter line.
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fields map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fields); err != nil {
		// Invalid YAML falls back to body-only.
		return nil, string(data)
	}

	return fields, body
}

// Has reports whether the header carries the given key.
func (r *Result) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

// String returns the header value for key when it is a non-empty string.
func (r *Result) String(key string) string {
	if r.Fields == nil {
		return ""
	}
	if s, ok := r.Fields[key].(string); ok {
		return s
	}
	return ""
}

// Tags returns the header "tags" value as a deduplicated string slice.
// Both list form and a single scalar string are accepted.
func (r *Result) Tags() []string {
	if r.Fields == nil {
		return nil
	}
	raw, ok := r.Fields["tags"]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		add(v)
	}
	return out
}
