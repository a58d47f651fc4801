package frontmatter

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// The editor rewrites exactly one top-level header field and leaves every
// other byte of the document alone: untouched header lines and the body
// survive an edit byte-for-byte. Documents without a header are returned
// unchanged with changed=false so callers can skip them silently.

// SetString replaces (or inserts) a scalar header field.
func SetString(doc []byte, key, value string) ([]byte, bool, error) {
	return setField(doc, key, value)
}

// SetStringList replaces (or inserts) a list-valued header field.
func SetStringList(doc []byte, key string, values []string) ([]byte, bool, error) {
	return setField(doc, key, values)
}

// Delete removes a top-level header field. Deleting an absent field is a
// no-op with changed=false.
func Delete(doc []byte, key string) ([]byte, bool, error) {
	blk, ok := locate(doc)
	if !ok {
		return doc, false, nil
	}
	start, end, found := fieldExtent(doc, blk, key)
	if !found {
		return doc, false, nil
	}
	out := make([]byte, 0, len(doc)-(end-start))
	out = append(out, doc[:start]...)
	out = append(out, doc[end:]...)
	return out, true, nil
}

func setField(doc []byte, key string, value any) ([]byte, bool, error) {
	blk, ok := locate(doc)
	if !ok {
		return doc, false, nil
	}
	rendered, err := renderField(key, value)
	if err != nil {
		return nil, false, err
	}
	start, end, found := fieldExtent(doc, blk, key)
	if !found {
		// Insert before the closing delimiter line.
		start, end = blk.close, blk.close
	}
	out := make([]byte, 0, len(doc)-(end-start)+len(rendered))
	out = append(out, doc[:start]...)
	out = append(out, rendered...)
	out = append(out, doc[end:]...)
	return out, true, nil
}

// renderField marshals a single key/value pair as YAML with two-space
// indents, matching the house style of hand-written headers.
func renderField(key string, value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{key: value}); err != nil {
		return nil, fmt.Errorf("frontmatter: render %s: %w", key, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("frontmatter: render %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// block marks the byte offsets of the header: open is the offset of the
// first header line (just past the opening delimiter), close is the offset
// of the closing "---" line.
type block struct {
	open  int
	close int
}

// locate finds the front-matter block boundaries without modifying doc.
func locate(doc []byte) (block, bool) {
	off := 0
	for off < len(doc) && (doc[off] == '\n' || doc[off] == '\r') {
		off++
	}
	nl := bytes.IndexByte(doc[off:], '\n')
	if nl < 0 {
		return block{}, false
	}
	if line := strings.TrimRight(string(doc[off:off+nl]), "\r"); line != "---" {
		return block{}, false
	}
	open := off + nl + 1

	// Scan line by line for the closing delimiter.
	pos := open
	for pos < len(doc) {
		lineEnd := bytes.IndexByte(doc[pos:], '\n')
		var line string
		if lineEnd < 0 {
			line = string(doc[pos:])
			lineEnd = len(doc) - pos
		} else {
			line = string(doc[pos : pos+lineEnd])
		}
		if strings.TrimRight(line, "\r") == "---" {
			return block{open: open, close: pos}, true
		}
		pos += lineEnd + 1
	}
	return block{}, false
}

// fieldExtent returns the [start, end) byte range of a top-level field
// inside the header: the key line plus its indented or zero-indent list
// continuation lines.
func fieldExtent(doc []byte, blk block, key string) (int, int, bool) {
	pos := blk.open
	for pos < blk.close {
		lineEnd := bytes.IndexByte(doc[pos:blk.close], '\n')
		if lineEnd < 0 {
			lineEnd = blk.close - pos
		}
		line := string(doc[pos : pos+lineEnd])
		if isKeyLine(line, key) {
			start := pos
			end := pos + lineEnd
			if end < blk.close {
				end++ // include the newline
			}
			// Absorb continuation lines.
			for end < blk.close {
				contEnd := bytes.IndexByte(doc[end:blk.close], '\n')
				if contEnd < 0 {
					contEnd = blk.close - end
				}
				cont := string(doc[end : end+contEnd])
				if !isContinuation(cont) {
					break
				}
				end += contEnd
				if end < blk.close {
					end++
				}
			}
			return start, end, true
		}
		pos += lineEnd + 1
	}
	return 0, 0, false
}

// isKeyLine reports whether line declares the given top-level key.
func isKeyLine(line, key string) bool {
	if !strings.HasPrefix(line, key) {
		return false
	}
	rest := line[len(key):]
	return strings.HasPrefix(rest, ":")
}

// isContinuation reports whether a header line belongs to the preceding
// key: indented lines and zero-indent sequence items.
func isContinuation(line string) bool {
	if line == "" {
		return false
	}
	if line[0] == ' ' || line[0] == '\t' {
		return true
	}
	trimmed := strings.TrimRight(line, "\r")
	return trimmed == "-" || strings.HasPrefix(trimmed, "- ")
}
