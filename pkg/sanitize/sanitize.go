// Package sanitize extracts JSON payloads from loosely structured model output.
//
// Three shapes are accepted: bare JSON, JSON inside a labeled or unlabeled
// markdown fence, and JSON surrounded by prose. Failures are classified so the
// caller can tell "there was nothing to parse" apart from "what was there did
// not parse".
package sanitize

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const fence = "```"

// ErrNoJSONObject is returned when the text holds no candidate span at all.
var ErrNoJSONObject = errors.New("no JSON object found in model output")

// MalformedError is returned when a candidate span was found but did not decode.
type MalformedError struct {
	Raw       string
	Candidate string
	Err       error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed synthesis output: %v (raw: %q)", e.Err, truncate(e.Raw, 200))
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// fencedBlock matches ```lang\n ... ``` with an optional language label.
var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")

// Object extracts a single JSON object from text.
func Object(text string) (map[string]any, error) {
	var out map[string]any
	if err := extract(text, '{', '}', &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Array extracts a single JSON array from text.
func Array(text string) ([]any, error) {
	var out []any
	if err := extract(text, '[', ']', &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Into extracts a JSON object from text and decodes it into v.
func Into(text string, v any) error {
	return extract(text, '{', '}', v)
}

func extract(text string, open, close byte, v any) error {
	candidate, ok := span(text, open, close)
	var err error
	if ok {
		if err = decode(candidate, v); err == nil {
			return nil
		}
	}

	if strings.Contains(text, fence) {
		// Fenced blocks are tried in order; the first one that decodes wins.
		for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
			if c, found := span(m[1], open, close); found && decode(c, v) == nil {
				return nil
			}
		}
		if c, found := span(stripFences(text, open), open, close); found {
			if err = decode(c, v); err == nil {
				return nil
			}
			candidate, ok = c, true
		}
	}

	if !ok {
		return ErrNoJSONObject
	}
	return &MalformedError{Raw: text, Candidate: candidate, Err: err}
}

// stripFences removes fence markers and their language labels. Markers
// inside JSON string literals are kept; string tracking starts at the first
// open byte so quotes in leading prose are ignored.
func stripFences(text string, open byte) string {
	var b strings.Builder
	b.Grow(len(text))

	started, inString, escaped := false, false, false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if strings.HasPrefix(text[i:], fence) {
			i += len(fence)
			for i < len(text) && isLabelByte(text[i]) {
				i++
			}
			i--
			continue
		}
		if ch == open {
			started = true
		}
		if ch == '"' && started {
			inString = true
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isLabelByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '+' || c == '-'
}

// span returns the substring from the first open byte to the last close byte.
func span(text string, open, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(text, close)
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func decode(candidate string, v any) error {
	err := json.Unmarshal([]byte(candidate), v)
	if err == nil {
		return nil
	}
	// Models often emit raw newlines inside string values (generated code).
	if normalized := escapeControlChars(candidate); normalized != candidate {
		if json.Unmarshal([]byte(normalized), v) == nil {
			return nil
		}
	}
	return err
}

// escapeControlChars escapes unescaped control characters that appear inside
// JSON string literals. Bytes outside strings are left untouched.
func escapeControlChars(content string) string {
	var b strings.Builder
	b.Grow(len(content) + len(content)/10)

	inString := false
	escaped := false
	for i := 0; i < len(content); i++ {
		ch := content[i]
		if escaped {
			b.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			b.WriteByte(ch)
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			b.WriteByte(ch)
			continue
		}
		if !inString {
			b.WriteByte(ch)
			continue
		}
		switch ch {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if ch < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	return b.String()
}

// Unwrap returns obj itself when it already carries every key in want.
// Otherwise the first field (in key order) holding an object, or a string
// that itself sanitizes to an object, carrying the keys is returned. Only one
// level of nesting is unwrapped.
func Unwrap(obj map[string]any, want ...string) map[string]any {
	if hasAll(obj, want) {
		return obj
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch inner := obj[k].(type) {
		case map[string]any:
			if hasAll(inner, want) {
				return inner
			}
		case string:
			if parsed, err := Object(inner); err == nil && hasAll(parsed, want) {
				return parsed
			}
		}
	}
	return obj
}

func hasAll(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
