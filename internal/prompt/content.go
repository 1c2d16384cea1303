// Package prompt converts role-tagged messages into a flat completion prompt
// and recovers structured content from raw completions.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Normalize flattens message content into a single string. It accepts plain
// strings, sequences of strings or text parts, and arbitrary objects.
func Normalize(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, "\n")
	case []any:
		parts := make([]string, 0, len(v))
		for _, part := range v {
			parts = append(parts, normalizePart(part))
		}
		return strings.Join(parts, "\n")
	case []map[string]any:
		parts := make([]string, 0, len(v))
		for _, part := range v {
			parts = append(parts, normalizePart(part))
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		return indentJSON(v)
	case fmt.Stringer:
		return v.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(v)
	default:
		return indentJSON(v)
	}
}

func normalizePart(part any) string {
	switch p := part.(type) {
	case string:
		return p
	case nil:
		return "null"
	case map[string]any:
		if p["type"] == "text" {
			if text, ok := p["text"].(string); ok {
				return text
			}
		}
		return indentJSON(p)
	case []any:
		return indentJSON(p)
	default:
		return fmt.Sprint(p)
	}
}

// indentJSON writes v with two-space indentation and without HTML escaping,
// so markup in content reaches the prompt verbatim.
func indentJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
