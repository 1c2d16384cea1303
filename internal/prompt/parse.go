package prompt

import (
	"strings"

	"kobold-gateway/internal/models"
)

// Parse extracts reasoning spans from a raw completion and strips any leaked
// role markers. Reasoning is only reported when at least one complete
// open/close span was found.
func Parse(raw string, markers models.Markers) models.Parsed {
	content := raw
	var parsed models.Parsed

	if markers.ReasoningOpen != "" && markers.ReasoningClose != "" {
		spans, rest := cutSpans(content, markers.ReasoningOpen, markers.ReasoningClose)
		if len(spans) > 0 {
			parsed.Reasoning = strings.TrimSpace(strings.Join(spans, "\n"))
			parsed.HasReasoning = true
			content = rest
		}
	}

	for _, marker := range []string{
		markers.SystemOpen, markers.SystemClose,
		markers.UserOpen, markers.UserClose,
		markers.ModelOpen, markers.ModelClose,
	} {
		if marker != "" {
			content = strings.ReplaceAll(content, marker, "")
		}
	}

	parsed.Content = strings.TrimSpace(content)
	return parsed
}

// cutSpans scans text left to right for open...close spans, matching each
// open with the nearest following close. It returns the inner texts and the
// text with every matched span removed. An open without a close is kept.
func cutSpans(text, open, closing string) ([]string, string) {
	var (
		spans []string
		rest  strings.Builder
	)

	pos := 0
	for pos < len(text) {
		start := strings.Index(text[pos:], open)
		if start < 0 {
			break
		}
		start += pos

		innerStart := start + len(open)
		end := strings.Index(text[innerStart:], closing)
		if end < 0 {
			break
		}
		end += innerStart

		rest.WriteString(text[pos:start])
		spans = append(spans, text[innerStart:end])
		pos = end + len(closing)
	}
	rest.WriteString(text[pos:])

	return spans, rest.String()
}
