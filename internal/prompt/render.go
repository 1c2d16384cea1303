package prompt

import (
	"strings"

	"kobold-gateway/internal/models"
)

const unknownRole = "unknown"

// Render serializes messages into prompt segments, one per message. The
// concatenation of the segments is the prompt. Render never modifies its input.
func Render(messages []models.Message, markers models.Markers) []string {
	rendered := make([]string, 0, len(messages))

	for _, msg := range messages {
		role := msg.Role
		if role == "" {
			role = unknownRole
		}
		text := Normalize(msg.Content)

		switch role {
		case models.RoleSystem:
			rendered = append(rendered, markers.SystemOpen+text+markers.SystemBreak+markers.SystemClose)
		case models.RoleUser:
			rendered = append(rendered, markers.UserOpen+text+markers.UserClose)
		case models.RoleAssistant:
			var b strings.Builder
			b.WriteString(markers.ModelOpen)
			if msg.Reasoning != "" {
				b.WriteString(markers.ReasoningOpen)
				b.WriteString(msg.Reasoning)
				b.WriteString(markers.ReasoningClose)
			}
			b.WriteString(text)
			b.WriteString(markers.ModelClose)
			rendered = append(rendered, b.String())
		default:
			name := ""
			if msg.Name != "" {
				name = " name=" + msg.Name
			}
			rendered = append(rendered, "["+strings.ToUpper(role)+name+"]\n"+text+"\n")
		}
	}

	return rendered
}

// RenderString returns the full prompt for messages.
func RenderString(messages []models.Message, markers models.Markers) string {
	return strings.Join(Render(messages, markers), "")
}
