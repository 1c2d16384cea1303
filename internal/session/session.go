// Package session pairs a model profile with an append-only message history
// and drives one render/parse cycle against it.
package session

import (
	"kobold-gateway/internal/models"
	"kobold-gateway/internal/prompt"
)

// Session is the in-memory composition of a profile and its message history.
// It is not persisted itself; use Snapshot and FromHistory to round-trip it
// through a history store.
type Session struct {
	Profile models.Profile
	History []models.Message
}

// New returns a session for profile seeded with history.
func New(profile models.Profile, history ...models.Message) *Session {
	return &Session{
		Profile: profile,
		History: append([]models.Message(nil), history...),
	}
}

// FromHistory returns a session over the messages of a stored history.
func FromHistory(profile models.Profile, h models.History) *Session {
	return New(profile, h.Messages...)
}

// Snapshot returns the session messages as a history with the given id.
func (s *Session) Snapshot(id string) models.History {
	messages := make([]models.Message, len(s.History))
	copy(messages, s.History)
	return models.History{ID: id, Messages: messages}
}

// FormatPrompt renders the whole history into a completion prompt.
func (s *Session) FormatPrompt() string {
	return prompt.RenderString(s.History, s.Profile.Markers)
}

// ParseAssistantResponse splits a raw completion using the profile markers.
// It does not modify the session.
func (s *Session) ParseAssistantResponse(raw string) models.Parsed {
	return prompt.Parse(raw, s.Profile.Markers)
}

// AddMessage appends a message. The role is not validated.
func (s *Session) AddMessage(role string, content any, reasoning string) {
	s.History = append(s.History, models.Message{
		Role:      role,
		Content:   content,
		Reasoning: reasoning,
	})
}

// AddAssistantResponse parses raw and appends the result as an assistant
// message.
func (s *Session) AddAssistantResponse(raw string) models.Parsed {
	parsed := s.ParseAssistantResponse(raw)
	s.AddMessage(models.RoleAssistant, parsed.Content, parsed.Reasoning)
	return parsed
}
