// Package history persists per-session message histories, one JSON document
// per session id.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kobold-gateway/internal/models"
)

// ErrInvalidID indicates a session id that cannot be used as a storage key.
var ErrInvalidID = errors.New("invalid session id")

// Store loads and saves histories by session id. Loading an id that was never
// saved yields an empty history rather than an error.
type Store interface {
	Load(ctx context.Context, id string) (models.History, error)
	Save(ctx context.Context, h models.History) error
}

// Append returns a copy of h with msg added at the end. h is not modified.
func Append(h models.History, msg models.Message) models.History {
	messages := make([]models.Message, 0, len(h.Messages)+1)
	messages = append(messages, h.Messages...)
	messages = append(messages, msg)
	return models.History{ID: h.ID, Messages: messages}
}

// ValidateID rejects ids that are empty or could escape the storage root.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidID)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func empty(id string) models.History {
	return models.History{ID: id, Messages: []models.Message{}}
}

func encode(h models.History) ([]byte, error) {
	if h.Messages == nil {
		h.Messages = []models.Message{}
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history %q: %w", h.ID, err)
	}
	return data, nil
}

func decode(id string, data []byte) (models.History, error) {
	var h models.History
	if err := json.Unmarshal(data, &h); err != nil {
		return models.History{}, fmt.Errorf("decode history %q: %w", id, err)
	}
	if h.ID == "" {
		h.ID = id
	}
	if h.Messages == nil {
		h.Messages = []models.Message{}
	}
	return h, nil
}
