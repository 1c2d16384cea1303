package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kobold-gateway/internal/models"
)

func sampleHistory() models.History {
	return models.History{
		ID: "session-1",
		Messages: []models.Message{
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi", Reasoning: "Greeting"},
		},
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"file":   NewFileStore(filepath.Join(t.TempDir(), "history")),
		"sqlite": sqliteStore,
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, sampleHistory()))

			loaded, err := store.Load(ctx, "session-1")
			require.NoError(t, err)
			assert.Equal(t, "session-1", loaded.ID)
			require.Len(t, loaded.Messages, 2)
			assert.Equal(t, "", loaded.Messages[0].Reasoning)
			assert.Equal(t, "Greeting", loaded.Messages[1].Reasoning)
			assert.Equal(t, "Hi", loaded.Messages[1].Content)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			loaded, err := store.Load(context.Background(), "non-existent")
			require.NoError(t, err)
			assert.Equal(t, "non-existent", loaded.ID)
			assert.NotNil(t, loaded.Messages)
			assert.Len(t, loaded.Messages, 0)
		})
	}
}

func TestStore_LastWriterWins(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := sampleHistory()
			require.NoError(t, store.Save(ctx, h))
			require.NoError(t, store.Save(ctx, Append(h, models.Message{Role: "user", Content: "again"})))

			loaded, err := store.Load(ctx, h.ID)
			require.NoError(t, err)
			assert.Len(t, loaded.Messages, 3)
		})
	}
}

func TestStore_InvalidID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "../etc", "a/b", `a\b`} {
				_, err := store.Load(context.Background(), id)
				assert.ErrorIs(t, err, ErrInvalidID, id)
				assert.ErrorIs(t, store.Save(context.Background(), models.History{ID: id}), ErrInvalidID, id)
			}
		})
	}
}

func TestFileStore_WritesIndentedDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "history")
	store := NewFileStore(dir)
	require.NoError(t, store.Save(context.Background(), models.History{ID: "s"}))

	data, err := os.ReadFile(filepath.Join(dir, "s.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"id\": \"s\",\n  \"messages\": []\n}", string(data))
}

func TestFileStore_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o644))

	_, err := NewFileStore(dir).Load(context.Background(), "bad")
	assert.Error(t, err)
}

func TestAppend_DoesNotMutate(t *testing.T) {
	h := sampleHistory()
	next := Append(h, models.Message{Role: "user", Content: "third"})

	assert.Len(t, h.Messages, 2)
	assert.Len(t, next.Messages, 3)
	assert.Equal(t, h.ID, next.ID)
}
