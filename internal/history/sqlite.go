package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the pure-Go driver under the name "sqlite".
	_ "modernc.org/sqlite"

	"kobold-gateway/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS histories (
	id         TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps each history as a JSON document in a single table. The
// documents are byte-identical to what FileStore writes.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" in
// tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the history for id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (models.History, error) {
	if err := ValidateID(id); err != nil {
		return models.History{}, err
	}

	var document string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM histories WHERE id = ?`, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return empty(id), nil
	}
	if err != nil {
		return models.History{}, fmt.Errorf("query history %q: %w", id, err)
	}
	return decode(id, []byte(document))
}

// Save upserts h.
func (s *SQLiteStore) Save(ctx context.Context, h models.History) error {
	if err := ValidateID(h.ID); err != nil {
		return err
	}

	data, err := encode(h)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO histories (id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		h.ID, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save history %q: %w", h.ID, err)
	}
	return nil
}
