// Package history holds the materialized shell history table.
//
// The table is derived state: it is rebuilt from the history record log and
// may be dropped at any time. It lives in its own database file so a rebuild
// never contends with the record store.
package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/histsync/internal/payload"
	"github.com/roach88/histsync/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id        TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	duration  INTEGER NOT NULL,
	exit      INTEGER NOT NULL,
	command   TEXT NOT NULL,
	cwd       TEXT NOT NULL,
	session   TEXT NOT NULL,
	hostname  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp);
`

// DB is the materialized history table.
type DB struct {
	db *sql.DB
}

// Open creates or opens the history database at path.
func Open(path string) (*DB, error) {
	db, err := store.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database connection.
func (h *DB) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Save inserts e. An entry already present under the same id is left as is.
func (h *DB) Save(ctx context.Context, e payload.HistoryEntry) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO history (id, timestamp, duration, exit, command, cwd, session, hostname)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.Timestamp, e.Duration, e.Exit, e.Command, e.Cwd, e.Session, e.Hostname)
	if err != nil {
		return fmt.Errorf("save history %s: %w", e.ID, err)
	}
	return nil
}

// Delete removes the entry with id. Reports whether a row was removed.
func (h *DB) Delete(ctx context.Context, id string) (bool, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete history %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete history %s: %w", id, err)
	}
	return n > 0, nil
}

// List returns up to limit entries, most recent first. limit <= 0 returns
// every entry. Ties on timestamp are broken by id so output is stable.
func (h *DB) List(ctx context.Context, limit int) ([]payload.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, timestamp, duration, exit, command, cwd, session, hostname
		FROM history
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	entries := []payload.HistoryEntry{}
	for rows.Next() {
		var e payload.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Duration, &e.Exit, &e.Command, &e.Cwd, &e.Session, &e.Hostname); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries.
func (h *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// Reset removes every entry.
func (h *DB) Reset(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}
