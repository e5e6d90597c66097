// Package cache provides the durable local fallback store for tracker rows.
//
// The cache is an embedded SQLite database holding a single table with the
// full row sequence. It is written on every store mutation and read once at
// startup; it is a fallback, not a source of truth while the remote store
// is reachable.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kanzleidev/portaltracker/internal/tracker"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Cache wraps the SQLite connection holding the cached row sequence.
type Cache struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at the given path.
//
// The database is opened in embedded mode with WAL so a concurrent reader
// (e.g. a diagnostic query) never blocks the write-through path. The caller
// must Close() when done.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	c := &Cache{conn: conn, path: path}

	if _, err := c.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := c.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := c.initSchema(); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close checkpoints the WAL and closes the connection.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}
	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint cache WAL: %v\n", err)
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	c.conn = nil
	return nil
}

// initSchema creates the rows table if it doesn't exist. Idempotent.
func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracker_rows (
		id             TEXT PRIMARY KEY,
		position       INTEGER NOT NULL,
		az             TEXT NOT NULL DEFAULT '',
		zendesk_url    TEXT NOT NULL DEFAULT '',
		name           TEXT NOT NULL DEFAULT '',
		typ            TEXT NOT NULL DEFAULT '',
		batch          TEXT NOT NULL DEFAULT '',
		monat          TEXT NOT NULL DEFAULT '',
		rate           TEXT NOT NULL DEFAULT '',
		portal         TEXT NOT NULL DEFAULT '',
		datum_portal   TEXT NOT NULL DEFAULT '',
		email          TEXT NOT NULL DEFAULT '',
		datum_email    TEXT NOT NULL DEFAULT '',
		docs           TEXT NOT NULL DEFAULT '',
		reminder       TEXT NOT NULL DEFAULT '',
		datum_reminder TEXT NOT NULL DEFAULT '',
		tel            TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT '',
		bemerkung      TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_tracker_rows_position ON tracker_rows(position);
	`
	if _, err := c.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}
	return nil
}

// Save persists the full row sequence, replacing whatever was cached before.
// Callers treat failures as best-effort: log and continue.
func (c *Cache) Save(rows []tracker.Row) error {
	return c.SaveContext(context.Background(), rows)
}

// SaveContext persists the full row sequence with context support.
func (c *Cache) SaveContext(ctx context.Context, rows []tracker.Row) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DELETE FROM tracker_rows"); err != nil {
		return fmt.Errorf("failed to clear cached rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracker_rows (
			id, position, az, zendesk_url, name, typ, batch, monat, rate,
			portal, datum_portal, email, datum_email, docs, reminder,
			datum_reminder, tel, status, bemerkung
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.ID, i, r.CaseRef, r.ContactURL, r.Name, r.Typ, r.Batch,
			r.Monat, r.Rate, r.Portal, r.DatumPortal, r.Email, r.DatumEmail,
			r.Docs, r.Reminder, r.DatumReminder, r.Tel, r.Status, r.Bemerkung)
		if err != nil {
			return fmt.Errorf("failed to cache row %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache transaction: %w", err)
	}
	return nil
}

// Load returns the last persisted sequence ordered by position, or nil when
// nothing usable is cached. Rows without an id are skipped rather than
// surfaced as an error; the cache never fails startup.
func (c *Cache) Load() ([]tracker.Row, error) {
	return c.LoadContext(context.Background())
}

// LoadContext returns the cached sequence with context support.
func (c *Cache) LoadContext(ctx context.Context) ([]tracker.Row, error) {
	rows, err := c.conn.QueryContext(ctx, `
		SELECT id, position, az, zendesk_url, name, typ, batch, monat, rate,
		       portal, datum_portal, email, datum_email, docs, reminder,
		       datum_reminder, tel, status, bemerkung
		FROM tracker_rows
		ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached rows: %w", err)
	}
	defer rows.Close()

	var out []tracker.Row
	for rows.Next() {
		var r tracker.Row
		err := rows.Scan(
			&r.ID, &r.Position, &r.CaseRef, &r.ContactURL, &r.Name, &r.Typ,
			&r.Batch, &r.Monat, &r.Rate, &r.Portal, &r.DatumPortal, &r.Email,
			&r.DatumEmail, &r.Docs, &r.Reminder, &r.DatumReminder, &r.Tel,
			&r.Status, &r.Bemerkung)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached row: %w", err)
		}
		if r.ID == "" {
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cached rows: %w", err)
	}

	return out, nil
}

// Path returns the cache database path.
func (c *Cache) Path() string {
	return c.path
}
