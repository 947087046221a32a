// Package catalog provides a SQLite-backed record of ingested documents.
// It answers "what has been indexed, when, and how big was it" without a
// round trip to the vector store, and survives service restarts.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Record describes one ingested document.
type Record struct {
	// Name is the document file name (catalog key).
	Name string
	// Pages is the page count extracted from the document.
	Pages int
	// Chunks is the number of chunks produced and indexed.
	Chunks int
	// IngestedAt is when the document was last (re-)ingested.
	IngestedAt time.Time
}

// Catalog persists document ingestion records. Implementations must be safe
// for concurrent use.
type Catalog interface {
	// Put records a document, replacing any prior record with the same name.
	Put(ctx context.Context, rec Record) error
	// Get returns the record for name, or sql.ErrNoRows wrapped when absent.
	Get(ctx context.Context, name string) (Record, error)
	// List returns all records ordered by name.
	List(ctx context.Context) ([]Record, error)
	// Delete removes the record for name. Deleting an absent name is not an error.
	Delete(ctx context.Context, name string) error
	// Close releases any resources held by the catalog.
	Close() error
}

// SQLiteCatalog is a Catalog backed by a local SQLite database.
type SQLiteCatalog struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the document catalog database.
// It resolves to ~/.docqa/catalog.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("catalog: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("catalog: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "catalog.db"), nil
}

// Open opens (or creates) a SQLiteCatalog at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteCatalog, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	c := &SQLiteCatalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// migrate creates the schema if it does not already exist.
func (c *SQLiteCatalog) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    name         TEXT    PRIMARY KEY,
    pages        INTEGER NOT NULL,
    chunks       INTEGER NOT NULL,
    ingested_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
`
	if _, err := c.db.Exec(ddl); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Put records a document, replacing any prior record with the same name so a
// re-ingest updates the row in place.
func (c *SQLiteCatalog) Put(ctx context.Context, rec Record) error {
	const q = `INSERT OR REPLACE INTO documents (name, pages, chunks, ingested_at) VALUES (?, ?, ?, ?)`
	at := rec.IngestedAt
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := c.db.ExecContext(ctx, q, rec.Name, rec.Pages, rec.Chunks, at.Unix()); err != nil {
		return fmt.Errorf("catalog: put %s: %w", rec.Name, err)
	}
	return nil
}

// Get returns the record for name.
func (c *SQLiteCatalog) Get(ctx context.Context, name string) (Record, error) {
	const q = `SELECT name, pages, chunks, ingested_at FROM documents WHERE name = ?`
	var rec Record
	var ts int64
	if err := c.db.QueryRowContext(ctx, q, name).Scan(&rec.Name, &rec.Pages, &rec.Chunks, &ts); err != nil {
		return Record{}, fmt.Errorf("catalog: get %s: %w", name, err)
	}
	rec.IngestedAt = time.Unix(ts, 0)
	return rec, nil
}

// List returns all records ordered by name.
func (c *SQLiteCatalog) List(ctx context.Context) ([]Record, error) {
	const q = `SELECT name, pages, chunks, ingested_at FROM documents ORDER BY name ASC`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var ts int64
		if err := rows.Scan(&rec.Name, &rec.Pages, &rec.Chunks, &ts); err != nil {
			return nil, fmt.Errorf("catalog: list scan: %w", err)
		}
		rec.IngestedAt = time.Unix(ts, 0)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list rows: %w", err)
	}
	return recs, nil
}

// Delete removes the record for name.
func (c *SQLiteCatalog) Delete(ctx context.Context, name string) error {
	const q = `DELETE FROM documents WHERE name = ?`
	if _, err := c.db.ExecContext(ctx, q, name); err != nil {
		return fmt.Errorf("catalog: delete %s: %w", name, err)
	}
	return nil
}

// Close releases the database connection pool.
func (c *SQLiteCatalog) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("catalog: close: %w", err)
	}
	return nil
}
