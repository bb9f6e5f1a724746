// Package manifest records what each build wrote in a SQLite database so
// later builds can skip unchanged pages, prune outputs of deleted pages and
// report which sources changed.
package manifest

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS outputs (
	path            TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	source_checksum TEXT NOT NULL DEFAULT '',
	checksum        TEXT NOT NULL DEFAULT '',
	built_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outputs_source ON outputs(source);

CREATE TABLE IF NOT EXISTS articles (
	source    TEXT PRIMARY KEY,
	slug      TEXT NOT NULL DEFAULT '',
	title     TEXT NOT NULL DEFAULT '',
	category  TEXT NOT NULL DEFAULT '',
	published TEXT NOT NULL DEFAULT '',
	url       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS images (
	name     TEXT PRIMARY KEY,
	checksum TEXT NOT NULL UNIQUE,
	origin   TEXT NOT NULL DEFAULT '',
	added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// OutputRow is one rendered page.
type OutputRow struct {
	Path           string
	Source         string
	SourceChecksum string
	Checksum       string
	BuiltAt        time.Time
}

// ArticleRow is the indexed part of an article.
type ArticleRow struct {
	Source    string
	Slug      string
	Title     string
	Category  string
	Published string
	URL       string
}

// ImageRow is an image stored in the image library.
type ImageRow struct {
	Name     string
	Checksum string
	Origin   string
	AddedAt  time.Time
}

// Store is the manifest interface the build depends on.
type Store interface {
	Outputs() (map[string]OutputRow, error)
	UpsertOutput(row OutputRow) error
	DeleteOutput(path string) error
	ReplaceArticles(rows []ArticleRow) error
	Articles() ([]ArticleRow, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)

// DB wraps a sql.DB with manifest operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the manifest database and applies the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("manifest: create dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("manifest: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("manifest: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("manifest: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Outputs returns every recorded output keyed by output path.
func (db *DB) Outputs() (map[string]OutputRow, error) {
	rows, err := db.conn.Query(`SELECT path, source, source_checksum, checksum, built_at FROM outputs`)
	if err != nil {
		return nil, fmt.Errorf("manifest: outputs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]OutputRow)
	for rows.Next() {
		var r OutputRow
		if err := rows.Scan(&r.Path, &r.Source, &r.SourceChecksum, &r.Checksum, &r.BuiltAt); err != nil {
			return nil, err
		}
		out[r.Path] = r
	}
	return out, rows.Err()
}

// UpsertOutput inserts or replaces an output row.
func (db *DB) UpsertOutput(r OutputRow) error {
	if r.BuiltAt.IsZero() {
		r.BuiltAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO outputs (path, source, source_checksum, checksum, built_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			source          = excluded.source,
			source_checksum = excluded.source_checksum,
			checksum        = excluded.checksum,
			built_at        = excluded.built_at
	`, r.Path, r.Source, r.SourceChecksum, r.Checksum, r.BuiltAt)
	if err != nil {
		return fmt.Errorf("manifest: upsert output: %w", err)
	}
	return nil
}

// DeleteOutput removes an output row.
func (db *DB) DeleteOutput(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM outputs WHERE path = ?`, path); err != nil {
		return fmt.Errorf("manifest: delete output: %w", err)
	}
	return nil
}

// ReplaceArticles swaps the article table for rows within a transaction.
func (db *DB) ReplaceArticles(rows []ArticleRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("manifest: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM articles`); err != nil {
		return fmt.Errorf("manifest: clear articles: %w", err)
	}
	if len(rows) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO articles (source, slug, title, category, published, url) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("manifest: prepare article insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range rows {
			if _, err := stmt.Exec(r.Source, r.Slug, r.Title, r.Category, r.Published, r.URL); err != nil {
				return fmt.Errorf("manifest: insert article: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Articles returns the indexed articles, newest first.
func (db *DB) Articles() ([]ArticleRow, error) {
	rows, err := db.conn.Query(`SELECT source, slug, title, category, published, url FROM articles ORDER BY published DESC, title`)
	if err != nil {
		return nil, fmt.Errorf("manifest: articles: %w", err)
	}
	defer rows.Close()

	var out []ArticleRow
	for rows.Next() {
		var r ArticleRow
		if err := rows.Scan(&r.Source, &r.Slug, &r.Title, &r.Category, &r.Published, &r.URL); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ImageByChecksum looks up a library image by content checksum.
func (db *DB) ImageByChecksum(sum string) (ImageRow, bool, error) {
	var r ImageRow
	err := db.conn.QueryRow(`SELECT name, checksum, origin, added_at FROM images WHERE checksum = ?`, sum).
		Scan(&r.Name, &r.Checksum, &r.Origin, &r.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ImageRow{}, false, nil
	}
	if err != nil {
		return ImageRow{}, false, fmt.Errorf("manifest: image by checksum: %w", err)
	}
	return r, true, nil
}

// AddImage records a library image.
func (db *DB) AddImage(r ImageRow) error {
	if r.AddedAt.IsZero() {
		r.AddedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`INSERT INTO images (name, checksum, origin, added_at) VALUES (?, ?, ?, ?)`,
		r.Name, r.Checksum, r.Origin, r.AddedAt)
	if err != nil {
		return fmt.Errorf("manifest: add image: %w", err)
	}
	return nil
}

// Images returns the library images, oldest first.
func (db *DB) Images() ([]ImageRow, error) {
	rows, err := db.conn.Query(`SELECT name, checksum, origin, added_at FROM images ORDER BY added_at, name`)
	if err != nil {
		return nil, fmt.Errorf("manifest: images: %w", err)
	}
	defer rows.Close()

	var out []ImageRow
	for rows.Next() {
		var r ImageRow
		if err := rows.Scan(&r.Name, &r.Checksum, &r.Origin, &r.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
