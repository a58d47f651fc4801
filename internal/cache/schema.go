// Package cache provides the SQLite-backed metadata cache: a derived,
// read-optimized mirror of manifest entries. The filesystem stays
// authoritative; a record here that disagrees with the manifest is stale,
// never something to write back.
package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS artifact_cache (
	collection_id    TEXT NOT NULL,
	artifact_key     TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL DEFAULT '',
	source_ref       TEXT NOT NULL DEFAULT '',
	version_spec     TEXT NOT NULL DEFAULT '',
	resolved_version TEXT NOT NULL DEFAULT '',
	resolved_hash    TEXT NOT NULL DEFAULT '',
	tags             TEXT NOT NULL DEFAULT '[]',
	description      TEXT NOT NULL DEFAULT '',
	author           TEXT NOT NULL DEFAULT '',
	license          TEXT NOT NULL DEFAULT '',
	synced_at        DATETIME,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection_id, artifact_key)
);

CREATE INDEX IF NOT EXISTS idx_cache_synced_at ON artifact_cache(synced_at);
CREATE INDEX IF NOT EXISTS idx_cache_type ON artifact_cache(collection_id, type);
`

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
