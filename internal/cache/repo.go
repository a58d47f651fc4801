package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
)

// Record represents a row in the artifact_cache table: every manifest entry
// field denormalized, plus the staleness timestamp. A nil SyncedAt means the
// record was never synced, which is a cache miss, not an error.
type Record struct {
	CollectionID    string              `json:"collection_id"`
	Key             string              `json:"key"`
	Name            string              `json:"name"`
	Type            models.ArtifactType `json:"type"`
	SourceRef       string              `json:"source_ref,omitempty"`
	VersionSpec     string              `json:"version_spec,omitempty"`
	ResolvedVersion string              `json:"resolved_version,omitempty"`
	ResolvedHash    string              `json:"resolved_hash,omitempty"`
	Tags            []string            `json:"tags"`
	Description     string              `json:"description,omitempty"`
	Author          string              `json:"author,omitempty"`
	License         string              `json:"license,omitempty"`
	SyncedAt        *time.Time          `json:"synced_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Identity parses the record's artifact key.
func (r *Record) Identity() (models.Identity, error) {
	return models.ParseIdentity(r.Key)
}

// ListQuery filters and pages a List call. Zero values mean "no filter";
// a Limit of zero returns everything.
type ListQuery struct {
	CollectionID string
	Type         models.ArtifactType
	Tag          string
	Limit        int
	Offset       int
}

// StalenessStats summarizes cache freshness for monitoring and the sweeper.
type StalenessStats struct {
	Total       int `json:"total"`
	Fresh       int `json:"fresh"`
	Stale       int `json:"stale"`
	NeverSynced int `json:"never_synced"`
}

const recordColumns = `collection_id, artifact_key, name, type, source_ref,
	version_spec, resolved_version, resolved_hash, tags, description,
	author, license, synced_at, updated_at`

// Upsert inserts or replaces one record. Concurrent upserts for the same key
// resolve last-write-wins through the single-row conflict clause; different
// keys never contend beyond SQLite's own page locking.
func (db *DB) Upsert(rec Record) error {
	tagsJSON, _ := json.Marshal(nonNilTags(rec.Tags))

	var syncedAt any
	if rec.SyncedAt != nil {
		syncedAt = rec.SyncedAt.UTC()
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := db.conn.Exec(`
		INSERT INTO artifact_cache (collection_id, artifact_key, name, type,
			source_ref, version_spec, resolved_version, resolved_hash,
			tags, description, author, license, synced_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection_id, artifact_key) DO UPDATE SET
			name             = excluded.name,
			type             = excluded.type,
			source_ref       = excluded.source_ref,
			version_spec     = excluded.version_spec,
			resolved_version = excluded.resolved_version,
			resolved_hash    = excluded.resolved_hash,
			tags             = excluded.tags,
			description      = excluded.description,
			author           = excluded.author,
			license          = excluded.license,
			synced_at        = excluded.synced_at,
			updated_at       = excluded.updated_at
	`, rec.CollectionID, rec.Key, rec.Name, string(rec.Type), rec.SourceRef,
		rec.VersionSpec, rec.ResolvedVersion, rec.ResolvedHash,
		string(tagsJSON), rec.Description, rec.Author, rec.License,
		syncedAt, updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("cache: upsert %s/%s: %w", rec.CollectionID, rec.Key, err)
	}
	return nil
}

// Get returns one record, or ErrNotFound.
func (db *DB) Get(collectionID, key string) (*Record, error) {
	row := db.conn.QueryRow(`SELECT `+recordColumns+`
		FROM artifact_cache WHERE collection_id = ? AND artifact_key = ?`,
		collectionID, key)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("cache: %s/%s: %w", collectionID, key, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("cache: get %s/%s: %w", collectionID, key, err)
	}
	return rec, nil
}

// List returns matching records plus the total count before paging.
func (db *DB) List(q ListQuery) ([]Record, int, error) {
	where := ` WHERE 1=1`
	var args []any
	if q.CollectionID != "" {
		where += ` AND collection_id = ?`
		args = append(args, q.CollectionID)
	}
	if q.Type != "" {
		where += ` AND type = ?`
		args = append(args, string(q.Type))
	}
	if q.Tag != "" {
		where += ` AND tags LIKE ?`
		args = append(args, `%"`+q.Tag+`"%`)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM artifact_cache`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("cache: count: %w", err)
	}

	query := `SELECT ` + recordColumns + ` FROM artifact_cache` + where +
		` ORDER BY collection_id, artifact_key`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, q.Offset)
		}
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("cache: list: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("cache: scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

// AllKeys returns every cached artifact key for a collection.
func (db *DB) AllKeys(collectionID string) (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT artifact_key FROM artifact_cache WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("cache: all keys: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out[k] = struct{}{}
	}
	return out, rows.Err()
}

// FindStale returns records whose synced_at is null or older than ttl,
// never-synced first so the sweeper repairs cache misses before mere aging.
func (db *DB) FindStale(ttl time.Duration) ([]Record, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := db.conn.Query(`SELECT `+recordColumns+`
		FROM artifact_cache
		WHERE synced_at IS NULL OR synced_at < ?
		ORDER BY synced_at IS NOT NULL, synced_at, collection_id, artifact_key`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("cache: find stale: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("cache: scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Stats reports bulk freshness counts for the given ttl.
func (db *DB) Stats(ttl time.Duration) (StalenessStats, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	var s StalenessStats
	err := db.conn.QueryRow(`SELECT
		COUNT(*),
		SUM(CASE WHEN synced_at IS NOT NULL AND synced_at >= ? THEN 1 ELSE 0 END),
		SUM(CASE WHEN synced_at IS NOT NULL AND synced_at < ? THEN 1 ELSE 0 END),
		SUM(CASE WHEN synced_at IS NULL THEN 1 ELSE 0 END)
		FROM artifact_cache`, cutoff, cutoff).
		Scan(&s.Total, &nullInt{&s.Fresh}, &nullInt{&s.Stale}, &nullInt{&s.NeverSynced})
	if err != nil {
		return StalenessStats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return s, nil
}

// Invalidate clears synced_at for one record, forcing the next read to fall
// back to the manifest. The record itself stays in place.
func (db *DB) Invalidate(collectionID, key string) error {
	_, err := db.conn.Exec(`UPDATE artifact_cache SET synced_at = NULL
		WHERE collection_id = ? AND artifact_key = ?`, collectionID, key)
	if err != nil {
		return fmt.Errorf("cache: invalidate %s/%s: %w", collectionID, key, err)
	}
	return nil
}

// InvalidateCollection clears synced_at for every record in one collection
// and returns how many rows it touched. Other collections are never
// affected.
func (db *DB) InvalidateCollection(collectionID string) (int64, error) {
	res, err := db.conn.Exec(`UPDATE artifact_cache SET synced_at = NULL
		WHERE collection_id = ?`, collectionID)
	if err != nil {
		return 0, fmt.Errorf("cache: invalidate collection %s: %w", collectionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: invalidate collection %s: rows affected: %w", collectionID, err)
	}
	return n, nil
}

// Delete removes one record entirely, for artifact removal.
func (db *DB) Delete(collectionID, key string) error {
	_, err := db.conn.Exec(`DELETE FROM artifact_cache
		WHERE collection_id = ? AND artifact_key = ?`, collectionID, key)
	if err != nil {
		return fmt.Errorf("cache: delete %s/%s: %w", collectionID, key, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec      Record
		typ      string
		tagsJSON string
		syncedAt sql.NullTime
	)
	err := row.Scan(&rec.CollectionID, &rec.Key, &rec.Name, &typ,
		&rec.SourceRef, &rec.VersionSpec, &rec.ResolvedVersion,
		&rec.ResolvedHash, &tagsJSON, &rec.Description, &rec.Author,
		&rec.License, &syncedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Type = models.ArtifactType(typ)
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		rec.Tags = nil
	}
	rec.Tags = nonNilTags(rec.Tags)
	if syncedAt.Valid {
		t := syncedAt.Time.UTC()
		rec.SyncedAt = &t
	}
	return &rec, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// nullInt scans a SUM() result that is NULL on an empty table.
type nullInt struct{ dst *int }

func (n *nullInt) Scan(v any) error {
	var ni sql.NullInt64
	if err := ni.Scan(v); err != nil {
		return err
	}
	if ni.Valid {
		*n.dst = int(ni.Int64)
	}
	return nil
}
