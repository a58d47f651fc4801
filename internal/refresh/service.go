// Package refresh rebuilds metadata cache records from the file-based tiers.
// It is the only writer of cache rows: every mutation path ends with a call
// into this service, and reads fall back into it on a cache miss.
package refresh

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/frontmatter"
	"github.com/starford/raido/internal/models"
)

// Event kinds emitted after cache mutations.
const (
	EventRefreshed = "refreshed"
	EventRemoved   = "removed"
)

// EventFunc is called after a watcher- or refresh-driven cache change.
type EventFunc func(kind, collectionID, key string)

// Stats aggregates one RefreshAll run. Per-item failures land in Failures
// and never abort the batch.
type Stats struct {
	Created  int                `json:"created"`
	Updated  int                `json:"updated"`
	Skipped  int                `json:"skipped"`
	Removed  int                `json:"removed"`
	Errors   int                `json:"errors"`
	Failures []apperr.ItemError `json:"failures,omitempty"`
}

func (s *Stats) add(other Stats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Removed += other.Removed
	s.Errors += other.Errors
	s.Failures = append(s.Failures, other.Failures...)
}

// Service rebuilds cache records from manifest entries and front matter.
type Service struct {
	collections *collection.Registry
	store       cache.Store
	logger      *slog.Logger
	events      EventFunc
	now         func() time.Time
}

// NewService builds a refresh service over the given collections and cache.
func NewService(collections *collection.Registry, store cache.Store, logger *slog.Logger) *Service {
	return &Service{
		collections: collections,
		store:       store,
		logger:      logger.With(slog.String("component", "refresh")),
		now:         time.Now,
	}
}

// SetEventFunc registers a callback invoked after each cache change.
func (s *Service) SetEventFunc(fn EventFunc) { s.events = fn }

func (s *Service) emit(kind, collectionID, key string) {
	if s.events != nil {
		s.events(kind, collectionID, key)
	}
}

// RefreshOne re-reads an artifact's manifest entry and primary file front
// matter, then upserts the cache record with a fresh synced_at. Calling it
// again without a filesystem change reproduces the same field values.
func (s *Service) RefreshOne(collectionID string, id models.Identity) (*cache.Record, error) {
	col, err := s.collections.Get(collectionID)
	if err != nil {
		return nil, err
	}
	entry, err := col.Entry(id)
	if err != nil {
		return nil, err
	}

	rec := s.buildRecord(col, entry, id)
	if err := s.store.Upsert(rec); err != nil {
		return nil, err
	}
	s.emit(EventRefreshed, collectionID, id.String())
	return &rec, nil
}

// RefreshAll rebuilds every record for one collection, or for all
// collections when collectionID is empty. Cache rows whose artifact left the
// manifest are pruned. Single-artifact failures are recorded and skipped;
// the call errors only when a manifest is unreadable or nothing succeeded.
func (s *Service) RefreshAll(collectionID string) (Stats, error) {
	ids := []string{collectionID}
	if collectionID == "" {
		ids = s.collections.IDs()
	}

	var stats Stats
	for _, cid := range ids {
		st, err := s.refreshCollection(cid)
		stats.add(st)
		if err != nil {
			return stats, err
		}
	}

	attempted := stats.Created + stats.Updated + stats.Skipped + stats.Errors
	if stats.Errors > 0 && stats.Errors == attempted {
		return stats, &apperr.PartialBatch{Op: "refresh", Items: stats.Failures}
	}
	return stats, nil
}

func (s *Service) refreshCollection(collectionID string) (Stats, error) {
	col, err := s.collections.Get(collectionID)
	if err != nil {
		return Stats{}, err
	}
	manifest, err := col.Manifest()
	if err != nil {
		return Stats{}, err
	}
	cached, err := s.store.AllKeys(collectionID)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	seen := make(map[string]struct{}, len(manifest.Artifacts))
	for _, entry := range manifest.Artifacts {
		id, err := entry.Identity()
		if err != nil {
			stats.Errors++
			stats.Failures = append(stats.Failures, apperr.ItemError{Key: entry.Name, Err: err})
			continue
		}
		key := id.String()
		seen[key] = struct{}{}

		rec := s.buildRecord(col, entry, id)
		_, existed := cached[key]
		changed := true
		if existed {
			if prev, err := s.store.Get(collectionID, key); err == nil {
				changed = !sameFields(prev, &rec)
			}
		}

		if err := s.store.Upsert(rec); err != nil {
			stats.Errors++
			stats.Failures = append(stats.Failures, apperr.ItemError{Key: key, Err: err})
			s.logger.Warn("refresh: upsert failed",
				slog.String("collection", collectionID),
				slog.String("artifact", key),
				slog.String("error", err.Error()))
			continue
		}
		switch {
		case !existed:
			stats.Created++
		case changed:
			stats.Updated++
		default:
			stats.Skipped++
		}
		s.emit(EventRefreshed, collectionID, key)
	}

	// Prune rows whose artifact left the manifest.
	for key := range cached {
		if _, ok := seen[key]; ok {
			continue
		}
		if err := s.store.Delete(collectionID, key); err != nil {
			s.logger.Warn("refresh: prune failed",
				slog.String("collection", collectionID),
				slog.String("artifact", key),
				slog.String("error", err.Error()))
			continue
		}
		stats.Removed++
		s.emit(EventRemoved, collectionID, key)
	}

	return stats, nil
}

// GetForDisplay returns the cached record when it has been synced at least
// once, and otherwise falls back to a synchronous RefreshOne. This is the
// only read path that triggers a write.
func (s *Service) GetForDisplay(collectionID string, id models.Identity) (*cache.Record, error) {
	rec, err := s.store.Get(collectionID, id.String())
	if err == nil && rec.SyncedAt != nil {
		return rec, nil
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return s.RefreshOne(collectionID, id)
}

// Forget drops an artifact's cache record after the artifact itself was
// removed from the collection. Failures are logged, never surfaced: the
// authoritative removal already happened.
func (s *Service) Forget(collectionID string, id models.Identity) {
	if err := s.store.Delete(collectionID, id.String()); err != nil {
		s.logger.Warn("refresh: forget failed",
			slog.String("collection", collectionID),
			slog.String("artifact", id.String()),
			slog.String("error", err.Error()))
		return
	}
	s.emit(EventRemoved, collectionID, id.String())
}

// buildRecord merges a manifest entry with the primary file's front matter.
// Front matter wins for the fields both carry. A missing primary file or a
// broken header degrades to manifest fields alone.
func (s *Service) buildRecord(col *collection.Store, entry *collection.Entry, id models.Identity) cache.Record {
	now := s.now().UTC()
	rec := cache.Record{
		CollectionID:    col.ID(),
		Key:             id.String(),
		Name:            entry.Name,
		Type:            entry.Type,
		SourceRef:       entry.Source,
		VersionSpec:     entry.VersionSpec,
		ResolvedVersion: entry.ResolvedVersion,
		ResolvedHash:    entry.ResolvedHash,
		Tags:            slices.Clone(entry.Tags),
		Description:     entry.Description,
		Author:          entry.Author,
		License:         entry.License,
		SyncedAt:        &now,
		UpdatedAt:       now,
	}

	_, data, err := col.PrimaryFile(id)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("refresh: primary file read failed",
				slog.String("collection", col.ID()),
				slog.String("artifact", id.String()),
				slog.String("error", err.Error()))
		}
		return rec
	}
	fm, err := frontmatter.Parse(data)
	if err != nil {
		return rec
	}
	if fm.Has("tags") {
		rec.Tags = fm.Tags()
	}
	if v := fm.String("description"); v != "" {
		rec.Description = v
	}
	if v := fm.String("author"); v != "" {
		rec.Author = v
	}
	if v := fm.String("license"); v != "" {
		rec.License = v
	}
	return rec
}

// sameFields reports whether two records agree on every cached field,
// ignoring the timestamps.
func sameFields(a, b *cache.Record) bool {
	return a.Name == b.Name &&
		a.Type == b.Type &&
		a.SourceRef == b.SourceRef &&
		a.VersionSpec == b.VersionSpec &&
		a.ResolvedVersion == b.ResolvedVersion &&
		a.ResolvedHash == b.ResolvedHash &&
		slices.Equal(a.Tags, b.Tags) &&
		a.Description == b.Description &&
		a.Author == b.Author &&
		a.License == b.License
}
