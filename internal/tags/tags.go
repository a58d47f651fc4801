// Package tags implements tag rename and delete across a collection. It is
// the one write path that touches both the manifest and content-file front
// matter, and it orders every step so the filesystem is updated before the
// metadata cache ever sees the change.
package tags

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/frontmatter"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/refresh"
)

// Service applies tag mutations to one collection at a time.
type Service struct {
	collections *collection.Registry
	refresher   *refresh.Service
	logger      *slog.Logger
}

// NewService builds a tag service.
func NewService(collections *collection.Registry, refresher *refresh.Service, logger *slog.Logger) *Service {
	return &Service{
		collections: collections,
		refresher:   refresher,
		logger:      logger.With(slog.String("component", "tags")),
	}
}

// RenameTag replaces old with new on every artifact carrying old, in the
// manifest and in primary-file front matter, then refreshes the affected
// cache records. It returns the affected identities.
func (s *Service) RenameTag(collectionID, oldTag, newTag string) ([]models.Identity, error) {
	if err := validTag(oldTag); err != nil {
		return nil, err
	}
	if err := validTag(newTag); err != nil {
		return nil, err
	}
	if oldTag == newTag {
		return nil, fmt.Errorf("tags: rename %q to itself", oldTag)
	}
	return s.apply(collectionID, "rename_tag", oldTag, newTag)
}

// DeleteTag removes the tag from every artifact carrying it. An artifact
// whose front matter tag list becomes empty loses the tags key entirely.
func (s *Service) DeleteTag(collectionID, tag string) ([]models.Identity, error) {
	if err := validTag(tag); err != nil {
		return nil, err
	}
	return s.apply(collectionID, "delete_tag", tag, "")
}

// apply runs both mutations: newTag empty means delete. The manifest is
// persisted only after every front-matter write succeeded; cache refreshes
// come last and never fail the mutation.
func (s *Service) apply(collectionID, op, oldTag, newTag string) ([]models.Identity, error) {
	col, err := s.collections.Get(collectionID)
	if err != nil {
		return nil, err
	}
	manifest, err := col.Manifest()
	if err != nil {
		return nil, err
	}

	var affected []models.Identity
	for _, entry := range manifest.Artifacts {
		if !entry.HasTag(oldTag) {
			continue
		}
		id, err := entry.Identity()
		if err != nil {
			return nil, err
		}
		entry.Tags = mutateTags(entry.Tags, oldTag, newTag)
		affected = append(affected, id)
	}
	if len(affected) == 0 {
		return []models.Identity{}, nil
	}
	sort.Slice(affected, func(i, j int) bool { return affected[i].String() < affected[j].String() })

	mutationID := uuid.NewString()
	logger := s.logger.With(
		slog.String("mutation_id", mutationID),
		slog.String("collection", collectionID),
		slog.String("op", op),
		slog.String("tag", oldTag))
	logger.Info("tags: mutation started", slog.Int("affected", len(affected)))

	// Front matter first. A failure here aborts before the manifest is
	// persisted, so the durable tier never half-applies a mutation batch.
	var failed []apperr.ItemError
	for _, id := range affected {
		if err := s.writeFrontMatter(col, id, oldTag, newTag); err != nil {
			failed = append(failed, apperr.ItemError{Key: id.String(), Err: err})
			logger.Warn("tags: front matter write failed",
				slog.String("artifact", id.String()),
				slog.String("error", err.Error()))
		}
	}
	if len(failed) > 0 {
		return nil, &apperr.PartialBatch{Op: op, Items: failed}
	}

	if err := col.SaveManifest(manifest); err != nil {
		return nil, err
	}

	// Cache updates come last; failures are logged, never returned.
	for _, id := range affected {
		if _, err := s.refresher.RefreshOne(collectionID, id); err != nil {
			logger.Warn("tags: cache refresh failed",
				slog.String("artifact", id.String()),
				slog.String("error", err.Error()))
		}
	}

	logger.Info("tags: mutation done")
	return affected, nil
}

// writeFrontMatter rewrites the tags field in the artifact's primary file.
// Artifacts without a primary file, without a front matter header, or whose
// header does not carry the tag are skipped silently; the manifest update
// alone still applies.
func (s *Service) writeFrontMatter(col *collection.Store, id models.Identity, oldTag, newTag string) error {
	rel, doc, err := col.PrimaryFile(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	fm, err := frontmatter.Parse(doc)
	if err != nil {
		return nil
	}
	current := fm.Tags()
	if !slices.Contains(current, oldTag) {
		return nil
	}

	next := mutateTags(current, oldTag, newTag)
	var out []byte
	var changed bool
	if len(next) == 0 {
		out, changed, err = frontmatter.Delete(doc, "tags")
	} else {
		out, changed, err = frontmatter.SetStringList(doc, "tags", next)
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := col.WriteFile(id, rel, out); err != nil {
		return &apperr.WriteFailure{Path: id.Path() + "/" + rel, Err: err}
	}
	return nil
}

// mutateTags returns tags with oldTag renamed to newTag, or removed when
// newTag is empty. Order is preserved and duplicates collapse.
func mutateTags(tags []string, oldTag, newTag string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == oldTag {
			t = newTag
		}
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func validTag(tag string) error {
	if tag == "" || strings.TrimSpace(tag) != tag {
		return fmt.Errorf("tags: invalid tag %q", tag)
	}
	return nil
}
