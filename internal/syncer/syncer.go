// Package syncer executes the directional operations that move artifact
// state between tiers: pull from upstream into the collection, deploy from
// the collection into a project, plus first-time import and removal. Every
// mutation writes the file-based tier first and refreshes the metadata
// cache afterwards.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/diff"
	"github.com/starford/raido/internal/frontmatter"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/project"
	"github.com/starford/raido/internal/refresh"
	"github.com/starford/raido/internal/source"
	"github.com/starford/raido/internal/storage"
)

// Event kinds emitted after successful operations.
const (
	EventPulled   = "pulled"
	EventDeployed = "deployed"
	EventImported = "imported"
	EventRemoved  = "removed"
)

// EventFunc is called after each successful mutation.
type EventFunc func(kind, collectionID, key string)

// Service orchestrates tier mutations.
type Service struct {
	collections *collection.Registry
	projects    *project.Registry
	sources     *source.Registry
	refresher   *refresh.Service
	engine      *diff.Engine
	logger      *slog.Logger
	events      EventFunc
	now         func() time.Time
}

// NewService builds a sync orchestrator.
func NewService(collections *collection.Registry, projects *project.Registry, sources *source.Registry, refresher *refresh.Service, engine *diff.Engine, logger *slog.Logger) *Service {
	return &Service{
		collections: collections,
		projects:    projects,
		sources:     sources,
		refresher:   refresher,
		engine:      engine,
		logger:      logger.With(slog.String("component", "syncer")),
		now:         time.Now,
	}
}

// SetEventFunc registers a callback invoked after each successful mutation.
func (s *Service) SetEventFunc(fn EventFunc) { s.events = fn }

func (s *Service) emit(kind, collectionID, key string) {
	if s.events != nil {
		s.events(kind, collectionID, key)
	}
}

// PullResult reports one completed pull.
type PullResult struct {
	OpID            string `json:"op_id"`
	Key             string `json:"key"`
	Collection      string `json:"collection"`
	ResolvedVersion string `json:"resolved_version,omitempty"`
	Files           int    `json:"files"`
}

// PullFromSource overwrites the collection copy of one artifact with the
// current upstream state and records the new resolved version, hash, and
// per-file baselines in the manifest. An unreachable upstream leaves every
// tier untouched; a failure after the file swap rolls the swap back so the
// manifest and content never disagree about a completed pull.
func (s *Service) PullFromSource(ctx context.Context, collectionID string, id models.Identity) (*PullResult, error) {
	col, err := s.collections.Get(collectionID)
	if err != nil {
		return nil, err
	}
	manifest, err := col.Manifest()
	if err != nil {
		return nil, err
	}
	entry := manifest.Find(id)
	if entry == nil {
		return nil, fmt.Errorf("syncer: artifact %s: %w", id, apperr.ErrNotFound)
	}
	if entry.Source == "" {
		return nil, fmt.Errorf("syncer: artifact %s has no source ref: %w", id, apperr.ErrNotFound)
	}

	opID := uuid.NewString()
	logger := s.logger.With(
		slog.String("op_id", opID),
		slog.String("collection", collectionID),
		slog.String("artifact", id.String()))

	client, ref, err := s.sources.ForRef(entry.Source)
	if err != nil {
		return nil, err
	}
	snap, err := client.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	commit, undo, err := replaceDir(col.Files(), id.Path(), snap.Files)
	if err != nil {
		return nil, err
	}

	hashes := snap.Hashes()
	entry.ResolvedVersion = snap.Version
	entry.ResolvedHash = checksum.SumFiles(hashes)
	entry.ResolvedFiles = hashes
	if err := col.SaveManifest(manifest); err != nil {
		undo()
		return nil, err
	}
	commit()

	s.engine.Invalidate(collectionID, id)
	if _, err := s.refresher.RefreshOne(collectionID, id); err != nil {
		logger.Warn("syncer: refresh after pull failed", slog.String("error", err.Error()))
	}
	logger.Info("syncer: pulled",
		slog.String("version", snap.Version),
		slog.Int("files", len(snap.Files)))
	s.emit(EventPulled, collectionID, id.String())

	return &PullResult{
		OpID:            opID,
		Key:             id.String(),
		Collection:      collectionID,
		ResolvedVersion: snap.Version,
		Files:           len(snap.Files),
	}, nil
}

// DeployResult reports one completed deploy.
type DeployResult struct {
	OpID       string `json:"op_id"`
	Key        string `json:"key"`
	Collection string `json:"collection"`
	Project    string `json:"project"`
	Files      int    `json:"files"`
}

// DeployToProject copies the collection copy of one artifact into a project
// and records the deploy baseline in the project lockfile. Without the
// overwrite flag, undeclared local edits in the deployed copy block the
// deploy with ErrConflict.
func (s *Service) DeployToProject(ctx context.Context, collectionID string, id models.Identity, projectID string, overwrite bool) (*DeployResult, error) {
	col, err := s.collections.Get(collectionID)
	if err != nil {
		return nil, err
	}
	entry, err := col.Entry(id)
	if err != nil {
		return nil, err
	}
	proj, err := s.projects.Get(projectID)
	if err != nil {
		return nil, err
	}

	if !overwrite {
		if err := s.checkDeployConflict(ctx, collectionID, id, projectID); err != nil {
			return nil, err
		}
	}

	opID := uuid.NewString()
	logger := s.logger.With(
		slog.String("op_id", opID),
		slog.String("collection", collectionID),
		slog.String("artifact", id.String()),
		slog.String("project", projectID))

	content, err := readAll(col, id)
	if err != nil {
		return nil, err
	}
	commit, undo, err := replaceDir(proj.Files(), id.Path(), content)
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string, len(content))
	for rel, data := range content {
		hashes[rel] = checksum.Sum(data)
	}
	lock, err := proj.Lockfile()
	if err != nil {
		undo()
		return nil, err
	}
	lock.Set(&project.LockedArtifact{
		Key:             id.String(),
		Collection:      collectionID,
		ResolvedVersion: entry.ResolvedVersion,
		DeployedAt:      s.now().UTC(),
		Files:           hashes,
	})
	if err := proj.SaveLockfile(lock); err != nil {
		undo()
		return nil, err
	}
	commit()

	s.engine.Invalidate(collectionID, id)
	if _, err := s.refresher.RefreshOne(collectionID, id); err != nil {
		logger.Warn("syncer: refresh after deploy failed", slog.String("error", err.Error()))
	}
	logger.Info("syncer: deployed", slog.Int("files", len(content)))
	s.emit(EventDeployed, collectionID, id.String())

	return &DeployResult{
		OpID:       opID,
		Key:        id.String(),
		Collection: collectionID,
		Project:    projectID,
		Files:      len(content),
	}, nil
}

// checkDeployConflict refuses the deploy when the deployed copy carries
// local edits. A never-deployed artifact passes.
func (s *Service) checkDeployConflict(ctx context.Context, collectionID string, id models.Identity, projectID string) error {
	res, err := s.engine.Diff(ctx, diff.Query{
		Collection: collectionID,
		Artifact:   id,
		Scope:      diff.ScopeProjectCollection,
		Project:    projectID,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	switch diff.Classify(res) {
	case diff.StateModified, diff.StateConflict:
		return fmt.Errorf("syncer: project %s has local changes to %s: %w", projectID, id, apperr.ErrConflict)
	}
	return nil
}

// ImportResult reports one completed import.
type ImportResult struct {
	OpID            string `json:"op_id"`
	Key             string `json:"key"`
	Collection      string `json:"collection"`
	ResolvedVersion string `json:"resolved_version,omitempty"`
	Files           int    `json:"files"`
}

// Import acquires an artifact from a source ref for the first time: fetch,
// write files, append the manifest entry, refresh. The entry's metadata
// fields are seeded from the fetched front matter.
func (s *Service) Import(ctx context.Context, collectionID string, id models.Identity, sourceRef string) (*ImportResult, error) {
	col, err := s.collections.Get(collectionID)
	if err != nil {
		return nil, err
	}
	manifest, err := col.Manifest()
	if err != nil {
		return nil, err
	}
	if manifest.Find(id) != nil {
		return nil, fmt.Errorf("syncer: artifact %s: %w", id, apperr.ErrAlreadyExists)
	}

	opID := uuid.NewString()
	logger := s.logger.With(
		slog.String("op_id", opID),
		slog.String("collection", collectionID),
		slog.String("artifact", id.String()))

	client, ref, err := s.sources.ForRef(sourceRef)
	if err != nil {
		return nil, err
	}
	snap, err := client.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	commit, undo, err := replaceDir(col.Files(), id.Path(), snap.Files)
	if err != nil {
		return nil, err
	}

	hashes := snap.Hashes()
	entry := &collection.Entry{
		Name:            id.Name,
		Type:            id.Type,
		Source:          sourceRef,
		ResolvedVersion: snap.Version,
		ResolvedHash:    checksum.SumFiles(hashes),
		ResolvedFiles:   hashes,
	}
	seedEntryMetadata(entry, id, snap.Files)
	manifest.Artifacts = append(manifest.Artifacts, entry)
	if err := col.SaveManifest(manifest); err != nil {
		undo()
		return nil, err
	}
	commit()

	s.engine.Invalidate(collectionID, id)
	if _, err := s.refresher.RefreshOne(collectionID, id); err != nil {
		logger.Warn("syncer: refresh after import failed", slog.String("error", err.Error()))
	}
	logger.Info("syncer: imported",
		slog.String("source", sourceRef),
		slog.Int("files", len(snap.Files)))
	s.emit(EventImported, collectionID, id.String())

	return &ImportResult{
		OpID:            opID,
		Key:             id.String(),
		Collection:      collectionID,
		ResolvedVersion: snap.Version,
		Files:           len(snap.Files),
	}, nil
}

// Remove deletes an artifact's files and manifest entry, then drops its
// cache record. Deployed project copies are left alone.
func (s *Service) Remove(collectionID string, id models.Identity) error {
	col, err := s.collections.Get(collectionID)
	if err != nil {
		return err
	}
	manifest, err := col.Manifest()
	if err != nil {
		return err
	}
	if manifest.Find(id) == nil {
		return fmt.Errorf("syncer: artifact %s: %w", id, apperr.ErrNotFound)
	}

	if err := col.RemoveFiles(id); err != nil {
		return err
	}
	manifest.Remove(id)
	if err := col.SaveManifest(manifest); err != nil {
		return err
	}

	s.engine.Invalidate(collectionID, id)
	s.refresher.Forget(collectionID, id)
	s.logger.Info("syncer: removed",
		slog.String("collection", collectionID),
		slog.String("artifact", id.String()))
	s.emit(EventRemoved, collectionID, id.String())
	return nil
}

// Push would copy project-local changes back into the collection. No such
// transition exists; callers get a hard unsupported error instead of a
// silent no-op.
func (s *Service) Push(collectionID string, id models.Identity, projectID string) error {
	return fmt.Errorf("syncer: push %s from project %s to collection %s: %w",
		id, projectID, collectionID, apperr.ErrUnsupported)
}

// readAll loads an artifact's full collection content keyed by path
// relative to the artifact directory.
func readAll(col *collection.Store, id models.Identity) (map[string][]byte, error) {
	hashes, err := col.FileHashes(id)
	if err != nil {
		return nil, err
	}
	content := make(map[string][]byte, len(hashes))
	for rel := range hashes {
		data, err := col.ReadFile(id, rel)
		if err != nil {
			return nil, err
		}
		content[rel] = data
	}
	return content, nil
}

// seedEntryMetadata fills the manifest entry's descriptive fields from the
// fetched primary file's front matter, when one exists.
func seedEntryMetadata(entry *collection.Entry, id models.Identity, files map[string][]byte) {
	var doc []byte
	for _, candidate := range []string{id.Type.PrimaryName(), id.Name + ".md", "README.md"} {
		if data, ok := files[candidate]; ok {
			doc = data
			break
		}
	}
	if doc == nil {
		return
	}
	fm, err := frontmatter.Parse(doc)
	if err != nil {
		return
	}
	entry.Tags = fm.Tags()
	entry.Description = fm.String("description")
	entry.Author = fm.String("author")
	entry.License = fm.String("license")
}

// replaceDir swaps dir's content for the given file set through a hidden
// stage directory. The stage is fully written before the old dir moves
// aside and the stage moves in. The returned commit drops the old copy;
// undo restores it. An error during staging leaves the live dir untouched.
func replaceDir(files storage.Provider, dir string, content map[string][]byte) (commit func(), undo func(), err error) {
	parent, base := path.Split(dir)
	stage := path.Join(parent, ".stage-"+base)
	backup := path.Join(parent, ".old-"+base)
	_ = files.RemoveDir(stage)
	_ = files.RemoveDir(backup)

	for rel, data := range content {
		if err := files.Write(path.Join(stage, rel), data); err != nil {
			_ = files.RemoveDir(stage)
			return nil, nil, &apperr.WriteFailure{Path: path.Join(stage, rel), Err: err}
		}
	}

	hadOld := files.DirExists(dir)
	if hadOld {
		if err := files.Move(dir, backup); err != nil {
			_ = files.RemoveDir(stage)
			return nil, nil, &apperr.WriteFailure{Path: dir, Err: err}
		}
	}
	if len(content) > 0 {
		if err := files.Move(stage, dir); err != nil {
			if hadOld {
				_ = files.Move(backup, dir)
			}
			_ = files.RemoveDir(stage)
			return nil, nil, &apperr.WriteFailure{Path: dir, Err: err}
		}
	}

	commit = func() {
		if hadOld {
			_ = files.RemoveDir(backup)
		}
	}
	undo = func() {
		_ = files.RemoveDir(dir)
		if hadOld {
			_ = files.Move(backup, dir)
		}
	}
	return commit, undo, nil
}
