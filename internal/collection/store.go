package collection

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

// Store gives manifest and file access to a single collection rooted at a
// storage provider. The manifest on disk is authoritative; Store never holds
// a cached copy between calls.
type Store struct {
	id    string
	files storage.Provider
}

// NewStore binds a collection id to its storage root.
func NewStore(id string, files storage.Provider) *Store {
	return &Store{id: id, files: files}
}

// ID returns the collection's identifier.
func (s *Store) ID() string { return s.id }

// Root returns the collection's filesystem root.
func (s *Store) Root() string { return s.files.Root() }

// Files exposes the underlying provider for callers that stage content
// directly, such as pull and deploy.
func (s *Store) Files() storage.Provider { return s.files }

// Manifest loads the manifest from disk. A missing file yields an empty
// manifest carrying the store's id, so a freshly created collection is
// usable before its first import.
func (s *Store) Manifest() (*Manifest, error) {
	data, err := s.files.Read(ManifestFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Manifest{ID: s.id}, nil
		}
		return nil, fmt.Errorf("collection %s: read manifest: %w", s.id, err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", s.id, err)
	}
	if m.ID == "" {
		m.ID = s.id
	}
	return m, nil
}

// SaveManifest writes the manifest atomically. The write replaces the whole
// file, so callers mutate a loaded copy and persist it in one step.
func (s *Store) SaveManifest(m *Manifest) error {
	data, err := encodeManifest(m)
	if err != nil {
		return fmt.Errorf("collection %s: %w", s.id, err)
	}
	if err := s.files.Write(ManifestFile, data); err != nil {
		return fmt.Errorf("collection %s: write manifest: %w", s.id, err)
	}
	return nil
}

// Entry loads the manifest and returns the entry for id, or ErrNotFound.
func (s *Store) Entry(id models.Identity) (*Entry, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	e := m.Find(id)
	if e == nil {
		return nil, fmt.Errorf("collection %s: artifact %s: %w", s.id, id, apperr.ErrNotFound)
	}
	return e, nil
}

// FileHashes returns the artifact's current files as a map of paths relative
// to the artifact directory to content checksums. A missing directory yields
// an empty map: the entry may exist in the manifest before any content does.
func (s *Store) FileHashes(id models.Identity) (map[string]string, error) {
	dir := id.Path()
	if !s.files.DirExists(dir) {
		return map[string]string{}, nil
	}
	metas, err := s.files.List(dir)
	if err != nil {
		return nil, fmt.Errorf("collection %s: list %s: %w", s.id, id, err)
	}
	hashes := make(map[string]string, len(metas))
	for _, meta := range metas {
		rel := strings.TrimPrefix(meta.Path, dir+"/")
		hashes[rel] = meta.Checksum
	}
	return hashes, nil
}

// ReadFile reads one file inside the artifact's directory. rel is relative
// to that directory.
func (s *Store) ReadFile(id models.Identity, rel string) ([]byte, error) {
	data, err := s.files.Read(id.Path() + "/" + rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("collection %s: %s/%s: %w", s.id, id, rel, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("collection %s: read %s/%s: %w", s.id, id, rel, err)
	}
	return data, nil
}

// WriteFile writes one file inside the artifact's directory.
func (s *Store) WriteFile(id models.Identity, rel string, content []byte) error {
	path := id.Path() + "/" + rel
	if err := s.files.Write(path, content); err != nil {
		return fmt.Errorf("collection %s: write %s/%s: %w", s.id, id, rel, err)
	}
	return nil
}

// RemoveFiles deletes the artifact's content directory. Missing directories
// are not an error so removal is idempotent.
func (s *Store) RemoveFiles(id models.Identity) error {
	dir := id.Path()
	if !s.files.DirExists(dir) {
		return nil
	}
	if err := s.files.RemoveDir(dir); err != nil {
		return fmt.Errorf("collection %s: remove %s: %w", s.id, id, err)
	}
	return nil
}

// PrimaryFile resolves the artifact's main document: the type's conventional
// file name first, then <name>.md, then README.md. It returns the path
// relative to the artifact directory along with the content.
func (s *Store) PrimaryFile(id models.Identity) (string, []byte, error) {
	for _, candidate := range primaryCandidates(id) {
		data, err := s.ReadFile(id, candidate)
		if err == nil {
			return candidate, data, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("collection %s: artifact %s has no primary file: %w", s.id, id, apperr.ErrNotFound)
}

func primaryCandidates(id models.Identity) []string {
	return []string{
		id.Type.PrimaryName(),
		id.Name + ".md",
		"README.md",
	}
}
