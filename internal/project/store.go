package project

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/storage"
)

// Store gives lockfile and file access to a single project rooted at a
// storage provider.
type Store struct {
	id    string
	files storage.Provider
}

// NewStore binds a project id to its storage root.
func NewStore(id string, files storage.Provider) *Store {
	return &Store{id: id, files: files}
}

// ID returns the project's identifier.
func (s *Store) ID() string { return s.id }

// Root returns the project's filesystem root.
func (s *Store) Root() string { return s.files.Root() }

// Files exposes the underlying provider for deploy staging.
func (s *Store) Files() storage.Provider { return s.files }

// Lockfile loads the lockfile from disk. A missing file yields an empty
// lockfile so a project is usable before its first deploy.
func (s *Store) Lockfile() (*Lockfile, error) {
	data, err := s.files.Read(LockfileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Lockfile{Version: lockfileVersion}, nil
		}
		return nil, fmt.Errorf("project %s: read lockfile: %w", s.id, err)
	}
	l, err := decodeLockfile(data)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", s.id, err)
	}
	return l, nil
}

// SaveLockfile writes the lockfile atomically.
func (s *Store) SaveLockfile(l *Lockfile) error {
	data, err := encodeLockfile(l)
	if err != nil {
		return fmt.Errorf("project %s: %w", s.id, err)
	}
	if err := s.files.Write(LockfileName, data); err != nil {
		return fmt.Errorf("project %s: write lockfile: %w", s.id, err)
	}
	return nil
}

// Locked returns the lockfile record for id, or ErrNotFound if the artifact
// was never deployed here.
func (s *Store) Locked(id models.Identity) (*LockedArtifact, error) {
	l, err := s.Lockfile()
	if err != nil {
		return nil, err
	}
	rec := l.Find(id)
	if rec == nil {
		return nil, fmt.Errorf("project %s: artifact %s: %w", s.id, id, apperr.ErrNotFound)
	}
	return rec, nil
}

// FileHashes returns the artifact's current files as a map of paths relative
// to the artifact directory to content checksums. A missing directory yields
// an empty map.
func (s *Store) FileHashes(id models.Identity) (map[string]string, error) {
	dir := id.Path()
	if !s.files.DirExists(dir) {
		return map[string]string{}, nil
	}
	metas, err := s.files.List(dir)
	if err != nil {
		return nil, fmt.Errorf("project %s: list %s: %w", s.id, id, err)
	}
	hashes := make(map[string]string, len(metas))
	for _, meta := range metas {
		rel := strings.TrimPrefix(meta.Path, dir+"/")
		hashes[rel] = meta.Checksum
	}
	return hashes, nil
}

// ReadFile reads one file inside the artifact's directory.
func (s *Store) ReadFile(id models.Identity, rel string) ([]byte, error) {
	data, err := s.files.Read(id.Path() + "/" + rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("project %s: %s/%s: %w", s.id, id, rel, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("project %s: read %s/%s: %w", s.id, id, rel, err)
	}
	return data, nil
}

// WriteFile writes one file inside the artifact's directory.
func (s *Store) WriteFile(id models.Identity, rel string, content []byte) error {
	path := id.Path() + "/" + rel
	if err := s.files.Write(path, content); err != nil {
		return fmt.Errorf("project %s: write %s/%s: %w", s.id, id, rel, err)
	}
	return nil
}

// RemoveFiles deletes the artifact's content directory. Missing directories
// are not an error.
func (s *Store) RemoveFiles(id models.Identity) error {
	dir := id.Path()
	if !s.files.DirExists(dir) {
		return nil
	}
	if err := s.files.RemoveDir(dir); err != nil {
		return fmt.Errorf("project %s: remove %s: %w", s.id, id, err)
	}
	return nil
}

// Registry resolves project ids to stores, built once at startup.
type Registry struct {
	stores map[string]*Store
}

// NewRegistry builds a registry over the given stores.
func NewRegistry(stores ...*Store) *Registry {
	r := &Registry{stores: make(map[string]*Store, len(stores))}
	for _, s := range stores {
		r.stores[s.ID()] = s
	}
	return r
}

// Get returns the store for a project id.
func (r *Registry) Get(id string) (*Store, error) {
	s, ok := r.stores[id]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

// IDs returns all registered project ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
