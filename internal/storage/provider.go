// Package storage defines the tier file-system abstraction shared by the
// collection and project tiers.
package storage

import "time"

// FileMeta describes one file in a tier, with the checksum used for
// divergence detection.
type FileMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for tier file operations. All paths are
// relative to the tier root.
type Provider interface {
	// Root returns the absolute tier root directory.
	Root() string
	// List returns metadata for every regular file under dir.
	List(dir string) ([]FileMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// RemoveDir removes the directory at path and its contents.
	RemoveDir(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Exists reports whether path exists.
	Exists(path string) bool
	// DirExists reports whether path is an existing directory.
	DirExists(path string) bool
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
