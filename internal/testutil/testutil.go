// Package testutil provides shared test helpers for setting up collections,
// projects, and cache databases.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/project"
	"github.com/starford/raido/internal/storage"
)

// TestCache opens a temporary SQLite cache database that is automatically
// closed and cleaned up.
func TestCache(t *testing.T) *cache.DB {
	t.Helper()
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCollection creates a collection store over a temporary directory.
func TestCollection(t *testing.T, id string) *collection.Store {
	t.Helper()
	fsys, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return collection.NewStore(id, fsys)
}

// TestProject creates a project store over a temporary directory.
func TestProject(t *testing.T, name string) *project.Store {
	t.Helper()
	fsys, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return project.NewStore(name, fsys)
}
