package refresh

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/models"
)

const watchDebounce = 200 * time.Millisecond

// Watch starts an fsnotify watcher on a collection root and refreshes the
// cache as artifact files change, until ctx is cancelled. Events for the
// same artifact are coalesced through a short debounce window; a manifest
// write schedules a collection-wide reconcile instead.
//
// New directories created at runtime are automatically added to the watch
// list.
func Watch(ctx context.Context, svc *Service, col *collection.Store, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := col.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger = logger.With(slog.String("component", "watcher"), slog.String("collection", col.ID()))
	logger.Info("watcher: started", slog.String("root", root))

	// One timer coalesces everything: pending artifact refreshes plus an
	// optional full reconcile when the manifest itself changed.
	var flushTimer *time.Timer
	var flushCh <-chan time.Time
	pending := make(map[string]models.Identity)
	reconcileAll := false

	scheduleFlush := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(watchDebounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			if reconcileAll {
				reconcileAll = false
				pending = make(map[string]models.Identity)
				if _, err := svc.RefreshAll(col.ID()); err != nil {
					logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				} else {
					logger.Debug("watcher: reconciled collection")
				}
				continue
			}
			for key, id := range pending {
				delete(pending, key)
				if _, err := svc.RefreshOne(col.ID(), id); err != nil {
					// The artifact may be mid-removal; the manifest
					// reconcile will settle it.
					logger.Debug("watcher: refresh failed",
						slog.String("artifact", key),
						slog.String("error", err.Error()))
				} else {
					logger.Debug("watcher: refreshed", slog.String("artifact", key))
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
				}
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if strings.HasPrefix(filepath.Base(rel), ".") {
				continue
			}

			if rel == collection.ManifestFile {
				reconcileAll = true
				scheduleFlush()
				continue
			}
			id, ok := artifactForPath(rel)
			if !ok {
				continue
			}
			// Any create/write/remove/rename inside the artifact dir means
			// its cached view may be off; rename-away and removal are
			// settled by RefreshOne too since the manifest still decides
			// existence.
			pending[id.String()] = id
			scheduleFlush()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// artifactForPath maps a collection-relative path to the artifact that owns
// it: "<plural-type>/<name>/...". Paths outside the managed layout map to
// nothing.
func artifactForPath(rel string) (models.Identity, bool) {
	parts := strings.SplitN(rel, "/", 3)
	if len(parts) < 2 {
		return models.Identity{}, false
	}
	for _, t := range models.Types() {
		if t.Dir() != parts[0] {
			continue
		}
		id, err := models.NewIdentity(t, parts[1])
		if err != nil {
			return models.Identity{}, false
		}
		return id, true
	}
	return models.Identity{}, false
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
}
