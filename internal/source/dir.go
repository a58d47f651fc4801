package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/raido/internal/apperr"
)

// DirClient serves "dir:" refs pointing at local or mounted directories.
// A configurable deadline bounds every call so an unresponsive mount is
// reported as an unavailable upstream instead of hanging the caller.
type DirClient struct {
	timeout time.Duration
}

// NewDirClient builds a directory client. A zero timeout disables the
// deadline.
func NewDirClient(timeout time.Duration) *DirClient {
	return &DirClient{timeout: timeout}
}

var _ Client = (*DirClient)(nil)

// Resolve fetches the directory and reports the version its front matter
// declares.
func (c *DirClient) Resolve(ctx context.Context, ref string) (string, error) {
	snap, err := c.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	return snap.Version, nil
}

// Fetch reads the directory tree into a snapshot. Hidden files and
// directories are skipped, matching what the managed tiers track.
func (c *DirClient) Fetch(ctx context.Context, ref string) (*Snapshot, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	root := filepath.Clean(ref)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, unavailable("fetch", ref, err)
	}

	files := make(map[string][]byte)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return nil, unavailable("fetch", ref, err)
	}

	return &Snapshot{Version: snapshotVersion(files), Files: files}, nil
}

func unavailable(op, ref string, err error) error {
	if err == nil {
		err = fmt.Errorf("not a directory")
	}
	return fmt.Errorf("source: %s dir:%s: %w: %v", op, ref, apperr.ErrUpstreamUnavailable, err)
}
