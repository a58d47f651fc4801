// Package source talks to upstream artifact locations. A source ref is
// scheme-prefixed ("dir:/srv/mirrors/pdf-parser"); the registry picks the
// client for the scheme, and clients return full file snapshots that the
// sync and diff layers hash and compare.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/frontmatter"
)

// Snapshot is one artifact's complete upstream state at fetch time.
type Snapshot struct {
	Version string
	Files   map[string][]byte
}

// Hashes returns content checksums keyed by file path.
func (s *Snapshot) Hashes() map[string]string {
	hashes := make(map[string]string, len(s.Files))
	for path, content := range s.Files {
		hashes[path] = checksum.Sum(content)
	}
	return hashes
}

// Client fetches artifact state from one kind of upstream. Implementations
// receive the ref with its scheme prefix already stripped.
type Client interface {
	// Resolve returns the concrete version the ref currently serves.
	// An upstream without version metadata resolves to "".
	Resolve(ctx context.Context, ref string) (string, error)
	// Fetch retrieves the ref's full file set.
	Fetch(ctx context.Context, ref string) (*Snapshot, error)
}

// ParseRef splits a source ref into scheme and rest.
func ParseRef(ref string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok || scheme == "" || rest == "" {
		return "", "", fmt.Errorf("source: malformed ref %q", ref)
	}
	return scheme, rest, nil
}

// Registry maps ref schemes to clients.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds an empty scheme registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register binds a scheme to a client, replacing any previous binding.
func (r *Registry) Register(scheme string, c Client) {
	r.clients[scheme] = c
}

// ForRef returns the client handling ref's scheme along with the stripped
// ref. Unknown schemes surface ErrUnsupported.
func (r *Registry) ForRef(ref string) (Client, string, error) {
	scheme, rest, err := ParseRef(ref)
	if err != nil {
		return nil, "", err
	}
	c, ok := r.clients[scheme]
	if !ok {
		return nil, "", fmt.Errorf("source: scheme %q: %w", scheme, apperr.ErrUnsupported)
	}
	return c, rest, nil
}

// Schemes returns the registered schemes in stable order.
func (r *Registry) Schemes() []string {
	schemes := make([]string, 0, len(r.clients))
	for s := range r.clients {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// snapshotVersion extracts a version from the snapshot's front matter,
// preferring conventional primary files over the rest.
func snapshotVersion(files map[string][]byte) string {
	ordered := make([]string, 0, len(files))
	for path := range files {
		ordered = append(ordered, path)
	}
	sort.Slice(ordered, func(i, j int) bool {
		pi, pj := primaryRank(ordered[i]), primaryRank(ordered[j])
		if pi != pj {
			return pi < pj
		}
		return ordered[i] < ordered[j]
	})
	for _, path := range ordered {
		if !strings.HasSuffix(path, ".md") {
			continue
		}
		res, err := frontmatter.Parse(files[path])
		if err != nil {
			continue
		}
		if v := res.String("version"); v != "" {
			return v
		}
	}
	return ""
}

func primaryRank(path string) int {
	switch path {
	case "SKILL.md", "COMMAND.md", "AGENT.md", "TOOL.md", "HOOK.md":
		return 0
	case "README.md":
		return 1
	}
	return 2
}
