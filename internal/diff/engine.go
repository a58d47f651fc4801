package diff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/project"
	"github.com/starford/raido/internal/source"
)

// Query names one comparison: which artifact, which scope, and for project
// scopes which project.
type Query struct {
	Collection string
	Artifact   models.Identity
	Scope      Scope
	Project    string
}

func (q Query) key() string {
	return q.Collection + "|" + string(q.Scope) + "|" + q.Artifact.String() + "|" + q.Project
}

// Engine computes tier comparisons. Identical concurrent queries collapse
// into one computation, and finished results are served from a short-lived
// cache so polling presentation layers do not hammer the hasher.
type Engine struct {
	collections *collection.Registry
	projects    *project.Registry
	sources     *source.Registry
	logger      *slog.Logger
	ttl         time.Duration

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedResult
}

type cachedResult struct {
	res *Result
	at  time.Time
}

// NewEngine builds a diff engine. ttl bounds how long a computed result may
// be served before it is recomputed; zero disables result caching.
func NewEngine(collections *collection.Registry, projects *project.Registry, sources *source.Registry, ttl time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		collections: collections,
		projects:    projects,
		sources:     sources,
		logger:      logger.With(slog.String("component", "diff")),
		ttl:         ttl,
		cache:       make(map[string]cachedResult),
	}
}

// Diff runs one comparison, serving a recent identical result when one
// exists.
func (e *Engine) Diff(ctx context.Context, q Query) (*Result, error) {
	if _, err := ParseScope(string(q.Scope)); err != nil {
		return nil, err
	}
	if q.Scope.NeedsProject() && q.Project == "" {
		return nil, fmt.Errorf("diff: scope %s requires a project", q.Scope)
	}
	if !q.Scope.NeedsProject() {
		q.Project = ""
	}

	key := q.key()
	if res, ok := e.cached(key); ok {
		return res, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		if res, ok := e.cached(key); ok {
			return res, nil
		}
		res, err := e.compute(ctx, q)
		if err != nil {
			return nil, err
		}
		e.remember(key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (e *Engine) cached(key string) (*Result, bool) {
	if e.ttl <= 0 {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cache[key]
	if !ok || time.Since(c.at) > e.ttl {
		return nil, false
	}
	return c.res, true
}

func (e *Engine) remember(key string, res *Result) {
	if e.ttl <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[key] = cachedResult{res: res, at: time.Now()}
}

// Invalidate drops cached results for one artifact, across all scopes and
// projects. Mutation paths call it so the next status read sees the new
// state immediately instead of after TTL expiry.
func (e *Engine) Invalidate(collectionID string, id models.Identity) {
	prefix := collectionID + "|"
	marker := "|" + id.String() + "|"
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.cache {
		if strings.HasPrefix(key, prefix) && strings.Contains(key, marker) {
			delete(e.cache, key)
		}
	}
}

// compute assembles the three hash sets for the scope and reduces them. The
// two sides and the baseline are gathered in parallel; hashing is the cost,
// and the sides live on independent storage.
func (e *Engine) compute(ctx context.Context, q Query) (*Result, error) {
	col, err := e.collections.Get(q.Collection)
	if err != nil {
		return nil, err
	}
	entry, err := col.Entry(q.Artifact)
	if err != nil {
		return nil, err
	}

	var proj *project.Store
	if q.Scope.NeedsProject() {
		proj, err = e.projects.Get(q.Project)
		if err != nil {
			return nil, err
		}
	}
	if q.Scope.NeedsSource() && entry.Source == "" {
		return nil, fmt.Errorf("diff: artifact %s has no source ref: %w", q.Artifact, apperr.ErrNotFound)
	}

	var left, right, base map[string]string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)

	switch q.Scope {
	case ScopeSourceCollection:
		g.Go(func() (err error) { left, err = e.sourceHashes(gctx, entry.Source); return })
		g.Go(func() (err error) { right, err = col.FileHashes(q.Artifact); return })
		base = entry.ResolvedFiles

	case ScopeProjectCollection:
		g.Go(func() (err error) { left, err = e.projectHashes(proj, q.Artifact); return })
		g.Go(func() (err error) { right, err = col.FileHashes(q.Artifact); return })
		g.Go(func() (err error) { base, err = lockedHashes(proj, q.Artifact); return })

	case ScopeSourceProject:
		g.Go(func() (err error) { left, err = e.sourceHashes(gctx, entry.Source); return })
		g.Go(func() (err error) { right, err = e.projectHashes(proj, q.Artifact); return })
		g.Go(func() (err error) { base, err = col.FileHashes(q.Artifact); return })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files, sum := compare(left, right, base)
	res := &Result{
		Scope:      q.Scope,
		Collection: q.Collection,
		Artifact:   q.Artifact.String(),
		Project:    q.Project,
		HasChanges: sum.Added+sum.Modified+sum.Deleted > 0,
		Files:      files,
		Summary:    sum,
	}
	e.logger.Debug("diff: computed",
		slog.String("scope", string(q.Scope)),
		slog.String("artifact", q.Artifact.String()),
		slog.Bool("has_changes", res.HasChanges))
	return res, nil
}

func (e *Engine) sourceHashes(ctx context.Context, ref string) (map[string]string, error) {
	client, rest, err := e.sources.ForRef(ref)
	if err != nil {
		return nil, err
	}
	snap, err := client.Fetch(ctx, rest)
	if err != nil {
		return nil, err
	}
	return snap.Hashes(), nil
}

// projectHashes reads the deployed copy. An artifact with neither files nor
// a lock record is absent from the project tier.
func (e *Engine) projectHashes(proj *project.Store, id models.Identity) (map[string]string, error) {
	hashes, err := proj.FileHashes(id)
	if err != nil {
		return nil, err
	}
	if len(hashes) > 0 {
		return hashes, nil
	}
	lock, err := proj.Lockfile()
	if err != nil {
		return nil, err
	}
	if lock.Find(id) == nil {
		return nil, fmt.Errorf("diff: artifact %s not deployed in project %s: %w", id, proj.ID(), apperr.ErrNotFound)
	}
	return hashes, nil
}

// lockedHashes returns the deploy-time baseline, empty when the artifact
// was never recorded so every file diffs as added.
func lockedHashes(proj *project.Store, id models.Identity) (map[string]string, error) {
	lock, err := proj.Lockfile()
	if err != nil {
		return nil, err
	}
	rec := lock.Find(id)
	if rec == nil {
		return map[string]string{}, nil
	}
	return rec.Files, nil
}

// ScopeStatus is one scope's classification, with the failure text when the
// comparison errored.
type ScopeStatus struct {
	State SyncState `json:"state"`
	Error string    `json:"error,omitempty"`
}

// Status classifies an artifact across every scope that applies to it:
// source scopes when the manifest entry carries a source ref, project scopes
// when a project is named. A failing scope degrades to StateError without
// hiding the others.
func (e *Engine) Status(ctx context.Context, collectionID string, id models.Identity, projectID string) (map[Scope]ScopeStatus, error) {
	col, err := e.collections.Get(collectionID)
	if err != nil {
		return nil, err
	}
	entry, err := col.Entry(id)
	if err != nil {
		return nil, err
	}

	var scopes []Scope
	if entry.Source != "" {
		scopes = append(scopes, ScopeSourceCollection)
	}
	if projectID != "" {
		scopes = append(scopes, ScopeProjectCollection)
		if entry.Source != "" {
			scopes = append(scopes, ScopeSourceProject)
		}
	}

	out := make(map[Scope]ScopeStatus, len(scopes))
	for _, scope := range scopes {
		res, err := e.Diff(ctx, Query{
			Collection: collectionID,
			Artifact:   id,
			Scope:      scope,
			Project:    projectID,
		})
		st := ScopeStatus{State: StateFor(res, err)}
		if err != nil {
			st.Error = err.Error()
			e.logger.Warn("diff: status scope failed",
				slog.String("scope", string(scope)),
				slog.String("artifact", id.String()),
				slog.String("error", err.Error()))
		}
		out[scope] = st
	}
	return out, nil
}
