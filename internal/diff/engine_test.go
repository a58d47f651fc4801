package diff

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/project"
	"github.com/starford/raido/internal/source"
	"github.com/starford/raido/internal/storage"
)

type engineEnv struct {
	eng    *Engine
	col    *collection.Store
	proj   *project.Store
	srcDir string
	id     models.Identity
}

// newEngineEnv builds three tiers all holding the same two files, with pull
// and deploy baselines recorded, so every scope starts out synced.
func newEngineEnv(t *testing.T, ttl time.Duration) *engineEnv {
	t.Helper()

	colFS, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	col := collection.NewStore("main", colFS)

	projFS, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	proj := project.NewStore("webapp", projFS)

	srcDir := t.TempDir()
	id := models.Identity{Type: models.TypeSkill, Name: "pdf-parser"}

	contents := map[string]string{
		"SKILL.md": "# PDF Parser\n",
		"parse.py": "def parse(): ...\n",
	}
	hashes := make(map[string]string, len(contents))
	for rel, body := range contents {
		hashes[rel] = checksum.Sum([]byte(body))
		if err := os.MkdirAll(filepath.Dir(filepath.Join(srcDir, rel)), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(srcDir, rel), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := col.WriteFile(id, rel, []byte(body)); err != nil {
			t.Fatal(err)
		}
		if err := proj.WriteFile(id, rel, []byte(body)); err != nil {
			t.Fatal(err)
		}
	}

	if err := col.SaveManifest(&collection.Manifest{
		ID: "main",
		Artifacts: []*collection.Entry{{
			Name:            id.Name,
			Type:            id.Type,
			Source:          "dir:" + srcDir,
			ResolvedVersion: "1.0.0",
			ResolvedFiles:   hashes,
		}},
	}); err != nil {
		t.Fatal(err)
	}

	lock := &project.Lockfile{Version: 1}
	lock.Set(&project.LockedArtifact{
		Key:        id.String(),
		Collection: "main",
		DeployedAt: time.Now().UTC(),
		Files:      hashes,
	})
	if err := proj.SaveLockfile(lock); err != nil {
		t.Fatal(err)
	}

	sources := source.NewRegistry()
	sources.Register("dir", source.NewDirClient(0))
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := NewEngine(collection.NewRegistry(col), project.NewRegistry(proj), sources, ttl, logger)

	return &engineEnv{eng: eng, col: col, proj: proj, srcDir: srcDir, id: id}
}

func (e *engineEnv) diff(t *testing.T, scope Scope) *Result {
	t.Helper()
	q := Query{Collection: "main", Artifact: e.id, Scope: scope}
	if scope.NeedsProject() {
		q.Project = "webapp"
	}
	res, err := e.eng.Diff(context.Background(), q)
	if err != nil {
		t.Fatalf("Diff(%s): %v", scope, err)
	}
	return res
}

func TestEngineAllScopesSynced(t *testing.T) {
	env := newEngineEnv(t, 0)

	for _, scope := range Scopes() {
		res := env.diff(t, scope)
		if res.HasChanges {
			t.Errorf("%s: HasChanges = true on identical tiers:\n%+v", scope, res.Files)
		}
		if got := Classify(res); got != StateSynced {
			t.Errorf("%s: state = %s, want synced", scope, got)
		}
		if res.Summary.Unchanged != 2 {
			t.Errorf("%s: summary = %+v", scope, res.Summary)
		}
	}
}

func TestEngineSourceAhead(t *testing.T) {
	env := newEngineEnv(t, 0)
	if err := os.WriteFile(filepath.Join(env.srcDir, "SKILL.md"), []byte("# PDF Parser v2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := env.diff(t, ScopeSourceCollection)
	if !res.HasChanges || res.Summary.Modified != 1 {
		t.Fatalf("result = %+v", res)
	}
	var fd FileDiff
	for _, f := range res.Files {
		if f.Path == "SKILL.md" {
			fd = f
		}
	}
	if fd.Status != StatusModified || fd.Origin != OriginLeft {
		t.Errorf("SKILL.md = %s/%s, want modified/left", fd.Status, fd.Origin)
	}
	if got := Classify(res); got != StateOutdated {
		t.Errorf("state = %s, want outdated", got)
	}

	// The deployed copy is equally behind the new upstream.
	res = env.diff(t, ScopeSourceProject)
	if got := Classify(res); got != StateOutdated {
		t.Errorf("source/project state = %s, want outdated", got)
	}
}

func TestEngineProjectEdited(t *testing.T) {
	env := newEngineEnv(t, 0)
	if err := env.proj.WriteFile(env.id, "parse.py", []byte("def parse(): pass  # local fix\n")); err != nil {
		t.Fatal(err)
	}

	res := env.diff(t, ScopeProjectCollection)
	if got := Classify(res); got != StateModified {
		t.Errorf("state = %s, want modified", got)
	}
	for _, f := range res.Files {
		if f.Path == "parse.py" && f.Origin != OriginLeft {
			t.Errorf("parse.py origin = %s, want left", f.Origin)
		}
	}
}

func TestEngineCollectionAheadOfProject(t *testing.T) {
	env := newEngineEnv(t, 0)
	if err := env.col.WriteFile(env.id, "SKILL.md", []byte("# PDF Parser v2\n")); err != nil {
		t.Fatal(err)
	}

	res := env.diff(t, ScopeProjectCollection)
	if got := Classify(res); got != StateOutdated {
		t.Errorf("state = %s, want outdated", got)
	}
}

func TestEngineConflict(t *testing.T) {
	env := newEngineEnv(t, 0)
	// Collection takes an upstream update while the project copy was edited
	// locally: both sides left the deploy baseline, in different directions.
	if err := env.col.WriteFile(env.id, "SKILL.md", []byte("# PDF Parser v2\n")); err != nil {
		t.Fatal(err)
	}
	if err := env.proj.WriteFile(env.id, "SKILL.md", []byte("# PDF Parser (patched here)\n")); err != nil {
		t.Fatal(err)
	}

	res := env.diff(t, ScopeProjectCollection)
	if got := Classify(res); got != StateConflict {
		t.Errorf("state = %s, want conflict", got)
	}
	for _, f := range res.Files {
		if f.Path == "SKILL.md" && f.Origin != OriginBoth {
			t.Errorf("SKILL.md origin = %s, want both", f.Origin)
		}
	}
}

func TestEngineNeverDeployedBaseline(t *testing.T) {
	env := newEngineEnv(t, 0)
	// Wipe the lock record: files still on disk diff against an empty
	// baseline, and the engine must not fail.
	if err := env.proj.SaveLockfile(&project.Lockfile{Version: 1}); err != nil {
		t.Fatal(err)
	}

	res := env.diff(t, ScopeProjectCollection)
	for _, f := range res.Files {
		if f.Status != StatusUnchanged {
			t.Errorf("%s status = %s, want unchanged", f.Path, f.Status)
		}
		if f.Origin != OriginNone {
			// Identical content on both sides converges even without a
			// baseline.
			t.Errorf("%s origin = %s, want none", f.Path, f.Origin)
		}
	}
}

func TestEngineValidation(t *testing.T) {
	env := newEngineEnv(t, 0)
	ctx := context.Background()

	_, err := env.eng.Diff(ctx, Query{Collection: "main", Artifact: env.id, Scope: "bogus/scope"})
	if err == nil {
		t.Error("bogus scope accepted")
	}

	_, err = env.eng.Diff(ctx, Query{Collection: "main", Artifact: env.id, Scope: ScopeProjectCollection})
	if err == nil {
		t.Error("project scope without project accepted")
	}

	ghost := models.Identity{Type: models.TypeSkill, Name: "ghost"}
	_, err = env.eng.Diff(ctx, Query{Collection: "main", Artifact: ghost, Scope: ScopeSourceCollection})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing artifact error = %v, want ErrNotFound", err)
	}

	_, err = env.eng.Diff(ctx, Query{Collection: "nope", Artifact: env.id, Scope: ScopeSourceCollection})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing collection error = %v, want ErrNotFound", err)
	}
}

func TestEngineUpstreamUnavailable(t *testing.T) {
	env := newEngineEnv(t, 0)
	m, err := env.col.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	m.Artifacts[0].Source = "dir:" + filepath.Join(env.srcDir, "gone")
	if err := env.col.SaveManifest(m); err != nil {
		t.Fatal(err)
	}

	_, err = env.eng.Diff(context.Background(), Query{Collection: "main", Artifact: env.id, Scope: ScopeSourceCollection})
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Errorf("error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestEngineResultCacheAndInvalidate(t *testing.T) {
	env := newEngineEnv(t, time.Minute)

	res := env.diff(t, ScopeSourceCollection)
	if res.HasChanges {
		t.Fatalf("precondition: %+v", res)
	}

	// Mutate upstream; the cached result still answers within the TTL.
	if err := os.WriteFile(filepath.Join(env.srcDir, "SKILL.md"), []byte("changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res = env.diff(t, ScopeSourceCollection)
	if res.HasChanges {
		t.Error("cached result expired too early")
	}

	// Mutation paths invalidate explicitly for immediate visibility.
	env.eng.Invalidate("main", env.id)
	res = env.diff(t, ScopeSourceCollection)
	if !res.HasChanges {
		t.Error("Invalidate did not drop the cached result")
	}
}

func TestEngineStatus(t *testing.T) {
	env := newEngineEnv(t, 0)
	ctx := context.Background()

	// With a project: all three scopes report.
	st, err := env.eng.Status(ctx, "main", env.id, "webapp")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st) != 3 {
		t.Fatalf("status = %v, want 3 scopes", st)
	}
	for scope, s := range st {
		if s.State != StateSynced {
			t.Errorf("%s = %s, want synced", scope, s.State)
		}
	}

	// Without a project: only the source scope applies.
	st, err = env.eng.Status(ctx, "main", env.id, "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st) != 1 {
		t.Fatalf("status = %v, want source/collection only", st)
	}
	if _, ok := st[ScopeSourceCollection]; !ok {
		t.Errorf("status = %v, missing source/collection", st)
	}

	// An artifact without a source ref only has project scopes.
	m, err := env.col.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	m.Artifacts[0].Source = ""
	if err := env.col.SaveManifest(m); err != nil {
		t.Fatal(err)
	}
	st, err = env.eng.Status(ctx, "main", env.id, "webapp")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st) != 1 {
		t.Fatalf("status = %v, want project/collection only", st)
	}

	// A broken scope reports error without hiding the rest.
	m.Artifacts[0].Source = "dir:" + filepath.Join(env.srcDir, "gone")
	if err := env.col.SaveManifest(m); err != nil {
		t.Fatal(err)
	}
	st, err = env.eng.Status(ctx, "main", env.id, "webapp")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st[ScopeSourceCollection].State != StateError || st[ScopeSourceCollection].Error == "" {
		t.Errorf("source/collection = %+v, want error state with message", st[ScopeSourceCollection])
	}
	if st[ScopeProjectCollection].State != StateSynced {
		t.Errorf("project/collection = %+v, want synced", st[ScopeProjectCollection])
	}
}
