package syncer

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
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/diff"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/project"
	"github.com/starford/raido/internal/refresh"
	"github.com/starford/raido/internal/source"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/testutil"
)

type syncEnv struct {
	svc    *Service
	eng    *diff.Engine
	store  *cache.DB
	col    *collection.Store
	proj   *project.Store
	srcDir string
	id     models.Identity
	events []string
}

// newSyncEnv builds three tiers all holding the same artifact, with pull and
// deploy baselines recorded, so every scope starts out synced.
func newSyncEnv(t *testing.T) *syncEnv {
	t.Helper()

	col := testutil.TestCollection(t, "main")
	proj := testutil.TestProject(t, "webapp")
	srcDir := t.TempDir()
	id := models.Identity{Type: models.TypeSkill, Name: "pdf-parser"}

	contents := map[string]string{
		"SKILL.md": "---\nversion: 1.0.0\n---\n# PDF Parser\n",
		"parse.py": "def parse(): ...\n",
	}
	hashes := make(map[string]string, len(contents))
	for rel, body := range contents {
		hashes[rel] = checksum.Sum([]byte(body))
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
			ResolvedHash:    checksum.SumFiles(hashes),
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

	db := testutil.TestCache(t)

	sources := source.NewRegistry()
	sources.Register("dir", source.NewDirClient(0))
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cols := collection.NewRegistry(col)
	projs := project.NewRegistry(proj)
	refresher := refresh.NewService(cols, db, logger)
	eng := diff.NewEngine(cols, projs, sources, 0, logger)

	env := &syncEnv{
		eng:    eng,
		store:  db,
		col:    col,
		proj:   proj,
		srcDir: srcDir,
		id:     id,
	}
	env.svc = NewService(cols, projs, sources, refresher, eng, logger)
	env.svc.SetEventFunc(func(kind, _, key string) {
		env.events = append(env.events, kind+":"+key)
	})
	return env
}

func (e *syncEnv) entry(t *testing.T) *collection.Entry {
	t.Helper()
	entry, err := e.col.Entry(e.id)
	if err != nil {
		t.Fatal(err)
	}
	return entry
}

func TestPullFromSource(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	// Upstream moves on: new version, a new helper, parse.py gone.
	if err := os.WriteFile(filepath.Join(env.srcDir, "SKILL.md"),
		[]byte("---\nversion: 2.0.0\n---\n# PDF Parser v2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.srcDir, "util.py"), []byte("def util(): ...\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(env.srcDir, "parse.py")); err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.PullFromSource(ctx, "main", env.id)
	if err != nil {
		t.Fatalf("PullFromSource: %v", err)
	}
	if res.ResolvedVersion != "2.0.0" || res.Files != 2 || res.Key != "skill:pdf-parser" {
		t.Errorf("result = %+v", res)
	}
	if res.OpID == "" {
		t.Error("result has no op id")
	}

	// The collection copy now mirrors upstream exactly.
	hashes, err := env.col.FileHashes(env.id)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 2 {
		t.Fatalf("collection files = %v", hashes)
	}
	if _, ok := hashes["parse.py"]; ok {
		t.Error("parse.py survived the pull")
	}
	if _, ok := hashes["util.py"]; !ok {
		t.Error("util.py missing after pull")
	}

	entry := env.entry(t)
	if entry.ResolvedVersion != "2.0.0" {
		t.Errorf("resolved version = %q", entry.ResolvedVersion)
	}
	if entry.ResolvedHash != checksum.SumFiles(hashes) {
		t.Errorf("resolved hash = %q, want digest of %v", entry.ResolvedHash, hashes)
	}
	if len(entry.ResolvedFiles) != 2 || entry.ResolvedFiles["util.py"] != hashes["util.py"] {
		t.Errorf("resolved files = %v", entry.ResolvedFiles)
	}

	// Cache refreshed and the source scope reads synced again.
	rec, err := env.store.Get("main", env.id.String())
	if err != nil {
		t.Fatalf("cache record: %v", err)
	}
	if rec.ResolvedVersion != "2.0.0" || rec.SyncedAt == nil {
		t.Errorf("cache record = %+v", rec)
	}
	d, err := env.eng.Diff(ctx, diff.Query{Collection: "main", Artifact: env.id, Scope: diff.ScopeSourceCollection})
	if err != nil {
		t.Fatal(err)
	}
	if d.HasChanges {
		t.Errorf("source scope still diverged after pull:\n%+v", d.Files)
	}

	if len(env.events) == 0 || env.events[len(env.events)-1] != "pulled:skill:pdf-parser" {
		t.Errorf("events = %v", env.events)
	}
}

func TestPullUnavailableLeavesTiersUntouched(t *testing.T) {
	env := newSyncEnv(t)

	m, err := env.col.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	m.Artifacts[0].Source = "dir:" + filepath.Join(env.srcDir, "gone")
	if err := env.col.SaveManifest(m); err != nil {
		t.Fatal(err)
	}
	before, err := env.col.FileHashes(env.id)
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.PullFromSource(context.Background(), "main", env.id)
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("error = %v, want ErrUpstreamUnavailable", err)
	}

	after, err := env.col.FileHashes(env.id)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Errorf("collection files changed: %v -> %v", before, after)
	}
	for rel, h := range before {
		if after[rel] != h {
			t.Errorf("%s changed on a failed pull", rel)
		}
	}
	if got := env.entry(t).ResolvedVersion; got != "1.0.0" {
		t.Errorf("resolved version = %q, want untouched 1.0.0", got)
	}
}

func TestPullWithoutSourceRef(t *testing.T) {
	env := newSyncEnv(t)

	m, err := env.col.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	m.Artifacts[0].Source = ""
	if err := env.col.SaveManifest(m); err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.PullFromSource(context.Background(), "main", env.id)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeployToProject(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	if err := env.col.WriteFile(env.id, "SKILL.md",
		[]byte("---\nversion: 1.1.0\n---\n# PDF Parser, improved\n")); err != nil {
		t.Fatal(err)
	}
	m, err := env.col.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	m.Artifacts[0].ResolvedVersion = "1.1.0"
	if err := env.col.SaveManifest(m); err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.DeployToProject(ctx, "main", env.id, "webapp", false)
	if err != nil {
		t.Fatalf("DeployToProject: %v", err)
	}
	if res.Project != "webapp" || res.Files != 2 {
		t.Errorf("result = %+v", res)
	}

	// Deployed copy matches the collection byte for byte.
	colHashes, err := env.col.FileHashes(env.id)
	if err != nil {
		t.Fatal(err)
	}
	projHashes, err := env.proj.FileHashes(env.id)
	if err != nil {
		t.Fatal(err)
	}
	for rel, h := range colHashes {
		if projHashes[rel] != h {
			t.Errorf("%s differs between tiers after deploy", rel)
		}
	}

	lock, err := env.proj.Lockfile()
	if err != nil {
		t.Fatal(err)
	}
	rec := lock.Find(env.id)
	if rec == nil {
		t.Fatal("no lock record after deploy")
	}
	if rec.ResolvedVersion != "1.1.0" || rec.Collection != "main" {
		t.Errorf("lock record = %+v", rec)
	}
	if rec.DeployedAt.IsZero() {
		t.Error("lock record has no deploy time")
	}
	if rec.Files["SKILL.md"] != colHashes["SKILL.md"] {
		t.Errorf("lock baseline = %v, want %v", rec.Files, colHashes)
	}

	d, err := env.eng.Diff(ctx, diff.Query{
		Collection: "main", Artifact: env.id,
		Scope: diff.ScopeProjectCollection, Project: "webapp",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.HasChanges {
		t.Errorf("project scope still diverged after deploy:\n%+v", d.Files)
	}
	if len(env.events) == 0 || env.events[len(env.events)-1] != "deployed:skill:pdf-parser" {
		t.Errorf("events = %v", env.events)
	}
}

func TestDeployBlockedByLocalChanges(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	local := []byte("def parse(): pass  # local fix\n")
	if err := env.proj.WriteFile(env.id, "parse.py", local); err != nil {
		t.Fatal(err)
	}
	lockBefore, err := env.proj.Lockfile()
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.DeployToProject(ctx, "main", env.id, "webapp", false)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}

	// The local edit and the lock record both survive a refused deploy.
	data, err := env.proj.ReadFile(env.id, "parse.py")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(local) {
		t.Error("refused deploy clobbered the local edit")
	}
	lockAfter, err := env.proj.Lockfile()
	if err != nil {
		t.Fatal(err)
	}
	if lockAfter.Find(env.id).DeployedAt != lockBefore.Find(env.id).DeployedAt {
		t.Error("refused deploy rewrote the lock record")
	}

	// Explicit overwrite forces the collection copy back in.
	if _, err := env.svc.DeployToProject(ctx, "main", env.id, "webapp", true); err != nil {
		t.Fatalf("overwrite deploy: %v", err)
	}
	data, err = env.proj.ReadFile(env.id, "parse.py")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) == string(local) {
		t.Error("overwrite deploy kept the local edit")
	}
}

func TestDeployFirstTime(t *testing.T) {
	env := newSyncEnv(t)

	// Not deployed anywhere yet: no files, no lock record.
	if err := env.proj.RemoveFiles(env.id); err != nil {
		t.Fatal(err)
	}
	if err := env.proj.SaveLockfile(&project.Lockfile{Version: 1}); err != nil {
		t.Fatal(err)
	}

	res, err := env.svc.DeployToProject(context.Background(), "main", env.id, "webapp", false)
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if res.Files != 2 {
		t.Errorf("result = %+v", res)
	}
	lock, err := env.proj.Lockfile()
	if err != nil {
		t.Fatal(err)
	}
	if lock.Find(env.id) == nil {
		t.Error("first deploy left no lock record")
	}
}

func TestImport(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	upstream := t.TempDir()
	doc := "---\nversion: 0.3.0\ntags: [git, workflow]\ndescription: Conventional commit helper\n---\n# Commit\n"
	if err := os.WriteFile(filepath.Join(upstream, "COMMAND.md"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cmdID := models.Identity{Type: models.TypeCommand, Name: "commit-helper"}

	res, err := env.svc.Import(ctx, "main", cmdID, "dir:"+upstream)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.ResolvedVersion != "0.3.0" || res.Files != 1 {
		t.Errorf("result = %+v", res)
	}

	entry, err := env.col.Entry(cmdID)
	if err != nil {
		t.Fatalf("imported entry: %v", err)
	}
	if entry.Source != "dir:"+upstream {
		t.Errorf("entry source = %q", entry.Source)
	}
	if entry.Description != "Conventional commit helper" {
		t.Errorf("entry description = %q", entry.Description)
	}
	if len(entry.Tags) != 2 || entry.Tags[0] != "git" {
		t.Errorf("entry tags = %v", entry.Tags)
	}

	data, err := env.col.ReadFile(cmdID, "COMMAND.md")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != doc {
		t.Error("imported content differs from upstream")
	}

	rec, err := env.store.Get("main", cmdID.String())
	if err != nil {
		t.Fatalf("cache record: %v", err)
	}
	if rec.Description != "Conventional commit helper" {
		t.Errorf("cache record = %+v", rec)
	}

	_, err = env.svc.Import(ctx, "main", cmdID, "dir:"+upstream)
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("second import error = %v, want ErrAlreadyExists", err)
	}
}

func TestRemove(t *testing.T) {
	env := newSyncEnv(t)

	// Seed the cache record so removal has something to drop.
	if _, err := env.svc.refresher.RefreshOne("main", env.id); err != nil {
		t.Fatal(err)
	}

	if err := env.svc.Remove("main", env.id); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	hashes, err := env.col.FileHashes(env.id)
	if err != nil {
		t.Fatal(err)
	}
	if len(hashes) != 0 {
		t.Errorf("files survived removal: %v", hashes)
	}
	m, err := env.col.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.Find(env.id) != nil {
		t.Error("manifest entry survived removal")
	}
	if _, err := env.store.Get("main", env.id.String()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("cache record error = %v, want ErrNotFound", err)
	}

	if err := env.svc.Remove("main", env.id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second remove error = %v, want ErrNotFound", err)
	}
}

func TestPushUnsupported(t *testing.T) {
	env := newSyncEnv(t)
	err := env.svc.Push("main", env.id, "webapp")
	if !errors.Is(err, apperr.ErrUnsupported) {
		t.Errorf("error = %v, want ErrUnsupported", err)
	}
}

func TestReplaceDir(t *testing.T) {
	newFS := func(t *testing.T) storage.Provider {
		t.Helper()
		fs, err := storage.NewFS(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return fs
	}

	t.Run("commit drops the old copy", func(t *testing.T) {
		fs := newFS(t)
		if err := fs.Write("skills/x/a.md", []byte("old")); err != nil {
			t.Fatal(err)
		}
		commit, _, err := replaceDir(fs, "skills/x", map[string][]byte{"b.md": []byte("new")})
		if err != nil {
			t.Fatal(err)
		}
		commit()

		if fs.Exists("skills/x/a.md") {
			t.Error("old file survived the swap")
		}
		data, err := fs.Read("skills/x/b.md")
		if err != nil || string(data) != "new" {
			t.Errorf("staged file = %q, %v", data, err)
		}
		if fs.DirExists("skills/.old-x") || fs.DirExists("skills/.stage-x") {
			t.Error("work directories left behind")
		}
	})

	t.Run("undo restores the old copy", func(t *testing.T) {
		fs := newFS(t)
		if err := fs.Write("skills/x/a.md", []byte("old")); err != nil {
			t.Fatal(err)
		}
		_, undo, err := replaceDir(fs, "skills/x", map[string][]byte{"b.md": []byte("new")})
		if err != nil {
			t.Fatal(err)
		}
		undo()

		data, err := fs.Read("skills/x/a.md")
		if err != nil || string(data) != "old" {
			t.Errorf("restored file = %q, %v", data, err)
		}
		if fs.Exists("skills/x/b.md") {
			t.Error("staged file survived the undo")
		}
	})

	t.Run("empty content removes the dir", func(t *testing.T) {
		fs := newFS(t)
		if err := fs.Write("skills/x/a.md", []byte("old")); err != nil {
			t.Fatal(err)
		}
		commit, _, err := replaceDir(fs, "skills/x", nil)
		if err != nil {
			t.Fatal(err)
		}
		commit()
		if fs.DirExists("skills/x") {
			t.Error("dir survived an empty replace")
		}
	})
}
