package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/raido/internal/apperr"
)

func writeUpstream(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return root
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref     string
		scheme  string
		rest    string
		wantErr bool
	}{
		{ref: "dir:/srv/mirror/pdf", scheme: "dir", rest: "/srv/mirror/pdf"},
		{ref: "git:github.com/x/y", scheme: "git", rest: "github.com/x/y"},
		{ref: "no-scheme-here", wantErr: true},
		{ref: ":/path", wantErr: true},
		{ref: "dir:", wantErr: true},
	}
	for _, tt := range tests {
		scheme, rest, err := ParseRef(tt.ref)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRef(%q) accepted", tt.ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRef(%q): %v", tt.ref, err)
			continue
		}
		if scheme != tt.scheme || rest != tt.rest {
			t.Errorf("ParseRef(%q) = %q %q, want %q %q", tt.ref, scheme, rest, tt.scheme, tt.rest)
		}
	}
}

func TestRegistryForRef(t *testing.T) {
	r := NewRegistry()
	r.Register("dir", NewDirClient(0))

	c, rest, err := r.ForRef("dir:/srv/mirror/pdf")
	if err != nil {
		t.Fatalf("ForRef: %v", err)
	}
	if c == nil || rest != "/srv/mirror/pdf" {
		t.Errorf("ForRef = %T %q", c, rest)
	}

	_, _, err = r.ForRef("git:github.com/x/y")
	if !errors.Is(err, apperr.ErrUnsupported) {
		t.Errorf("unknown scheme error = %v, want ErrUnsupported", err)
	}

	if got := r.Schemes(); len(got) != 1 || got[0] != "dir" {
		t.Errorf("Schemes = %v", got)
	}
}

func TestDirFetch(t *testing.T) {
	root := writeUpstream(t, map[string]string{
		"SKILL.md":           "---\nversion: 1.4.0\n---\n# PDF\n",
		"scripts/extract.py": "print('x')\n",
		".git/config":        "hidden",
		".hidden.md":         "hidden",
	})

	snap, err := NewDirClient(0).Fetch(context.Background(), root)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Files) != 2 {
		t.Fatalf("Files = %v, want 2 visible entries", keys(snap.Files))
	}
	if string(snap.Files["scripts/extract.py"]) != "print('x')\n" {
		t.Errorf("nested file content = %q", snap.Files["scripts/extract.py"])
	}
	if snap.Version != "1.4.0" {
		t.Errorf("Version = %q, want 1.4.0", snap.Version)
	}

	hashes := snap.Hashes()
	if len(hashes) != 2 || hashes["SKILL.md"] == "" {
		t.Errorf("Hashes = %v", hashes)
	}
}

func TestDirFetchVersionFallback(t *testing.T) {
	root := writeUpstream(t, map[string]string{
		"aaa.md":    "---\nversion: 9.9.9\n---\nnot primary\n",
		"README.md": "---\nversion: 2.0.0\n---\nreadme\n",
	})

	snap, err := NewDirClient(0).Fetch(context.Background(), root)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Version != "2.0.0" {
		t.Errorf("Version = %q, want README.md's 2.0.0", snap.Version)
	}
}

func TestDirFetchNoVersion(t *testing.T) {
	root := writeUpstream(t, map[string]string{"README.md": "plain\n"})

	snap, err := NewDirClient(0).Fetch(context.Background(), root)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Version != "" {
		t.Errorf("Version = %q, want empty", snap.Version)
	}
}

func TestDirFetchMissingRoot(t *testing.T) {
	_, err := NewDirClient(0).Fetch(context.Background(), filepath.Join(t.TempDir(), "gone"))
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Errorf("Fetch error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestDirFetchCancelled(t *testing.T) {
	root := writeUpstream(t, map[string]string{"README.md": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDirClient(0).Fetch(ctx, root)
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Errorf("Fetch error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestDirResolve(t *testing.T) {
	root := writeUpstream(t, map[string]string{
		"COMMAND.md": "---\nversion: 0.3.1\n---\nrun\n",
	})

	version, err := NewDirClient(0).Resolve(context.Background(), root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if version != "0.3.1" {
		t.Errorf("Resolve = %q, want 0.3.1", version)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
