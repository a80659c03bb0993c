package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

func githubNode(owner, repo, rev string) *lock.Node {
	return &lock.Node{
		Locked: &lock.Source{
			Type:    lock.TypeGitHub,
			Owner:   owner,
			Repo:    repo,
			Rev:     rev,
			NARHash: "sha256-" + rev + "=",
		},
		Original: &lock.Source{Type: lock.TypeGitHub, Owner: owner, Repo: repo},
		Flake:    true,
	}
}

func fetchTestGraph() *lock.Graph {
	return &lock.Graph{
		Version: lock.Version,
		Root:    "root",
		Nodes: map[string]*lock.Node{
			"root": {
				Inputs: map[string]lock.InputRef{
					"nixpkgs": {Node: "nixpkgs"},
					"utils":   {Node: "flake-utils"},
				},
				Flake: true,
			},
			"nixpkgs": githubNode("NixOS", "nixpkgs", "aaaa111"),
			"flake-utils": {
				Inputs: map[string]lock.InputRef{
					"systems": {Node: "systems"},
				},
				Locked:   &lock.Source{Type: lock.TypeGitHub, Owner: "numtide", Repo: "flake-utils", Rev: "bbbb222"},
				Original: &lock.Source{Type: lock.TypeIndirect, ID: "flake-utils"},
				Flake:    true,
			},
			"systems": githubNode("nix-systems", "default", "cccc333"),
		},
	}
}

func storePrefetch(t *testing.T) (PrefetchFunc, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	return func(ctx context.Context, ref string) (nix.PrefetchResult, error) {
		calls.Add(1)
		clean := strings.Map(func(r rune) rune {
			if r == '/' || r == ':' {
				return '-'
			}
			return r
		}, ref)
		return nix.PrefetchResult{StorePath: "/nix/store/" + clean + "-source"}, nil
	}, &calls
}

func TestResolveLocalPath(t *testing.T) {
	dir := t.TempDir()
	f := New(dir)

	node := &lock.Node{Locked: &lock.Source{Type: lock.TypePath, Path: dir}}
	r, err := f.Resolve(context.Background(), "local", node)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Path != dir {
		t.Errorf("path = %q, want %q", r.Path, dir)
	}
	if r.Cached {
		t.Error("first resolve should not report cached")
	}
}

func TestResolveRelativePathAnchored(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "dep"), 0755); err != nil {
		t.Fatal(err)
	}
	f := New(dir)

	node := &lock.Node{Locked: &lock.Source{Type: lock.TypePath, Path: "./dep"}}
	r, err := f.Resolve(context.Background(), "dep", node)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(dir, "dep")
	if r.Path != want {
		t.Errorf("path = %q, want %q", r.Path, want)
	}
}

func TestResolveMissingPath(t *testing.T) {
	f := New(t.TempDir())

	node := &lock.Node{Locked: &lock.Source{Type: lock.TypePath, Path: "/nonexistent/tree"}}
	_, err := f.Resolve(context.Background(), "gone", node)
	if err == nil {
		t.Fatal("expected error for missing path")
	}
	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if ferr.Node != "gone" {
		t.Errorf("node = %q, want 'gone'", ferr.Node)
	}
	if !strings.Contains(err.Error(), "path does not exist") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestResolvePrefetchedSource(t *testing.T) {
	f := New(t.TempDir())
	var gotRef string
	f.Prefetch = func(ctx context.Context, ref string) (nix.PrefetchResult, error) {
		gotRef = ref
		return nix.PrefetchResult{StorePath: "/nix/store/abc-source", Hash: "sha256-aaaa111="}, nil
	}

	r, err := f.Resolve(context.Background(), "nixpkgs", githubNode("NixOS", "nixpkgs", "aaaa111"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotRef != "github:NixOS/nixpkgs/aaaa111" {
		t.Errorf("prefetch ref = %q", gotRef)
	}
	if r.Path != "/nix/store/abc-source" {
		t.Errorf("path = %q", r.Path)
	}
	if !r.Flake {
		t.Error("flake flag not carried from node")
	}
}

func TestResolveCachesPinnedIdentity(t *testing.T) {
	f := New(t.TempDir())
	prefetch, calls := storePrefetch(t)
	f.Prefetch = prefetch

	node := githubNode("NixOS", "nixpkgs", "aaaa111")
	node.Locked.NARHash = ""

	first, err := f.Resolve(context.Background(), "nixpkgs", node)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := f.Resolve(context.Background(), "nixpkgs", node)
	if err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}

	if first.Path != second.Path {
		t.Errorf("paths differ across runs: %q vs %q", first.Path, second.Path)
	}
	if !second.Cached {
		t.Error("second resolve should come from the cache")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("prefetch called %d times, want 1", n)
	}
}

func TestResolveHashMismatch(t *testing.T) {
	f := New(t.TempDir())
	f.Prefetch = func(ctx context.Context, ref string) (nix.PrefetchResult, error) {
		return nix.PrefetchResult{StorePath: "/nix/store/abc-source", Hash: "sha256-other="}, nil
	}

	_, err := f.Resolve(context.Background(), "nixpkgs", githubNode("NixOS", "nixpkgs", "aaaa111"))
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
	if !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestResolveIndirectFails(t *testing.T) {
	f := New(t.TempDir())

	node := &lock.Node{Locked: &lock.Source{Type: lock.TypeIndirect, ID: "nixpkgs"}}
	_, err := f.Resolve(context.Background(), "nixpkgs", node)
	if err == nil {
		t.Fatal("expected error for indirect reference")
	}
	if !strings.Contains(err.Error(), "run 'flint lock' first") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestResolveUnlockedNode(t *testing.T) {
	f := New(t.TempDir())

	_, err := f.Resolve(context.Background(), "pending", &lock.Node{Flake: true})
	if err == nil {
		t.Fatal("expected error for unlocked node")
	}
	if !strings.Contains(err.Error(), "no locked reference") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestResolveAll(t *testing.T) {
	f := New(t.TempDir())
	prefetch, calls := storePrefetch(t)
	f.Prefetch = prefetch

	resolved, err := f.ResolveAll(context.Background(), fetchTestGraph())
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}

	for _, name := range []string{"nixpkgs", "flake-utils", "systems"} {
		if _, ok := resolved[name]; !ok {
			t.Errorf("node %q missing from result", name)
		}
	}
	if _, ok := resolved["root"]; ok {
		t.Error("root must not be fetched")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("prefetch called %d times, want 3", n)
	}
}

func TestResolveAllFetchFailure(t *testing.T) {
	f := New(t.TempDir())
	f.Prefetch = func(ctx context.Context, ref string) (nix.PrefetchResult, error) {
		if strings.Contains(ref, "flake-utils") {
			return nix.PrefetchResult{}, errors.New("connection refused")
		}
		return nix.PrefetchResult{StorePath: "/nix/store/ok-source"}, nil
	}

	_, err := f.ResolveAll(context.Background(), fetchTestGraph())
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if ferr.Node != "flake-utils" {
		t.Errorf("failed node = %q, want 'flake-utils'", ferr.Node)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("cause not surfaced: %v", err)
	}
}

func TestPrefetchRefForms(t *testing.T) {
	tests := []struct {
		src  lock.Source
		want string
	}{
		{lock.Source{Type: lock.TypeGitHub, Owner: "NixOS", Repo: "nixpkgs", Rev: "abc"}, "github:NixOS/nixpkgs/abc"},
		{lock.Source{Type: lock.TypeGitLab, Owner: "grp", Repo: "proj", Rev: "abc"}, "gitlab:grp/proj/abc"},
		{lock.Source{Type: lock.TypeSourcehut, Owner: "~u", Repo: "r", Rev: "abc"}, "sourcehut:~u/r/abc"},
		{lock.Source{Type: lock.TypeGit, URL: "https://example.com/r.git", Rev: "abc", Ref: "main"}, "git+https://example.com/r.git?ref=main&rev=abc"},
		{lock.Source{Type: lock.TypeGit, URL: "ssh://git@example.com/r.git"}, "git+ssh://git@example.com/r.git"},
		{lock.Source{Type: lock.TypeTarball, URL: "https://example.com/r.tar.gz"}, "https://example.com/r.tar.gz"},
	}
	for _, tt := range tests {
		if got := prefetchRef(&tt.src); got != tt.want {
			t.Errorf("prefetchRef(%s) = %q, want %q", tt.src.Type, got, tt.want)
		}
	}
}

func TestResolveOverrideFlake(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "flake.nix"), []byte("{ outputs = _: { }; }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	f := New(t.TempDir())

	ov, err := f.ResolveOverride(context.Background(), "nixpkgs", dir)
	if err != nil {
		t.Fatalf("ResolveOverride: %v", err)
	}
	if ov.Name != "nixpkgs" || ov.Path != dir {
		t.Errorf("override = %+v", ov)
	}
	if !ov.Flake {
		t.Error("directory with flake.nix should override as a flake")
	}
	if ov.Lock != nil {
		t.Error("no flake.lock present, Lock should be nil")
	}
}

func TestResolveOverrideWithLock(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "flake.nix"), []byte("{ outputs = _: { }; }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	lockData := `{"nodes":{"root":{"inputs":{"pkgs":"pkgs"}},"pkgs":{"locked":{"type":"github","owner":"NixOS","repo":"nixpkgs","rev":"dddd444"},"original":{"type":"indirect","id":"nixpkgs"}}},"root":"root","version":7}`
	if err := os.WriteFile(filepath.Join(dir, "flake.lock"), []byte(lockData), 0644); err != nil {
		t.Fatal(err)
	}
	f := New(t.TempDir())

	ov, err := f.ResolveOverride(context.Background(), "nixpkgs", dir)
	if err != nil {
		t.Fatalf("ResolveOverride: %v", err)
	}
	if ov.Lock == nil {
		t.Fatal("Lock not loaded")
	}
	if _, ok := ov.Lock.Nodes["pkgs"]; !ok {
		t.Error("override lock graph missing its node")
	}
}

func TestResolveOverrideNonFlake(t *testing.T) {
	dir := t.TempDir()
	f := New(t.TempDir())

	ov, err := f.ResolveOverride(context.Background(), "data", dir)
	if err != nil {
		t.Fatalf("ResolveOverride: %v", err)
	}
	if ov.Flake {
		t.Error("directory without flake.nix must override as a plain source")
	}
}

func TestResolveOverrideMissingPath(t *testing.T) {
	f := New(t.TempDir())

	_, err := f.ResolveOverride(context.Background(), "nixpkgs", "/nonexistent/alt")
	if err == nil {
		t.Fatal("expected error for missing override path")
	}
	if !strings.Contains(err.Error(), "override path does not exist") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestResolveOverrideUserTilde(t *testing.T) {
	f := New(t.TempDir())

	_, err := f.ResolveOverride(context.Background(), "nixpkgs", "~bob/nixpkgs")
	if err == nil {
		t.Fatal("expected error for ~user path")
	}
	if !strings.Contains(err.Error(), "~user paths are not supported, use absolute path or ~/") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestResolveOverrideRemote(t *testing.T) {
	store := t.TempDir()
	if err := os.WriteFile(filepath.Join(store, "flake.nix"), []byte("{ outputs = _: { }; }\n"), 0644); err != nil {
		t.Fatal(err)
	}
	f := New(t.TempDir())
	f.Prefetch = func(ctx context.Context, ref string) (nix.PrefetchResult, error) {
		if ref != "github:NixOS/nixpkgs/release-25.05" {
			return nix.PrefetchResult{}, fmt.Errorf("unexpected ref %q", ref)
		}
		return nix.PrefetchResult{StorePath: store}, nil
	}

	ov, err := f.ResolveOverride(context.Background(), "nixpkgs", "github:NixOS/nixpkgs/release-25.05")
	if err != nil {
		t.Fatalf("ResolveOverride: %v", err)
	}
	if ov.Path != store {
		t.Errorf("path = %q, want prefetched store path", ov.Path)
	}
	if !ov.Flake {
		t.Error("prefetched flake should override as a flake")
	}
}
