// Package fetch resolves lock graph nodes to local filesystem paths.
//
// Local path descriptors resolve to themselves. VCS and tarball
// descriptors go through `nix flake prefetch`, which lands the tree in
// the evaluator's own cache and hands back the path; the flake under
// evaluation is never copied anywhere. Results are cached per run,
// keyed by each descriptor's pinned identity.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bianoble/flint/internal/flakeref"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

const (
	defaultWorkers   = 4
	resolveCacheSize = 128
)

// Resolved is the local path a node's locked descriptor resolved to.
type Resolved struct {
	Path  string
	Flake bool

	// Cached is true when the path came from the per-run cache rather
	// than a fresh prefetch.
	Cached bool
}

// Error wraps a fetch failure with the name of the offending node.
// Fetches are not retried; the caller decides whether to re-run.
type Error struct {
	Node string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("input '%s': fetch failed: %s", e.Node, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PrefetchFunc fetches a flake reference into the evaluator's cache.
// It exists so tests can substitute a fake.
type PrefetchFunc func(ctx context.Context, ref string) (nix.PrefetchResult, error)

// Fetcher resolves every node of a lock graph to a local path.
type Fetcher struct {
	// FlakeDir anchors relative path descriptors.
	FlakeDir string

	// Workers bounds concurrent prefetches in ResolveAll. Zero means
	// the default of 4.
	Workers int

	// Prefetch defaults to nix.Prefetch.
	Prefetch PrefetchFunc

	mu    sync.Mutex
	cache *lru.Cache[string, string]
}

// New returns a Fetcher for the flake rooted at dir.
func New(dir string) *Fetcher {
	cache, _ := lru.New[string, string](resolveCacheSize)
	return &Fetcher{
		FlakeDir: dir,
		Prefetch: nix.Prefetch,
		cache:    cache,
	}
}

// Resolve resolves a single node. Identical pinned descriptors resolve
// to the same path for the lifetime of the Fetcher.
func (f *Fetcher) Resolve(ctx context.Context, name string, node *lock.Node) (Resolved, error) {
	if node == nil || node.Locked == nil {
		return Resolved{}, &Error{Node: name, Err: errors.New("node has no locked reference")}
	}

	key := node.Locked.Key()
	f.mu.Lock()
	path, ok := f.cache.Get(key)
	f.mu.Unlock()
	if ok {
		return Resolved{Path: path, Flake: node.Flake, Cached: true}, nil
	}

	path, err := f.resolve(ctx, node.Locked)
	if err != nil {
		return Resolved{}, &Error{Node: name, Err: err}
	}

	f.mu.Lock()
	f.cache.Add(key, path)
	f.mu.Unlock()

	return Resolved{Path: path, Flake: node.Flake}, nil
}

// ResolveAll resolves every node reachable from the graph root. Fetches
// run on a bounded worker pool; the first failure cancels the rest.
func (f *Fetcher) ResolveAll(ctx context.Context, g *lock.Graph) (map[string]Resolved, error) {
	order, err := g.SortNodes()
	if err != nil {
		return nil, err
	}

	workers := f.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(order) {
		workers = len(order)
	}

	resolved := make(map[string]Resolved, len(order))
	if len(order) == 0 {
		return resolved, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	names := make(chan string, len(order))
	for _, name := range order {
		names <- name
	}
	close(names)

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range names {
				if runCtx.Err() != nil {
					return
				}
				r, err := f.Resolve(runCtx, name, g.Nodes[name])
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
						cancel()
					}
				} else {
					resolved[name] = r
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return resolved, nil
}

func (f *Fetcher) resolve(ctx context.Context, src *lock.Source) (string, error) {
	switch src.Type {
	case lock.TypePath:
		return f.resolveLocal(src.Path)
	case lock.TypeGitHub, lock.TypeGitLab, lock.TypeSourcehut, lock.TypeGit, lock.TypeTarball:
		return f.prefetch(ctx, src)
	case lock.TypeIndirect:
		return "", fmt.Errorf("unresolved indirect reference '%s' — run 'flint lock' first", src.ID)
	default:
		return "", fmt.Errorf("unknown source type '%s'", src.Type)
	}
}

func (f *Fetcher) resolveLocal(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.FlakeDir, path)
	}
	path = filepath.Clean(path)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("path does not exist: %s", path)
	}
	return path, nil
}

func (f *Fetcher) prefetch(ctx context.Context, src *lock.Source) (string, error) {
	res, err := f.Prefetch(ctx, prefetchRef(src))
	if err != nil {
		return "", err
	}
	if src.NARHash != "" && res.Hash != "" && res.Hash != src.NARHash {
		return "", fmt.Errorf("hash mismatch for %s: expected %s, got %s", src.Key(), src.NARHash, res.Hash)
	}
	return res.StorePath, nil
}

// prefetchRef renders a locked descriptor as the flake reference handed
// to the prefetch call.
func prefetchRef(src *lock.Source) string {
	switch src.Type {
	case lock.TypeGitHub, lock.TypeGitLab, lock.TypeSourcehut:
		return flakeref.Ref{
			Kind:  flakeref.Kind(src.Type),
			Owner: src.Owner,
			Repo:  src.Repo,
			Rev:   src.Rev,
		}.String()
	case lock.TypeGit:
		params := make(map[string]string)
		if src.Rev != "" {
			params["rev"] = src.Rev
		}
		if src.Ref != "" {
			params["ref"] = src.Ref
		}
		return flakeref.Ref{Kind: flakeref.KindGit, URL: src.URL, Params: params}.String()
	default:
		return src.URL
	}
}

// ResolveOverride resolves an override reference to a local tree and
// loads its lock graph, producing the material Graph.Apply splices in.
// Local paths are used in place; anything else is prefetched.
func (f *Fetcher) ResolveOverride(ctx context.Context, name, ref string) (lock.ResolvedOverride, error) {
	var dir string
	var err error
	if strings.HasPrefix(ref, "~") {
		// flakeref would read this as a registry name.
		dir, err = expandOverridePath(ref)
	} else {
		var parsed flakeref.Ref
		parsed, err = flakeref.ParseRef(ref)
		if err != nil {
			return lock.ResolvedOverride{}, fmt.Errorf("override '%s': %w", name, err)
		}
		if parsed.IsLocal() {
			dir, err = expandOverridePath(parsed.Path)
		} else {
			var res nix.PrefetchResult
			res, err = f.Prefetch(ctx, ref)
			dir = res.StorePath
		}
	}
	if err != nil {
		return lock.ResolvedOverride{}, fmt.Errorf("override '%s': %w", name, err)
	}

	ov := lock.ResolvedOverride{Name: name, Path: dir}
	if !fileExists(filepath.Join(dir, "flake.nix")) {
		// A tree without flake.nix overrides as a plain source.
		return ov, nil
	}
	ov.Flake = true

	if lockPath := filepath.Join(dir, "flake.lock"); fileExists(lockPath) {
		sub, err := lock.Load(lockPath)
		if err != nil {
			return lock.ResolvedOverride{}, fmt.Errorf("override '%s': %w", name, err)
		}
		ov.Lock = sub
	}
	return ov, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandOverridePath expands ~/ and makes the path absolute, verifying
// it exists.
func expandOverridePath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", path, err)
		}
		path = filepath.Join(home, path[2:])
	case strings.HasPrefix(path, "~"):
		return "", errors.New("~user paths are not supported, use absolute path or ~/")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("override path does not exist: %s", path)
	}
	return abs, nil
}
