// Package profile manages nix profiles natively: manifest.json
// bookkeeping, the merged symlink forest each generation is built
// from, and the generation links the profile symlink steps through.
//
// The on-disk layout is nix's own. The profile symlink (~/.nix-profile
// by default) points at a generation link named profile-N-link, which
// points at a store path holding manifest.json (version 3) next to the
// merged package tree. Environments are assembled in a scratch
// directory and imported whole, so a generation is never observable
// half-built.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bianoble/flint/internal/nix"
)

// ManifestVersion is the manifest.json schema version nix profile
// writes and flint stays compatible with.
const ManifestVersion = 3

// Element is one installed package in the manifest.
type Element struct {
	AttrPath    string          `json:"attrPath,omitempty"`
	OriginalURL string          `json:"originalUrl,omitempty"`
	URL         string          `json:"url,omitempty"`
	Outputs     json.RawMessage `json:"outputs,omitempty"`
	StorePaths  []string        `json:"storePaths"`
	Active      bool            `json:"active"`
	Priority    int             `json:"priority"`
}

// Manifest is a parsed manifest.json.
type Manifest struct {
	Version  int                `json:"version"`
	Elements map[string]Element `json:"elements"`
}

// NewManifest returns an empty version-3 manifest.
func NewManifest() *Manifest {
	return &Manifest{Version: ManifestVersion, Elements: map[string]Element{}}
}

// ReadManifest reads manifest.json from a generation's store path. A
// missing file reads as an empty manifest.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewManifest(), nil
	}
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if m.Elements == nil {
		m.Elements = map[string]Element{}
	}
	return &m, nil
}

// Remove deletes a package by element name or, failing that, by the
// last segment of its attribute path. Reports whether anything was
// removed.
func (m *Manifest) Remove(name string) bool {
	if _, ok := m.Elements[name]; ok {
		delete(m.Elements, name)
		return true
	}
	removed := false
	for key, elem := range m.Elements {
		if elem.AttrPath != "" && lastSegment(elem.AttrPath) == name {
			delete(m.Elements, key)
			removed = true
		}
	}
	return removed
}

// StorePaths returns every store path the manifest references, ordered
// by element name so environment builds are deterministic.
func (m *Manifest) StorePaths() []string {
	names := make([]string, 0, len(m.Elements))
	for name := range m.Elements {
		names = append(names, name)
	}
	sort.Strings(names)

	var paths []string
	for _, name := range names {
		paths = append(paths, m.Elements[name].StorePaths...)
	}
	return paths
}

// PackageVersions maps active package names to the version read off
// their first store path.
func (m *Manifest) PackageVersions() map[string]string {
	versions := make(map[string]string, len(m.Elements))
	for name, elem := range m.Elements {
		if !elem.Active {
			continue
		}
		if len(elem.StorePaths) > 0 {
			versions[name] = PathVersion(elem.StorePaths[0])
		} else {
			versions[name] = "unknown"
		}
	}
	return versions
}

func lastSegment(attr string) string {
	if idx := strings.LastIndex(attr, "."); idx >= 0 {
		return attr[idx+1:]
	}
	return attr
}

var pkgNamePattern = regexp.MustCompile(`^(.+?)-\d`)

// storeBasename strips the /nix/store/<hash>- prefix, leaving the
// name-version part. Paths that do not look like store paths keep
// their basename.
func storeBasename(storePath string) string {
	base := filepath.Base(storePath)
	if len(base) > 33 && base[32] == '-' {
		return base[33:]
	}
	return base
}

// PackageName extracts the package name from a store path, dropping
// the trailing version.
func PackageName(storePath string) string {
	nameVersion := storeBasename(storePath)
	if m := pkgNamePattern.FindStringSubmatch(nameVersion); m != nil {
		return m[1]
	}
	return nameVersion
}

// PathVersion extracts the version from a store path like
// /nix/store/<hash>-name-1.2.3. Without a recognizable version the
// whole name-version part comes back; without a hash prefix, the path
// itself.
func PathVersion(storePath string) string {
	base := filepath.Base(storePath)
	if len(base) <= 33 || base[32] != '-' {
		return storePath
	}
	nameVersion := base[33:]
	if idx := strings.LastIndex(nameVersion, "-"); idx >= 0 {
		after := nameVersion[idx+1:]
		if after != "" && after[0] >= '0' && after[0] <= '9' {
			return after
		}
	}
	return nameVersion
}

// AddFunc imports a finished environment tree into the store. It
// matches nix.Add.
type AddFunc func(ctx context.Context, path string) (string, error)

// Builder assembles generation store paths.
type Builder struct {
	// Add imports the assembled tree. Nil means nix.Add.
	Add AddFunc
}

// Build writes the environment for m into a scratch directory and
// imports it into the store, returning the new generation's store
// path.
func (b *Builder) Build(ctx context.Context, m *Manifest) (string, error) {
	// TMPDIR can point into a nix-shell scratch dir; assemble the tree
	// somewhere stable instead.
	scratch, err := os.MkdirTemp("/tmp", "flint-profile-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(scratch)

	env := filepath.Join(scratch, "user-environment")
	if err := os.Mkdir(env, 0o755); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(env, "manifest.json"), append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	if err := linkPackages(env, m.StorePaths()); err != nil {
		return "", err
	}

	add := b.Add
	if add == nil {
		add = nix.Add
	}
	return add(ctx, env)
}

// linkPackages builds the merged symlink forest: a top-level entry
// present in a single package becomes one symlink, a colliding entry
// becomes a real directory of per-file symlinks with the first package
// winning per file.
func linkPackages(env string, storePaths []string) error {
	grouped, err := collectEntries(storePaths)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		targets := grouped[name]
		dest := filepath.Join(env, name)
		if len(targets) == 1 {
			if err := os.Symlink(targets[0], dest); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		for _, target := range targets {
			fi, err := os.Stat(target)
			if err != nil || !fi.IsDir() {
				continue
			}
			entries, err := os.ReadDir(target)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				entryDest := filepath.Join(dest, entry.Name())
				if _, err := os.Lstat(entryDest); err == nil {
					continue
				}
				if err := os.Symlink(filepath.Join(target, entry.Name()), entryDest); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// collectEntries groups the top-level entries of every package by
// name. manifest.json and nix-support never join the forest, and
// missing packages are skipped rather than failing the whole build.
func collectEntries(storePaths []string) (map[string][]string, error) {
	grouped := make(map[string][]string)
	for _, storePath := range storePaths {
		entries, err := os.ReadDir(storePath)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			name := entry.Name()
			if name == "manifest.json" || name == "nix-support" {
				continue
			}
			grouped[name] = append(grouped[name], filepath.Join(storePath, name))
		}
	}
	return grouped, nil
}
