// Package flake resolves installables, the command-line arguments of
// the form ref#attr naming a flake and an output attribute. Local
// references resolve to a flake root directory with its lock graph;
// everything else becomes a flake reference for the fetcher. Attribute
// paths expand into the ordered candidate lists nix would search.
package flake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/registry"
)

// Target is a resolved installable. Exactly one of Dir and Ref is set:
// Dir names a flake root on the local filesystem, Ref a reference that
// must be fetched. Local targets always carry a lock graph; a missing
// flake.lock reads as the empty graph.
type Target struct {
	Dir  string
	Ref  string
	Lock *lock.Graph
	Attr []string
}

// Local reports whether the target is a directory on this machine.
func (t *Target) Local() bool {
	return t.Dir != ""
}

// FindRoot locates the directory containing flake.nix for a path. A
// path naming flake.nix itself resolves to its parent; a directory must
// contain flake.nix directly. Symlinks are resolved first.
func FindRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", abs)
		}
		return "", fmt.Errorf("resolving path %s: %w", abs, err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %s", resolved)
	}

	if !info.IsDir() {
		if filepath.Base(resolved) == "flake.nix" {
			return filepath.Dir(resolved), nil
		}
		return "", fmt.Errorf("path is a file but not flake.nix: %s", resolved)
	}

	if _, err := os.Stat(filepath.Join(resolved, "flake.nix")); err != nil {
		return "", fmt.Errorf("no flake.nix found in: %s", resolved)
	}
	return resolved, nil
}

// ResolveTarget resolves an installable argument against a working
// directory. Four forms are recognized, in order: the current directory
// ("" or "."), an explicit path (/, ./, ../, ~, path:), a
// scheme-qualified reference, and a registry name. Anything else passes
// through as an indirect reference. reg may be nil to skip registry
// lookups.
//
// A malformed flake.lock fails resolution here, before anything is
// fetched.
func ResolveTarget(ctx context.Context, installable, cwd string, reg *registry.Registry) (*Target, error) {
	refPart, attrStr := installable, ""
	if i := strings.Index(installable, "#"); i >= 0 {
		refPart, attrStr = installable[:i], installable[i+1:]
	}

	var attr []string
	if attrStr != "" {
		attr = strings.Split(attrStr, ".")
	}

	// Current directory.
	if refPart == "" || refPart == "." {
		dir, err := FindRoot(cwd)
		if err != nil {
			return nil, err
		}
		return localTarget(dir, attr)
	}

	// Explicit path. A path that does not lead to a flake falls through
	// and is treated as a reference.
	if strings.HasPrefix(refPart, "/") || strings.HasPrefix(refPart, "./") ||
		strings.HasPrefix(refPart, "../") || strings.HasPrefix(refPart, "~") ||
		strings.HasPrefix(refPart, "path:") {
		p := expandTilde(strings.TrimPrefix(refPart, "path:"))
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		if dir, err := FindRoot(p); err == nil {
			return localTarget(dir, attr)
		}
	}

	// Scheme-qualified references go to the fetcher as-is.
	if strings.Contains(refPart, ":") {
		return &Target{Ref: refPart, Attr: attr}, nil
	}

	// Registry name.
	if reg != nil && registry.IsName(refPart) {
		if entry, ok := reg.Lookup(ctx, refPart); ok {
			if entry.Local() {
				if dir, err := FindRoot(expandTilde(entry.Path)); err == nil {
					return localTarget(dir, attr)
				}
			} else if ref, ok := entry.FlakeRef(); ok {
				return &Target{Ref: ref, Attr: attr}, nil
			}
		}
	}

	// Unrecognized names stay indirect; nix applies its own registry
	// when the fetcher hands the reference over.
	return &Target{Ref: refPart, Attr: attr}, nil
}

func localTarget(dir string, attr []string) (*Target, error) {
	g, err := lock.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return &Target{Dir: dir, Lock: g, Attr: attr}, nil
}

func expandTilde(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}

// Op selects the attribute search order for a command.
type Op int

const (
	OpBuild Op = iota
	OpRun
	OpDevelop
	OpCheck
	OpEval
)

// searchCategories returns the ordered output categories the operation
// looks through.
func (o Op) searchCategories() []string {
	switch o {
	case OpBuild:
		return []string{"packages", "legacyPackages"}
	case OpRun:
		return []string{"apps", "packages", "legacyPackages"}
	case OpDevelop:
		return []string{"devShells"}
	case OpCheck:
		return []string{"checks"}
	}
	return []string{"packages", "legacyPackages"}
}

// Output categories with per-system structure.
var perSystemCategories = []string{
	"packages",
	"devShells",
	"apps",
	"checks",
	"legacyPackages",
	"formatter",
}

// Output categories that sit directly at the top level.
var topLevelCategories = []string{
	"overlays",
	"nixosModules",
	"nixosConfigurations",
	"darwinModules",
	"darwinConfigurations",
	"homeModules",
	"homeConfigurations",
	"templates",
	"lib",
}

// IsSystem reports whether s is a recognized Nix system identifier.
func IsSystem(s string) bool {
	switch s {
	case "x86_64-linux", "aarch64-linux", "x86_64-darwin",
		"aarch64-darwin", "i686-linux", "armv7l-linux":
		return true
	}
	return false
}

// ExpandAttribute turns a user-supplied attribute path into the ordered
// candidate paths to evaluate, mirroring nix's search behavior. The
// caller tries each candidate until one exists.
//
//	Build:  []        -> packages.<sys>.default, legacyPackages.<sys>.default
//	Build:  [hello]   -> packages.<sys>.hello, legacyPackages.<sys>.hello, hello
//	Any:    [packages hello] -> packages.<sys>.hello
//	Any:    [nixosConfigurations host] -> unchanged
//	Eval:   []        -> packages.<sys>.default, legacyPackages.<sys>.default, default
func ExpandAttribute(attr []string, op Op, system string) [][]string {
	insertSystem := func(category string, rest []string, addDefault bool) []string {
		result := append([]string{category, system}, rest...)
		if addDefault && len(result) == 2 {
			result = append(result, "default")
		}
		return result
	}

	// Eval applies no category detection, just the prefix search nix
	// eval itself performs. An empty attribute means default.
	if op == OpEval {
		effective := attr
		if len(effective) == 0 {
			effective = []string{"default"}
		}
		return [][]string{
			append([]string{"packages", system}, effective...),
			append([]string{"legacyPackages", system}, effective...),
			copyAttr(effective),
		}
	}

	if len(attr) == 0 {
		cats := op.searchCategories()
		out := make([][]string, 0, len(cats))
		for _, cat := range cats {
			out = append(out, insertSystem(cat, nil, true))
		}
		return out
	}

	first := attr[0]

	// Top-level outputs pass through: no system, no fallbacks.
	if matchesCategory(topLevelCategories, first) {
		return [][]string{copyAttr(attr)}
	}

	// Per-system category named explicitly: single candidate, system
	// inserted unless already present.
	if matchesCategory(perSystemCategories, first) {
		var path []string
		if len(attr) >= 2 && IsSystem(attr[1]) {
			path = copyAttr(attr)
			if len(path) == 2 {
				path = append(path, "default")
			}
		} else {
			path = insertSystem(first, attr[1:], true)
		}
		return [][]string{path}
	}

	// Unknown first element: prepend each search category, then the
	// bare attribute as a final fallback, like nix does.
	cats := op.searchCategories()
	out := make([][]string, 0, len(cats)+1)
	for _, cat := range cats {
		out = append(out, insertSystem(cat, attr, false))
	}
	out = append(out, copyAttr(attr))
	return out
}

func matchesCategory(categories []string, s string) bool {
	for _, c := range categories {
		if c == s || strings.EqualFold(c, s) {
			return true
		}
	}
	return false
}

func copyAttr(attr []string) []string {
	return append([]string(nil), attr...)
}
