// Package template fetches flake templates and copies their file trees
// into project directories.
//
// A template reference names a flake plus an attribute under its
// templates output, joined by '#'. The flake is prefetched into the
// store, its own inputs are resolved the same way regular evaluation
// resolves them, and the template's path, description, and welcome text
// come back from a single read-only evaluation.
package template

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/fetch"
	"github.com/bianoble/flint/internal/gitmeta"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
	"github.com/bianoble/flint/internal/sandbox"
)

// communityTemplates is the flake the bare reference "templates"
// expands to.
const communityTemplates = "github:NixOS/templates"

// Info describes one template of a fetched template flake.
type Info struct {
	// Path is the local directory holding the template's files.
	Path string

	// Description is the template's self-description, possibly empty.
	Description string

	// Welcome is text meant to be shown after a successful copy,
	// possibly empty.
	Welcome string
}

// CopyResult counts what a template copy touched.
type CopyResult struct {
	Copied  int
	Skipped int
}

// SplitRef splits a template reference at its last '#' into a flake
// reference and a template name. A reference without a '#' selects the
// template named "default", and the bare flake reference "templates"
// means the community collection at github:NixOS/templates.
func SplitRef(ref string) (flakeRef, name string) {
	flakeRef, name = ref, "default"
	if idx := strings.LastIndex(ref, "#"); idx >= 0 {
		flakeRef, name = ref[:idx], ref[idx+1:]
	}
	if name == "" {
		name = "default"
	}
	if flakeRef == "templates" {
		flakeRef = communityTemplates
	}
	return flakeRef, name
}

// Loader fetches template flakes and evaluates template metadata. The
// zero value uses the real toolchain for both fetching and evaluation.
type Loader struct {
	// Prefetch fetches flake references. Nil means nix.Prefetch.
	Prefetch fetch.PrefetchFunc

	// Eval runs the synthesized metadata program. Nil means a default
	// nix.Evaluator with no timeout.
	Eval nix.EvalFunc

	// Workers bounds concurrent fetches of the template flake's own
	// inputs. Zero picks the fetcher default.
	Workers int
}

// Load fetches the flake behind ref and returns the selected template's
// metadata. The template tree stays where the prefetch put it; nothing
// is copied into the store beyond what the prefetch itself stored.
func (l *Loader) Load(ctx context.Context, ref string) (Info, error) {
	flakeRef, name := SplitRef(ref)

	prefetch := l.Prefetch
	if prefetch == nil {
		prefetch = nix.Prefetch
	}

	res, err := prefetch(ctx, flakeRef)
	if err != nil {
		return Info{}, fmt.Errorf("fetching template flake %s: %w", flakeRef, err)
	}
	dir := res.StorePath
	if _, err := os.Stat(filepath.Join(dir, "flake.nix")); err != nil {
		return Info{}, fmt.Errorf("no flake.nix found in %s", dir)
	}

	// Template flakes may carry their own lock. Those inputs resolve
	// exactly like any other evaluation's, just rooted at the fetched
	// tree instead of a working copy.
	g, err := lock.LoadDir(dir)
	if err != nil {
		return Info{}, err
	}
	fetcher := fetch.New(dir)
	fetcher.Prefetch = prefetch
	fetcher.Workers = l.Workers
	sources, err := fetcher.ResolveAll(ctx, g)
	if err != nil {
		return Info{}, err
	}

	program, err := expr.BuildTemplate(expr.Request{
		Dir:     dir,
		Graph:   g,
		Sources: sources,
		Self:    gitmeta.Info{},
	}, name)
	if err != nil {
		return Info{}, err
	}

	eval := l.Eval
	if eval == nil {
		ev := &nix.Evaluator{}
		eval = ev.Eval
	}
	raw, err := eval(ctx, nix.Request{Expr: program, ReadOnly: true})
	if err != nil {
		return Info{}, err
	}

	fields, err := decode.SentinelFields(raw, 3)
	if err != nil {
		return Info{}, fmt.Errorf("unexpected template info format: %w", err)
	}
	info := Info{Path: fields[0], Description: fields[1], Welcome: fields[2]}
	if info.Path == "" {
		return Info{}, fmt.Errorf("template '%s' has no path", name)
	}
	if _, err := os.Stat(info.Path); err != nil {
		return Info{}, fmt.Errorf("template path does not exist: %s", info.Path)
	}
	return info, nil
}

// CopyTree copies every regular file under src into dir, preserving the
// relative layout and creating parent directories as needed. Existing
// destination files are skipped unless overwrite is set. Copies gain the
// owner write bit, since fetched trees arrive read-only.
func CopyTree(src, dir string, overwrite bool) (CopyResult, error) {
	var result CopyResult
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if !overwrite {
			if _, err := os.Lstat(filepath.Join(dir, rel)); err == nil {
				result.Skipped++
				return nil
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading template file %s: %w", rel, err)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if err := sandbox.SafeWrite(dir, rel, data, fi.Mode().Perm()|0o200); err != nil {
			return err
		}
		result.Copied++
		return nil
	})
	if err != nil {
		return CopyResult{}, err
	}
	return result, nil
}
