package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/bianoble/flint/internal/template"
)

// TemplateEngine scaffolds projects from flake templates.
type TemplateEngine struct {
	Loader template.Loader
}

// ScaffoldResult reports what a scaffold operation copied.
type ScaffoldResult struct {
	// Ref is the template reference as the caller gave it.
	Ref string

	// Dir is the destination directory.
	Dir string

	Copied  int
	Skipped int

	// Welcome is the template's welcome text, possibly empty.
	Welcome string
}

// Init copies a template into an existing directory. Files already
// present are left alone and counted as skipped.
func (e *TemplateEngine) Init(ctx context.Context, dir, ref string) (*ScaffoldResult, error) {
	info, err := e.Loader.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	res, err := template.CopyTree(info.Path, dir, false)
	if err != nil {
		return nil, err
	}
	return &ScaffoldResult{
		Ref:     ref,
		Dir:     dir,
		Copied:  res.Copied,
		Skipped: res.Skipped,
		Welcome: info.Welcome,
	}, nil
}

// New creates the directory and copies a template into it. When the
// scaffold fails the directory is removed again if nothing landed in
// it.
func (e *TemplateEngine) New(ctx context.Context, dir, ref string) (*ScaffoldResult, error) {
	if _, err := os.Lstat(dir); err == nil {
		return nil, fmt.Errorf("directory already exists: %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	info, err := e.Loader.Load(ctx, ref)
	if err != nil {
		_ = os.Remove(dir)
		return nil, err
	}
	res, err := template.CopyTree(info.Path, dir, true)
	if err != nil {
		_ = os.Remove(dir)
		return nil, err
	}
	return &ScaffoldResult{
		Ref:     ref,
		Dir:     dir,
		Copied:  res.Copied,
		Skipped: res.Skipped,
		Welcome: info.Welcome,
	}, nil
}
