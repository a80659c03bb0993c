package engine

import (
	"context"

	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

// DefaultOutLink is the result symlink name when the caller names none.
const DefaultOutLink = "result"

// BuildEngine realizes flake output attributes through nix-build.
type BuildEngine struct {
	Pipeline Pipeline

	// Builder runs the build. Nil means nix.Build.
	Builder nix.BuildFunc

	// Instantiate produces derivation paths. Nil means nix.Instantiate.
	Instantiate nix.InstantiateFunc
}

// BuildOptions configure a build.
type BuildOptions struct {
	OutLink string // symlink name; empty means DefaultOutLink
	NoLink  bool

	// Capture returns the built store path instead of streaming build
	// output.
	Capture bool

	Store     string
	Args      map[string]string
	StrArgs   map[string]string
	Overrides []lock.Override
}

// BuildResult records what was built.
type BuildResult struct {
	// Attr is the attribute path the candidate search settled on.
	Attr []string

	// StorePath is the built output path; set only under Capture.
	StorePath string
}

func (e *BuildEngine) builder() nix.BuildFunc {
	if e.Builder != nil {
		return e.Builder
	}
	return nix.Build
}

func (e *BuildEngine) instantiate() nix.InstantiateFunc {
	if e.Instantiate != nil {
		return e.Instantiate
	}
	return nix.Instantiate
}

// Build resolves the target's attribute and realizes it.
func (e *BuildEngine) Build(ctx context.Context, target *flake.Target, opts BuildOptions) (*BuildResult, error) {
	env, attr, err := e.resolve(ctx, target, opts.Overrides)
	if err != nil {
		return nil, err
	}

	program, err := expr.Build(env.request(attr))
	if err != nil {
		return nil, err
	}

	outLink := ""
	if !opts.NoLink {
		outLink = opts.OutLink
		if outLink == "" {
			outLink = DefaultOutLink
		}
	}

	path, err := e.builder()(ctx, program, nix.BuildOptions{
		OutLink: outLink,
		Store:   opts.Store,
		Args:    opts.Args,
		StrArgs: opts.StrArgs,
		Capture: opts.Capture,
	})
	if err != nil {
		return nil, err
	}
	return &BuildResult{Attr: attr, StorePath: path}, nil
}

// DrvPath resolves the target's attribute and instantiates it, returning
// the .drv path without building.
func (e *BuildEngine) DrvPath(ctx context.Context, target *flake.Target, opts BuildOptions) (string, error) {
	env, attr, err := e.resolve(ctx, target, opts.Overrides)
	if err != nil {
		return "", err
	}
	program, err := expr.Build(env.request(attr))
	if err != nil {
		return "", err
	}
	return e.instantiate()(ctx, program, opts.Store)
}

func (e *BuildEngine) resolve(ctx context.Context, target *flake.Target, overrides []lock.Override) (*environment, []string, error) {
	system, err := e.Pipeline.system(ctx)
	if err != nil {
		return nil, nil, err
	}
	env, err := e.Pipeline.prepare(ctx, target, overrides)
	if err != nil {
		return nil, nil, err
	}
	candidates := flake.ExpandAttribute(target.Attr, flake.OpBuild, system)
	attr, err := e.Pipeline.firstAttr(ctx, env, candidates)
	if err != nil {
		return nil, nil, err
	}
	return env, attr, nil
}
