package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

// DevelopEngine drops into the build environment of a development shell.
type DevelopEngine struct {
	Pipeline Pipeline

	// Shell runs the environment. Nil means nix.Shell.
	Shell nix.ShellFunc

	// Warn receives advisory messages, like unsupported nixConfig
	// options. Nil discards them.
	Warn func(string)
}

// DevelopOptions configure the shell.
type DevelopOptions struct {
	Command string // run this instead of an interactive shell

	Store     string
	Args      map[string]string
	StrArgs   map[string]string
	Overrides []lock.Override
}

// DevelopResult records which shell ran.
type DevelopResult struct {
	Attr []string
}

// Options the nixConfig block may set for the shell prompt. Everything
// else draws a warning.
var supportedNixConfig = map[string]bool{
	"bash-prompt":        true,
	"bash-prompt-prefix": true,
	"bash-prompt-suffix": true,
}

func (e *DevelopEngine) shell() nix.ShellFunc {
	if e.Shell != nil {
		return e.Shell
	}
	return nix.Shell
}

func (e *DevelopEngine) warn(msg string) {
	if e.Warn != nil {
		e.Warn(msg)
	}
}

// Develop resolves the target's shell attribute and runs it. The call
// blocks until the shell exits.
func (e *DevelopEngine) Develop(ctx context.Context, target *flake.Target, opts DevelopOptions) (*DevelopResult, error) {
	system, err := e.Pipeline.system(ctx)
	if err != nil {
		return nil, err
	}
	env, err := e.Pipeline.prepare(ctx, target, opts.Overrides)
	if err != nil {
		return nil, err
	}

	candidates := flake.ExpandAttribute(target.Attr, flake.OpDevelop, system)
	attr, err := e.Pipeline.firstAttr(ctx, env, candidates)
	if err != nil {
		return nil, err
	}

	shellOpts := nix.ShellOptions{
		Command: opts.Command,
		Store:   opts.Store,
		Args:    opts.Args,
		StrArgs: opts.StrArgs,
	}
	e.applyNixConfig(ctx, env, &shellOpts)

	program, err := expr.Build(env.request(attr))
	if err != nil {
		return nil, err
	}
	if err := e.shell()(ctx, program, shellOpts); err != nil {
		return nil, err
	}
	return &DevelopResult{Attr: attr}, nil
}

// applyNixConfig reads the flake's nixConfig prompt settings into the
// shell options. A flake without the block, or one that fails to
// evaluate, leaves the defaults alone.
func (e *DevelopEngine) applyNixConfig(ctx context.Context, env *environment, shellOpts *nix.ShellOptions) {
	program, err := expr.BuildNixConfig(env.dir)
	if err != nil {
		return
	}
	raw, err := e.Pipeline.evalFunc()(ctx, nix.Request{Expr: program, JSON: true})
	if err != nil {
		return
	}

	var cfg struct {
		Names  []string `json:"names"`
		Prompt *string  `json:"bash-prompt"`
		Prefix *string  `json:"bash-prompt-prefix"`
		Suffix *string  `json:"bash-prompt-suffix"`
	}
	if err := decode.JSON(raw, &cfg); err != nil {
		return
	}

	sort.Strings(cfg.Names)
	for _, name := range cfg.Names {
		if !supportedNixConfig[name] {
			e.warn(fmt.Sprintf("nixConfig.%s is not supported", name))
		}
	}

	if cfg.Prompt != nil {
		shellOpts.Prompt = *cfg.Prompt
	}
	if cfg.Prefix != nil {
		shellOpts.PromptPrefix = *cfg.Prefix
	}
	if cfg.Suffix != nil {
		shellOpts.PromptSuffix = *cfg.Suffix
	}
}
