package engine

import (
	"context"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

// EvalEngine evaluates flake attributes and raw expressions.
type EvalEngine struct {
	Pipeline Pipeline
}

// EvalOptions configure an evaluation.
type EvalOptions struct {
	JSON  bool
	Raw   bool
	Apply string // nix function applied to the value

	Store     string
	Args      map[string]string // --arg: nix expressions
	StrArgs   map[string]string // --argstr: literal strings
	Overrides []lock.Override
}

// Eval evaluates the target's attribute and returns the printed value.
func (e *EvalEngine) Eval(ctx context.Context, target *flake.Target, opts EvalOptions) (string, error) {
	system, err := e.Pipeline.system(ctx)
	if err != nil {
		return "", err
	}

	env, err := e.Pipeline.prepare(ctx, target, opts.Overrides)
	if err != nil {
		return "", err
	}

	candidates := flake.ExpandAttribute(target.Attr, flake.OpEval, system)
	attr, err := e.Pipeline.firstAttr(ctx, env, candidates)
	if err != nil {
		return "", err
	}

	program, err := expr.Build(env.request(attr))
	if err != nil {
		return "", err
	}
	if opts.Apply != "" {
		program = expr.Apply(opts.Apply, program)
	}

	return e.run(ctx, program, opts)
}

// EvalExpr evaluates a raw expression with no flake context.
func (e *EvalEngine) EvalExpr(ctx context.Context, expression string, opts EvalOptions) (string, error) {
	program := expression
	if opts.Apply != "" {
		program = expr.Apply(opts.Apply, expression)
	}
	return e.run(ctx, program, opts)
}

func (e *EvalEngine) run(ctx context.Context, program string, opts EvalOptions) (string, error) {
	raw, err := e.Pipeline.evalFunc()(ctx, nix.Request{
		Expr:    program,
		JSON:    opts.JSON,
		Store:   opts.Store,
		Args:    opts.Args,
		StrArgs: opts.StrArgs,
	})
	if err != nil {
		return "", err
	}
	if opts.Raw {
		return decode.RawString(raw), nil
	}
	return raw, nil
}
