// Package engine implements the operations behind the flint commands.
//
// Every engine evaluates local flakes through the same pipeline: apply
// overrides to the lock graph, resolve each input to a local path,
// collect git metadata, and synthesize the expression handed to the
// evaluator. The flake under evaluation and path-overridden inputs are
// used in place, never copied into the store.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/fetch"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/gitmeta"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

// Pipeline bundles the toolchain seams the engines evaluate through.
// The zero value runs against the real nix toolchain.
type Pipeline struct {
	// Prefetch fetches flake references. Nil means nix.Prefetch.
	Prefetch fetch.PrefetchFunc

	// Eval runs synthesized expressions. Nil means a default Evaluator.
	Eval nix.EvalFunc

	// System names the evaluation platform. Empty probes the toolchain.
	System string

	// Workers bounds concurrent input fetches. Zero picks the default.
	Workers int
}

func (p Pipeline) prefetch() fetch.PrefetchFunc {
	if p.Prefetch != nil {
		return p.Prefetch
	}
	return nix.Prefetch
}

func (p Pipeline) evalFunc() nix.EvalFunc {
	if p.Eval != nil {
		return p.Eval
	}
	ev := &nix.Evaluator{}
	return ev.Eval
}

func (p Pipeline) system(ctx context.Context) (string, error) {
	if p.System != "" {
		return p.System, nil
	}
	return nix.CurrentSystem(ctx)
}

func (p Pipeline) fetcher(dir string) *fetch.Fetcher {
	f := fetch.New(dir)
	f.Prefetch = p.prefetch()
	f.Workers = p.Workers
	return f
}

// environment is a local flake made evaluable: overrides applied to the
// lock graph, every input resolved to a local path, git metadata
// collected for self.
type environment struct {
	dir     string
	graph   *lock.Graph
	sources map[string]fetch.Resolved
	self    gitmeta.Info
}

func (env *environment) request(attr []string) expr.Request {
	return expr.Request{
		Dir:     env.dir,
		Graph:   env.graph,
		Sources: env.sources,
		Attr:    attr,
		Self:    env.self,
	}
}

// prepare turns a local target into an evaluation environment.
func (p Pipeline) prepare(ctx context.Context, target *flake.Target, overrides []lock.Override) (*environment, error) {
	if !target.Local() {
		return nil, fmt.Errorf("'%s' is not a local flake", target.Ref)
	}

	f := p.fetcher(target.Dir)
	graph := target.Lock

	if len(overrides) > 0 {
		resolved := make([]lock.ResolvedOverride, 0, len(overrides))
		for _, ov := range overrides {
			r, err := f.ResolveOverride(ctx, ov.Input, ov.Ref)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, r)
		}
		var err error
		graph, err = graph.Apply(resolved)
		if err != nil {
			return nil, err
		}
	}

	sources, err := f.ResolveAll(ctx, graph)
	if err != nil {
		return nil, err
	}

	// A directory that is not a repository, or a repository without
	// commits, still evaluates: zero metadata renders as the epoch
	// placeholders.
	self, err := gitmeta.Collect(ctx, target.Dir)
	if err != nil {
		self = gitmeta.Info{}
	}

	return &environment{
		dir:     target.Dir,
		graph:   graph,
		sources: sources,
		self:    self,
	}, nil
}

// hasAttr probes whether the output set carries the attribute path.
// Evaluation failures read as absence, so a broken flake surfaces as a
// missing-attribute error rather than a probe error.
func (p Pipeline) hasAttr(ctx context.Context, env *environment, attr []string) bool {
	program, err := expr.BuildHasAttr(env.request(nil), attr)
	if err != nil {
		return false
	}
	raw, err := p.evalFunc()(ctx, nix.Request{Expr: program})
	if err != nil {
		return false
	}
	return decode.Bool(raw)
}

// firstAttr probes the candidates in order and returns the first one the
// output set provides.
func (p Pipeline) firstAttr(ctx context.Context, env *environment, candidates [][]string) ([]string, error) {
	for _, attr := range candidates {
		if p.hasAttr(ctx, env, attr) {
			return attr, nil
		}
	}
	return nil, &AttrNotFoundError{Candidates: candidates}
}

// AttrNotFoundError reports that none of the searched attribute paths
// exist in the flake's outputs.
type AttrNotFoundError struct {
	Candidates [][]string
}

func (e *AttrNotFoundError) Error() string {
	quoted := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		quoted[i] = "'" + strings.Join(c, ".") + "'"
	}
	switch len(quoted) {
	case 0:
		return "flake does not provide the requested attribute"
	case 1:
		return "flake does not provide attribute " + quoted[0]
	default:
		head := strings.Join(quoted[:len(quoted)-1], ", ")
		return fmt.Sprintf("flake does not provide attribute %s or %s", head, quoted[len(quoted)-1])
	}
}
