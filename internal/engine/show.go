package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

const defaultShowWorkers = 4

// ShowEngine maps a flake's outputs to their display structure without
// forcing any output values.
type ShowEngine struct {
	Pipeline Pipeline
}

// ShowOptions configure output enumeration.
type ShowOptions struct {
	// AllSystems enumerates entries for every platform.
	AllSystems bool

	// ShowLegacy enumerates legacyPackages instead of omitting it.
	ShowLegacy bool

	Overrides []lock.Override
}

// ShowResult is the enumerated output structure. Categories preserves
// evaluation order; a category that failed to evaluate has no Structure
// entry.
type ShowResult struct {
	System     string
	Categories []string
	Structure  map[string]json.RawMessage
}

// Show enumerates the target's outputs. Categories evaluate on a
// bounded worker pool, one evaluation each.
func (e *ShowEngine) Show(ctx context.Context, target *flake.Target, opts ShowOptions) (*ShowResult, error) {
	system, err := e.Pipeline.system(ctx)
	if err != nil {
		return nil, err
	}
	env, err := e.Pipeline.prepare(ctx, target, opts.Overrides)
	if err != nil {
		return nil, err
	}

	program, err := expr.BuildOutputNames(env.request(nil))
	if err != nil {
		return nil, err
	}
	raw, err := e.Pipeline.evalFunc()(ctx, nix.Request{Expr: program, JSON: true})
	if err != nil {
		return nil, err
	}
	var categories []string
	if err := decode.JSON(raw, &categories); err != nil {
		return nil, err
	}

	result := &ShowResult{
		System:     system,
		Categories: categories,
		Structure:  make(map[string]json.RawMessage, len(categories)),
	}
	if len(categories) == 0 {
		return result, nil
	}

	catOpts := expr.CategoryOptions{
		System:     system,
		AllSystems: opts.AllSystems,
		ShowLegacy: opts.ShowLegacy,
	}

	workers := e.Pipeline.Workers
	if workers <= 0 {
		workers = defaultShowWorkers
	}
	if workers > len(categories) {
		workers = len(categories)
	}

	jobs := make(chan string, len(categories))
	for _, cat := range categories {
		jobs <- cat
	}
	close(jobs)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cat := range jobs {
				structure, err := e.category(ctx, env, cat, catOpts)
				if err != nil {
					// A category that fails to evaluate is simply not shown.
					continue
				}
				mu.Lock()
				result.Structure[cat] = structure
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return result, nil
}

func (e *ShowEngine) category(ctx context.Context, env *environment, category string, opts expr.CategoryOptions) (json.RawMessage, error) {
	program, err := expr.BuildCategory(env.request(nil), category, opts)
	if err != nil {
		return nil, err
	}
	raw, err := e.Pipeline.evalFunc()(ctx, nix.Request{Expr: program, JSON: true})
	if err != nil {
		return nil, err
	}
	var structure json.RawMessage
	if err := decode.JSON(raw, &structure); err != nil {
		return nil, err
	}
	return structure, nil
}
