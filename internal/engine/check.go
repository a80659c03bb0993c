package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

const defaultCheckWorkers = 4

// CheckEngine builds every check a flake declares for a system.
type CheckEngine struct {
	Pipeline Pipeline

	// Builder realizes checks. Nil means nix.Build.
	Builder nix.BuildFunc

	// Instantiate backs NoBuild runs. Nil means nix.Instantiate.
	Instantiate nix.InstantiateFunc
}

// CheckOptions configure a check run.
type CheckOptions struct {
	// NoBuild instantiates each check without realizing it.
	NoBuild bool

	Store     string
	Overrides []lock.Override
}

// CheckRun is the outcome of one check.
type CheckRun struct {
	Name string
	Err  error // nil means the check passed
}

// CheckResult holds the outcome of a check operation.
type CheckResult struct {
	System string
	Runs   []CheckRun
	Passed int
	Failed int
}

func (e *CheckEngine) builder() nix.BuildFunc {
	if e.Builder != nil {
		return e.Builder
	}
	return nix.Build
}

func (e *CheckEngine) instantiate() nix.InstantiateFunc {
	if e.Instantiate != nil {
		return e.Instantiate
	}
	return nix.Instantiate
}

// Check runs every check under checks.<system>. Runs come back sorted
// by name; a flake without checks yields an empty result, not an error.
func (e *CheckEngine) Check(ctx context.Context, target *flake.Target, opts CheckOptions) (*CheckResult, error) {
	system, err := e.Pipeline.system(ctx)
	if err != nil {
		return nil, err
	}
	env, err := e.Pipeline.prepare(ctx, target, opts.Overrides)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{System: system}
	if !e.Pipeline.hasAttr(ctx, env, []string{"checks", system}) {
		return result, nil
	}

	names, err := e.checkNames(ctx, env, system)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	result.Runs = e.runAll(ctx, env, system, names, opts)
	for _, run := range result.Runs {
		if run.Err != nil {
			result.Failed++
		} else {
			result.Passed++
		}
	}
	return result, nil
}

func (e *CheckEngine) checkNames(ctx context.Context, env *environment, system string) ([]string, error) {
	program, err := expr.Build(env.request([]string{"checks", system}))
	if err != nil {
		return nil, err
	}
	raw, err := e.Pipeline.evalFunc()(ctx, nix.Request{
		Expr: expr.Apply("builtins.attrNames", program),
		JSON: true,
	})
	if err != nil {
		return nil, err
	}
	var names []string
	if err := decode.JSON(raw, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// runAll builds the named checks on a bounded worker pool, preserving
// name order in the results.
func (e *CheckEngine) runAll(ctx context.Context, env *environment, system string, names []string, opts CheckOptions) []CheckRun {
	workers := e.Pipeline.Workers
	if workers <= 0 {
		workers = defaultCheckWorkers
	}
	if workers > len(names) {
		workers = len(names)
	}

	runs := make([]CheckRun, len(names))
	jobs := make(chan int, len(names))
	for i := range names {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				runs[i] = CheckRun{Name: names[i], Err: e.runOne(ctx, env, system, names[i], opts)}
			}
		}()
	}
	wg.Wait()
	return runs
}

func (e *CheckEngine) runOne(ctx context.Context, env *environment, system, name string, opts CheckOptions) error {
	program, err := expr.Build(env.request([]string{"checks", system, name}))
	if err != nil {
		return err
	}
	if opts.NoBuild {
		_, err = e.instantiate()(ctx, program, opts.Store)
		return err
	}
	_, err = e.builder()(ctx, program, nix.BuildOptions{Store: opts.Store, Capture: true})
	return err
}
