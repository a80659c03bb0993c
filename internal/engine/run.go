package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

// RunEngine resolves a target to an executable: apps run their declared
// program, packages are built and searched for their main program.
type RunEngine struct {
	Pipeline Pipeline

	// Builder realizes package targets. Nil means nix.Build.
	Builder nix.BuildFunc
}

// RunOptions configure run resolution.
type RunOptions struct {
	Store     string
	Args      map[string]string
	StrArgs   map[string]string
	Overrides []lock.Override
}

// RunResult names the program to execute. The engine never executes it;
// the caller owns process handling and exit codes.
type RunResult struct {
	Program string
	Attr    []string
}

func (e *RunEngine) builder() nix.BuildFunc {
	if e.Builder != nil {
		return e.Builder
	}
	return nix.Build
}

// Run resolves the target to its executable path.
func (e *RunEngine) Run(ctx context.Context, target *flake.Target, opts RunOptions) (*RunResult, error) {
	system, err := e.Pipeline.system(ctx)
	if err != nil {
		return nil, err
	}
	env, err := e.Pipeline.prepare(ctx, target, opts.Overrides)
	if err != nil {
		return nil, err
	}

	candidates := flake.ExpandAttribute(target.Attr, flake.OpRun, system)
	attr, err := e.Pipeline.firstAttr(ctx, env, candidates)
	if err != nil {
		return nil, err
	}

	if len(attr) > 0 && attr[0] == "apps" {
		program, err := e.appProgram(ctx, env, attr)
		if err != nil {
			return nil, err
		}
		return &RunResult{Program: program, Attr: attr}, nil
	}

	program, err := expr.Build(env.request(attr))
	if err != nil {
		return nil, err
	}
	storePath, err := e.builder()(ctx, program, nix.BuildOptions{
		Store:   opts.Store,
		Args:    opts.Args,
		StrArgs: opts.StrArgs,
		Capture: true,
	})
	if err != nil {
		return nil, err
	}

	name, err := e.mainProgram(ctx, env, attr)
	if err != nil {
		return nil, err
	}
	return &RunResult{Program: storePath + "/bin/" + name, Attr: attr}, nil
}

// appProgram reads the program path an app declares.
func (e *RunEngine) appProgram(ctx context.Context, env *environment, attr []string) (string, error) {
	program, err := expr.Build(env.request(append(append([]string{}, attr...), "program")))
	if err != nil {
		return "", err
	}
	raw, err := e.Pipeline.evalFunc()(ctx, nix.Request{Expr: program, JSON: true})
	if err != nil {
		return "", err
	}
	var path string
	if err := decode.JSON(raw, &path); err != nil {
		return "", err
	}
	return path, nil
}

// mainProgram finds the executable name of a package, trying
// meta.mainProgram, then pname, then name with its version stripped.
func (e *RunEngine) mainProgram(ctx context.Context, env *environment, attr []string) (string, error) {
	program, err := expr.BuildProgramMeta(env.request(nil), attr)
	if err != nil {
		return "", err
	}
	raw, err := e.Pipeline.evalFunc()(ctx, nix.Request{Expr: program, JSON: true})
	if err != nil {
		return "", err
	}

	var meta struct {
		MainProgram *string `json:"mainProgram"`
		Pname       *string `json:"pname"`
		Name        *string `json:"name"`
	}
	if err := decode.JSON(raw, &meta); err != nil {
		return "", err
	}

	switch {
	case meta.MainProgram != nil && *meta.MainProgram != "":
		return *meta.MainProgram, nil
	case meta.Pname != nil && *meta.Pname != "":
		return *meta.Pname, nil
	case meta.Name != nil && *meta.Name != "":
		return stripVersion(*meta.Name), nil
	}
	return "", fmt.Errorf("could not determine main program for %s", strings.Join(attr, "."))
}

// stripVersion drops a trailing -<version> suffix: the part after the
// last hyphen when it starts with a digit.
func stripVersion(name string) string {
	i := strings.LastIndex(name, "-")
	if i >= 0 && i+1 < len(name) {
		if c := name[i+1]; c >= '0' && c <= '9' {
			return name[:i]
		}
	}
	return name
}
