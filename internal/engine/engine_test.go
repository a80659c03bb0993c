package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

const testSystem = "x86_64-linux"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// flakeDir creates a directory holding a minimal flake.nix.
func flakeDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "flake.nix"), "{ outputs = { self }: { }; }\n")
	return dir
}

func localTestTarget(dir string, attr ...string) *flake.Target {
	return &flake.Target{Dir: dir, Lock: lock.Empty(), Attr: attr}
}

// attrLiteral renders a dotted attribute path the way presence probes
// spell it inside the synthesized program.
func attrLiteral(dotted string) string {
	return expr.AttrList(strings.Split(dotted, "."))
}

// probeEval answers attribute presence probes from the available set and
// hands every other program to next.
func probeEval(available []string, next nix.EvalFunc) nix.EvalFunc {
	return func(ctx context.Context, req nix.Request) (string, error) {
		if strings.Contains(req.Expr, "in hasPath ") {
			for _, attr := range available {
				if strings.Contains(req.Expr, attrLiteral(attr)) {
					return "true", nil
				}
			}
			return "false", nil
		}
		if next == nil {
			return "", fmt.Errorf("unexpected evaluation:\n%s", req.Expr)
		}
		return next(ctx, req)
	}
}

func testPipeline(eval nix.EvalFunc) Pipeline {
	return Pipeline{System: testSystem, Eval: eval}
}
