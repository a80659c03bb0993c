package nix

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// EvalError reports a failed expression evaluation. Stderr carries the
// evaluator's diagnostics verbatim so the caller can surface them.
type EvalError struct {
	Stderr   string
	ExitCode int
	Timeout  bool
}

func (e *EvalError) Error() string {
	if e.Timeout {
		return "evaluation timed out"
	}
	if e.Stderr == "" {
		return fmt.Sprintf("evaluation failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("evaluation failed with exit code %d:\n%s", e.ExitCode, e.Stderr)
}

// Request describes one expression evaluation.
//
// ReadOnly evaluations run against an ephemeral store (--readonly-mode
// with --eval-store dummy://) and can never write store paths; the
// default mode is --read-write-mode so instantiation works.
type Request struct {
	Expr     string
	JSON     bool
	ReadOnly bool
	Store    string
	Args     map[string]string // --arg: values are nix expressions
	StrArgs  map[string]string // --argstr: values are literal strings
}

// EvalFunc matches Evaluator.Eval so callers can inject a fake.
type EvalFunc func(ctx context.Context, req Request) (string, error)

// Evaluator runs evaluations through nix-instantiate.
type Evaluator struct {
	// Timeout bounds a single evaluation. Zero disables the deadline.
	Timeout time.Duration
}

// Eval evaluates the request and returns raw stdout, trimmed. Evaluation
// failures come back as *EvalError.
func (e *Evaluator) Eval(ctx context.Context, req Request) (string, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := NewCommand("nix-instantiate", evalArgs(req)...).command(ctx)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return "", &EvalError{Stderr: strings.TrimSpace(stderr.String()), Timeout: true}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return "", &EvalError{Stderr: strings.TrimSpace(stderr.String()), ExitCode: exitErr.ExitCode()}
	}
	return "", fmt.Errorf("failed to run nix-instantiate: %w", err)
}

func evalArgs(req Request) []string {
	args := []string{"--eval"}

	if req.ReadOnly {
		if req.JSON {
			args = append(args, "--json")
		}
		return append(args, "--readonly-mode", "--eval-store", "dummy://", "-E", req.Expr)
	}

	args = append(args, "--strict", "--read-write-mode")
	if req.JSON {
		args = append(args, "--json")
	}
	for _, k := range sortedKeys(req.Args) {
		args = append(args, "--arg", k, req.Args[k])
	}
	for _, k := range sortedKeys(req.StrArgs) {
		args = append(args, "--argstr", k, req.StrArgs[k])
	}
	if req.Store != "" {
		args = append(args, "--store", req.Store)
	}
	return append(args, "--expr", req.Expr)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
