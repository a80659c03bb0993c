// Package nix drives the nix toolchain as subprocesses: expression
// evaluation through nix-instantiate, tree prefetching, store queries,
// and platform detection.
package nix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Program is the nix binary used for flake subcommands. The classic
// tools (nix-instantiate, nix-build, nix-store) resolve on PATH as usual.
var Program = "nix"

// Features is passed to every invocation so flake commands work
// regardless of the user's nix.conf.
var Features = []string{"flakes", "nix-command"}

// Trace, when set, receives each command line before it runs.
var Trace func(string)

// Command is a single nix tool invocation. The environment is inherited
// minus TMPDIR, which confuses the daemon on some platforms.
type Command struct {
	prog string
	args []string
	env  []string
}

// NewCommand builds an invocation of prog with the experimental feature
// flags prepended.
func NewCommand(prog string, args ...string) *Command {
	full := append([]string{"--extra-experimental-features", strings.Join(Features, " ")}, args...)
	return &Command{prog: prog, args: full}
}

// WithEnv adds an environment variable to the invocation.
func (c *Command) WithEnv(key, value string) *Command {
	c.env = append(c.env, key+"="+value)
	return c
}

// String renders the invocation for debug echo, "+ prog arg ...".
func (c *Command) String() string {
	prog, args := c.resolved()
	parts := append([]string{"+", prog}, args...)
	return strings.Join(parts, " ")
}

// resolved applies the nix-output-monitor substitution: `nix ... build`
// becomes `nom build ...` and nix-build becomes nom-build, whenever the
// monitor is installed.
func (c *Command) resolved() (string, []string) {
	if c.prog == "nix" && programAvailable("nom") {
		for i, a := range c.args {
			if a == "build" {
				args := make([]string, 0, len(c.args))
				args = append(args, "build")
				args = append(args, c.args[:i]...)
				args = append(args, c.args[i+1:]...)
				return "nom", args
			}
		}
	}
	if c.prog == "nix-build" && programAvailable("nom-build") {
		return "nom-build", c.args
	}
	return c.prog, c.args
}

func (c *Command) command(ctx context.Context) *exec.Cmd {
	prog, args := c.resolved()
	if Trace != nil {
		Trace(c.String())
	}
	cmd := exec.CommandContext(ctx, prog, args...)
	cmd.Env = append(cleanEnv(), c.env...)
	return cmd
}

// Run executes the command with inherited stdio.
func (c *Command) Run(ctx context.Context) error {
	cmd := c.command(ctx)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("command failed with exit code: %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to run %s: %w", c.prog, err)
	}
	return nil
}

// Output executes the command and returns trimmed stdout. On failure the
// error carries the captured stderr.
func (c *Command) Output(ctx context.Context) (string, error) {
	cmd := c.command(ctx)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("command failed:\n%s", strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("failed to run %s: %w", c.prog, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// JSON executes the command and decodes stdout into v.
func (c *Command) JSON(ctx context.Context, v any) error {
	out, err := c.Output(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		return fmt.Errorf("failed to parse JSON output: %w", err)
	}
	return nil
}

func cleanEnv() []string {
	env := os.Environ()
	kept := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "TMPDIR=") {
			continue
		}
		kept = append(kept, kv)
	}
	return kept
}

var availability struct {
	sync.Mutex
	known map[string]bool
}

func programAvailable(name string) bool {
	availability.Lock()
	defer availability.Unlock()
	if availability.known == nil {
		availability.known = make(map[string]bool)
	}
	if have, ok := availability.known[name]; ok {
		return have
	}
	_, err := exec.LookPath(name)
	availability.known[name] = err == nil
	return err == nil
}
