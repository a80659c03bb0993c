package nix

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// BuildOptions configure a nix-build invocation.
type BuildOptions struct {
	OutLink string // "" means --no-link
	Store   string
	Args    map[string]string
	StrArgs map[string]string

	// Capture returns the built store path instead of streaming build
	// output to the terminal.
	Capture bool
}

// BuildFunc matches Build; callers take it as an injection seam.
type BuildFunc func(ctx context.Context, expr string, opts BuildOptions) (string, error)

// ShellFunc matches Shell.
type ShellFunc func(ctx context.Context, expr string, opts ShellOptions) error

// InstantiateFunc matches Instantiate.
type InstantiateFunc func(ctx context.Context, expr, store string) (string, error)

// Build realizes the derivation the expression evaluates to.
func Build(ctx context.Context, expr string, opts BuildOptions) (string, error) {
	args := []string{"-E", expr}
	if opts.Store != "" {
		args = append(args, "--store", opts.Store)
	}
	for _, k := range sortedKeys(opts.Args) {
		args = append(args, "--arg", k, opts.Args[k])
	}
	for _, k := range sortedKeys(opts.StrArgs) {
		args = append(args, "--argstr", k, opts.StrArgs[k])
	}
	if opts.OutLink != "" {
		args = append(args, "-o", opts.OutLink)
	} else {
		args = append(args, "--no-link")
	}

	cmd := NewCommand("nix-build", args...)
	if opts.Capture {
		return cmd.Output(ctx)
	}
	return "", cmd.Run(ctx)
}

// ShellOptions configure a nix-shell invocation.
type ShellOptions struct {
	Command      string // run this instead of an interactive shell
	Store        string
	Args         map[string]string
	StrArgs      map[string]string
	Prompt       string
	PromptPrefix string
	PromptSuffix string
}

// Shell drops into the build environment of the derivation the
// expression evaluates to.
func Shell(ctx context.Context, expr string, opts ShellOptions) error {
	args := []string{"-E", expr}
	if opts.Store != "" {
		args = append(args, "--store", opts.Store)
	}
	for _, k := range sortedKeys(opts.Args) {
		args = append(args, "--arg", k, opts.Args[k])
	}
	for _, k := range sortedKeys(opts.StrArgs) {
		args = append(args, "--argstr", k, opts.StrArgs[k])
	}
	if opts.Command != "" {
		args = append(args, "--command", opts.Command)
	}

	cmd := NewCommand("nix-shell", args...)

	// Without NIX_BUILD_SHELL, nix-shell reaches for bashInteractive from
	// <nixpkgs>, which fails when NIX_PATH is unset.
	if os.Getenv("NIX_BUILD_SHELL") == "" {
		cmd.WithEnv("NIX_BUILD_SHELL", "bash")
	}
	if prompt := shellPrompt(opts); prompt != "" {
		escaped := strings.ReplaceAll(prompt, "'", `'\''`)
		cmd.WithEnv("PROMPT_COMMAND", fmt.Sprintf("PS1='%s'; unset PROMPT_COMMAND", escaped))
	}

	return cmd.Run(ctx)
}

func shellPrompt(opts ShellOptions) string {
	if opts.Prompt != "" {
		return opts.Prompt
	}
	if opts.PromptPrefix == "" && opts.PromptSuffix == "" {
		return ""
	}
	const defaultPrompt = `\[\e[0;1;35m\][nix-shell:\w]$\[\e[0m\] `
	return opts.PromptPrefix + defaultPrompt + opts.PromptSuffix
}

// RefBuildFunc matches BuildRef.
type RefBuildFunc func(ctx context.Context, ref string) (string, error)

// BuildRef realizes an installable reference through the flake-aware
// CLI and returns the out path. Remote references go through nix's own
// fetching and locking, not ours.
func BuildRef(ctx context.Context, ref string) (string, error) {
	return NewCommand(Program, "build", "--no-link", "--print-out-paths", ref).Output(ctx)
}

// Instantiate evaluates the expression to a derivation and returns its
// .drv store path without building it.
func Instantiate(ctx context.Context, expr, store string) (string, error) {
	args := []string{"-E", expr}
	if store != "" {
		args = append(args, "--store", store)
	}
	return NewCommand("nix-instantiate", args...).Output(ctx)
}
