package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bianoble/flint/internal/config"
	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
	"github.com/bianoble/flint/internal/registry"
)

// settings is the merged configuration, populated before any
// subcommand runs.
var settings = config.Default()

// applySettings loads the configuration hierarchy and pushes the nix
// invocation settings into the toolchain layer.
func applySettings() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	res, err := config.LoadHierarchical(config.HierarchicalOptions{
		StartDir:    cwd,
		ProjectPath: configPath,
		NoInherit:   config.EnvNoInherit(),
	})
	if err != nil {
		return err
	}
	settings = res.Config

	nix.Program = settings.NixProgram()
	nix.Features = settings.Features()
	if verbose {
		nix.Trace = func(line string) {
			fmt.Fprintln(os.Stderr, line)
		}
	}
	return nil
}

// newPipeline builds the shared evaluation pipeline from the merged
// settings.
func newPipeline() engine.Pipeline {
	ev := &nix.Evaluator{Timeout: settings.EvalTimeout()}
	return engine.Pipeline{
		Eval:    ev.Eval,
		Workers: settings.Workers(),
	}
}

// newRegistry creates the three-level flake registry.
func newRegistry() *registry.Registry {
	reg := registry.New()
	if url := settings.Registry.GlobalURL; url != "" {
		reg.GlobalURL = url
	}
	if ttl := settings.RegistryTTL(); ttl > 0 {
		reg.TTL = ttl
	}
	return reg
}

// resolveTarget resolves an installable argument against the working
// directory and the registry.
func resolveTarget(ctx context.Context, installable string) (*flake.Target, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	return flake.ResolveTarget(ctx, installable, cwd, newRegistry())
}

// parseOverrides parses repeated --override-input name=ref pairs.
func parseOverrides(specs []string) ([]lock.Override, error) {
	var out []lock.Override
	for _, s := range specs {
		o, err := lock.ParseOverride(s)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// parsePairs parses repeated name=value flags into a map.
func parsePairs(flag string, specs []string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		name, value, ok := cutPair(s)
		if !ok {
			return nil, fmt.Errorf("invalid %s %q: expected name=value", flag, s)
		}
		out[name] = value
	}
	return out, nil
}

func cutPair(s string) (name, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			if i == 0 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// passthrough hands a remote flake reference to the nix CLI with
// inherited stdio.
func passthrough(ctx context.Context, args ...string) error {
	return nix.NewCommand(nix.Program, args...).Run(ctx)
}

// info prints a line unless quiet mode is active.
func info(format string, args ...any) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(format string, args ...any) {
	if verbose {
		fmt.Printf("  "+format+"\n", args...)
	}
}

// errorf prints an error message to stderr.
func errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// colorEnabled reports whether escape sequences should be emitted.
func colorEnabled() bool {
	if noColor {
		return false
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func colorize(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + "\x1b[0m"
}

func bold(s string) string        { return colorize("\x1b[1m", s) }
func greenBold(s string) string   { return colorize("\x1b[32;1m", s) }
func magentaBold(s string) string { return colorize("\x1b[35;1m", s) }
func cyan(s string) string        { return colorize("\x1b[36m", s) }
func yellow(s string) string      { return colorize("\x1b[1;33m", s) }

// lockedURL renders a locked source the way nix prints flake URLs.
func lockedURL(src *lock.Source) string {
	if src == nil {
		return ""
	}
	switch src.Type {
	case lock.TypeGitHub, lock.TypeGitLab, lock.TypeSourcehut:
		u := fmt.Sprintf("%s:%s/%s", src.Type, src.Owner, src.Repo)
		if src.Rev != "" {
			u += "/" + src.Rev
		}
		return u
	case lock.TypeGit:
		u := "git+" + src.URL
		if src.Rev != "" {
			u += "?rev=" + src.Rev
		}
		return u
	case lock.TypePath:
		return "path:" + src.Path
	case lock.TypeTarball:
		return src.URL
	default:
		if src.URL != "" {
			return src.URL
		}
		return src.Type
	}
}

// shortDate formats a lock timestamp as a calendar day.
func shortDate(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

// localTime formats a lock timestamp in the local timezone.
func localTime(ts int64) string {
	return time.Unix(ts, 0).Local().Format("2006-01-02 15:04:05")
}
