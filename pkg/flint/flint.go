// Package flint exposes the flake pipeline as an embeddable library.
//
// A Client resolves installable references the way the CLI does, then
// evaluates, builds, locks, and scaffolds local flakes without copying
// their trees into the nix store. Operations that need a flake take it
// as an installable string ("." for the working directory, "./sub#attr"
// for an explicit attribute); lock operations take a directory.
//
// # Basic Usage
//
//	client, err := flint.New(flint.Options{Dir: "/path/to/project"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Build the default package.
//	result, err := client.Build(ctx, ".", flint.BuildOptions{})
//
//	// Refresh flake.lock.
//	lockResult, err := client.Update(ctx, "", flint.UpdateOptions{})
//
// The engines evaluate local flakes only. Resolving a remote reference
// succeeds, but operations on it fail; callers that want remote
// references handled should shell out to the nix CLI the way the flint
// command does.
package flint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bianoble/flint/internal/config"
	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/nix"
	"github.com/bianoble/flint/internal/profile"
	"github.com/bianoble/flint/internal/registry"
	"github.com/bianoble/flint/internal/template"
)

// Options configures a Client.
type Options struct {
	// Dir is the directory installables resolve against. Empty means
	// the process working directory.
	Dir string

	// ConfigPath pins the project configuration file instead of
	// discovering one above Dir.
	ConfigPath string

	// SystemConfigPath and UserConfigPath override the OS default
	// configuration locations.
	SystemConfigPath string
	UserConfigPath   string

	// NoInherit restricts configuration to the project layer.
	NoInherit bool

	// ProfileLink is the profile symlink the package operations use.
	// Empty means the default user profile.
	ProfileLink string

	// Warn receives advisory messages from lock and profile
	// operations. Nil discards them.
	Warn func(string)
}

// Client is the main entry point for the flint library.
type Client struct {
	dir      string
	settings *config.Settings
	registry *registry.Registry
	profile  string
	warn     func(string)
}

// New creates a Client, loading the configuration hierarchy for Dir.
func New(opts Options) (*Client, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		dir = wd
	}

	res, err := config.LoadHierarchical(config.HierarchicalOptions{
		StartDir:         dir,
		ProjectPath:      opts.ConfigPath,
		SystemConfigPath: opts.SystemConfigPath,
		UserConfigPath:   opts.UserConfigPath,
		NoInherit:        opts.NoInherit || config.EnvNoInherit(),
	})
	if err != nil {
		return nil, err
	}
	settings := res.Config

	reg := registry.New()
	if url := settings.Registry.GlobalURL; url != "" {
		reg.GlobalURL = url
	}
	if ttl := settings.RegistryTTL(); ttl > 0 {
		reg.TTL = ttl
	}

	return &Client{
		dir:      dir,
		settings: settings,
		registry: reg,
		profile:  opts.ProfileLink,
		warn:     opts.Warn,
	}, nil
}

// Settings returns the merged configuration the client runs with.
func (c *Client) Settings() *config.Settings {
	return c.settings
}

func (c *Client) pipeline() engine.Pipeline {
	ev := &nix.Evaluator{Timeout: c.settings.EvalTimeout()}
	return engine.Pipeline{
		Eval:    ev.Eval,
		Workers: c.settings.Workers(),
	}
}

// Resolve resolves an installable reference to its target flake.
func (c *Client) Resolve(ctx context.Context, installable string) (*Target, error) {
	return flake.ResolveTarget(ctx, installable, c.dir, c.registry)
}

// flakeDir resolves an optional directory argument to a flake root.
func (c *Client) flakeDir(dir string) (string, error) {
	if dir == "" {
		dir = c.dir
	} else if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.dir, dir)
	}
	return flake.FindRoot(dir)
}

// Build realizes an output attribute of the installable.
func (c *Client) Build(ctx context.Context, installable string, opts BuildOptions) (*BuildResult, error) {
	target, err := c.Resolve(ctx, installable)
	if err != nil {
		return nil, err
	}
	eng := &engine.BuildEngine{Pipeline: c.pipeline()}
	return eng.Build(ctx, target, opts)
}

// Eval evaluates an output attribute and returns the printed value.
func (c *Client) Eval(ctx context.Context, installable string, opts EvalOptions) (string, error) {
	target, err := c.Resolve(ctx, installable)
	if err != nil {
		return "", err
	}
	eng := &engine.EvalEngine{Pipeline: c.pipeline()}
	return eng.Eval(ctx, target, opts)
}

// EvalExpr evaluates a raw Nix expression with no flake context.
func (c *Client) EvalExpr(ctx context.Context, expr string, opts EvalOptions) (string, error) {
	eng := &engine.EvalEngine{Pipeline: c.pipeline()}
	return eng.EvalExpr(ctx, expr, opts)
}

// Run resolves the installable to an executable path. The client never
// executes it; callers own process handling and exit codes.
func (c *Client) Run(ctx context.Context, installable string, opts RunOptions) (*RunResult, error) {
	target, err := c.Resolve(ctx, installable)
	if err != nil {
		return nil, err
	}
	eng := &engine.RunEngine{Pipeline: c.pipeline()}
	return eng.Run(ctx, target, opts)
}

// Develop enters the build environment of the installable's dev shell.
// It blocks until the shell or the given command exits.
func (c *Client) Develop(ctx context.Context, installable string, opts DevelopOptions) (*DevelopResult, error) {
	target, err := c.Resolve(ctx, installable)
	if err != nil {
		return nil, err
	}
	eng := &engine.DevelopEngine{Pipeline: c.pipeline(), Warn: c.warn}
	return eng.Develop(ctx, target, opts)
}

// Show enumerates the installable's outputs without forcing them.
func (c *Client) Show(ctx context.Context, installable string, opts ShowOptions) (*ShowResult, error) {
	target, err := c.Resolve(ctx, installable)
	if err != nil {
		return nil, err
	}
	eng := &engine.ShowEngine{Pipeline: c.pipeline()}
	return eng.Show(ctx, target, opts)
}

// Check builds the installable's checks and reports the outcomes.
func (c *Client) Check(ctx context.Context, installable string, opts CheckOptions) (*CheckResult, error) {
	target, err := c.Resolve(ctx, installable)
	if err != nil {
		return nil, err
	}
	eng := &engine.CheckEngine{Pipeline: c.pipeline()}
	return eng.Check(ctx, target, opts)
}

// Metadata describes a local flake without evaluating its outputs.
func (c *Client) Metadata(ctx context.Context, installable string) (*Metadata, error) {
	target, err := c.Resolve(ctx, installable)
	if err != nil {
		return nil, err
	}
	eng := &engine.MetadataEngine{Pipeline: c.pipeline()}
	return eng.Metadata(ctx, target)
}

// Lock reconciles flake.lock with the flake.nix inputs block. An empty
// dir means the client's directory.
func (c *Client) Lock(ctx context.Context, dir string) (*LockResult, error) {
	root, err := c.flakeDir(dir)
	if err != nil {
		return nil, err
	}
	eng := &engine.LockEngine{Pipeline: c.pipeline(), Warn: c.warn}
	return eng.Sync(ctx, root)
}

// Update refreshes locked inputs to their latest revisions, or pins
// them to explicit references.
func (c *Client) Update(ctx context.Context, dir string, opts UpdateOptions) (*LockResult, error) {
	root, err := c.flakeDir(dir)
	if err != nil {
		return nil, err
	}
	eng := &engine.LockEngine{Pipeline: c.pipeline(), Warn: c.warn}
	return eng.Update(ctx, root, opts)
}

// InitTemplate copies a template into an existing directory. An empty
// ref selects the configured default template.
func (c *Client) InitTemplate(ctx context.Context, dir, ref string) (*ScaffoldResult, error) {
	return c.templates().Init(ctx, dir, c.templateRef(ref))
}

// NewTemplate creates dir and copies a template into it.
func (c *Client) NewTemplate(ctx context.Context, dir, ref string) (*ScaffoldResult, error) {
	return c.templates().New(ctx, dir, c.templateRef(ref))
}

func (c *Client) templates() *engine.TemplateEngine {
	ev := &nix.Evaluator{Timeout: c.settings.EvalTimeout()}
	return &engine.TemplateEngine{
		Loader: template.Loader{
			Eval:    ev.Eval,
			Workers: c.settings.Workers(),
		},
	}
}

func (c *Client) templateRef(ref string) string {
	if ref != "" {
		return ref
	}
	return c.settings.TemplateRef()
}

// Install builds the installable and records it in the profile.
func (c *Client) Install(ctx context.Context, installable string, opts InstallOptions) (*InstallResult, error) {
	target, err := c.Resolve(ctx, installable)
	if err != nil {
		return nil, err
	}
	eng, err := c.profileEngine()
	if err != nil {
		return nil, err
	}
	return eng.Install(ctx, target, opts)
}

// RemovePackages drops packages from the profile by name.
func (c *Client) RemovePackages(ctx context.Context, names []string) (*RemoveResult, error) {
	eng, err := c.profileEngine()
	if err != nil {
		return nil, err
	}
	return eng.Remove(ctx, names)
}

// Upgrade rebuilds installed packages from their local flakes. An
// empty name upgrades everything.
func (c *Client) Upgrade(ctx context.Context, name string) (*UpgradeResult, error) {
	eng, err := c.profileEngine()
	if err != nil {
		return nil, err
	}
	return eng.Upgrade(ctx, name)
}

func (c *Client) profileEngine() (*engine.ProfileEngine, error) {
	prof, err := profile.New(c.profile)
	if err != nil {
		return nil, err
	}
	return &engine.ProfileEngine{
		Pipeline: c.pipeline(),
		Profile:  prof,
		Warn:     c.warn,
	}, nil
}
