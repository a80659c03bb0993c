package config

import "time"

// Settings represents a flint configuration file. Every field is
// optional; zero values fall back to the built-in defaults through the
// accessor methods below.
type Settings struct {
	Version   int              `yaml:"version"`
	Nix       NixSettings      `yaml:"nix,omitempty"`
	Build     BuildSettings    `yaml:"build,omitempty"`
	Templates TemplateSettings `yaml:"templates,omitempty"`
	Registry  RegistrySettings `yaml:"registry,omitempty"`
}

// NixSettings controls how the nix toolchain is invoked.
type NixSettings struct {
	// Program is the nix binary to run, a name on PATH or an absolute path.
	Program string `yaml:"program,omitempty"`

	// ExperimentalFeatures replaces the feature set passed on every
	// invocation via --extra-experimental-features.
	ExperimentalFeatures []string `yaml:"experimental-features,omitempty"`

	// Timeout bounds a single evaluation, in Go duration syntax ("30s",
	// "5m"). Empty means no limit.
	Timeout string `yaml:"timeout,omitempty"`

	// WorkerPool bounds concurrent prefetch and per-system evaluation.
	WorkerPool int `yaml:"worker-pool,omitempty"`
}

// BuildSettings controls flint build.
type BuildSettings struct {
	// OutLink is the result symlink name when -o is not given.
	OutLink string `yaml:"out-link,omitempty"`
}

// TemplateSettings controls flake init and flake new.
type TemplateSettings struct {
	// DefaultRef is the template flake reference used when -t is not given.
	DefaultRef string `yaml:"default-ref,omitempty"`
}

// RegistrySettings controls flake reference resolution.
type RegistrySettings struct {
	// GlobalURL overrides the global registry endpoint.
	GlobalURL string `yaml:"global-url,omitempty"`

	// CacheTTL is how long the cached global registry stays fresh, in Go
	// duration syntax. Empty means the built-in default.
	CacheTTL string `yaml:"cache-ttl,omitempty"`
}

const (
	// DefaultWorkerPool bounds concurrent subprocess work when
	// nix.worker-pool is not set.
	DefaultWorkerPool = 4

	// DefaultOutLink is the result symlink created by flint build.
	DefaultOutLink = "result"

	// DefaultTemplateRef seeds flake init when no template is named. The
	// bare name resolves through the registry to github:NixOS/templates.
	DefaultTemplateRef = "templates"
)

// defaultFeatures lets flake commands work regardless of the user's nix.conf.
var defaultFeatures = []string{"flakes", "nix-command"}

// Default returns the settings used when no configuration file exists.
func Default() *Settings {
	return &Settings{Version: 1}
}

// NixProgram returns the configured nix binary, or "nix".
func (s *Settings) NixProgram() string {
	if s.Nix.Program != "" {
		return s.Nix.Program
	}
	return "nix"
}

// Features returns the experimental features enabled on nix invocations.
func (s *Settings) Features() []string {
	if len(s.Nix.ExperimentalFeatures) > 0 {
		return s.Nix.ExperimentalFeatures
	}
	return defaultFeatures
}

// EvalTimeout returns the per-evaluation timeout, or zero for no limit.
func (s *Settings) EvalTimeout() time.Duration {
	return parseDuration(s.Nix.Timeout)
}

// Workers returns the worker pool size for prefetch and show.
func (s *Settings) Workers() int {
	if s.Nix.WorkerPool > 0 {
		return s.Nix.WorkerPool
	}
	return DefaultWorkerPool
}

// OutLink returns the default result symlink name for builds.
func (s *Settings) OutLink() string {
	if s.Build.OutLink != "" {
		return s.Build.OutLink
	}
	return DefaultOutLink
}

// TemplateRef returns the template reference used when init has no -t.
func (s *Settings) TemplateRef() string {
	if s.Templates.DefaultRef != "" {
		return s.Templates.DefaultRef
	}
	return DefaultTemplateRef
}

// RegistryTTL returns how long the cached global registry stays fresh,
// or zero to use the built-in default.
func (s *Settings) RegistryTTL() time.Duration {
	return parseDuration(s.Registry.CacheTTL)
}

// parseDuration is forgiving: Validate has already rejected bad values,
// so anything unparseable here just means "use the default".
func parseDuration(v string) time.Duration {
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
