package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Parse reads a settings file without validating it. Unknown keys are
// rejected so a typo like "worker-pools" surfaces instead of being
// silently ignored.
func Parse(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Settings
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &s, nil
}

// Load reads and validates a flint configuration file.
func Load(path string) (*Settings, error) {
	s, err := Parse(path)
	if err != nil {
		return nil, err
	}

	if errs := Validate(s); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return s, nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks Settings for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(s *Settings) []string {
	var errs []string

	if s.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d — only version 1 is supported", s.Version))
	}

	errs = append(errs, validateDuration("nix.timeout", s.Nix.Timeout)...)
	if s.Nix.WorkerPool < 0 {
		errs = append(errs, fmt.Sprintf("nix.worker-pool: must not be negative, got %d", s.Nix.WorkerPool))
	}
	for i, f := range s.Nix.ExperimentalFeatures {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Sprintf("nix.experimental-features[%d]: entry must not be empty", i))
		}
	}

	errs = append(errs, validateDuration("registry.cache-ttl", s.Registry.CacheTTL)...)
	if u := s.Registry.GlobalURL; u != "" && !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		errs = append(errs, fmt.Sprintf("registry.global-url: '%s' is not an http(s) URL", u))
	}

	return errs
}

func validateDuration(field, value string) []string {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return []string{fmt.Sprintf("%s: invalid duration '%s' — use values like '30s' or '5m'", field, value)}
	}
	if d < 0 {
		return []string{fmt.Sprintf("%s: must not be negative, got %s", field, value)}
	}
	return nil
}

// HierarchicalOptions controls layered configuration loading.
type HierarchicalOptions struct {
	// StartDir is where project config discovery begins, usually the
	// working directory. Empty disables discovery.
	StartDir string

	// ProjectPath pins the project config instead of discovering it.
	// The file must exist when set.
	ProjectPath string

	// SystemConfigPath and UserConfigPath override the OS defaults.
	SystemConfigPath string
	UserConfigPath   string

	// NoInherit restricts loading to the project layer.
	NoInherit bool
}

// HierarchicalResult is a merged configuration plus per-layer status.
type HierarchicalResult struct {
	Config *Settings
	Layers []ConfigLayerInfo
}

// LoadHierarchical loads the system, user, and project configuration
// layers, merges them lowest precedence first, and validates the result.
// Missing system and user files are skipped; a missing explicit
// ProjectPath is an error. When no layer exists at all the built-in
// defaults apply.
func LoadHierarchical(opts HierarchicalOptions) (*HierarchicalResult, error) {
	discovered := DiscoverPaths(DiscoverOptions{
		StartDir:         opts.StartDir,
		ProjectPath:      opts.ProjectPath,
		SystemConfigPath: opts.SystemConfigPath,
		UserConfigPath:   opts.UserConfigPath,
	})

	result := &HierarchicalResult{}
	var layers []*Settings
	for _, layer := range discovered {
		if opts.NoInherit && layer.Level != LevelProject {
			continue
		}

		if _, err := os.Stat(layer.Path); err != nil {
			if layer.Level == LevelProject && opts.ProjectPath != "" {
				return nil, fmt.Errorf("%s config: %w", layer.Level, err)
			}
			result.Layers = append(result.Layers, layer)
			continue
		}

		s, err := Parse(layer.Path)
		if err != nil {
			return nil, fmt.Errorf("%s config: %w", layer.Level, err)
		}
		layer.Loaded = true
		result.Layers = append(result.Layers, layer)
		layers = append(layers, s)
	}

	if len(layers) == 0 {
		result.Config = Default()
		return result, nil
	}

	merged, err := MergeAll(layers)
	if err != nil {
		return nil, err
	}
	if errs := Validate(merged); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	result.Config = merged
	return result, nil
}
