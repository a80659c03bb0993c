package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnvNoInherit(t *testing.T) {
	tests := []struct {
		value string
		name  string
		want  bool
	}{
		{"", "empty", false},
		{"1", "1", true},
		{"true", "true", true},
		{"TRUE", "TRUE", true},
		{"True", "True", true},
		{"false", "false", false},
		{"0", "0", false},
		{"yes", "yes", false},
		{"  true  ", "with_spaces", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FLINT_NO_INHERIT", tt.value)
			if got := EnvNoInherit(); got != tt.want {
				t.Errorf("EnvNoInherit() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `version: 1
nix:
  timeout: 30s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Version != 1 {
		t.Errorf("version = %d, want 1", s.Version)
	}
	if s.Nix.Timeout != "30s" {
		t.Errorf("nix.timeout = %q, want 30s", s.Nix.Timeout)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("invalid: [yaml: broken"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Parse(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "parsing") {
		t.Errorf("error should mention parsing: %v", err)
	}
}

func TestParseMissingFile(t *testing.T) {
	_, err := Parse("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadHierarchicalNoInheritProjectOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".flint.yaml")
	content := `version: 1
nix:
  worker-pool: 2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := LoadHierarchical(HierarchicalOptions{
		ProjectPath: path,
		NoInherit:   true,
	})
	if err != nil {
		t.Fatalf("LoadHierarchical: %v", err)
	}

	if len(result.Layers) != 1 {
		t.Fatalf("layers = %d, want 1 (project only)", len(result.Layers))
	}
	if result.Layers[0].Level != LevelProject {
		t.Errorf("layer level = %q, want 'project'", result.Layers[0].Level)
	}
	if result.Config.Workers() != 2 {
		t.Errorf("Workers() = %d, want 2", result.Config.Workers())
	}
}

func TestLoadHierarchicalMissingProjectConfig(t *testing.T) {
	_, err := LoadHierarchical(HierarchicalOptions{
		ProjectPath:      "/nonexistent/.flint.yaml",
		SystemConfigPath: "/nonexistent/system.yaml",
		UserConfigPath:   "/nonexistent/user.yaml",
	})
	if err == nil {
		t.Fatal("expected error for missing explicit project config")
	}
}

func TestLoadHierarchicalSystemParseError(t *testing.T) {
	dir := t.TempDir()

	projectPath := filepath.Join(dir, ".flint.yaml")
	if err := os.WriteFile(projectPath, []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	systemPath := filepath.Join(dir, "system.yaml")
	if err := os.WriteFile(systemPath, []byte("invalid: [yaml: broken"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadHierarchical(HierarchicalOptions{
		ProjectPath:      projectPath,
		SystemConfigPath: systemPath,
		UserConfigPath:   "/nonexistent/user.yaml",
	})
	if err == nil {
		t.Fatal("expected error for broken system config")
	}
	if !strings.Contains(err.Error(), "parsing") || !strings.Contains(err.Error(), "system") {
		t.Errorf("error should mention system parse failure: %v", err)
	}
}

func TestLoadHierarchicalMergesSystemAndProject(t *testing.T) {
	dir := t.TempDir()

	systemPath := filepath.Join(dir, "system.yaml")
	systemContent := `version: 1
nix:
  timeout: 10m
registry:
  cache-ttl: 4h
`
	if err := os.WriteFile(systemPath, []byte(systemContent), 0644); err != nil {
		t.Fatal(err)
	}

	projectPath := filepath.Join(dir, ".flint.yaml")
	projectContent := `version: 1
nix:
  timeout: 30s
  worker-pool: 12
`
	if err := os.WriteFile(projectPath, []byte(projectContent), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := LoadHierarchical(HierarchicalOptions{
		ProjectPath:      projectPath,
		SystemConfigPath: systemPath,
		UserConfigPath:   filepath.Join(dir, "nonexistent", "config.yaml"), // skip
	})
	if err != nil {
		t.Fatalf("LoadHierarchical: %v", err)
	}

	// Project timeout wins, system cache-ttl survives.
	if result.Config.EvalTimeout() != 30*time.Second {
		t.Errorf("EvalTimeout() = %v, want 30s", result.Config.EvalTimeout())
	}
	if result.Config.Workers() != 12 {
		t.Errorf("Workers() = %d, want 12", result.Config.Workers())
	}
	if result.Config.RegistryTTL() != 4*time.Hour {
		t.Errorf("RegistryTTL() = %v, want 4h", result.Config.RegistryTTL())
	}

	loadedCount := 0
	for _, l := range result.Layers {
		if l.Loaded {
			loadedCount++
		}
	}
	if loadedCount != 2 {
		t.Errorf("expected 2 loaded layers, got %d", loadedCount)
	}
}

func TestLoadHierarchicalNoLayersUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	result, err := LoadHierarchical(HierarchicalOptions{
		StartDir:         dir,
		SystemConfigPath: filepath.Join(dir, "no-system.yaml"),
		UserConfigPath:   filepath.Join(dir, "no-user.yaml"),
	})
	if err != nil {
		t.Fatalf("LoadHierarchical: %v", err)
	}

	if result.Config.Version != 1 {
		t.Errorf("version = %d, want 1 (defaults)", result.Config.Version)
	}
	if result.Config.Workers() != DefaultWorkerPool {
		t.Errorf("Workers() = %d, want %d", result.Config.Workers(), DefaultWorkerPool)
	}
	for _, l := range result.Layers {
		if l.Loaded {
			t.Errorf("layer %s should not be loaded", l.Path)
		}
	}
}

func TestLoadHierarchicalDiscoversProjectFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	content := `version: 1
build:
  out-link: artifact
`
	if err := os.WriteFile(filepath.Join(root, ".flint.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := LoadHierarchical(HierarchicalOptions{
		StartDir:         nested,
		SystemConfigPath: filepath.Join(root, "no-system.yaml"),
		UserConfigPath:   filepath.Join(root, "no-user.yaml"),
	})
	if err != nil {
		t.Fatalf("LoadHierarchical: %v", err)
	}

	if result.Config.OutLink() != "artifact" {
		t.Errorf("OutLink() = %q, want artifact", result.Config.OutLink())
	}

	var project *ConfigLayerInfo
	for i := range result.Layers {
		if result.Layers[i].Level == LevelProject {
			project = &result.Layers[i]
		}
	}
	if project == nil || !project.Loaded {
		t.Fatalf("project layer should be discovered and loaded, got %+v", result.Layers)
	}
	if filepath.Dir(project.Path) != root {
		t.Errorf("project layer path = %q, want file under %q", project.Path, root)
	}
}

func TestLoadHierarchicalVersionMismatch(t *testing.T) {
	dir := t.TempDir()

	systemPath := filepath.Join(dir, "system.yaml")
	if err := os.WriteFile(systemPath, []byte("version: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	projectPath := filepath.Join(dir, ".flint.yaml")
	if err := os.WriteFile(projectPath, []byte("version: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadHierarchical(HierarchicalOptions{
		ProjectPath:      projectPath,
		SystemConfigPath: systemPath,
		UserConfigPath:   filepath.Join(dir, "nonexistent.yaml"),
	})
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	if !strings.Contains(err.Error(), "version mismatch") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadHierarchicalValidatesMergedResult(t *testing.T) {
	dir := t.TempDir()

	projectPath := filepath.Join(dir, ".flint.yaml")
	content := `version: 1
registry:
  global-url: "not a url"
`
	if err := os.WriteFile(projectPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadHierarchical(HierarchicalOptions{
		ProjectPath:      projectPath,
		SystemConfigPath: filepath.Join(dir, "no-system.yaml"),
		UserConfigPath:   filepath.Join(dir, "no-user.yaml"),
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "global-url") {
		t.Errorf("unexpected error: %v", err)
	}
}
