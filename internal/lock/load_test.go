package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleLock = `{
  "nodes": {
    "flake-utils": {
      "inputs": {
        "systems": "systems"
      },
      "locked": {
        "lastModified": 1710146030,
        "narHash": "sha256-SZ5L6eA7HJ/nmkzGG7/ISclqe6oZdOZTNoesiInkXPQ=",
        "owner": "numtide",
        "repo": "flake-utils",
        "rev": "b1d9ab70662946ef0850d488da1c9019f3a9752a",
        "type": "github"
      },
      "original": {
        "owner": "numtide",
        "repo": "flake-utils",
        "type": "github"
      }
    },
    "nixpkgs": {
      "locked": {
        "lastModified": 1717179513,
        "narHash": "sha256-vboIEwIQojofItm2xGCdZCzW96U85l9nDW3ifMuAIdM=",
        "owner": "NixOS",
        "repo": "nixpkgs",
        "rev": "63dacb46bf939521bdc93981b4cbb7ecb58427a0",
        "type": "github"
      },
      "original": {
        "owner": "NixOS",
        "ref": "nixos-24.05",
        "repo": "nixpkgs",
        "type": "github"
      }
    },
    "root": {
      "inputs": {
        "flake-utils": "flake-utils",
        "nixpkgs": "nixpkgs"
      }
    },
    "systems": {
      "locked": {
        "lastModified": 1681028828,
        "narHash": "sha256-Vy1rq5AaRuLzOxct8nz4T6wlgyUR7zLU309k9mBC768=",
        "owner": "nix-systems",
        "repo": "default",
        "rev": "da67096a3b9bf56a91d16901293e51ba5b49a27e",
        "type": "github"
      },
      "original": {
        "owner": "nix-systems",
        "repo": "default",
        "type": "github"
      }
    }
  },
  "root": "root",
  "version": 7
}
`

func TestParseSampleLock(t *testing.T) {
	g, err := Parse([]byte(sampleLock))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Version != 7 {
		t.Errorf("version = %d, want 7", g.Version)
	}
	if len(g.Nodes) != 4 {
		t.Errorf("nodes = %d, want 4", len(g.Nodes))
	}

	nixpkgs := g.Nodes["nixpkgs"]
	if nixpkgs == nil {
		t.Fatal("nixpkgs node missing")
	}
	if nixpkgs.Locked == nil || nixpkgs.Locked.Rev != "63dacb46bf939521bdc93981b4cbb7ecb58427a0" {
		t.Errorf("nixpkgs locked = %+v", nixpkgs.Locked)
	}
	if nixpkgs.Original == nil || nixpkgs.Original.Ref != "nixos-24.05" {
		t.Errorf("nixpkgs original = %+v", nixpkgs.Original)
	}
	if !nixpkgs.Flake {
		t.Error("nixpkgs should default to flake = true")
	}

	root := g.RootNode()
	if root == nil {
		t.Fatal("root node missing")
	}
	if len(root.Inputs) != 2 {
		t.Errorf("root inputs = %d, want 2", len(root.Inputs))
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": `))
	if err == nil {
		t.Fatal("expected error for truncated JSON")
	}
	var merr *MalformedError
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *MalformedError", err)
	}
}

func TestParseMissingRoot(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": {"root": {"inputs": {}}}, "version": 7}`))
	if err == nil {
		t.Fatal("expected error for missing root key")
	}
	if !strings.Contains(err.Error(), "'root' is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseRootNodeAbsent(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": {}, "root": "root", "version": 7}`))
	if err == nil {
		t.Fatal("expected error when root node has no entry")
	}
	if !strings.Contains(err.Error(), "root node 'root' has no entry in nodes") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseUnsupportedVersion(t *testing.T) {
	_, err := Parse([]byte(`{"nodes": {"root": {"inputs": {}}}, "root": "root", "version": 6}`))
	if err == nil {
		t.Fatal("expected error for version 6")
	}
	if !strings.Contains(err.Error(), "unsupported lock version 6") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseDanglingInputReference(t *testing.T) {
	data := `{
	  "nodes": {
	    "root": {"inputs": {"nixpkgs": "nixpkgs"}}
	  },
	  "root": "root",
	  "version": 7
	}`
	_, err := Parse([]byte(data))
	if err == nil {
		t.Fatal("expected error for dangling input reference")
	}
	if !strings.Contains(err.Error(), "references missing node 'nixpkgs'") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseAccumulatesErrors(t *testing.T) {
	data := `{
	  "nodes": {
	    "a": {"inputs": {"x": "missing-one", "y": "missing-two"}}
	  },
	  "root": "root",
	  "version": 3
	}`
	_, err := Parse([]byte(data))
	var merr *MalformedError
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *MalformedError", err)
	}
	if len(merr.Errors) < 3 {
		t.Errorf("errors = %v, want version, root, and reference problems together", merr.Errors)
	}
	if !containsSubstring(merr.Errors, "unsupported lock version") {
		t.Errorf("expected version error, got: %v", merr.Errors)
	}
	if !containsSubstring(merr.Errors, "references missing node") {
		t.Errorf("expected reference error, got: %v", merr.Errors)
	}
}

func TestLoadAttachesPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flake.lock")
	if err := os.WriteFile(path, []byte(`{"nodes": {}, "version": 7}`), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error")
	}
	var merr *MalformedError
	if !errors.As(err, &merr) {
		t.Fatalf("error type = %T, want *MalformedError", err)
	}
	if merr.Path != path {
		t.Errorf("path = %q, want %q", merr.Path, path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/flake.lock")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDirWithoutLock(t *testing.T) {
	g, err := LoadDir(t.TempDir())
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if g.Root != "root" || len(g.Nodes) != 1 {
		t.Errorf("expected empty graph, got root=%q nodes=%d", g.Root, len(g.Nodes))
	}
}

func TestLoadDirWithLock(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "flake.lock"), []byte(sampleLock), 0644); err != nil {
		t.Fatal(err)
	}
	g, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(g.Nodes) != 4 {
		t.Errorf("nodes = %d, want 4", len(g.Nodes))
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flake.lock")

	original, err := Parse([]byte(sampleLock))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Save(path, original); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Version != 7 {
		t.Errorf("version = %d, want 7", loaded.Version)
	}
	if len(loaded.Nodes) != 4 {
		t.Errorf("nodes = %d, want 4", len(loaded.Nodes))
	}
	ref, ok := loaded.Nodes["flake-utils"].Inputs["systems"]
	if !ok || ref.Node != "systems" {
		t.Errorf("flake-utils systems input = %+v", ref)
	}

	// Verify temp files were cleaned up.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "flake.lock" {
			t.Errorf("unexpected file %s left after Save", e.Name())
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("saved lock file should end with a newline")
	}
}

func TestSaveAtomicity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flake.lock")

	if err := os.WriteFile(path, []byte(sampleLock), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Save(path, Empty()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(g.Nodes) != 1 {
		t.Errorf("nodes = %d, want 1 after overwrite", len(g.Nodes))
	}
}

func TestMalformedErrorFormat(t *testing.T) {
	single := &MalformedError{Path: "flake.lock", Errors: []string{"'root' is required"}}
	if !strings.Contains(single.Error(), "'root' is required") {
		t.Errorf("single error message: %s", single.Error())
	}

	multi := &MalformedError{Path: "flake.lock", Errors: []string{"error one", "error two"}}
	msg := multi.Error()
	if !strings.Contains(msg, "error one") || !strings.Contains(msg, "error two") {
		t.Errorf("error message missing details: %s", msg)
	}
}

func containsSubstring(errs []string, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}
