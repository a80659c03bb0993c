package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bianoble/flint/internal/sandbox"
)

// MalformedError reports structurally invalid or unsupported lock data.
// It is always raised before any fetch is attempted.
type MalformedError struct {
	Path   string // file the data came from, empty for in-memory payloads
	Errors []string
}

func (e *MalformedError) Error() string {
	where := "lock data"
	if e.Path != "" {
		where = e.Path
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("malformed lock file %s: %s", where, e.Errors[0])
	}
	return fmt.Sprintf("malformed lock file %s:\n  - %s", where, strings.Join(e.Errors, "\n  - "))
}

// Parse decodes and validates a flake.lock payload.
func Parse(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, &MalformedError{Errors: []string{err.Error()}}
	}
	if errs := Validate(&g); len(errs) > 0 {
		return nil, &MalformedError{Errors: errs}
	}
	return &g, nil
}

// Load reads and validates a flake.lock file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lock file %s: %w", path, err)
	}
	g, err := Parse(data)
	if err != nil {
		var merr *MalformedError
		if errors.As(err, &merr) {
			merr.Path = path
		}
		return nil, err
	}
	return g, nil
}

// LoadDir loads flake.lock from a flake directory, returning the empty
// graph when the file does not exist.
func LoadDir(dir string) (*Graph, error) {
	path := filepath.Join(dir, "flake.lock")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Empty(), nil
	}
	return Load(path)
}

// Save writes a lock graph atomically. Output uses two-space indent and
// a trailing newline, the way nix itself writes flake.lock.
func Save(path string, g *Graph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lock file: %w", err)
	}
	data = append(data, '\n')

	if err := sandbox.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("writing lock file %s: %w", path, err)
	}
	return nil
}

// Validate checks a graph for structural correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(g *Graph) []string {
	var errs []string

	if g.Version != Version {
		errs = append(errs, fmt.Sprintf("unsupported lock version %d — only version %d is supported", g.Version, Version))
	}

	if g.Root == "" {
		errs = append(errs, "'root' is required")
	} else if _, ok := g.Nodes[g.Root]; !ok {
		errs = append(errs, fmt.Sprintf("root node '%s' has no entry in nodes", g.Root))
	}

	for name, node := range g.Nodes {
		if node == nil {
			errs = append(errs, fmt.Sprintf("node '%s' is empty", name))
			continue
		}
		for input, ref := range node.Inputs {
			if ref.IsFollows() {
				continue // follows paths are checked at resolution time
			}
			if _, ok := g.Nodes[ref.Node]; !ok {
				errs = append(errs, fmt.Sprintf("node '%s': input '%s' references missing node '%s'", name, input, ref.Node))
			}
		}
	}

	return errs
}
