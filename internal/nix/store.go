package nix

import (
	"context"
	"strings"
)

// OutputPaths returns the output store paths of a derivation.
func OutputPaths(ctx context.Context, drvPath string) ([]string, error) {
	out, err := NewCommand("nix-store", "-q", "--outputs", drvPath).Output(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// ReadLog returns the stored build log for a store path.
func ReadLog(ctx context.Context, storePath string) (string, error) {
	return NewCommand("nix-store", "--read-log", storePath).Output(ctx)
}

// Add imports a tree into the store without building anything and
// returns its store path.
func Add(ctx context.Context, path string) (string, error) {
	return NewCommand("nix-store", "--add", path).Output(ctx)
}
