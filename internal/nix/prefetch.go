package nix

import (
	"context"
	"encoding/json"
	"fmt"
)

// PrefetchResult is the `nix flake prefetch --json` output: where the
// tree landed, its content hash, and the locked and original source
// descriptors nix derived for the reference. Locked and Original stay
// raw so callers decode only what they need.
type PrefetchResult struct {
	StorePath string          `json:"storePath"`
	Hash      string          `json:"hash"`
	Locked    json.RawMessage `json:"locked,omitempty"`
	Original  json.RawMessage `json:"original,omitempty"`
}

// Prefetch downloads the tree behind a flake reference into the store
// without building anything.
func Prefetch(ctx context.Context, ref string) (PrefetchResult, error) {
	var result PrefetchResult
	if err := NewCommand(Program, "flake", "prefetch", "--json", ref).JSON(ctx, &result); err != nil {
		return PrefetchResult{}, err
	}
	if result.StorePath == "" {
		return PrefetchResult{}, fmt.Errorf("prefetch of %s returned no store path", ref)
	}
	return result, nil
}
