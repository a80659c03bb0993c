package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

// MetadataEngine describes a local flake without evaluating its
// outputs: the description field, the tree location, and the input
// graph as locked on disk.
type MetadataEngine struct {
	Pipeline Pipeline
}

// Metadata is what `flake metadata` reports for a local flake.
type Metadata struct {
	// Description is the flake.nix description field, empty when the
	// flake has none or it cannot be read.
	Description string

	// Path is the flake directory.
	Path string

	// LastModified is the flake.nix modification time.
	LastModified time.Time

	// Locked is the lock graph, nil when no flake.lock exists.
	Locked *lock.Graph

	// Inputs carries the authored inputs for flakes without a lock.
	Inputs []InputSpec
}

// Metadata reads a local flake's metadata. The description is read
// with a tolerant eval so a flake with a broken outputs function still
// describes itself.
func (e *MetadataEngine) Metadata(ctx context.Context, target *flake.Target) (*Metadata, error) {
	if !target.Local() {
		return nil, fmt.Errorf("'%s' is not a local flake", target.Ref)
	}

	flakeNix := filepath.Join(target.Dir, "flake.nix")
	info, err := os.Stat(flakeNix)
	if err != nil {
		return nil, fmt.Errorf("no flake.nix found in %s", target.Dir)
	}

	meta := &Metadata{Path: target.Dir, LastModified: info.ModTime()}

	if program, err := expr.BuildDescription(target.Dir); err == nil {
		if out, err := e.Pipeline.evalFunc()(ctx, nix.Request{Expr: program, JSON: true}); err == nil {
			var desc *string
			if decode.JSON(out, &desc) == nil && desc != nil {
				meta.Description = *desc
			}
		}
	}

	if _, err := os.Stat(filepath.Join(target.Dir, "flake.lock")); err == nil {
		meta.Locked = target.Lock
		return meta, nil
	}

	specs, err := e.Pipeline.inputSpecs(ctx, target.Dir)
	if err != nil {
		return nil, err
	}
	meta.Inputs = specs
	return meta, nil
}
