package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flakeref"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

// InputSpec is one authored input from the flake.nix inputs block.
// Exactly one of Source and Follows is set: a root-level
// `inputs.foo.follows = "bar"` declaration carries no source of its own.
type InputSpec struct {
	Name string

	// Source is the parsed url of a regular input.
	Source *lock.Source

	// Follows is the path of a root-level follows declaration.
	Follows []string

	// Flake is false when the input is declared with flake = false.
	Flake bool

	// NestedFollows maps nested input names to their follows paths
	// (inputs.foo.inputs.bar.follows = "baz").
	NestedFollows map[string][]string
}

// inputSpecs evaluates the flake.nix inputs block and parses each
// declaration. The result comes back in attribute order, so it is
// stable across runs.
func (p Pipeline) inputSpecs(ctx context.Context, dir string) ([]InputSpec, error) {
	program, err := expr.BuildInputSpecs(dir)
	if err != nil {
		return nil, err
	}
	out, err := p.evalFunc()(ctx, nix.Request{Expr: program, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("reading flake.nix inputs: %w", err)
	}

	var raw []struct {
		Name          string            `json:"name"`
		URL           *string           `json:"url"`
		Follows       *string           `json:"follows"`
		Flake         bool              `json:"flake"`
		NestedFollows map[string]string `json:"nestedFollows"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("reading flake.nix inputs: %w", err)
	}

	specs := make([]InputSpec, 0, len(raw))
	for _, in := range raw {
		if in.Follows != nil {
			specs = append(specs, InputSpec{
				Name:    in.Name,
				Follows: splitFollows(*in.Follows),
				Flake:   true,
			})
			continue
		}
		if in.URL == nil {
			continue
		}

		spec := InputSpec{
			Name:   in.Name,
			Source: sourceFromURL(*in.URL),
			Flake:  in.Flake,
		}
		if len(in.NestedFollows) > 0 {
			spec.NestedFollows = make(map[string][]string, len(in.NestedFollows))
			for nested, path := range in.NestedFollows {
				spec.NestedFollows[nested] = splitFollows(path)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// splitFollows parses a follows string into its path segments.
// "nixpkgs" names a root input, "home-manager/nixpkgs" a nested one.
func splitFollows(s string) []string {
	return strings.Split(s, "/")
}

// sourceFromURL parses an input url into an unlocked source descriptor.
// Unparseable urls come back with their type left empty; the lock sync
// skips those with a warning instead of failing the whole run.
func sourceFromURL(url string) *lock.Source {
	ref, err := flakeref.ParseRef(url)
	if err != nil {
		return &lock.Source{Type: "unknown", URL: url}
	}

	switch ref.Kind {
	case flakeref.KindGitHub, flakeref.KindGitLab, flakeref.KindSourcehut:
		src := &lock.Source{
			Type:  string(ref.Kind),
			Owner: strings.TrimPrefix(ref.Owner, "~"),
			Repo:  ref.Repo,
			Ref:   ref.Rev,
		}
		if v := ref.Params["ref"]; v != "" {
			src.Ref = v
		}
		if v := ref.Params["rev"]; v != "" {
			src.Rev = v
		}
		if v := ref.Params["host"]; v != "" {
			src.Host = v
		}
		return src
	case flakeref.KindGit:
		src := &lock.Source{Type: lock.TypeGit, URL: ref.URL}
		if v := ref.Params["ref"]; v != "" {
			src.Ref = v
		}
		if v := ref.Params["rev"]; v != "" {
			src.Rev = v
		}
		return src
	case flakeref.KindPath:
		return &lock.Source{Type: lock.TypePath, Path: ref.Path}
	case flakeref.KindTarball:
		return &lock.Source{Type: lock.TypeTarball, URL: ref.URL}
	case flakeref.KindIndirect:
		return &lock.Source{Type: lock.TypeIndirect, ID: ref.ID, Ref: ref.Rev}
	case flakeref.KindFile:
		return &lock.Source{Type: "file", URL: url}
	default:
		return &lock.Source{Type: "unknown", URL: url}
	}
}

// RefString renders the input's source the way it was authored, for
// display in reports.
func (s InputSpec) RefString() string {
	if s.Follows != nil {
		return "follows '" + strings.Join(s.Follows, "/") + "'"
	}
	if s.Source == nil {
		return ""
	}
	return sourceRefString(s.Source)
}

func sourceRefString(src *lock.Source) string {
	switch src.Type {
	case lock.TypeGitHub, lock.TypeGitLab, lock.TypeSourcehut:
		s := fmt.Sprintf("%s:%s/%s", src.Type, src.Owner, src.Repo)
		if src.Rev != "" {
			s += "/" + src.Rev
		} else if src.Ref != "" {
			s += "/" + src.Ref
		}
		return s
	case lock.TypeGit:
		return "git+" + src.URL
	case lock.TypePath:
		return "path:" + src.Path
	case lock.TypeTarball:
		return src.URL
	case lock.TypeIndirect:
		return src.ID
	default:
		return src.URL
	}
}
