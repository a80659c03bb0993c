package lock

import (
	"strings"
	"testing"
)

// resolveTestGraph builds the shape produced by a flake depending on
// nixpkgs and flake-utils, where flake-utils pulls in nix-systems.
func resolveTestGraph() *Graph {
	return &Graph{
		Root:    "root",
		Version: Version,
		Nodes: map[string]*Node{
			"root": {
				Flake: true,
				Inputs: map[string]InputRef{
					"nixpkgs": {Node: "nixpkgs"},
					"utils":   {Node: "flake-utils"},
				},
			},
			"nixpkgs": {
				Flake:  true,
				Locked: &Source{Type: TypeGitHub, Owner: "NixOS", Repo: "nixpkgs", Rev: "rev-nixpkgs"},
			},
			"flake-utils": {
				Flake: true,
				Inputs: map[string]InputRef{
					"systems": {Node: "systems"},
				},
				Locked: &Source{Type: TypeGitHub, Owner: "numtide", Repo: "flake-utils", Rev: "rev-utils"},
			},
			"systems": {
				Flake:  true,
				Locked: &Source{Type: TypeGitHub, Owner: "nix-systems", Repo: "default", Rev: "rev-systems"},
			},
		},
	}
}

func TestResolveDirectInput(t *testing.T) {
	g := resolveTestGraph()
	r, err := g.ResolveInput("root", "nixpkgs", InputRef{Node: "nixpkgs"})
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	if r.Node != "nixpkgs" || r.Self {
		t.Errorf("resolved = %+v, want nixpkgs node", r)
	}
	if r.Locked == nil || r.Locked.Rev != "rev-nixpkgs" {
		t.Errorf("locked = %+v", r.Locked)
	}
}

func TestResolveDirectToRootIsSelf(t *testing.T) {
	g := resolveTestGraph()
	r, err := g.ResolveInput("nixpkgs", "parent", InputRef{Node: "root"})
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	if !r.Self {
		t.Errorf("resolved = %+v, want self", r)
	}
}

func TestResolveEmptyFollowsIsSelf(t *testing.T) {
	g := resolveTestGraph()
	r, err := g.ResolveInput("flake-utils", "systems", InputRef{Follows: []string{}})
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	if !r.Self {
		t.Errorf("resolved = %+v, want self", r)
	}
}

func TestResolveFollowsSingleSegment(t *testing.T) {
	g := resolveTestGraph()
	// flake-utils declares its own nixpkgs but the lock redirects it to
	// the root's copy.
	r, err := g.ResolveInput("flake-utils", "nixpkgs", InputRef{Follows: []string{"nixpkgs"}})
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	if r.Node != "nixpkgs" {
		t.Errorf("resolved = %+v, want nixpkgs", r)
	}
}

func TestResolveFollowsNestedPath(t *testing.T) {
	g := resolveTestGraph()
	r, err := g.ResolveInput("nixpkgs", "sys", InputRef{Follows: []string{"utils", "systems"}})
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	if r.Node != "systems" {
		t.Errorf("resolved = %+v, want systems", r)
	}
	if r.Locked == nil || r.Locked.Rev != "rev-systems" {
		t.Errorf("locked = %+v", r.Locked)
	}
}

func TestResolveFollowsThroughFollows(t *testing.T) {
	g := resolveTestGraph()
	g.Nodes["root"].Inputs["u2"] = InputRef{Follows: []string{"utils"}}
	r, err := g.ResolveInput("nixpkgs", "sys", InputRef{Follows: []string{"u2", "systems"}})
	if err != nil {
		t.Fatalf("ResolveInput: %v", err)
	}
	if r.Node != "systems" {
		t.Errorf("resolved = %+v, want systems", r)
	}
}

func TestResolveFollowsMissingSegment(t *testing.T) {
	g := resolveTestGraph()
	_, err := g.ResolveInput("flake-utils", "bad", InputRef{Follows: []string{"nixpkgs", "nope"}})
	if err == nil {
		t.Fatal("expected error for dead-end follows path")
	}
	if !strings.Contains(err.Error(), "follows path 'nixpkgs.nope' not found in node 'nixpkgs' (at segment 'nope')") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolveFollowsCycle(t *testing.T) {
	g := &Graph{
		Root:    "root",
		Version: Version,
		Nodes: map[string]*Node{
			"root": {
				Flake: true,
				Inputs: map[string]InputRef{
					"a": {Follows: []string{"b"}},
					"b": {Follows: []string{"a"}},
				},
			},
		},
	}
	_, err := g.ResolveInput("root", "a", g.Nodes["root"].Inputs["a"])
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle detected in follows") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolveUnlockedNode(t *testing.T) {
	g := resolveTestGraph()
	g.Nodes["pending"] = &Node{Flake: true}
	_, err := g.ResolveInput("root", "pending", InputRef{Node: "pending"})
	if err == nil {
		t.Fatal("expected error for node without locked reference")
	}
	if !strings.Contains(err.Error(), "node 'pending' has no locked reference") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolveInputsAll(t *testing.T) {
	g := resolveTestGraph()
	resolved, err := g.ResolveInputs("root")
	if err != nil {
		t.Fatalf("ResolveInputs: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("resolved count = %d, want 2", len(resolved))
	}
	if resolved["utils"].Node != "flake-utils" {
		t.Errorf("utils resolved to %+v", resolved["utils"])
	}
}

func TestResolveInputsUnknownNode(t *testing.T) {
	g := resolveTestGraph()
	_, err := g.ResolveInputs("ghost")
	if err == nil || !strings.Contains(err.Error(), "node 'ghost' not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSortNodesDependencyOrder(t *testing.T) {
	g := resolveTestGraph()
	order, err := g.SortNodes()
	if err != nil {
		t.Fatalf("SortNodes: %v", err)
	}
	want := []string{"nixpkgs", "systems", "flake-utils"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSortNodesExcludesRoot(t *testing.T) {
	g := resolveTestGraph()
	order, err := g.SortNodes()
	if err != nil {
		t.Fatalf("SortNodes: %v", err)
	}
	for _, name := range order {
		if name == "root" {
			t.Errorf("root should not appear in sorted nodes: %v", order)
		}
	}
}

func TestSortNodesCycle(t *testing.T) {
	g := &Graph{
		Root:    "root",
		Version: Version,
		Nodes: map[string]*Node{
			"root": {Flake: true, Inputs: map[string]InputRef{"a": {Node: "a"}}},
			"a": {
				Flake:  true,
				Inputs: map[string]InputRef{"b": {Node: "b"}},
				Locked: &Source{Type: TypeGitHub, Owner: "o", Repo: "a", Rev: "r"},
			},
			"b": {
				Flake:  true,
				Inputs: map[string]InputRef{"a": {Node: "a"}},
				Locked: &Source{Type: TypeGitHub, Owner: "o", Repo: "b", Rev: "r"},
			},
		},
	}
	_, err := g.SortNodes()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "circular dependency detected") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSortNodesSkipsSelfReferences(t *testing.T) {
	g := resolveTestGraph()
	g.Nodes["nixpkgs"].Inputs = map[string]InputRef{"parent": {Node: "root"}}
	order, err := g.SortNodes()
	if err != nil {
		t.Fatalf("SortNodes: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("order = %v, want 3 nodes", order)
	}
}
