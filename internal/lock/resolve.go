package lock

import (
	"fmt"
	"sort"
	"strings"
)

// ResolvedRef is the node an input reference lands on after follows
// traversal. Self is set when the reference points back at the root flake
// itself (an empty follows path, or a path that terminates on the root).
type ResolvedRef struct {
	Node   string
	Flake  bool
	Locked *Source
	Self   bool
}

// ResolveInput resolves a single input reference of the named node.
// Follows paths are anchored at the graph root, not at the referencing
// node.
func (g *Graph) ResolveInput(from, name string, ref InputRef) (ResolvedRef, error) {
	visited := make(map[string]bool)
	return g.resolveRef(from, name, ref, visited)
}

// ResolveInputs resolves every input of the named node.
func (g *Graph) ResolveInputs(node string) (map[string]ResolvedRef, error) {
	n, ok := g.Nodes[node]
	if !ok {
		return nil, fmt.Errorf("node '%s' not found", node)
	}
	resolved := make(map[string]ResolvedRef, len(n.Inputs))
	for input, ref := range n.Inputs {
		r, err := g.ResolveInput(node, input, ref)
		if err != nil {
			return nil, err
		}
		resolved[input] = r
	}
	return resolved, nil
}

func (g *Graph) resolveRef(from, name string, ref InputRef, visited map[string]bool) (ResolvedRef, error) {
	if !ref.IsFollows() {
		return g.resolveDirect(name, ref.Node)
	}
	if len(ref.Follows) == 0 {
		return ResolvedRef{Self: true}, nil
	}

	key := from + ":" + name
	if visited[key] {
		return ResolvedRef{}, fmt.Errorf("cycle detected in follows: %s", key)
	}
	visited[key] = true

	// Follows paths are anchored at the root node.
	current := g.Root
	path := ref.Follows
	for i, segment := range path {
		node, ok := g.Nodes[current]
		if !ok {
			return ResolvedRef{}, fmt.Errorf("follows path references non-existent node '%s'", current)
		}
		next, ok := node.Inputs[segment]
		if !ok {
			return ResolvedRef{}, fmt.Errorf("follows path '%s' not found in node '%s' (at segment '%s')", strings.Join(path, "."), current, segment)
		}

		if i == len(path)-1 {
			return g.resolveRef(current, segment, next, visited)
		}

		if next.IsFollows() {
			hop, err := g.resolveRef(current, segment, next, visited)
			if err != nil {
				return ResolvedRef{}, err
			}
			if hop.Self {
				current = g.Root
			} else {
				current = hop.Node
			}
			continue
		}
		current = next.Node
	}

	return ResolvedRef{}, fmt.Errorf("unexpected end of follows path '%s'", strings.Join(path, "."))
}

func (g *Graph) resolveDirect(input, target string) (ResolvedRef, error) {
	if target == g.Root {
		return ResolvedRef{Self: true}, nil
	}
	node, ok := g.Nodes[target]
	if !ok {
		return ResolvedRef{}, fmt.Errorf("input '%s' references non-existent node '%s'", input, target)
	}
	if node.Locked == nil {
		return ResolvedRef{}, fmt.Errorf("node '%s' has no locked reference", target)
	}
	return ResolvedRef{Node: target, Flake: node.Flake, Locked: node.Locked}, nil
}

// SortNodes returns the names of all nodes reachable from the root in
// dependency order: a node always appears after every node it depends on.
// The root itself is not included. Input names are walked in sorted order
// so the result is stable across runs.
func (g *Graph) SortNodes() ([]string, error) {
	var order []string
	visited := make(map[string]bool)
	inProgress := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if visited[name] {
			return nil
		}
		if inProgress[name] {
			return fmt.Errorf("circular dependency detected at '%s'", name)
		}
		inProgress[name] = true

		node := g.Nodes[name]
		if node != nil {
			for _, input := range sortedInputs(node) {
				dep, err := g.ResolveInput(name, input, node.Inputs[input])
				if err != nil {
					return err
				}
				if dep.Self {
					continue
				}
				if err := visit(dep.Node); err != nil {
					return err
				}
			}
		}

		delete(inProgress, name)
		visited[name] = true
		if name != g.Root {
			order = append(order, name)
		}
		return nil
	}

	if err := visit(g.Root); err != nil {
		return nil, err
	}
	return order, nil
}

func sortedInputs(n *Node) []string {
	names := make([]string, 0, len(n.Inputs))
	for name := range n.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
