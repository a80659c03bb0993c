package lock

import (
	"fmt"
	"sort"
	"strings"
)

// Override names one root-level input and the flake reference replacing it.
type Override struct {
	Input string
	Ref   string
}

// ParseOverride splits a name=reference pair as given on the command line.
func ParseOverride(s string) (Override, error) {
	name, ref, ok := strings.Cut(s, "=")
	if !ok || name == "" || ref == "" {
		return Override{}, fmt.Errorf("invalid override '%s' — expected name=reference", s)
	}
	return Override{Input: name, Ref: ref}, nil
}

// ResolvedOverride is an override whose reference has been resolved to a
// local directory. Lock holds the override's own lock graph and is nil for
// non-flake overrides.
type ResolvedOverride struct {
	Name  string
	Path  string
	Flake bool
	Lock  *Graph
}

// Apply merges the given overrides into the graph and returns a fresh
// graph. Nodes of the receiver are never mutated: untouched nodes are
// shared by pointer, the root node is replaced by a copy with repointed
// inputs, and each override contributes a synthetic node (plus, for flake
// overrides, the spliced nodes of its own lock graph).
//
// A spliced subgraph is self-contained: its follows paths are resolved
// against the override's own lock at splice time, so the caller's overrides
// bind at root level only. Overriding an input the root does not declare
// adds it as a new root-level input.
func (g *Graph) Apply(overrides []ResolvedOverride) (*Graph, error) {
	next := &Graph{
		Nodes:   make(map[string]*Node, len(g.Nodes)+len(overrides)),
		Root:    g.Root,
		Version: g.Version,
	}
	for name, node := range g.Nodes {
		next.Nodes[name] = node
	}

	root := g.RootNode()
	rootCopy := &Node{Flake: true, Inputs: make(map[string]InputRef)}
	if root != nil {
		rootCopy.Locked = root.Locked
		rootCopy.Original = root.Original
		rootCopy.Flake = root.Flake
		for input, ref := range root.Inputs {
			rootCopy.Inputs[input] = ref
		}
	}

	for _, ov := range overrides {
		synthetic, err := splice(next.Nodes, ov)
		if err != nil {
			return nil, fmt.Errorf("override '%s': %w", ov.Name, err)
		}
		rootCopy.Inputs[ov.Name] = InputRef{Node: synthetic}
	}

	next.Nodes[g.Root] = rootCopy
	return next, nil
}

// splice adds the override's synthetic node (and the nodes of its own lock
// graph, for flake overrides) into nodes, returning the synthetic node's
// name. Colliding node names take numeric suffixes the way nix does:
// first free of name, name_2, name_3, ...
func splice(nodes map[string]*Node, ov ResolvedOverride) (string, error) {
	src := &Source{Type: TypePath, Path: ov.Path}
	synthetic := freeName(nodes, ov.Name+"-override")

	if !ov.Flake || ov.Lock == nil || ov.Lock.RootNode() == nil {
		nodes[synthetic] = &Node{Locked: src, Original: src, Flake: ov.Flake}
		return synthetic, nil
	}

	sub := ov.Lock

	// Reserve spliced names for every non-root node of the override's lock,
	// walking names in sorted order so collision suffixes are stable.
	mapping := map[string]string{sub.Root: synthetic}
	names := make([]string, 0, len(sub.Nodes))
	for name := range sub.Nodes {
		if name != sub.Root {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	// Claim the synthetic slot before picking child names.
	nodes[synthetic] = nil
	for _, name := range names {
		spliced := freeName(nodes, name)
		mapping[name] = spliced
		nodes[spliced] = nil
	}

	for _, name := range names {
		orig := sub.Nodes[name]
		inputs, err := rewriteInputs(sub, synthetic, mapping, name, orig)
		if err != nil {
			return "", err
		}
		nodes[mapping[name]] = &Node{
			Inputs:   inputs,
			Locked:   orig.Locked,
			Original: orig.Original,
			Flake:    orig.Flake,
		}
	}

	rootInputs, err := rewriteInputs(sub, synthetic, mapping, sub.Root, sub.RootNode())
	if err != nil {
		return "", err
	}
	nodes[synthetic] = &Node{Inputs: rootInputs, Locked: src, Original: src, Flake: true}
	return synthetic, nil
}

// rewriteInputs maps a spliced node's input references onto spliced node
// names. Follows paths are pre-resolved against the override's own lock;
// references landing on the override's root bind to the synthetic node.
func rewriteInputs(sub *Graph, synthetic string, mapping map[string]string, from string, n *Node) (map[string]InputRef, error) {
	if len(n.Inputs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]InputRef, len(n.Inputs))
	for input, ref := range n.Inputs {
		if !ref.IsFollows() {
			target, ok := mapping[ref.Node]
			if !ok {
				return nil, fmt.Errorf("input '%s' references non-existent node '%s'", input, ref.Node)
			}
			inputs[input] = InputRef{Node: target}
			continue
		}
		resolved, err := sub.ResolveInput(from, input, ref)
		if err != nil {
			return nil, err
		}
		if resolved.Self {
			inputs[input] = InputRef{Node: synthetic}
			continue
		}
		inputs[input] = InputRef{Node: mapping[resolved.Node]}
	}
	return inputs, nil
}

func freeName(nodes map[string]*Node, base string) string {
	if _, taken := nodes[base]; !taken {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if _, taken := nodes[candidate]; !taken {
			return candidate
		}
	}
}
