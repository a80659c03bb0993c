// Package expr synthesizes the programs flint hands to the evaluator.
//
// A synthesized program imports the target's flake.nix straight from
// its fetched path, builds the input attrset as a literal over the
// resolved paths, and ties self into the inputs through the usual
// fix-point. The evaluator's own flake-input machinery, which copies
// every source tree into the store first, is never invoked.
package expr

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/fetch"
	"github.com/bianoble/flint/internal/gitmeta"
	"github.com/bianoble/flint/internal/lock"
)

// Request fully determines one synthesized program.
type Request struct {
	// Dir is the absolute path of the flake under evaluation.
	Dir string

	// Graph is the effective lock graph, overrides already applied.
	Graph *lock.Graph

	// Sources maps node names to their fetched local paths.
	Sources map[string]fetch.Resolved

	// Attr selects an output attribute; empty selects the whole set.
	Attr []string

	// Self carries the git metadata exposed on the self input.
	Self gitmeta.Info
}

// Build synthesizes the program that evaluates the requested output
// attribute.
func Build(req Request) (string, error) {
	prelude, err := synth(req)
	if err != nil {
		return "", err
	}
	return prelude + "in outputs" + attrSuffix(req.Attr) + "\n", nil
}

// BuildTemplate synthesizes the program that selects a template and
// serializes its path, description, and welcome text joined by the
// sentinel. An empty name selects the conventional default template.
func BuildTemplate(req Request, name string) (string, error) {
	prelude, err := synth(req)
	if err != nil {
		return "", err
	}

	selector := "outputs.defaultTemplate or outputs.templates.default"
	if name != "" && name != "default" {
		selector = "outputs.templates" + attrSuffix([]string{name})
	}

	return prelude +
		"  template = " + selector + ";\n\n" +
		`in "${template.path}` + decode.Sentinel +
		`${template.description or ""}` + decode.Sentinel +
		`${template.welcomeText or ""}"` + "\n", nil
}

// BuildHasAttr synthesizes the program that reports whether the output
// set carries the given attribute path. The result is the literal
// `true` or `false`.
func BuildHasAttr(req Request, attr []string) (string, error) {
	prelude, err := synth(req)
	if err != nil {
		return "", err
	}
	return prelude +
		"  hasPath = path: set:\n" +
		"    if path == [ ] then true\n" +
		"    else if builtins.isAttrs set && builtins.hasAttr (builtins.head path) set\n" +
		"    then hasPath (builtins.tail path) (set.${builtins.head path})\n" +
		"    else false;\n\n" +
		"in hasPath " + AttrList(attr) + " outputs\n", nil
}

// Apply wraps an expression in a function application.
func Apply(fn, expression string) string {
	return fmt.Sprintf("(%s) (%s)", fn, expression)
}

// AttrList renders an attribute path as a Nix list literal. Empty
// segments are dropped; an empty path renders as [].
func AttrList(parts []string) string {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		quoted = append(quoted, nixString(p))
	}
	if len(quoted) == 0 {
		return "[]"
	}
	return "[" + strings.Join(quoted, " ") + "]"
}

type inputPair struct {
	name   string // attribute name as authored, possibly with hyphens
	target string // binding the attribute resolves to
}

// synth emits the shared let-prelude: fetched sources, built inputs,
// self, and the outputs call. Callers append their own `in` tail.
func synth(req Request) (string, error) {
	if !filepath.IsAbs(req.Dir) {
		return "", fmt.Errorf("flake directory must be absolute, got %q", req.Dir)
	}
	g := req.Graph
	root := g.RootNode()
	if root == nil {
		return "", errors.New("lock graph has no root node")
	}

	order, err := g.SortNodes()
	if err != nil {
		return "", err
	}

	var bindings []string
	for _, name := range order {
		node := g.Nodes[name]
		src, ok := req.Sources[name]
		if !ok {
			return "", fmt.Errorf("no resolved source for input '%s'", name)
		}

		v := sanitize(name)
		bindings = append(bindings, fmt.Sprintf("_src_%s = /. + %s;", v, nixString(src.Path)))
		if node.Flake {
			pairs, err := resolvePairs(g, name, node, "_rootSelf")
			if err != nil {
				return "", err
			}
			bindings = append(bindings, fixPoint(v, renderAttrs(pairs)))
		} else {
			bindings = append(bindings, fmt.Sprintf("%s = { outPath = _src_%s; };", v, v))
		}
	}

	rootPairs, err := resolvePairs(g, g.Root, root, "self")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("let\n")
	fmt.Fprintf(&b, "  flakeDirPath = %s;\n\n", req.Dir)
	b.WriteString("  # self as seen by inputs whose follows path is empty\n")
	fmt.Fprintf(&b, "  _rootSelf = {\n    outPath = flakeDirPath;\n    _type = \"flake\";\n    %s\n  };\n\n", selfAttrs(req.Self))
	if len(bindings) > 0 {
		fmt.Fprintf(&b, "  %s\n\n", strings.Join(bindings, "\n  "))
	}
	fmt.Fprintf(&b, "  self = _rootSelf // {\n    inputs = %s;\n  };\n\n", renderAttrs(rootPairs))
	b.WriteString("  flake = import (flakeDirPath + \"/flake.nix\");\n")
	fmt.Fprintf(&b, "  outputs = flake.outputs (%s // { self = self // outputs; });\n\n", renderOutputArgs(rootPairs))
	return b.String(), nil
}

// resolvePairs resolves a node's inputs to binding names, in sorted
// input order. selfName is what an empty follows path resolves to:
// `self` at the root, `_rootSelf` inside input fix-points (self is not
// bound yet when those evaluate).
func resolvePairs(g *lock.Graph, nodeName string, node *lock.Node, selfName string) ([]inputPair, error) {
	names := make([]string, 0, len(node.Inputs))
	for name := range node.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]inputPair, 0, len(names))
	for _, input := range names {
		r, err := g.ResolveInput(nodeName, input, node.Inputs[input])
		if err != nil {
			return nil, err
		}
		target := selfName
		if !r.Self {
			target = sanitize(r.Node)
		}
		pairs = append(pairs, inputPair{name: input, target: target})
	}
	return pairs, nil
}

func fixPoint(name, inputs string) string {
	return fmt.Sprintf(`%s = let
    _flake = import (_src_%s + "/flake.nix");
    _inputs = %s;
    _self = { outPath = _src_%s; inputs = _inputs; _type = "flake"; };
    _outputs = _flake.outputs (_inputs // { self = _self // _outputs; });
  in _outputs // { outPath = _src_%s; inputs = _inputs; outputs = _outputs; _type = "flake"; };`,
		name, name, inputs, name, name)
}

// renderAttrs quotes attribute names so hyphenated input names survive.
func renderAttrs(pairs []inputPair) string {
	if len(pairs) == 0 {
		return "{ }"
	}
	var b strings.Builder
	b.WriteString("{ ")
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s = %s; ", nixString(p.name), p.target)
	}
	b.WriteString("}")
	return b.String()
}

func renderOutputArgs(pairs []inputPair) string {
	var b strings.Builder
	b.WriteString("{ self = self; ")
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s = %s; ", nixString(p.name), p.target)
	}
	b.WriteString("}")
	return b.String()
}

// selfAttrs renders the git metadata attributes of the self input.
// Trees outside version control carry the epoch placeholders nix uses.
func selfAttrs(info gitmeta.Info) string {
	if info == (gitmeta.Info{}) {
		return `lastModified = 0; lastModifiedDate = "19700101";`
	}
	var parts []string
	switch {
	case info.Rev != "":
		parts = append(parts,
			fmt.Sprintf("rev = %s;", nixString(info.Rev)),
			fmt.Sprintf("shortRev = %s;", nixString(info.ShortRev)))
	case info.DirtyRev != "":
		parts = append(parts,
			fmt.Sprintf("dirtyRev = %s;", nixString(info.DirtyRev)),
			fmt.Sprintf("dirtyShortRev = %s;", nixString(info.DirtyShortRev)))
	}
	parts = append(parts,
		fmt.Sprintf("lastModified = %d;", info.LastModified),
		fmt.Sprintf("lastModifiedDate = %s;", nixString(info.LastModifiedDate)),
		"submodules = false;")
	return strings.Join(parts, " ")
}

// sanitize turns a node name into a usable Nix identifier.
func sanitize(name string) string {
	s := strings.ReplaceAll(name, "-", "_")
	if s != "" && s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

// attrSuffix renders `.a.b.c`, quoting segments that are not plain
// identifiers.
func attrSuffix(attr []string) string {
	var b strings.Builder
	for _, seg := range attr {
		b.WriteByte('.')
		if isNixIdent(seg) {
			b.WriteString(seg)
		} else {
			b.WriteString(nixString(seg))
		}
	}
	return b.String()
}

func isNixIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_':
		case i > 0 && (r >= '0' && r <= '9' || r == '\'' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// nixString renders a Nix string literal, escaping quotes, backslashes,
// and interpolation starts.
func nixString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '$':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteString(`\$`)
			} else {
				b.WriteByte('$')
			}
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
