package lock

import (
	"encoding/json"
	"fmt"
)

// Supported lock file format version.
const Version = 7

// Graph is a parsed flake.lock: a node graph plus the name of its root node.
// Read-only after construction; Apply builds a fresh graph instead of
// mutating one in place.
type Graph struct {
	Nodes   map[string]*Node `json:"nodes"`
	Root    string           `json:"root"`
	Version int              `json:"version"`
}

// Node is one entry in the lock graph. The root node carries only inputs;
// every other node carries the locked (pinned) descriptor used for fetching
// and the original (authored) descriptor kept for display.
type Node struct {
	Inputs   map[string]InputRef `json:"inputs,omitempty"`
	Locked   *Source             `json:"locked,omitempty"`
	Original *Source             `json:"original,omitempty"`

	// Flake is false for plain sources with no outputs function.
	// Absent in the JSON means true.
	Flake bool `json:"flake"`
}

// InputRef points an input name at another node, either directly by node
// name or through a follows path resolved from the graph root. An empty
// (non-nil) follows path refers to the declaring flake itself.
type InputRef struct {
	Node    string
	Follows []string
}

// IsFollows reports whether the reference is a follows path.
func (r InputRef) IsFollows() bool { return r.Follows != nil }

func (r InputRef) MarshalJSON() ([]byte, error) {
	if r.Follows != nil {
		return json.Marshal(r.Follows)
	}
	return json.Marshal(r.Node)
}

func (r *InputRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		r.Node = ""
		r.Follows = []string{}
		return json.Unmarshal(data, &r.Follows)
	}
	r.Follows = nil
	return json.Unmarshal(data, &r.Node)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	type node Node
	tmp := node{Flake: true}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*n = Node(tmp)
	return nil
}

func (n Node) MarshalJSON() ([]byte, error) {
	wire := struct {
		Inputs   map[string]InputRef `json:"inputs,omitempty"`
		Locked   *Source             `json:"locked,omitempty"`
		Original *Source             `json:"original,omitempty"`
		Flake    *bool               `json:"flake,omitempty"`
	}{n.Inputs, n.Locked, n.Original, nil}
	if !n.Flake {
		f := false
		wire.Flake = &f
	}
	return json.Marshal(wire)
}

// Source type tags.
const (
	TypeGitHub    = "github"
	TypeGitLab    = "gitlab"
	TypeSourcehut = "sourcehut"
	TypeGit       = "git"
	TypePath      = "path"
	TypeTarball   = "tarball"
	TypeIndirect  = "indirect"
)

// Source is a tagged source descriptor. Which fields are set depends on
// Type; only locked descriptors carry a pin (Rev, NARHash).
type Source struct {
	Type          string `json:"type"`
	Owner         string `json:"owner,omitempty"`
	Repo          string `json:"repo,omitempty"`
	Host          string `json:"host,omitempty"`
	Rev           string `json:"rev,omitempty"`
	Ref           string `json:"ref,omitempty"`
	URL           string `json:"url,omitempty"`
	Path          string `json:"path,omitempty"`
	ID            string `json:"id,omitempty"`
	NARHash       string `json:"narHash,omitempty"`
	LastModified  int64  `json:"lastModified,omitempty"`
	RevCount      int64  `json:"revCount,omitempty"`
	DirtyRev      string `json:"dirtyRev,omitempty"`
	DirtyShortRev string `json:"dirtyShortRev,omitempty"`
}

// Key returns the (kind, pinned identity) of the descriptor. Two descriptors
// with equal keys must resolve to the same path within a run.
func (s *Source) Key() string {
	switch s.Type {
	case TypeGitHub, TypeGitLab, TypeSourcehut:
		return fmt.Sprintf("%s:%s/%s@%s", s.Type, s.Owner, s.Repo, s.Rev)
	case TypeGit:
		return fmt.Sprintf("git:%s@%s", s.URL, s.Rev)
	case TypePath:
		return "path:" + s.Path
	case TypeTarball:
		return "tarball:" + s.URL
	case TypeIndirect:
		return "indirect:" + s.ID
	default:
		return s.Type + ":?"
	}
}

// RootNode returns the graph's root node, or nil if the root name has no
// entry (a malformed graph that Validate rejects).
func (g *Graph) RootNode() *Node {
	return g.Nodes[g.Root]
}

// Empty returns the graph a flake without a flake.lock resolves to: a bare
// root node with no inputs.
func Empty() *Graph {
	return &Graph{
		Nodes:   map[string]*Node{"root": {Flake: true}},
		Root:    "root",
		Version: Version,
	}
}
