package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bianoble/flint/internal/decode"
	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flakeref"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
)

// LockEngine creates and refreshes flake.lock files. Locking goes
// through `nix flake prefetch`, which respects access-tokens from
// nix.conf for private repositories and never copies the flake under
// lock anywhere.
type LockEngine struct {
	Pipeline Pipeline

	// Warn receives advisory messages: skipped input types, version
	// drift, transitive fetches that could not run. Nil discards them.
	Warn func(string)
}

// UpdateOptions selects what an update touches.
type UpdateOptions struct {
	// Inputs restricts the update to the named inputs. Empty updates
	// every authored input.
	Inputs []string

	// Overrides pins named inputs to explicit references instead of
	// refreshing their authored sources.
	Overrides []lock.Override
}

// LockAddition is one input the operation locked for the first time.
type LockAddition struct {
	Name string

	// Node is the freshly locked node, nil for a bare follows
	// declaration.
	Node *lock.Node

	// Follows is set when the addition is a follows declaration.
	Follows []string

	// NestedFollows lists follows declarations locked along with the
	// input, for the change report.
	NestedFollows []FollowsEntry
}

// FollowsEntry names one nested follows declaration, as "input/nested".
type FollowsEntry struct {
	Name string
	Path []string
}

// LockUpdate is one input whose existing lock changed: repinned to a
// new revision, or rewired to different follows declarations.
type LockUpdate struct {
	Name string
	Old  *lock.Node
	New  *lock.Node
}

// RevChange records a moved revision, abbreviated for display.
// OldRev is empty when the input had no lock before.
type RevChange struct {
	Name   string
	OldRev string
	NewRev string
}

// LockPin names an override target that was already at the requested
// revision.
type LockPin struct {
	Name string
	Rev  string
}

// LockResult reports what a lock operation changed. The engine never
// prints; callers render the report from these records.
type LockResult struct {
	// Path is the flake.lock location.
	Path string

	// Created is true when no lock file existed before the operation.
	Created bool

	// Written is true when the file was (re)written. Unchanged graphs
	// are left alone so file watchers do not fire.
	Written bool

	Added   []LockAddition
	Updated []LockUpdate
	Removed []string

	// Repinned lists inputs whose locked revision moved, for the
	// update summary.
	Repinned []RevChange

	// AlreadyPinned lists override targets whose requested reference
	// resolved to the revision already locked.
	AlreadyPinned []LockPin

	// Graph is the final lock graph, whether or not it was written.
	Graph *lock.Graph
}

// Sync reconciles flake.lock with the flake.nix inputs block: new
// inputs are locked, removed ones dropped, follows rewired, and
// existing pins kept as they are. The file is only written when
// something actually changed.
func (e *LockEngine) Sync(ctx context.Context, dir string) (*LockResult, error) {
	specs, err := e.Pipeline.inputSpecs(ctx, dir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "flake.lock")
	current, existed := e.readCurrent(path)
	result := &LockResult{Path: path, Created: !existed}

	next := lock.Empty()
	rootInputs := make(map[string]lock.InputRef)

	for _, spec := range specs {
		if spec.Follows != nil {
			rootInputs[spec.Name] = lock.InputRef{Follows: spec.Follows}
			if !sameFollows(current, spec.Name, spec.Follows) {
				result.Added = append(result.Added, LockAddition{Name: spec.Name, Follows: spec.Follows})
			}
			continue
		}

		if existing := current.Nodes[spec.Name]; existing != nil && spec.Name != current.Root {
			// A changed flake flag invalidates the pin entirely.
			if existing.Flake != spec.Flake {
				node, err := e.lockInput(ctx, spec)
				if err != nil {
					return nil, err
				}
				if node == nil {
					continue
				}
				next.Nodes[spec.Name] = node
				rootInputs[spec.Name] = lock.InputRef{Node: spec.Name}
				result.Added = append(result.Added, addition(spec, node))
				e.collectTransitive(ctx, dir, next, spec.Name, node, result)
				continue
			}

			// Changed follows rewire the node without touching its pin.
			follows := nestedRefs(spec)
			if !followsEqual(existing, follows) {
				updated := copyNode(existing)
				updated.Inputs = mergeInputs(existing, follows)
				next.Nodes[spec.Name] = updated
				rootInputs[spec.Name] = lock.InputRef{Node: spec.Name}
				result.Updated = append(result.Updated, LockUpdate{Name: spec.Name, Old: existing, New: updated})
				e.collectTransitive(ctx, dir, next, spec.Name, updated, result)
				continue
			}

			// Unchanged: carry the pin and everything it references.
			collectReachable(current, next.Nodes, spec.Name)
			rootInputs[spec.Name] = lock.InputRef{Node: spec.Name}
			continue
		}

		node, err := e.lockInput(ctx, spec)
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}
		next.Nodes[spec.Name] = node
		rootInputs[spec.Name] = lock.InputRef{Node: spec.Name}
		result.Added = append(result.Added, addition(spec, node))
		e.collectTransitive(ctx, dir, next, spec.Name, node, result)
	}

	e.repairMissing(ctx, dir, next, result)

	if oldRoot := current.RootNode(); oldRoot != nil {
		for name := range oldRoot.Inputs {
			if _, ok := rootInputs[name]; !ok {
				result.Removed = append(result.Removed, name)
			}
		}
	}
	sort.Strings(result.Removed)

	if len(rootInputs) > 0 {
		next.RootNode().Inputs = rootInputs
	}

	return e.finish(current, next, result, UpdateOptions{})
}

// Update refreshes locked inputs to their latest revisions, or pins
// them to explicit references. Without a lock file and without pins it
// degenerates to Sync.
func (e *LockEngine) Update(ctx context.Context, dir string, opts UpdateOptions) (*LockResult, error) {
	specs, err := e.Pipeline.inputSpecs(ctx, dir)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*InputSpec, len(specs))
	for i := range specs {
		byName[specs[i].Name] = &specs[i]
	}

	for _, ov := range opts.Overrides {
		if _, ok := byName[ov.Input]; !ok {
			return nil, fmt.Errorf("input '%s' not found in flake.nix", ov.Input)
		}
	}
	for _, name := range opts.Inputs {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("input '%s' not found in flake.nix", name)
		}
	}

	path := filepath.Join(dir, "flake.lock")
	current, existed := e.readCurrent(path)

	if !existed {
		if len(opts.Overrides) == 0 && len(opts.Inputs) == 0 {
			return e.Sync(ctx, dir)
		}
		return e.createPinned(ctx, path, specs, opts)
	}

	// Work on a copy so preserved nodes never alias the old graph.
	next := &lock.Graph{
		Nodes:   make(map[string]*lock.Node, len(current.Nodes)),
		Root:    current.Root,
		Version: current.Version,
	}
	for name, node := range current.Nodes {
		next.Nodes[name] = copyNode(node)
	}
	if next.Version == 0 {
		next.Version = lock.Version
	}
	root := next.RootNode()
	if root.Inputs == nil {
		root.Inputs = make(map[string]lock.InputRef)
	}
	rootInputs := root.Inputs

	result := &LockResult{Path: path}

	pinned := make(map[string]bool, len(opts.Overrides))
	for _, ov := range opts.Overrides {
		old := next.Nodes[ov.Input]
		node, err := e.lockPinned(ctx, ov.Input, ov.Ref, byName[ov.Input])
		if err != nil {
			return nil, err
		}
		recordChange(result, ov.Input, old, node)
		next.Nodes[ov.Input] = node
		rootInputs[ov.Input] = lock.InputRef{Node: ov.Input}
		e.collectTransitive(ctx, dir, next, ov.Input, node, result)
		pinned[ov.Input] = true
	}

	// Pins without named inputs leave everything else at its lock.
	if len(opts.Overrides) > 0 && len(opts.Inputs) == 0 {
		return e.finish(current, next, result, opts)
	}

	var toUpdate []InputSpec
	if len(opts.Inputs) > 0 {
		for _, name := range opts.Inputs {
			if !pinned[name] {
				toUpdate = append(toUpdate, *byName[name])
			}
		}
	} else {
		for _, spec := range specs {
			if !pinned[spec.Name] {
				toUpdate = append(toUpdate, spec)
			}
		}
	}

	for _, spec := range toUpdate {
		if spec.Follows != nil {
			// Nothing to refresh behind a follows declaration.
			rootInputs[spec.Name] = lock.InputRef{Follows: spec.Follows}
			continue
		}
		old := next.Nodes[spec.Name]
		node, err := e.lockInput(ctx, spec)
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}
		recordChange(result, spec.Name, old, node)
		next.Nodes[spec.Name] = node
		rootInputs[spec.Name] = lock.InputRef{Node: spec.Name}
		e.collectTransitive(ctx, dir, next, spec.Name, node, result)
	}

	// Inputs no longer authored in flake.nix drop out of the lock.
	for name := range rootInputs {
		if _, ok := byName[name]; !ok {
			result.Removed = append(result.Removed, name)
			delete(rootInputs, name)
			delete(next.Nodes, name)
		}
	}
	sort.Strings(result.Removed)
	prune(next)

	return e.finish(current, next, result, opts)
}

// createPinned writes the first lock for a flake, pinning overridden
// inputs to their requested references and everything else to latest.
func (e *LockEngine) createPinned(ctx context.Context, path string, specs []InputSpec, opts UpdateOptions) (*LockResult, error) {
	dir := filepath.Dir(path)
	pins := make(map[string]string, len(opts.Overrides))
	for _, ov := range opts.Overrides {
		pins[ov.Input] = ov.Ref
	}

	result := &LockResult{Path: path, Created: true}
	next := lock.Empty()
	rootInputs := make(map[string]lock.InputRef)

	for i := range specs {
		spec := specs[i]
		if ref, ok := pins[spec.Name]; ok {
			node, err := e.lockPinned(ctx, spec.Name, ref, &spec)
			if err != nil {
				return nil, err
			}
			next.Nodes[spec.Name] = node
			rootInputs[spec.Name] = lock.InputRef{Node: spec.Name}
			result.Added = append(result.Added, addition(spec, node))
			e.collectTransitive(ctx, dir, next, spec.Name, node, result)
			continue
		}
		if spec.Follows != nil {
			rootInputs[spec.Name] = lock.InputRef{Follows: spec.Follows}
			result.Added = append(result.Added, LockAddition{Name: spec.Name, Follows: spec.Follows})
			continue
		}
		node, err := e.lockInput(ctx, spec)
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}
		next.Nodes[spec.Name] = node
		rootInputs[spec.Name] = lock.InputRef{Node: spec.Name}
		result.Added = append(result.Added, addition(spec, node))
		e.collectTransitive(ctx, dir, next, spec.Name, node, result)
	}

	if len(rootInputs) > 0 {
		next.RootNode().Inputs = rootInputs
	}
	if err := lock.Save(path, next); err != nil {
		return nil, err
	}
	result.Written = true
	result.Graph = next
	return result, nil
}

// finish writes the graph when something changed and fills the
// trailing report fields.
func (e *LockEngine) finish(current, next *lock.Graph, result *LockResult, opts UpdateOptions) (*LockResult, error) {
	changed := len(result.Added)+len(result.Updated)+len(result.Removed) > 0
	if changed || !graphsEqual(current, next) {
		if err := lock.Save(result.Path, next); err != nil {
			return nil, err
		}
		result.Written = true
	}
	result.Graph = next

	if len(opts.Overrides) > 0 && len(result.Repinned) == 0 && len(result.Added) == 0 {
		for _, ov := range opts.Overrides {
			result.AlreadyPinned = append(result.AlreadyPinned, LockPin{
				Name: ov.Input,
				Rev:  lockedRev(next.Nodes[ov.Input]),
			})
		}
	}
	return result, nil
}

// lockInput pins one authored input through prefetch, returning the
// node in native lock format. Input types nix cannot pin come back nil
// after a warning.
func (e *LockEngine) lockInput(ctx context.Context, spec InputSpec) (*lock.Node, error) {
	src := spec.Source
	if src == nil {
		return nil, nil
	}

	var node *lock.Node
	switch src.Type {
	case lock.TypeGitHub, lock.TypeGitLab, lock.TypeSourcehut:
		data, err := e.prefetchRef(ctx, forgeRef(src))
		if err != nil {
			return nil, fmt.Errorf("locking input '%s': %w", spec.Name, err)
		}
		node = forgeNode(src, data)
	case lock.TypeGit:
		ref := "git+" + src.URL
		if src.Ref != "" {
			ref += "?ref=" + src.Ref
		}
		data, err := e.prefetchRef(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("locking input '%s': %w", spec.Name, err)
		}
		node = gitNode(src, data)
	case lock.TypePath:
		node = e.pathNode(ctx, src)
	default:
		e.warn(fmt.Sprintf("skipping unknown input type: %s (%s)", spec.Name, src.Type))
		return nil, nil
	}

	node.Flake = spec.Flake
	if refs := nestedRefs(spec); refs != nil {
		node.Inputs = refs
	}
	return node, nil
}

// lockPinned locks an input to an explicit reference. The original
// descriptor comes from flake.nix when the input is authored there, so
// the lock keeps naming the authored source even while pinned
// elsewhere.
func (e *LockEngine) lockPinned(ctx context.Context, name, ref string, spec *InputSpec) (*lock.Node, error) {
	data, err := e.prefetchRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("locking input '%s' to %s: %w", name, ref, err)
	}

	var locked *lock.Source
	switch data.locked.Type {
	case lock.TypeGitHub, lock.TypeGitLab, lock.TypeSourcehut:
		locked = &lock.Source{
			Type:         data.locked.Type,
			Owner:        data.locked.Owner,
			Repo:         data.locked.Repo,
			Host:         data.locked.Host,
			Rev:          data.locked.Rev,
			NARHash:      data.hash,
			LastModified: data.locked.LastModified,
		}
	case lock.TypeGit:
		locked = &lock.Source{
			Type:         lock.TypeGit,
			URL:          data.locked.URL,
			Rev:          data.locked.Rev,
			RevCount:     data.locked.RevCount,
			NARHash:      data.hash,
			LastModified: data.locked.LastModified,
		}
	default:
		return nil, fmt.Errorf("unsupported flake type for override: %s", data.locked.Type)
	}

	node := &lock.Node{Locked: locked, Original: pinnedOriginal(data, spec), Flake: true}
	if spec != nil {
		node.Flake = spec.Flake
		if refs := nestedRefs(*spec); refs != nil {
			node.Inputs = refs
		}
	}
	return node, nil
}

// pinnedOriginal picks the original descriptor for a pinned node: the
// authored spec when its type matches, otherwise what prefetch
// reported.
func pinnedOriginal(data prefetched, spec *InputSpec) *lock.Source {
	if spec != nil && spec.Source != nil && spec.Source.Type == data.locked.Type {
		original := &lock.Source{
			Type:  spec.Source.Type,
			Owner: spec.Source.Owner,
			Repo:  spec.Source.Repo,
			Host:  spec.Source.Host,
			URL:   spec.Source.URL,
		}
		if spec.Source.Ref != "" {
			original.Ref = spec.Source.Ref
		}
		return original
	}

	original := &lock.Source{
		Type:  data.locked.Type,
		Owner: data.original.Owner,
		Repo:  data.original.Repo,
		Host:  data.original.Host,
		URL:   data.original.URL,
	}
	if data.original.Rev != "" {
		original.Rev = data.original.Rev
	} else if data.original.Ref != "" {
		original.Ref = data.original.Ref
	}
	return original
}

// prefetched is a decoded `nix flake prefetch --json` payload.
type prefetched struct {
	hash     string
	locked   lock.Source
	original lock.Source
}

func (e *LockEngine) prefetchRef(ctx context.Context, ref string) (prefetched, error) {
	res, err := e.Pipeline.prefetch()(ctx, ref)
	if err != nil {
		return prefetched{}, err
	}
	p := prefetched{hash: res.Hash}
	if len(res.Locked) > 0 {
		_ = json.Unmarshal(res.Locked, &p.locked)
	}
	if len(res.Original) > 0 {
		_ = json.Unmarshal(res.Original, &p.original)
	}
	return p, nil
}

// forgeRef renders the prefetch reference for a forge input: a pinned
// rev rides a query parameter, a branch or tag the path.
func forgeRef(src *lock.Source) string {
	ref := flakeref.Ref{Kind: flakeref.Kind(src.Type), Owner: src.Owner, Repo: src.Repo}
	if src.Type == lock.TypeSourcehut {
		ref.Owner = "~" + src.Owner
	}
	params := make(map[string]string)
	if src.Rev != "" {
		params["rev"] = src.Rev
	} else if src.Ref != "" {
		ref.Rev = src.Ref
	}
	if src.Host != "" {
		params["host"] = src.Host
	}
	if len(params) > 0 {
		ref.Params = params
	}
	return ref.String()
}

func forgeNode(src *lock.Source, data prefetched) *lock.Node {
	locked := &lock.Source{
		Type:         src.Type,
		Owner:        pick(data.locked.Owner, src.Owner),
		Repo:         pick(data.locked.Repo, src.Repo),
		Host:         pick(data.locked.Host, src.Host),
		Rev:          data.locked.Rev,
		NARHash:      data.hash,
		LastModified: data.locked.LastModified,
	}
	original := &lock.Source{
		Type:  src.Type,
		Owner: pick(data.original.Owner, src.Owner),
		Repo:  pick(data.original.Repo, src.Repo),
		Host:  src.Host,
	}
	if ref := pick(src.Ref, data.original.Ref); ref != "" {
		original.Ref = ref
	}
	return &lock.Node{Locked: locked, Original: original, Flake: true}
}

func gitNode(src *lock.Source, data prefetched) *lock.Node {
	locked := &lock.Source{
		Type:         lock.TypeGit,
		URL:          pick(data.locked.URL, src.URL),
		Rev:          data.locked.Rev,
		RevCount:     data.locked.RevCount,
		NARHash:      data.hash,
		LastModified: data.locked.LastModified,
	}
	original := &lock.Source{Type: lock.TypeGit, URL: pick(data.original.URL, src.URL)}
	if ref := pick(src.Ref, data.original.Ref); ref != "" {
		original.Ref = ref
	}
	return &lock.Node{Locked: locked, Original: original, Flake: true}
}

// pathNode pins a path input. Prefetch normally supplies the hash and
// timestamp; when it cannot, the path locks bare, the way nix records
// plain local paths.
func (e *LockEngine) pathNode(ctx context.Context, src *lock.Source) *lock.Node {
	base := &lock.Source{Type: lock.TypePath, Path: src.Path}
	data, err := e.prefetchRef(ctx, "path:"+src.Path)
	if err != nil {
		return &lock.Node{Locked: base, Original: base, Flake: true}
	}
	locked := &lock.Source{
		Type:         lock.TypePath,
		Path:         src.Path,
		NARHash:      data.hash,
		LastModified: data.locked.LastModified,
	}
	return &lock.Node{Locked: locked, Original: base, Flake: true}
}

// collectTransitive walks an input's own flake.lock and carries the
// nodes its root references into the graph, recursively, so evaluation
// can hand every input its dependencies. Follows authored in flake.nix
// win over what the input's lock says.
func (e *LockEngine) collectTransitive(ctx context.Context, dir string, g *lock.Graph, name string, node *lock.Node, result *LockResult) {
	if !node.Flake {
		return
	}
	sub := e.sourceLock(ctx, dir, name, node)
	if sub == nil {
		return
	}
	subRoot := sub.RootNode()
	if subRoot == nil {
		return
	}

	for _, input := range sortedInputNames(subRoot.Inputs) {
		ref := subRoot.Inputs[input]
		target := ref.Node
		if ref.IsFollows() {
			if len(ref.Follows) == 0 {
				continue
			}
			target = ref.Follows[0]
		}

		if existing, ok := node.Inputs[input]; ok && existing.IsFollows() {
			continue
		}
		if node.Inputs == nil {
			node.Inputs = make(map[string]lock.InputRef)
		}
		if _, ok := node.Inputs[input]; !ok {
			node.Inputs[input] = lock.InputRef{Node: target}
		}

		if _, ok := g.Nodes[target]; ok {
			continue
		}
		trans := sub.Nodes[target]
		if trans == nil {
			continue
		}
		carried := copyNode(trans)
		g.Nodes[target] = carried
		result.Added = append(result.Added, LockAddition{Name: target, Node: carried})
		e.collectTransitive(ctx, dir, g, target, carried, result)
	}
}

// repairMissing refetches transitive dependencies for nodes whose
// references point nowhere, which happens with lock files written
// before transitive collection existed.
func (e *LockEngine) repairMissing(ctx context.Context, dir string, g *lock.Graph, result *LockResult) {
	for _, name := range sortedNodeNames(g.Nodes) {
		if name == g.Root {
			continue
		}
		node := g.Nodes[name]
		for _, ref := range node.Inputs {
			if ref.IsFollows() {
				continue
			}
			if _, ok := g.Nodes[ref.Node]; !ok {
				e.collectTransitive(ctx, dir, g, name, node, result)
				break
			}
		}
	}
}

// sourceLock fetches an input's source and parses its flake.lock.
// Every failure reads as "no lock": transitive collection is best
// effort and never fails the run. Relative path inputs are anchored at
// the flake directory.
func (e *LockEngine) sourceLock(ctx context.Context, dir, name string, node *lock.Node) *lock.Graph {
	locked := node.Locked
	if locked == nil {
		return nil
	}

	if locked.Type == lock.TypePath {
		if locked.Path == "" {
			return nil
		}
		path := locked.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(filepath.Join(path, "flake.lock"))
		if err != nil {
			return nil
		}
		return parseSubLock(data)
	}

	switch locked.Type {
	case "mercurial", "hg":
		e.warn(fmt.Sprintf("mercurial input '%s' skipped (not supported for transitive dependency collection)", name))
		return nil
	}

	program, err := expr.BuildSourceLock(locked)
	if err != nil {
		e.warn(fmt.Sprintf("unknown source type '%s' for input '%s', skipping transitive dependency collection", locked.Type, name))
		return nil
	}
	out, err := e.Pipeline.evalFunc()(ctx, nix.Request{Expr: program, JSON: true})
	if err != nil {
		return nil
	}
	var content string
	if err := decode.JSON(out, &content); err != nil || content == "" {
		return nil
	}
	return parseSubLock([]byte(content))
}

// parseSubLock parses a dependency's lock without version checks; the
// node format is stable enough across versions to copy nodes out of.
func parseSubLock(data []byte) *lock.Graph {
	var g lock.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil
	}
	if g.Root == "" {
		g.Root = "root"
	}
	return &g
}

// readCurrent reads an existing lock file tolerantly. Sync exists to
// repair lock files, so unlike evaluation it accepts version drift
// with a warning and rebuilds from scratch when the data cannot be
// parsed at all.
func (e *LockEngine) readCurrent(path string) (*lock.Graph, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lock.Empty(), false
	}
	var g lock.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return lock.Empty(), true
	}
	if g.Version != 0 && g.Version != lock.Version {
		e.warn(fmt.Sprintf("flake.lock version %d may not be fully supported (expected %d)", g.Version, lock.Version))
	}
	if g.Root == "" {
		g.Root = "root"
	}
	if g.Nodes == nil {
		g.Nodes = make(map[string]*lock.Node)
	}
	if g.Nodes[g.Root] == nil {
		g.Nodes[g.Root] = &lock.Node{Flake: true}
	}
	return &g, true
}

func (e *LockEngine) warn(msg string) {
	if e.Warn != nil {
		e.Warn(msg)
	}
}

// collectReachable carries a preserved node and everything it
// references from the old graph into the new node set.
func collectReachable(current *lock.Graph, nodes map[string]*lock.Node, name string) {
	if _, ok := nodes[name]; ok {
		return
	}
	if name == current.Root {
		return
	}
	node := current.Nodes[name]
	if node == nil {
		return
	}
	nodes[name] = copyNode(node)
	for _, ref := range node.Inputs {
		if ref.IsFollows() {
			if len(ref.Follows) > 0 {
				collectReachable(current, nodes, ref.Follows[0])
			}
			continue
		}
		collectReachable(current, nodes, ref.Node)
	}
}

// prune drops nodes unreachable from the root, which appear when a
// removed input leaves its transitive dependencies behind.
func prune(g *lock.Graph) {
	keep := make(map[string]bool, len(g.Nodes))
	var visit func(name string)
	visit = func(name string) {
		if keep[name] {
			return
		}
		keep[name] = true
		node := g.Nodes[name]
		if node == nil {
			return
		}
		for _, ref := range node.Inputs {
			if !ref.IsFollows() {
				visit(ref.Node)
			}
		}
	}
	visit(g.Root)
	for name := range g.Nodes {
		if !keep[name] {
			delete(g.Nodes, name)
		}
	}
}

// recordChange notes a repin in the result when the revision moved.
func recordChange(result *LockResult, name string, old, node *lock.Node) {
	oldRev := lockedRev(old)
	newRev := lockedRev(node)
	if oldRev == newRev {
		return
	}
	result.Repinned = append(result.Repinned, RevChange{Name: name, OldRev: oldRev, NewRev: newRev})
	if old != nil {
		result.Updated = append(result.Updated, LockUpdate{Name: name, Old: old, New: node})
	} else {
		result.Added = append(result.Added, LockAddition{Name: name, Node: node})
	}
}

// lockedRev abbreviates a node's pinned revision to the display width
// nix uses.
func lockedRev(n *lock.Node) string {
	if n == nil || n.Locked == nil {
		return ""
	}
	rev := n.Locked.Rev
	if len(rev) > 11 {
		rev = rev[:11]
	}
	return rev
}

// addition builds the report entry for a freshly locked input.
func addition(spec InputSpec, node *lock.Node) LockAddition {
	add := LockAddition{Name: spec.Name, Node: node}
	nested := make([]string, 0, len(spec.NestedFollows))
	for name := range spec.NestedFollows {
		nested = append(nested, name)
	}
	sort.Strings(nested)
	for _, name := range nested {
		add.NestedFollows = append(add.NestedFollows, FollowsEntry{
			Name: spec.Name + "/" + name,
			Path: spec.NestedFollows[name],
		})
	}
	return add
}

// nestedRefs renders a spec's nested follows as lock input references.
func nestedRefs(spec InputSpec) map[string]lock.InputRef {
	if len(spec.NestedFollows) == 0 {
		return nil
	}
	refs := make(map[string]lock.InputRef, len(spec.NestedFollows))
	for name, path := range spec.NestedFollows {
		refs[name] = lock.InputRef{Follows: path}
	}
	return refs
}

// followsEqual reports whether a node's follows entries match the
// authored declarations. Direct references are not part of the
// comparison.
func followsEqual(n *lock.Node, want map[string]lock.InputRef) bool {
	existing := make(map[string]lock.InputRef)
	for name, ref := range n.Inputs {
		if ref.IsFollows() {
			existing[name] = ref
		}
	}
	if len(existing) != len(want) {
		return false
	}
	for name, ref := range want {
		got, ok := existing[name]
		if !ok || strings.Join(got.Follows, "/") != strings.Join(ref.Follows, "/") {
			return false
		}
	}
	return true
}

// sameFollows reports whether the current lock already carries the
// follows declaration for a root input.
func sameFollows(current *lock.Graph, name string, path []string) bool {
	root := current.RootNode()
	if root == nil {
		return false
	}
	ref, ok := root.Inputs[name]
	if !ok || !ref.IsFollows() {
		return false
	}
	return strings.Join(ref.Follows, "/") == strings.Join(path, "/")
}

// mergeInputs rebuilds a node's inputs with its direct references kept
// and its follows replaced by the authored set.
func mergeInputs(n *lock.Node, follows map[string]lock.InputRef) map[string]lock.InputRef {
	merged := make(map[string]lock.InputRef)
	for name, ref := range n.Inputs {
		if !ref.IsFollows() {
			merged[name] = ref
		}
	}
	for name, ref := range follows {
		merged[name] = ref
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func copyNode(n *lock.Node) *lock.Node {
	c := &lock.Node{Locked: n.Locked, Original: n.Original, Flake: n.Flake}
	if len(n.Inputs) > 0 {
		c.Inputs = make(map[string]lock.InputRef, len(n.Inputs))
		for name, ref := range n.Inputs {
			c.Inputs[name] = ref
		}
	}
	return c
}

func graphsEqual(a, b *lock.Graph) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

func sortedInputNames(inputs map[string]lock.InputRef) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedNodeNames(nodes map[string]*lock.Node) []string {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
