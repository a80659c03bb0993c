package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bianoble/flint/internal/expr"
	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/gitmeta"
	"github.com/bianoble/flint/internal/lock"
	"github.com/bianoble/flint/internal/nix"
	"github.com/bianoble/flint/internal/profile"
)

// DefaultPriority is the conflict priority recorded for new installs.
const DefaultPriority = 5

// ProfileEngine mutates an imperative profile. Every mutation assembles
// a fresh generation tree from the manifest, imports it into the store,
// and switches the profile link, so a failed mutation leaves the
// current generation untouched.
type ProfileEngine struct {
	Pipeline Pipeline

	// Profile is the generation chain being mutated.
	Profile *profile.Profile

	// Builder realizes local flake attributes. Nil means nix.Build.
	Builder nix.BuildFunc

	// RefBuilder realizes remote references. Nil means nix.BuildRef.
	RefBuilder nix.RefBuildFunc

	// Add imports generation trees into the store. Nil means nix.Add.
	Add profile.AddFunc

	// StoreDir tells pre-built store paths apart from flake
	// directories. Empty means the probed store directory.
	StoreDir string

	// Warn receives non-fatal notes during upgrades. Nil discards them.
	Warn func(string)
}

func (e *ProfileEngine) builder() nix.BuildFunc {
	if e.Builder != nil {
		return e.Builder
	}
	return nix.Build
}

func (e *ProfileEngine) refBuilder() nix.RefBuildFunc {
	if e.RefBuilder != nil {
		return e.RefBuilder
	}
	return nix.BuildRef
}

func (e *ProfileEngine) addFunc() profile.AddFunc {
	if e.Add != nil {
		return e.Add
	}
	return nix.Add
}

func (e *ProfileEngine) storeDir(ctx context.Context) string {
	if e.StoreDir != "" {
		return e.StoreDir
	}
	return nix.StoreDir(ctx)
}

func (e *ProfileEngine) warn(format string, args ...any) {
	if e.Warn != nil {
		e.Warn(fmt.Sprintf(format, args...))
	}
}

// InstallOptions configure an install.
type InstallOptions struct {
	Priority  int // 0 means DefaultPriority
	Overrides []lock.Override
}

// InstallResult records what landed in the profile.
type InstallResult struct {
	Name       string
	AttrPath   string
	StorePath  string
	Generation int
}

// Install builds the target and records it in the profile under the
// last segment of its resolved attribute path, replacing any element of
// the same name.
func (e *ProfileEngine) Install(ctx context.Context, target *flake.Target, opts InstallOptions) (*InstallResult, error) {
	name, elem, err := e.resolveElement(ctx, target, opts.Overrides)
	if err != nil {
		return nil, err
	}
	elem.Priority = opts.Priority
	if elem.Priority == 0 {
		elem.Priority = DefaultPriority
	}

	m, err := e.Profile.Manifest()
	if err != nil {
		return nil, err
	}
	m.Elements[name] = elem

	gen, err := e.commit(ctx, m)
	if err != nil {
		return nil, err
	}
	return &InstallResult{
		Name:       name,
		AttrPath:   elem.AttrPath,
		StorePath:  elem.StorePaths[0],
		Generation: gen,
	}, nil
}

// resolveElement turns the target into a manifest element. Local flakes
// build through the synthesized environment; bare store paths are
// recorded as-is; anything else is handed to the flake-aware CLI.
func (e *ProfileEngine) resolveElement(ctx context.Context, target *flake.Target, overrides []lock.Override) (string, profile.Element, error) {
	if target.Local() {
		return e.localElement(ctx, target, overrides)
	}
	if strings.HasPrefix(target.Ref, e.storeDir(ctx)+"/") {
		return e.storePathElement(target.Ref)
	}
	return e.remoteElement(ctx, target)
}

func (e *ProfileEngine) localElement(ctx context.Context, target *flake.Target, overrides []lock.Override) (string, profile.Element, error) {
	system, err := e.Pipeline.system(ctx)
	if err != nil {
		return "", profile.Element{}, err
	}
	env, err := e.Pipeline.prepare(ctx, target, overrides)
	if err != nil {
		return "", profile.Element{}, err
	}
	candidates := flake.ExpandAttribute(target.Attr, flake.OpBuild, system)
	attr, err := e.Pipeline.firstAttr(ctx, env, candidates)
	if err != nil {
		return "", profile.Element{}, err
	}
	program, err := expr.Build(env.request(attr))
	if err != nil {
		return "", profile.Element{}, err
	}
	path, err := e.builder()(ctx, program, nix.BuildOptions{Capture: true})
	if err != nil {
		return "", profile.Element{}, err
	}

	attrPath := strings.Join(attr, ".")
	url := flakeURL(ctx, target.Dir)
	return lastAttrSegment(attrPath), profile.Element{
		AttrPath:    attrPath,
		OriginalURL: url,
		URL:         url,
		StorePaths:  []string{firstLine(path)},
		Active:      true,
	}, nil
}

func (e *ProfileEngine) storePathElement(path string) (string, profile.Element, error) {
	if _, err := os.Stat(path); err != nil {
		return "", profile.Element{}, fmt.Errorf("store path does not exist: %s", path)
	}
	name := profile.PackageName(path)
	return name, profile.Element{
		AttrPath:   name,
		StorePaths: []string{path},
		Active:     true,
	}, nil
}

func (e *ProfileEngine) remoteElement(ctx context.Context, target *flake.Target) (string, profile.Element, error) {
	attrPath := strings.Join(target.Attr, ".")
	full := target.Ref
	if attrPath != "" {
		full += "#" + attrPath
	}
	out, err := e.refBuilder()(ctx, full)
	if err != nil {
		return "", profile.Element{}, err
	}
	path := firstLine(out)

	name := lastAttrSegment(attrPath)
	if name == "" {
		name = profile.PackageName(path)
	}
	if attrPath == "" {
		attrPath = name
	}
	return name, profile.Element{
		AttrPath:    attrPath,
		OriginalURL: target.Ref,
		URL:         target.Ref,
		StorePaths:  []string{path},
		Active:      true,
	}, nil
}

// RemoveResult records a removal. Generation is zero when nothing
// matched and no new generation was made.
type RemoveResult struct {
	Removed    []string
	Missing    []string
	Generation int
}

// Remove drops packages by element name or attribute tail. Names that
// match nothing are reported in Missing rather than failing the rest.
func (e *ProfileEngine) Remove(ctx context.Context, names []string) (*RemoveResult, error) {
	m, err := e.Profile.Manifest()
	if err != nil {
		return nil, err
	}

	res := &RemoveResult{}
	for _, name := range names {
		if m.Remove(name) {
			res.Removed = append(res.Removed, name)
		} else {
			res.Missing = append(res.Missing, name)
		}
	}
	if len(res.Removed) == 0 {
		return res, nil
	}

	gen, err := e.commit(ctx, m)
	if err != nil {
		return nil, err
	}
	res.Generation = gen
	return res, nil
}

// PackageUpgrade is one package that moved to a new store path.
type PackageUpgrade struct {
	Name    string
	OldPath string
	NewPath string
}

// UpgradeResult counts what an upgrade pass did. Skipped counts
// packages that were checked but left alone: already up to date,
// missing on disk, or failed to rebuild.
type UpgradeResult struct {
	Upgraded   []PackageUpgrade
	Skipped    int
	Generation int
}

// Upgrade rebuilds packages whose origin is a local flake directory and
// records the ones whose store path changed. Elements installed from
// remote references or bare store paths have no directory to rebuild
// from and are left alone. name narrows the pass to one package; empty
// upgrades everything.
func (e *ProfileEngine) Upgrade(ctx context.Context, name string) (*UpgradeResult, error) {
	m, err := e.Profile.Manifest()
	if err != nil {
		return nil, err
	}
	storeDir := e.storeDir(ctx)

	names := make([]string, 0, len(m.Elements))
	for elemName := range m.Elements {
		names = append(names, elemName)
	}
	sort.Strings(names)

	res := &UpgradeResult{}
	matched := false
	for _, elemName := range names {
		elem := m.Elements[elemName]
		if elem.AttrPath == "" {
			continue
		}
		pkg := lastAttrSegment(elem.AttrPath)
		if name != "" && pkg != name && elemName != name {
			continue
		}
		matched = true

		dir, ok := localOrigin(elem.OriginalURL)
		if !ok || strings.HasPrefix(dir, storeDir+"/") {
			if name != "" {
				res.Skipped++
			}
			continue
		}
		if _, statErr := os.Stat(dir); statErr != nil {
			e.warn("flake directory not found: %s", dir)
			res.Skipped++
			continue
		}

		newPath, buildErr := e.rebuild(ctx, dir, elem.AttrPath)
		if buildErr != nil {
			e.warn("rebuilding %s: %v", pkg, buildErr)
			res.Skipped++
			continue
		}

		old := ""
		if len(elem.StorePaths) > 0 {
			old = elem.StorePaths[0]
		}
		if newPath == old {
			res.Skipped++
			continue
		}

		url := flakeURL(ctx, dir)
		elem.OriginalURL = url
		elem.URL = url
		elem.StorePaths = []string{newPath}
		m.Elements[elemName] = elem
		res.Upgraded = append(res.Upgraded, PackageUpgrade{Name: pkg, OldPath: old, NewPath: newPath})
	}

	if name != "" && !matched {
		return nil, fmt.Errorf("package not found: %s", name)
	}
	if len(res.Upgraded) == 0 {
		return res, nil
	}

	gen, err := e.commit(ctx, m)
	if err != nil {
		return nil, err
	}
	res.Generation = gen
	return res, nil
}

// rebuild realizes the stored attribute path against the flake
// directory it was installed from.
func (e *ProfileEngine) rebuild(ctx context.Context, dir, attrPath string) (string, error) {
	target, err := flake.ResolveTarget(ctx, dir, dir, nil)
	if err != nil {
		return "", err
	}
	if !target.Local() {
		return "", fmt.Errorf("'%s' is not a local flake", dir)
	}
	target.Attr = strings.Split(attrPath, ".")

	env, err := e.Pipeline.prepare(ctx, target, nil)
	if err != nil {
		return "", err
	}
	program, err := expr.Build(env.request(target.Attr))
	if err != nil {
		return "", err
	}
	out, err := e.builder()(ctx, program, nix.BuildOptions{Capture: true})
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

// commit realizes a generation from the manifest and points the
// profile at it.
func (e *ProfileEngine) commit(ctx context.Context, m *profile.Manifest) (int, error) {
	b := profile.Builder{Add: e.addFunc()}
	storePath, err := b.Build(ctx, m)
	if err != nil {
		return 0, err
	}
	return e.Profile.Switch(storePath)
}

// flakeURL renders the origin of a local flake directory the way nix
// records it in profile manifests: git+file:// for repositories, path:
// otherwise.
func flakeURL(ctx context.Context, dir string) string {
	canonical := dir
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		canonical = resolved
	}
	if gitmeta.IsRepo(ctx, dir) {
		return "git+file://" + canonical
	}
	return "path:" + canonical
}

// localOrigin extracts the directory behind a path: or git+file:// URL.
func localOrigin(url string) (string, bool) {
	if p, ok := strings.CutPrefix(url, "path:"); ok {
		return p, true
	}
	if p, ok := strings.CutPrefix(url, "git+file://"); ok {
		return p, true
	}
	return "", false
}

func lastAttrSegment(attr string) string {
	if i := strings.LastIndex(attr, "."); i >= 0 {
		return attr[i+1:]
	}
	return attr
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
