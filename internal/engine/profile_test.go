package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bianoble/flint/internal/flake"
	"github.com/bianoble/flint/internal/nix"
	"github.com/bianoble/flint/internal/profile"
)

// profileFixture builds a profile rooted in a temp directory. When
// elements is non-nil a first generation holding them is linked in.
func profileFixture(t *testing.T, elements map[string]profile.Element) (*profile.Profile, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	p := &profile.Profile{
		Link:     filepath.Join(root, "current"),
		LinksDir: filepath.Join(root, "profiles"),
	}
	if elements == nil {
		return p, root
	}

	m := profile.NewManifest()
	m.Elements = elements
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	gen := filepath.Join(root, "gen1")
	writeFile(t, filepath.Join(gen, "manifest.json"), string(data))
	if err := os.MkdirAll(p.LinksDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	genLink := filepath.Join(p.LinksDir, "profile-1-link")
	if err := os.Symlink(gen, genLink); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if err := os.Symlink(genLink, p.Link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	return p, root
}

// captureAdd records the manifest committed with each generation and
// hands back a fresh directory under root as the generation's store
// path.
func captureAdd(root string, captured *profile.Manifest, calls *atomic.Int32) profile.AddFunc {
	return func(ctx context.Context, path string) (string, error) {
		n := calls.Add(1)
		data, err := os.ReadFile(filepath.Join(path, "manifest.json"))
		if err != nil {
			return "", err
		}
		if err := json.Unmarshal(data, captured); err != nil {
			return "", err
		}
		out := filepath.Join(root, fmt.Sprintf("env-%d", n))
		if err := os.Mkdir(out, 0o755); err != nil {
			return "", err
		}
		return out, nil
	}
}

func storePathFor(digit, name string) string {
	return "/nix/store/" + strings.Repeat(digit, 32) + "-" + name
}

func TestProfileInstallLocalFlake(t *testing.T) {
	dir := flakeDir(t)
	prof, root := profileFixture(t, nil)
	storePath := storePathFor("1", "hello-2.12")

	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval([]string{"packages.x86_64-linux.hello"}, nil)),
		Profile:  prof,
		Builder: func(ctx context.Context, program string, opts nix.BuildOptions) (string, error) {
			if !opts.Capture {
				t.Error("Builder: Capture not set")
			}
			if !strings.Contains(program, "packages.x86_64-linux.hello") {
				t.Errorf("Builder: program does not select the attribute:\n%s", program)
			}
			return storePath + "\n", nil
		},
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store",
	}

	res, err := eng.Install(context.Background(), localTestTarget(dir, "hello"), InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if res.Name != "hello" {
		t.Errorf("Name = %q, want %q", res.Name, "hello")
	}
	if res.AttrPath != "packages.x86_64-linux.hello" {
		t.Errorf("AttrPath = %q, want %q", res.AttrPath, "packages.x86_64-linux.hello")
	}
	if res.StorePath != storePath {
		t.Errorf("StorePath = %q, want %q", res.StorePath, storePath)
	}
	if res.Generation != 1 {
		t.Errorf("Generation = %d, want 1", res.Generation)
	}

	elem, ok := manifest.Elements["hello"]
	if !ok {
		t.Fatalf("committed manifest has no element hello: %v", manifest.Elements)
	}
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	if want := "path:" + canonical; elem.URL != want || elem.OriginalURL != want {
		t.Errorf("URL = %q, OriginalURL = %q, want %q", elem.URL, elem.OriginalURL, want)
	}
	if elem.Priority != DefaultPriority {
		t.Errorf("Priority = %d, want %d", elem.Priority, DefaultPriority)
	}
	if !elem.Active {
		t.Error("element is not active")
	}
	if len(elem.StorePaths) != 1 || elem.StorePaths[0] != storePath {
		t.Errorf("StorePaths = %v, want [%s]", elem.StorePaths, storePath)
	}
}

func TestProfileInstallReplacesExisting(t *testing.T) {
	dir := flakeDir(t)
	oldPath := storePathFor("2", "hello-2.11")
	newPath := storePathFor("3", "hello-2.12")
	prof, root := profileFixture(t, map[string]profile.Element{
		"hello": {
			AttrPath:   "packages.x86_64-linux.hello",
			StorePaths: []string{oldPath},
			Active:     true,
		},
	})

	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval([]string{"packages.x86_64-linux.hello"}, nil)),
		Profile:  prof,
		Builder: func(ctx context.Context, program string, opts nix.BuildOptions) (string, error) {
			return newPath + "\n", nil
		},
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store",
	}

	res, err := eng.Install(context.Background(), localTestTarget(dir, "hello"), InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if res.Generation != 2 {
		t.Errorf("Generation = %d, want 2", res.Generation)
	}
	if len(manifest.Elements) != 1 {
		t.Fatalf("committed manifest has %d elements, want 1", len(manifest.Elements))
	}
	if got := manifest.Elements["hello"].StorePaths[0]; got != newPath {
		t.Errorf("StorePaths[0] = %q, want %q", got, newPath)
	}
}

func TestProfileInstallStorePath(t *testing.T) {
	prof, root := profileFixture(t, nil)
	storePath := filepath.Join(root, strings.Repeat("a", 32)+"-hello-2.0")
	if err := os.Mkdir(storePath, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		Builder: func(ctx context.Context, program string, opts nix.BuildOptions) (string, error) {
			t.Error("Builder called for a store path install")
			return "", nil
		},
		RefBuilder: func(ctx context.Context, ref string) (string, error) {
			t.Error("RefBuilder called for a store path install")
			return "", nil
		},
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: root,
	}

	res, err := eng.Install(context.Background(), &flake.Target{Ref: storePath}, InstallOptions{Priority: 7})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if res.Name != "hello" {
		t.Errorf("Name = %q, want %q", res.Name, "hello")
	}
	if res.AttrPath != "hello" {
		t.Errorf("AttrPath = %q, want %q", res.AttrPath, "hello")
	}
	if res.StorePath != storePath {
		t.Errorf("StorePath = %q, want %q", res.StorePath, storePath)
	}
	elem := manifest.Elements["hello"]
	if elem.Priority != 7 {
		t.Errorf("Priority = %d, want 7", elem.Priority)
	}
	if elem.OriginalURL != "" {
		t.Errorf("OriginalURL = %q, want empty", elem.OriginalURL)
	}
}

func TestProfileInstallMissingStorePath(t *testing.T) {
	prof, root := profileFixture(t, nil)
	storePath := filepath.Join(root, strings.Repeat("b", 32)+"-gone-1.0")

	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		StoreDir: root,
	}

	_, err := eng.Install(context.Background(), &flake.Target{Ref: storePath}, InstallOptions{})
	if err == nil {
		t.Fatal("Install succeeded for a missing store path")
	}
	if want := "store path does not exist: " + storePath; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestProfileInstallRemote(t *testing.T) {
	prof, root := profileFixture(t, nil)
	storePath := storePathFor("4", "hello-2.12")

	var gotRef string
	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		RefBuilder: func(ctx context.Context, ref string) (string, error) {
			gotRef = ref
			return storePath + "\n" + storePath + "-man\n", nil
		},
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store/fake",
	}

	target := &flake.Target{Ref: "github:NixOS/nixpkgs", Attr: []string{"hello"}}
	res, err := eng.Install(context.Background(), target, InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if gotRef != "github:NixOS/nixpkgs#hello" {
		t.Errorf("built ref = %q, want %q", gotRef, "github:NixOS/nixpkgs#hello")
	}
	if res.Name != "hello" {
		t.Errorf("Name = %q, want %q", res.Name, "hello")
	}
	if res.StorePath != storePath {
		t.Errorf("StorePath = %q, want first output %q", res.StorePath, storePath)
	}
	elem := manifest.Elements["hello"]
	if elem.OriginalURL != "github:NixOS/nixpkgs" || elem.URL != "github:NixOS/nixpkgs" {
		t.Errorf("URL = %q, OriginalURL = %q, want github:NixOS/nixpkgs", elem.URL, elem.OriginalURL)
	}
	if elem.AttrPath != "hello" {
		t.Errorf("AttrPath = %q, want %q", elem.AttrPath, "hello")
	}
}

func TestProfileRemove(t *testing.T) {
	prof, root := profileFixture(t, map[string]profile.Element{
		"hello": {
			AttrPath:   "packages.x86_64-linux.hello",
			StorePaths: []string{storePathFor("5", "hello-2.12")},
			Active:     true,
		},
		"cowsay": {
			AttrPath:   "packages.x86_64-linux.cowsay",
			StorePaths: []string{storePathFor("6", "cowsay-3.8")},
			Active:     true,
		},
	})

	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store",
	}

	res, err := eng.Remove(context.Background(), []string{"hello", "nope"})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != "hello" {
		t.Errorf("Removed = %v, want [hello]", res.Removed)
	}
	if len(res.Missing) != 1 || res.Missing[0] != "nope" {
		t.Errorf("Missing = %v, want [nope]", res.Missing)
	}
	if res.Generation != 2 {
		t.Errorf("Generation = %d, want 2", res.Generation)
	}
	if n := adds.Load(); n != 1 {
		t.Errorf("generation builds = %d, want 1", n)
	}
	if _, ok := manifest.Elements["hello"]; ok {
		t.Error("removed element still in committed manifest")
	}
	if _, ok := manifest.Elements["cowsay"]; !ok {
		t.Error("unrelated element missing from committed manifest")
	}
}

func TestProfileRemoveNoMatch(t *testing.T) {
	prof, root := profileFixture(t, map[string]profile.Element{
		"hello": {
			AttrPath:   "packages.x86_64-linux.hello",
			StorePaths: []string{storePathFor("7", "hello-2.12")},
			Active:     true,
		},
	})

	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store",
	}

	res, err := eng.Remove(context.Background(), []string{"nope"})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(res.Removed) != 0 {
		t.Errorf("Removed = %v, want none", res.Removed)
	}
	if len(res.Missing) != 1 || res.Missing[0] != "nope" {
		t.Errorf("Missing = %v, want [nope]", res.Missing)
	}
	if res.Generation != 0 {
		t.Errorf("Generation = %d, want 0", res.Generation)
	}
	if n := adds.Load(); n != 0 {
		t.Errorf("generation builds = %d, want 0", n)
	}
}

func TestProfileUpgrade(t *testing.T) {
	dir := flakeDir(t)
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	oldPath := storePathFor("1", "hello-2.12")
	newPath := storePathFor("2", "hello-2.13")
	fortunePath := storePathFor("3", "fortune-1.0")
	prof, root := profileFixture(t, map[string]profile.Element{
		"hello": {
			AttrPath:    "packages.x86_64-linux.hello",
			OriginalURL: "path:" + canonical,
			URL:         "path:" + canonical,
			StorePaths:  []string{oldPath},
			Active:      true,
		},
		"fortune": {
			AttrPath:    "fortune",
			OriginalURL: "github:NixOS/nixpkgs",
			URL:         "github:NixOS/nixpkgs",
			StorePaths:  []string{fortunePath},
			Active:      true,
		},
	})

	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		Builder: func(ctx context.Context, program string, opts nix.BuildOptions) (string, error) {
			if !strings.Contains(program, "packages.x86_64-linux.hello") {
				t.Errorf("Builder: program does not select the attribute:\n%s", program)
			}
			return newPath + "\n", nil
		},
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store",
	}

	res, err := eng.Upgrade(context.Background(), "")
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if len(res.Upgraded) != 1 {
		t.Fatalf("Upgraded = %v, want one entry", res.Upgraded)
	}
	up := res.Upgraded[0]
	if up.Name != "hello" || up.OldPath != oldPath || up.NewPath != newPath {
		t.Errorf("Upgraded[0] = %+v, want hello %s -> %s", up, oldPath, newPath)
	}
	if res.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", res.Skipped)
	}
	if res.Generation != 2 {
		t.Errorf("Generation = %d, want 2", res.Generation)
	}
	elem := manifest.Elements["hello"]
	if len(elem.StorePaths) != 1 || elem.StorePaths[0] != newPath {
		t.Errorf("StorePaths = %v, want [%s]", elem.StorePaths, newPath)
	}
	if want := "path:" + canonical; elem.URL != want {
		t.Errorf("URL = %q, want %q", elem.URL, want)
	}
	if got := manifest.Elements["fortune"].StorePaths[0]; got != fortunePath {
		t.Errorf("fortune store path = %q, want untouched %q", got, fortunePath)
	}
}

func TestProfileUpgradeUpToDate(t *testing.T) {
	dir := flakeDir(t)
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	samePath := storePathFor("4", "hello-2.12")
	prof, root := profileFixture(t, map[string]profile.Element{
		"hello": {
			AttrPath:    "packages.x86_64-linux.hello",
			OriginalURL: "path:" + canonical,
			URL:         "path:" + canonical,
			StorePaths:  []string{samePath},
			Active:      true,
		},
	})

	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		Builder: func(ctx context.Context, program string, opts nix.BuildOptions) (string, error) {
			return samePath + "\n", nil
		},
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store",
	}

	res, err := eng.Upgrade(context.Background(), "")
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if len(res.Upgraded) != 0 {
		t.Errorf("Upgraded = %v, want none", res.Upgraded)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	if res.Generation != 0 {
		t.Errorf("Generation = %d, want 0", res.Generation)
	}
	if n := adds.Load(); n != 0 {
		t.Errorf("generation builds = %d, want 0", n)
	}
}

func TestProfileUpgradeUnknownPackage(t *testing.T) {
	prof, _ := profileFixture(t, map[string]profile.Element{
		"hello": {
			AttrPath:   "packages.x86_64-linux.hello",
			StorePaths: []string{storePathFor("5", "hello-2.12")},
			Active:     true,
		},
	})

	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		StoreDir: "/nix/store",
	}

	_, err := eng.Upgrade(context.Background(), "nope")
	if err == nil {
		t.Fatal("Upgrade succeeded for an unknown package")
	}
	if got := err.Error(); got != "package not found: nope" {
		t.Errorf("error = %q, want %q", got, "package not found: nope")
	}
}

func TestProfileUpgradeNamedRemoteSkips(t *testing.T) {
	prof, root := profileFixture(t, map[string]profile.Element{
		"fortune": {
			AttrPath:    "fortune",
			OriginalURL: "github:NixOS/nixpkgs",
			URL:         "github:NixOS/nixpkgs",
			StorePaths:  []string{storePathFor("6", "fortune-1.0")},
			Active:      true,
		},
	})

	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store",
	}

	res, err := eng.Upgrade(context.Background(), "fortune")
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if len(res.Upgraded) != 0 {
		t.Errorf("Upgraded = %v, want none", res.Upgraded)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	if n := adds.Load(); n != 0 {
		t.Errorf("generation builds = %d, want 0", n)
	}
}

func TestProfileUpgradeMissingDirectoryWarns(t *testing.T) {
	prof, root := profileFixture(t, map[string]profile.Element{
		"hello": {
			AttrPath:    "packages.x86_64-linux.hello",
			OriginalURL: "path:/does/not/exist",
			URL:         "path:/does/not/exist",
			StorePaths:  []string{storePathFor("7", "hello-2.12")},
			Active:      true,
		},
	})

	var warnings []string
	var manifest profile.Manifest
	var adds atomic.Int32
	eng := &ProfileEngine{
		Pipeline: testPipeline(probeEval(nil, nil)),
		Profile:  prof,
		Add:      captureAdd(root, &manifest, &adds),
		StoreDir: "/nix/store",
		Warn:     func(msg string) { warnings = append(warnings, msg) },
	}

	res, err := eng.Upgrade(context.Background(), "")
	if err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	if len(res.Upgraded) != 0 || res.Skipped != 1 {
		t.Errorf("Upgraded = %v, Skipped = %d, want none skipped once", res.Upgraded, res.Skipped)
	}
	if len(warnings) != 1 || warnings[0] != "flake directory not found: /does/not/exist" {
		t.Errorf("warnings = %v, want [flake directory not found: /does/not/exist]", warnings)
	}
}
