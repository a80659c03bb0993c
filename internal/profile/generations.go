package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Profile is a nix profile anchored at its user-facing symlink.
type Profile struct {
	// Link is the profile symlink, ~/.nix-profile by default.
	Link string

	// LinksDir overrides where the generation links live. Empty
	// derives it from the link target, falling back to the per-user
	// default.
	LinksDir string
}

// New returns the profile behind link, or the default user profile
// when link is empty.
func New(link string) (*Profile, error) {
	if link == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		link = filepath.Join(home, ".nix-profile")
	}
	return &Profile{Link: link}, nil
}

// Dir returns the directory holding the generation links. When the
// profile symlink exists, its target's directory wins; otherwise the
// conventional per-user location.
func (p *Profile) Dir() (string, error) {
	if p.LinksDir != "" {
		return p.LinksDir, nil
	}
	if target, err := os.Readlink(p.Link); err == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(p.Link), target)
		}
		return filepath.Dir(target), nil
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "default"
	}
	return filepath.Join("/nix/var/nix/profiles/per-user", user), nil
}

// CurrentPath resolves the profile symlink to the store path of the
// current generation.
func (p *Profile) CurrentPath() (string, error) {
	path, err := filepath.EvalSymlinks(p.Link)
	if err != nil {
		return "", fmt.Errorf("resolving profile link %s: %w", p.Link, err)
	}
	return path, nil
}

// Manifest reads the current generation's manifest. A profile that
// does not exist yet reads as empty.
func (p *Profile) Manifest() (*Manifest, error) {
	current, err := p.CurrentPath()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewManifest(), nil
		}
		return nil, err
	}
	return ReadManifest(current)
}

// Installed is one manifest element paired with its name.
type Installed struct {
	Name string
	Element
}

// List returns the installed packages sorted by name.
func (p *Profile) List() ([]Installed, error) {
	m, err := p.Manifest()
	if err != nil {
		return nil, err
	}
	out := make([]Installed, 0, len(m.Elements))
	for name, elem := range m.Elements {
		out = append(out, Installed{Name: name, Element: elem})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Generation is one profile version on disk.
type Generation struct {
	Number int
	Link   string    // the profile-N-link path
	Target string    // the store path the link points at
	Time   time.Time // link mtime, when the switch happened
}

// ParseGenerationNumber extracts N from a profile-N-link filename.
func ParseGenerationNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "profile-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "-link")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Generations lists the profile's versions sorted by number. A profile
// directory that does not exist yet lists as empty.
func (p *Profile) Generations() ([]Generation, error) {
	dir, err := p.Dir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var gens []Generation
	for _, entry := range entries {
		num, ok := ParseGenerationNumber(entry.Name())
		if !ok {
			continue
		}
		link := filepath.Join(dir, entry.Name())
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		gens = append(gens, Generation{Number: num, Link: link, Target: target, Time: fi.ModTime()})
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].Number < gens[j].Number })
	return gens, nil
}

// Current returns the generation the profile symlink points at, or nil
// when none of the generation links matches.
func (p *Profile) Current() (*Generation, error) {
	current, err := p.CurrentPath()
	if err != nil {
		return nil, err
	}
	gens, err := p.Generations()
	if err != nil {
		return nil, err
	}
	for i := range gens {
		if filepath.Clean(gens[i].Target) == filepath.Clean(current) {
			return &gens[i], nil
		}
	}
	return nil, nil
}

// NextNumber returns the number the next generation will take.
func (p *Profile) NextNumber() (int, error) {
	gens, err := p.Generations()
	if err != nil {
		return 0, err
	}
	max := 0
	for _, g := range gens {
		if g.Number > max {
			max = g.Number
		}
	}
	return max + 1, nil
}

// Switch makes storePath the current generation: a new profile-N-link
// plus an atomic retarget of the profile symlink. Returns the new
// generation number.
func (p *Profile) Switch(storePath string) (int, error) {
	dir, err := p.Dir()
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	next, err := p.NextNumber()
	if err != nil {
		return 0, err
	}

	genLink := filepath.Join(dir, fmt.Sprintf("profile-%d-link", next))
	if err := os.Symlink(storePath, genLink); err != nil {
		return 0, err
	}

	// The temp link lives next to the profile symlink so the rename
	// never crosses a filesystem.
	tmp := p.Link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(genLink, tmp); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, p.Link); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return next, nil
}

// Rollback switches to generation to, or to the one just before the
// current generation when to is zero. The chosen generation's store
// path becomes a fresh generation, so history only ever moves forward.
// Returns the generation number rolled back to.
func (p *Profile) Rollback(to int) (int, error) {
	gens, err := p.Generations()
	if err != nil {
		return 0, err
	}

	if to > 0 {
		for _, g := range gens {
			if g.Number == to {
				if _, err := p.Switch(g.Target); err != nil {
					return 0, err
				}
				return to, nil
			}
		}
		return 0, fmt.Errorf("generation %d not found", to)
	}

	current, err := p.Current()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, errors.New("no previous generation to roll back to")
		}
		return 0, err
	}
	if current != nil {
		for i := len(gens) - 1; i >= 0; i-- {
			if gens[i].Number < current.Number {
				if _, err := p.Switch(gens[i].Target); err != nil {
					return 0, err
				}
				return gens[i].Number, nil
			}
		}
	}
	return 0, errors.New("no previous generation to roll back to")
}

// WipeHistory deletes every generation except the current one,
// optionally keeping anything younger than olderThan. With dryRun the
// candidates are only reported. Returns the removed generations
// ordered by number.
func (p *Profile) WipeHistory(olderThan time.Duration, dryRun bool) ([]Generation, error) {
	gens, err := p.Generations()
	if err != nil {
		return nil, err
	}
	current, _ := p.CurrentPath()
	now := time.Now()

	var doomed []Generation
	for _, g := range gens {
		if current != "" && filepath.Clean(g.Target) == filepath.Clean(current) {
			continue
		}
		if olderThan > 0 && now.Sub(g.Time) < olderThan {
			continue
		}
		doomed = append(doomed, g)
	}

	if dryRun {
		return doomed, nil
	}
	for _, g := range doomed {
		if err := os.Remove(g.Link); err != nil {
			return nil, err
		}
	}
	return doomed, nil
}

// ParseOlderThan parses wipe-history's age filter: an integer followed
// by s, m, h, d, or w. A bare number means days.
func ParseOlderThan(s string) (time.Duration, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(s[:i])
	if i == 0 || err != nil {
		return 0, fmt.Errorf("invalid age '%s' — use forms like '30d' or '12h'", s)
	}

	unit := "d"
	if i < len(s) {
		unit = s[i:]
	}
	switch unit {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid unit in age '%s' — expected s, m, h, d, or w", s)
}
