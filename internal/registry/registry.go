// Package registry resolves short flake names like "nixpkgs" through
// the user, system, and global flake registries, in that order. The
// global registry is fetched over HTTP and cached on disk; when a
// refresh fails, a stale copy is still served so offline use keeps
// working.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bianoble/flint/internal/cache"
	"github.com/bianoble/flint/internal/flakeref"
	"github.com/bianoble/flint/internal/sandbox"
)

// DefaultGlobalURL is the flake registry published for nixpkgs channels.
const DefaultGlobalURL = "https://channels.nixos.org/flake-registry.json"

const (
	globalTTL      = time.Hour
	globalCacheKey = "flake-registry.json"
	fetchTimeout   = 5 * time.Second
)

// File is the registry format shared with nix: a version marker and a
// list of name-to-reference mappings.
type File struct {
	Version int      `json:"version"`
	Flakes  []Record `json:"flakes"`
}

// Record maps an indirect name to a concrete flake reference.
type Record struct {
	From From  `json:"from"`
	To   Entry `json:"to"`
}

// From identifies the short name being mapped. Only "indirect" entries
// participate in name resolution.
type From struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Entry is the concrete reference a name resolves to. Types other than
// path, github, and git are preserved on disk but skipped during
// resolution.
type Entry struct {
	Type  string `json:"type"`
	Path  string `json:"path,omitempty"`
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
	Ref   string `json:"ref,omitempty"`
	Rev   string `json:"rev,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Local reports whether the entry points at a directory on this machine.
func (e Entry) Local() bool {
	return e.Type == "path"
}

// FlakeRef renders the entry as a flake reference string. Path entries
// render as the bare path so they can be used as a directory directly.
func (e Entry) FlakeRef() (string, bool) {
	switch e.Type {
	case "path":
		return e.Path, true
	case "github":
		ref := flakeref.Ref{Kind: flakeref.KindGitHub, Owner: e.Owner, Repo: e.Repo}
		if e.Rev != "" {
			ref.Rev = e.Rev
		} else if e.Ref != "" {
			ref.Rev = e.Ref
		}
		return ref.String(), true
	case "git":
		ref := flakeref.Ref{Kind: flakeref.KindGit, URL: e.URL}
		params := map[string]string{}
		if e.Ref != "" {
			params["ref"] = e.Ref
		}
		if e.Rev != "" {
			params["rev"] = e.Rev
		}
		if len(params) > 0 {
			ref.Params = params
		}
		return ref.String(), true
	}
	return "", false
}

// Listed is a registry mapping together with the registry it came from.
type Listed struct {
	Name   string
	Source string // "user", "system", or "global"
	Entry  Entry
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry reads and writes flake registries. The zero value is not
// usable; construct with New and override fields for tests.
type Registry struct {
	UserPath   string
	SystemPath string
	GlobalURL  string
	Cache      *cache.Cache // nil disables caching of the global registry
	Client     HTTPClient
	Timeout    time.Duration
	TTL        time.Duration // how long the cached global registry stays fresh
}

// New returns a Registry with the standard nix paths and the default
// global registry URL.
func New() *Registry {
	r := &Registry{
		UserPath:   defaultUserPath(),
		SystemPath: "/etc/nix/registry.json",
		GlobalURL:  DefaultGlobalURL,
		Timeout:    fetchTimeout,
		TTL:        globalTTL,
	}
	if c, err := cache.New(cache.DefaultDir()); err == nil {
		r.Cache = c
	}
	return r
}

func defaultUserPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nix", "registry.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nix", "registry.json")
}

// Lookup resolves a name through user, system, and global registries.
// The global registry is only consulted when the local files miss.
func (r *Registry) Lookup(ctx context.Context, name string) (Entry, bool) {
	if e, ok := findName(loadFile(r.UserPath), name); ok {
		return e, true
	}
	if e, ok := findName(loadFile(r.SystemPath), name); ok {
		return e, true
	}
	return findName(r.global(ctx), name)
}

// List returns all mappings from all registries, user entries first.
// Shadowed names appear once per registry that defines them.
func (r *Registry) List(ctx context.Context) []Listed {
	var out []Listed
	collect := func(f File, source string) {
		for _, rec := range f.Flakes {
			if rec.From.Type != "indirect" || rec.From.ID == "" || !supportedEntry(rec.To) {
				continue
			}
			out = append(out, Listed{Name: rec.From.ID, Source: source, Entry: rec.To})
		}
	}
	collect(loadFile(r.UserPath), "user")
	collect(loadFile(r.SystemPath), "system")
	collect(r.global(ctx), "global")
	return out
}

// Add maps name to target in the user registry, replacing any existing
// mapping for the same name.
func (r *Registry) Add(name, target string) error {
	if !IsName(name) {
		return fmt.Errorf("invalid registry name '%s'", name)
	}
	if r.UserPath == "" {
		return fmt.Errorf("cannot determine user registry path")
	}

	f := loadFile(r.UserPath)
	if f.Version == 0 {
		f.Version = 2
	}

	kept := make([]Record, 0, len(f.Flakes)+1)
	for _, rec := range f.Flakes {
		if rec.From.Type == "indirect" && rec.From.ID == name {
			continue
		}
		kept = append(kept, rec)
	}
	f.Flakes = append(kept, Record{
		From: From{Type: "indirect", ID: name},
		To:   ParseTarget(target),
	})
	return saveFile(r.UserPath, f)
}

// Remove deletes the mapping for name from the user registry. Returns
// whether a mapping existed.
func (r *Registry) Remove(name string) (bool, error) {
	if r.UserPath == "" {
		return false, fmt.Errorf("cannot determine user registry path")
	}

	f := loadFile(r.UserPath)
	kept := make([]Record, 0, len(f.Flakes))
	found := false
	for _, rec := range f.Flakes {
		if rec.From.Type == "indirect" && rec.From.ID == name {
			found = true
			continue
		}
		kept = append(kept, rec)
	}
	if !found {
		return false, nil
	}

	f.Flakes = kept
	if f.Version == 0 {
		f.Version = 2
	}
	return true, saveFile(r.UserPath, f)
}

// global returns the global registry, from the disk cache when fresh,
// refetching when stale, and falling back to stale data when the
// refetch fails.
func (r *Registry) global(ctx context.Context) File {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = globalTTL
	}
	if r.Cache != nil {
		if entry, ok, _ := r.Cache.Get(globalCacheKey); ok && !entry.OlderThan(ttl) {
			if f, err := decodeFile(entry.Data); err == nil {
				return f
			}
		}
	}

	data, err := r.fetchGlobal(ctx)
	if err == nil {
		if f, decErr := decodeFile(data); decErr == nil {
			if r.Cache != nil {
				_ = r.Cache.Put(globalCacheKey, data)
			}
			return f
		}
	}

	// Refetch failed; a stale copy beats nothing.
	if r.Cache != nil {
		if entry, ok, _ := r.Cache.Get(globalCacheKey); ok {
			if f, decErr := decodeFile(entry.Data); decErr == nil {
				return f
			}
			_ = r.Cache.Remove(globalCacheKey)
		}
	}
	return File{}
}

func (r *Registry) fetchGlobal(ctx context.Context) ([]byte, error) {
	url := r.GlobalURL
	if url == "" {
		url = DefaultGlobalURL
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

// IsName reports whether ref looks like a bare registry name such as
// "nixpkgs", as opposed to a path or a URL-like reference.
func IsName(ref string) bool {
	base := ref
	if i := strings.Index(ref, "#"); i >= 0 {
		base = ref[:i]
	}
	if base == "" {
		return false
	}
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "/") || strings.HasPrefix(base, "~") {
		return false
	}
	for _, c := range base {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// ParseTarget converts a flake reference string into a registry entry.
// Paths are canonicalized so the entry stays valid from any working
// directory. References that do not map onto a supported entry type are
// recorded as paths, matching what they would resolve to locally.
func ParseTarget(target string) Entry {
	base, query := target, ""
	if i := strings.Index(target, "?"); i >= 0 && strings.HasPrefix(target, "github:") {
		base, query = target[:i], target[i+1:]
	}

	parsed, err := flakeref.ParseRef(base)
	if err != nil {
		return Entry{Type: "path", Path: canonicalPath(target)}
	}

	switch parsed.Kind {
	case flakeref.KindGitHub:
		e := Entry{Type: "github", Owner: parsed.Owner, Repo: parsed.Repo}
		if parsed.Rev != "" {
			if looksLikeRev(parsed.Rev) {
				e.Rev = parsed.Rev
			} else {
				e.Ref = parsed.Rev
			}
		}
		for _, kv := range strings.Split(query, "&") {
			k, v, _ := strings.Cut(kv, "=")
			switch k {
			case "ref":
				e.Ref = v
			case "rev":
				e.Rev = v
			}
		}
		return e
	case flakeref.KindGit:
		return Entry{
			Type: "git",
			URL:  parsed.URL,
			Ref:  parsed.Params["ref"],
			Rev:  parsed.Params["rev"],
		}
	case flakeref.KindPath, flakeref.KindFile:
		return Entry{Type: "path", Path: canonicalPath(parsed.Path)}
	}
	return Entry{Type: "path", Path: canonicalPath(target)}
}

func looksLikeRev(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		ok := c >= '0' && c <= '9' || c >= 'a' && c <= 'f'
		if !ok {
			return false
		}
	}
	return true
}

func canonicalPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// loadFile reads a registry file, treating a missing or unreadable file
// as empty. Registries are best-effort; a broken one should not block
// resolution through the others.
func loadFile(path string) File {
	if path == "" {
		return File{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}
	}
	f, err := decodeFile(data)
	if err != nil {
		return File{}
	}
	return f
}

func decodeFile(data []byte) (File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing registry: %w", err)
	}
	return f, nil
}

func saveFile(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	data = append(data, '\n')
	if err := sandbox.AtomicWrite(path, data, 0644); err != nil {
		return fmt.Errorf("writing registry %s: %w", path, err)
	}
	return nil
}

func findName(f File, name string) (Entry, bool) {
	for _, rec := range f.Flakes {
		if rec.From.Type == "indirect" && rec.From.ID == name && supportedEntry(rec.To) {
			return rec.To, true
		}
	}
	return Entry{}, false
}

// supportedEntry reports whether the entry type participates in name
// resolution. Others stay in the file untouched but resolve as misses.
func supportedEntry(e Entry) bool {
	switch e.Type {
	case "path", "github", "git":
		return true
	}
	return false
}
