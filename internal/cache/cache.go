package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache provides keyed on-disk storage for data fetched over the
// network, such as the global flake registry. Every entry carries a
// checksum header and is verified on retrieval, so a torn or corrupted
// file reads as a miss rather than bad data.
type Cache struct {
	dir string
}

// Entry is a cached value together with the time it was stored.
// Freshness policy belongs to the caller, not the cache.
type Entry struct {
	Data   []byte
	Stored time.Time
}

// OlderThan reports whether the entry was stored more than ttl ago.
func (e Entry) OlderThan(ttl time.Duration) bool {
	return time.Since(e.Stored) > ttl
}

// New creates a Cache at the given directory.
// The directory is created if it does not exist.
func New(dir string) (*Cache, error) {
	entryDir := filepath.Join(dir, "entries")
	if err := os.MkdirAll(entryDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", entryDir, err)
	}
	return &Cache{dir: dir}, nil
}

// DefaultDir returns the default cache directory.
// Uses XDG_CACHE_HOME if set, otherwise ~/.cache/flint.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "flint")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "flint-cache")
	}
	return filepath.Join(home, ".cache", "flint")
}

// Get retrieves a cached entry by key.
// Returns the entry and true if found and verified.
// A missing or corrupt entry returns false; corrupt entries are removed.
func (c *Cache) Get(key string) (Entry, bool, error) {
	path := c.entryPath(key)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}

	data, ok := verify(raw)
	if !ok {
		// Self-healing: remove corrupt entry.
		_ = os.Remove(path)
		return Entry{}, false, nil
	}

	entry := Entry{Data: data}
	if info, statErr := os.Stat(path); statErr == nil {
		entry.Stored = info.ModTime()
	}
	return entry, true, nil
}

// Put stores content under key, replacing any previous entry.
func (c *Cache) Put(key string, content []byte) error {
	path := c.entryPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache subdirectory: %w", err)
	}

	// Atomic write: temp file + rename.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(seal(content)); err != nil {
		return fmt.Errorf("writing cache temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming cache temp file: %w", err)
	}

	success = true
	return nil
}

// Remove deletes the entry for key. Removing an absent key is not an error.
func (c *Cache) Remove(key string) error {
	err := os.Remove(c.entryPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache entry %s: %w", key, err)
	}
	return nil
}

// Path returns the cache directory path.
func (c *Cache) Path() string {
	return c.dir
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.dir, "entries", entryName(key))
}

// entryName maps a key to a safe file name. Anything outside a
// conservative character set is replaced, and degenerate names fall
// back to the key's hash.
func entryName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := b.String()
	if name == "" || name == "." || name == ".." {
		return computeSum([]byte(key))
	}
	return name
}

const sumLen = 64 // hex-encoded SHA256

// seal prepends the checksum header to content.
func seal(content []byte) []byte {
	sum := computeSum(content)
	buf := make([]byte, 0, sumLen+1+len(content))
	buf = append(buf, sum...)
	buf = append(buf, '\n')
	buf = append(buf, content...)
	return buf
}

// verify splits a raw entry into its payload, checking the checksum header.
func verify(raw []byte) ([]byte, bool) {
	if len(raw) < sumLen+1 || raw[sumLen] != '\n' {
		return nil, false
	}
	sum := string(raw[:sumLen])
	content := raw[sumLen+1:]
	if computeSum(content) != sum {
		return nil, false
	}
	return content, true
}

func computeSum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
