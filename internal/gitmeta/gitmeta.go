// Package gitmeta collects the git metadata a flake exposes through its
// self attribute.
package gitmeta

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Info is the metadata of a flake directory's git tree. Clean trees carry
// Rev, ShortRev, and RevCount; dirty trees carry DirtyRev and
// DirtyShortRev instead. LastModified is always set for a repository with
// at least one commit. The zero Info means the directory is not inside a
// repository.
type Info struct {
	Rev              string
	ShortRev         string
	DirtyRev         string
	DirtyShortRev    string
	LastModified     int64
	LastModifiedDate string
	RevCount         int64
}

// Collect gathers git metadata for dir. A directory outside any git
// repository yields the zero Info without error.
func Collect(ctx context.Context, dir string) (Info, error) {
	if _, err := git(ctx, dir, "rev-parse", "--is-inside-work-tree"); err != nil {
		return Info{}, nil
	}

	rev, err := git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return Info{}, fmt.Errorf("resolving HEAD in %s: %w", dir, err)
	}
	shortRev := rev
	if len(shortRev) > 7 {
		shortRev = shortRev[:7]
	}

	var info Info
	dirty, err := isDirty(ctx, dir)
	if err != nil {
		return Info{}, err
	}
	if dirty {
		info.DirtyRev = rev + "-dirty"
		info.DirtyShortRev = shortRev + "-dirty"
	} else {
		info.Rev = rev
		info.ShortRev = shortRev
		count, countErr := git(ctx, dir, "rev-list", "--count", "HEAD")
		if countErr != nil {
			return Info{}, fmt.Errorf("counting commits in %s: %w", dir, countErr)
		}
		info.RevCount, _ = strconv.ParseInt(count, 10, 64)
	}

	stamp, err := git(ctx, dir, "log", "-1", "--format=%ct")
	if err != nil {
		return Info{}, fmt.Errorf("reading commit time in %s: %w", dir, err)
	}
	if ts, parseErr := strconv.ParseInt(stamp, 10, 64); parseErr == nil {
		info.LastModified = ts
		info.LastModifiedDate = time.Unix(ts, 0).UTC().Format("20060102150405")
	}

	return info, nil
}

// IsRepo reports whether dir sits inside a git work tree. Unlike
// Collect it answers true even for a repository with no commits yet.
func IsRepo(ctx context.Context, dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	_, err := git(ctx, dir, "rev-parse", "--git-dir")
	return err == nil
}

// isDirty reports whether tracked files have uncommitted changes.
// Untracked files do not count.
func isDirty(ctx context.Context, dir string) (bool, error) {
	out, err := git(ctx, dir, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, fmt.Errorf("checking status of %s: %w", dir, err)
	}
	return out != "", nil
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
