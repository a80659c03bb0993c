package expr

import (
	"fmt"

	"github.com/bianoble/flint/internal/lock"
)

// BuildSourceLock synthesizes the program that fetches a locked source
// by its pinned hash and reads its flake.lock, yielding the file
// content as a string or "" when the source carries none. Path sources
// never come through here; callers read those straight off the
// filesystem.
func BuildSourceLock(src *lock.Source) (string, error) {
	if src.Type == lock.TypeGit {
		refArg := ""
		if src.Ref != "" {
			refArg = fmt.Sprintf("\n    ref = %s;", nixString(src.Ref))
		}
		return fmt.Sprintf(`let
  src = builtins.fetchGit {
    url = %s;
    rev = %s;
    narHash = %s;%s
  };
  lockPath = src + "/flake.lock";
in if builtins.pathExists lockPath then builtins.readFile lockPath else ""
`, nixString(src.URL), nixString(src.Rev), nixString(src.NARHash), refArg), nil
	}

	url, err := archiveURL(src)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`let
  src = builtins.fetchTarball {
    url = %s;
    sha256 = %s;
  };
  lockPath = src + "/flake.lock";
in if builtins.pathExists lockPath then builtins.readFile lockPath else ""
`, nixString(url), nixString(src.NARHash)), nil
}

// archiveURL renders the tarball endpoint each forge serves for a
// pinned revision.
func archiveURL(src *lock.Source) (string, error) {
	switch src.Type {
	case lock.TypeGitHub:
		return fmt.Sprintf("https://github.com/%s/%s/archive/%s.tar.gz", src.Owner, src.Repo, src.Rev), nil
	case lock.TypeGitLab:
		host := src.Host
		if host == "" {
			host = "gitlab.com"
		}
		return fmt.Sprintf("https://%s/%s/%s/-/archive/%s/%s-%s.tar.gz", host, src.Owner, src.Repo, src.Rev, src.Repo, src.Rev), nil
	case lock.TypeSourcehut:
		host := src.Host
		if host == "" {
			host = "git.sr.ht"
		}
		return fmt.Sprintf("https://%s/~%s/%s/archive/%s.tar.gz", host, src.Owner, src.Repo, src.Rev), nil
	case lock.TypeTarball, "file":
		return src.URL, nil
	default:
		return "", fmt.Errorf("cannot fetch '%s' sources", src.Type)
	}
}
