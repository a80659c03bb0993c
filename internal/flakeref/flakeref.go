// Package flakeref parses flake references and installables.
//
// A flake reference names a source tree: a local path (`.`, `./sub`,
// `/abs`, `path:./rel`), a forge shorthand (`github:owner/repo[/ref]`,
// `gitlab:...`, `sourcehut:~user/repo`), an explicit VCS URL
// (`git+https://...?ref=main`), a tarball, a `file://` URL, or a bare
// registry name (`nixpkgs`). An installable is a reference plus an
// optional output attribute after `#`.
package flakeref

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the reference forms.
type Kind string

const (
	KindPath      Kind = "path"
	KindGitHub    Kind = "github"
	KindGitLab    Kind = "gitlab"
	KindSourcehut Kind = "sourcehut"
	KindGit       Kind = "git"
	KindTarball   Kind = "tarball"
	KindIndirect  Kind = "indirect"
	KindFile      Kind = "file"
)

// Ref is a parsed flake reference, the part before any `#`.
type Ref struct {
	Kind Kind

	Path  string // path, file
	Owner string // github, gitlab, sourcehut
	Repo  string // github, gitlab, sourcehut
	Rev   string // ref or revision for forge and indirect kinds
	URL   string // git, tarball
	ID    string // indirect

	// Params holds query parameters of git and forge references
	// (ref, rev, dir, ...).
	Params map[string]string
}

// Installable is a flake reference plus the optional attribute selecting
// an output, as given on the command line: ref#attr.
type Installable struct {
	Ref  Ref
	Attr string
}

// Parse splits an installable into reference and attribute and parses
// the reference. A trailing `#` with nothing after it means no attribute.
func Parse(input string) (Installable, error) {
	if input == "" {
		return Installable{}, errors.New("empty flake URL")
	}

	refPart := input
	attr := ""
	if pos := strings.Index(input, "#"); pos >= 0 {
		refPart = input[:pos]
		attr = input[pos+1:]
	}

	ref, err := ParseRef(refPart)
	if err != nil {
		return Installable{}, err
	}
	return Installable{Ref: ref, Attr: attr}, nil
}

// ParseRef parses a flake reference without an attribute part.
func ParseRef(input string) (Ref, error) {
	if input == "" {
		return Ref{}, errors.New("empty flake reference")
	}

	switch {
	case strings.HasPrefix(input, "github:"):
		return parseForge(KindGitHub, strings.TrimPrefix(input, "github:"), "github: requires owner/repo format")
	case strings.HasPrefix(input, "gitlab:"):
		return parseForge(KindGitLab, strings.TrimPrefix(input, "gitlab:"), "gitlab: requires owner/repo format")
	case strings.HasPrefix(input, "sourcehut:"):
		return parseForge(KindSourcehut, strings.TrimPrefix(input, "sourcehut:"), "sourcehut: requires ~owner/repo format")
	case strings.HasPrefix(input, "git+"):
		return parseGit(input)
	case strings.HasPrefix(input, "path:"):
		return Ref{Kind: KindPath, Path: strings.TrimPrefix(input, "path:")}, nil
	case strings.HasPrefix(input, "flake:"):
		return parseIndirect(strings.TrimPrefix(input, "flake:"))
	case strings.HasPrefix(input, "tarball+"):
		return Ref{Kind: KindTarball, URL: strings.TrimPrefix(input, "tarball+")}, nil
	case strings.HasPrefix(input, "file:"):
		return parseFile(input), nil
	case strings.HasPrefix(input, "http://"), strings.HasPrefix(input, "https://"):
		if isTarballURL(input) {
			return Ref{Kind: KindTarball, URL: input}, nil
		}
		return parseGit("git+" + input)
	case input == "." || strings.HasPrefix(input, "./") || strings.HasPrefix(input, "../") || strings.HasPrefix(input, "/"):
		return Ref{Kind: KindPath, Path: input}, nil
	}

	return parseIndirect(input)
}

func parseForge(kind Kind, input, formatErr string) (Ref, error) {
	pathPart, params := splitQuery(input)

	parts := strings.Split(pathPart, "/")
	if len(parts) < 2 {
		return Ref{}, errors.New(formatErr)
	}
	owner, repo := parts[0], parts[1]
	if owner == "" || repo == "" {
		return Ref{}, fmt.Errorf("%s: owner and repo cannot be empty", kind)
	}

	ref := Ref{Kind: kind, Owner: owner, Repo: repo, Params: params}
	if len(parts) > 2 {
		// Branch names may contain slashes.
		ref.Rev = strings.Join(parts[2:], "/")
	}
	return ref, nil
}

func parseGit(input string) (Ref, error) {
	urlPart := strings.TrimPrefix(input, "git+")
	url, params := splitQuery(urlPart)
	return Ref{Kind: KindGit, URL: url, Params: params}, nil
}

func parseFile(input string) Ref {
	path := input
	for _, prefix := range []string{"file://localhost", "file://"} {
		if strings.HasPrefix(input, prefix) {
			path = strings.TrimPrefix(input, prefix)
			break
		}
	}
	return Ref{Kind: KindFile, Path: path}
}

func parseIndirect(input string) (Ref, error) {
	pathPart, _ := splitQuery(input)

	parts := strings.Split(pathPart, "/")
	if parts[0] == "" {
		return Ref{}, errors.New("indirect flake reference cannot be empty")
	}

	ref := Ref{Kind: KindIndirect, ID: parts[0]}
	if len(parts) > 1 {
		ref.Rev = strings.Join(parts[1:], "/")
	}
	return ref, nil
}

func isTarballURL(input string) bool {
	lower := strings.ToLower(input)
	for _, ext := range []string{".tar.gz", ".tar.xz", ".tar.bz2", ".tar", ".zip", ".tgz"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func encodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := params[k]; v == "" {
			pairs = append(pairs, k)
		} else {
			pairs = append(pairs, k+"="+v)
		}
	}
	return "?" + strings.Join(pairs, "&")
}

func splitQuery(input string) (string, map[string]string) {
	pos := strings.Index(input, "?")
	if pos < 0 {
		return input, nil
	}
	params := make(map[string]string)
	for _, part := range strings.Split(input[pos+1:], "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		params[key] = value
	}
	return input[:pos], params
}

// String renders the reference back to its canonical form. Parsing the
// result yields an equal reference.
func (r Ref) String() string {
	switch r.Kind {
	case KindPath:
		return r.Path
	case KindGitHub, KindGitLab, KindSourcehut:
		s := fmt.Sprintf("%s:%s/%s", r.Kind, r.Owner, r.Repo)
		if r.Rev != "" {
			s += "/" + r.Rev
		}
		return s + encodeParams(r.Params)
	case KindGit:
		return "git+" + r.URL + encodeParams(r.Params)
	case KindTarball:
		return r.URL
	case KindIndirect:
		s := r.ID
		if r.Rev != "" {
			s += "/" + r.Rev
		}
		return s
	case KindFile:
		return "file://" + r.Path
	}
	return ""
}

// String renders the installable as ref#attr, or just the reference when
// no attribute is set.
func (i Installable) String() string {
	if i.Attr == "" {
		return i.Ref.String()
	}
	return i.Ref.String() + "#" + i.Attr
}

// IsLocal reports whether the reference names a tree on the local
// filesystem that can be used without fetching.
func (r Ref) IsLocal() bool {
	return r.Kind == KindPath || r.Kind == KindFile
}
