package cmd

import (
	"strings"
	"testing"

	"github.com/bianoble/flint/internal/lock"
)

func TestCutPair(t *testing.T) {
	tests := []struct {
		in        string
		name, val string
		ok        bool
	}{
		{"a=b", "a", "b", true},
		{"name=github:o/r", "name", "github:o/r", true},
		{"k=", "k", "", true},
		{"a=b=c", "a", "b=c", true},
		{"noequals", "", "", false},
		{"=v", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		name, val, ok := cutPair(tt.in)
		if name != tt.name || val != tt.val || ok != tt.ok {
			t.Errorf("cutPair(%q) = %q, %q, %v, want %q, %q, %v",
				tt.in, name, val, ok, tt.name, tt.val, tt.ok)
		}
	}
}

func TestParsePairs(t *testing.T) {
	got, err := parsePairs("--arg", []string{"a=1", "b=x y"})
	if err != nil {
		t.Fatalf("parsePairs: %v", err)
	}
	if got["a"] != "1" || got["b"] != "x y" {
		t.Errorf("parsePairs = %v", got)
	}

	if got, err := parsePairs("--arg", nil); err != nil || got != nil {
		t.Errorf("empty specs = %v, %v, want nil, nil", got, err)
	}

	_, err = parsePairs("--argstr", []string{"bad"})
	if err == nil || !strings.Contains(err.Error(), "--argstr") {
		t.Errorf("error = %v, want mention of --argstr", err)
	}
}

func TestParseOverridesFlag(t *testing.T) {
	overrides, err := parseOverrides([]string{"nixpkgs=github:NixOS/nixpkgs/rev"})
	if err != nil {
		t.Fatalf("parseOverrides: %v", err)
	}
	if len(overrides) != 1 {
		t.Fatalf("overrides = %v", overrides)
	}
	if overrides[0].Input != "nixpkgs" || overrides[0].Ref != "github:NixOS/nixpkgs/rev" {
		t.Errorf("override = %+v", overrides[0])
	}

	if _, err := parseOverrides([]string{"justaname"}); err == nil {
		t.Error("expected error for spec without '='")
	}
}

func TestLockedURL(t *testing.T) {
	tests := []struct {
		name string
		src  *lock.Source
		want string
	}{
		{"nil", nil, ""},
		{"github", &lock.Source{Type: "github", Owner: "NixOS", Repo: "nixpkgs", Rev: "abc123"}, "github:NixOS/nixpkgs/abc123"},
		{"github no rev", &lock.Source{Type: "github", Owner: "NixOS", Repo: "nixpkgs"}, "github:NixOS/nixpkgs"},
		{"gitlab", &lock.Source{Type: "gitlab", Owner: "grp", Repo: "proj", Rev: "r1"}, "gitlab:grp/proj/r1"},
		{"git", &lock.Source{Type: "git", URL: "https://example.com/r.git", Rev: "abc"}, "git+https://example.com/r.git?rev=abc"},
		{"git no rev", &lock.Source{Type: "git", URL: "ssh://git@example.com/r"}, "git+ssh://git@example.com/r"},
		{"path", &lock.Source{Type: "path", Path: "/srv/flake"}, "path:/srv/flake"},
		{"tarball", &lock.Source{Type: "tarball", URL: "https://example.com/t.tar.gz"}, "https://example.com/t.tar.gz"},
		{"indirect", &lock.Source{Type: "indirect", ID: "nixpkgs"}, "indirect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lockedURL(tt.src); got != tt.want {
				t.Errorf("lockedURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShortDate(t *testing.T) {
	if got := shortDate(0); got != "" {
		t.Errorf("shortDate(0) = %q, want empty", got)
	}
	// 2022-08-06 00:00:00 UTC
	if got := shortDate(1659744000); got != "2022-08-06" {
		t.Errorf("shortDate = %q, want 2022-08-06", got)
	}
}

func TestColorizeDisabled(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	if got := bold("x"); got != "x" {
		t.Errorf("bold with --no-color = %q, want plain", got)
	}
	if got := cyan("ref"); got != "ref" {
		t.Errorf("cyan with --no-color = %q, want plain", got)
	}
}
