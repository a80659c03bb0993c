package expr

import (
	"strings"
	"testing"
)

func TestBuildOutputNames(t *testing.T) {
	got, err := BuildOutputNames(exprTestRequest())
	if err != nil {
		t.Fatalf("BuildOutputNames: %v", err)
	}
	if !strings.HasSuffix(got, "in builtins.attrNames outputs\n") {
		t.Errorf("tail wrong:\n%s", got)
	}
	if !strings.Contains(got, "flakeDirPath = /work/proj;") {
		t.Errorf("prelude missing:\n%s", got)
	}
}

func TestBuildCategory(t *testing.T) {
	got, err := BuildCategory(exprTestRequest(), "packages", CategoryOptions{
		System: "x86_64-linux",
	})
	if err != nil {
		t.Fatalf("BuildCategory: %v", err)
	}
	for _, want := range []string{
		`system = "x86_64-linux";`,
		"allSystemsFlag = false;",
		"showLegacyFlag = false;",
		`categoryName = "packages";`,
		"getNames = attrs:",
		"processCategory = name: val:",
		"{ _legacyOmitted = true; }",
		"{ _omitted = true; }",
		`{ _type = "configuration"; }`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expression missing %q", want)
		}
	}
	if !strings.HasSuffix(got, "in processCategory categoryName outputs.${categoryName}\n") {
		t.Errorf("tail wrong:\n%s", got)
	}
}

func TestBuildCategoryFlags(t *testing.T) {
	got, err := BuildCategory(exprTestRequest(), "legacyPackages", CategoryOptions{
		System:     "aarch64-darwin",
		AllSystems: true,
		ShowLegacy: true,
	})
	if err != nil {
		t.Fatalf("BuildCategory: %v", err)
	}
	for _, want := range []string{
		"allSystemsFlag = true;",
		"showLegacyFlag = true;",
		`system = "aarch64-darwin";`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expression missing %q", want)
		}
	}
}

func TestBuildProgramMeta(t *testing.T) {
	got, err := BuildProgramMeta(exprTestRequest(), []string{"packages", "x86_64-linux", "hello"})
	if err != nil {
		t.Fatalf("BuildProgramMeta: %v", err)
	}
	for _, want := range []string{
		"drv = outputs.packages.x86_64-linux.hello;",
		"mainProgram = drv.meta.mainProgram or null;",
		"pname = drv.pname or null;",
		"name = drv.name or null;",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expression missing %q:\n%s", want, got)
		}
	}
}
