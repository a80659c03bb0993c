package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/gitmeta"
)

var (
	showAllSystems bool
	showLegacy     bool
	showJSON       bool
	showOverrides  []string
)

var flakeShowCmd = &cobra.Command{
	Use:   "show [installable]",
	Short: "Show the output structure of a flake",
	Long: `Enumerate the outputs of a flake as a tree without building or
forcing any of them. Entries for other platforms are hidden unless
--all-systems is given; legacyPackages stays collapsed unless --legacy
is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		installable := "."
		if len(args) > 0 {
			installable = args[0]
		}

		overrides, err := parseOverrides(showOverrides)
		if err != nil {
			return err
		}

		target, err := resolveTarget(ctx, installable)
		if err != nil {
			return err
		}
		if !target.Local() {
			pass := []string{"flake", "show", installable}
			if showAllSystems {
				pass = append(pass, "--all-systems")
			}
			if showLegacy {
				pass = append(pass, "--legacy")
			}
			if showJSON {
				pass = append(pass, "--json")
			}
			return passthrough(ctx, pass...)
		}

		eng := &engine.ShowEngine{Pipeline: newPipeline()}
		res, err := eng.Show(ctx, target, engine.ShowOptions{
			AllSystems: showAllSystems,
			ShowLegacy: showLegacy,
			Overrides:  overrides,
		})
		if err != nil {
			return err
		}

		if showJSON {
			return printShowJSON(os.Stdout, res)
		}

		header := "path:" + canonicalDir(target.Dir)
		if gitmeta.IsRepo(ctx, target.Dir) {
			header = "git+file://" + canonicalDir(target.Dir)
		}
		fmt.Println(bold(header))
		printShowTree(os.Stdout, res)
		return nil
	},
}

func canonicalDir(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved
	}
	return dir
}

// printShowTree renders the enumerated outputs as a connector tree.
// Categories keep their evaluation order; names below them sort.
func printShowTree(w io.Writer, res *engine.ShowResult) {
	var nodes []showNode
	for _, cat := range res.Categories {
		raw, ok := res.Structure[cat]
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		if !displayable(value) {
			continue
		}
		nodes = append(nodes, showNode{name: cat, value: value})
	}
	for i, n := range nodes {
		printShowNode(w, n, "", i == len(nodes)-1)
	}
}

type showNode struct {
	name  string
	value any
}

func printShowNode(w io.Writer, n showNode, prefix string, last bool) {
	connector := greenBold("├───")
	childPrefix := prefix + greenBold("│") + "   "
	if last {
		connector = greenBold("└───")
		childPrefix = prefix + "    "
	}

	line := prefix + connector + bold(n.name)
	obj, isObj := n.value.(map[string]any)
	if isObj {
		switch {
		case obj["_omitted"] == true:
			fmt.Fprintln(w, line+" "+magentaBold("omitted")+" (use '--all-systems' to show)")
			return
		case obj["_legacyOmitted"] == true:
			fmt.Fprintln(w, line+" "+magentaBold("omitted")+" (use '--legacy' to show)")
			return
		case obj["_unknown"] == true:
			fmt.Fprintln(w, line+": unknown")
			return
		}
		if kind, ok := obj["_type"].(string); ok {
			fmt.Fprintln(w, line+": "+typeLabel(kind))
			return
		}
	}

	fmt.Fprintln(w, line)
	if !isObj {
		return
	}

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	var children []showNode
	for _, name := range names {
		if displayable(obj[name]) {
			children = append(children, showNode{name: name, value: obj[name]})
		}
	}
	for i, c := range children {
		printShowNode(w, c, childPrefix, i == len(children)-1)
	}
}

func typeLabel(kind string) string {
	switch kind {
	case "formatter":
		return "package"
	case "module":
		return magentaBold("NixOS module")
	case "overlay":
		return magentaBold("Nixpkgs overlay")
	case "template":
		return "template"
	case "configuration":
		return "NixOS configuration"
	}
	return kind
}

// displayable filters subtrees that would render nothing: objects with
// no displayable children. Markers and leaves always display.
func displayable(value any) bool {
	obj, ok := value.(map[string]any)
	if !ok {
		return true
	}
	if obj["_omitted"] == true || obj["_legacyOmitted"] == true || obj["_unknown"] == true {
		return true
	}
	if _, ok := obj["_type"]; ok {
		return true
	}
	for _, child := range obj {
		if displayable(child) {
			return true
		}
	}
	return false
}

// printShowJSON renders the structure with nix-compatible type tags.
func printShowJSON(w io.Writer, res *engine.ShowResult) error {
	out := make(map[string]any, len(res.Structure))
	for _, cat := range res.Categories {
		raw, ok := res.Structure[cat]
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		out[cat] = showJSONValue(cat, value)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func showJSONValue(category string, value any) any {
	obj, ok := value.(map[string]any)
	if !ok {
		if category == "apps" {
			return map[string]any{"type": "app"}
		}
		return map[string]any{"type": "derivation"}
	}
	switch {
	case obj["_omitted"] == true, obj["_legacyOmitted"] == true:
		return map[string]any{}
	case obj["_unknown"] == true:
		return map[string]any{"type": "unknown"}
	}
	if kind, ok := obj["_type"].(string); ok {
		return map[string]any{"type": jsonTypeLabel(kind)}
	}
	converted := make(map[string]any, len(obj))
	for name, child := range obj {
		converted[name] = showJSONValue(category, child)
	}
	return converted
}

func jsonTypeLabel(kind string) string {
	switch kind {
	case "formatter":
		return "package"
	case "module":
		return "nixos-module"
	case "overlay":
		return "nixpkgs-overlay"
	case "template":
		return "template"
	case "configuration":
		return "nixos-configuration"
	}
	return "unknown"
}

func init() {
	flakeShowCmd.Flags().BoolVar(&showAllSystems, "all-systems", false, "show outputs for all platforms")
	flakeShowCmd.Flags().BoolVar(&showLegacy, "legacy", false, "show legacyPackages contents")
	flakeShowCmd.Flags().BoolVar(&showJSON, "json", false, "print the structure as JSON")
	flakeShowCmd.Flags().StringArrayVar(&showOverrides, "override-input", nil, "override a flake input (name=ref)")

	flakeCmd.AddCommand(flakeShowCmd)
}
