package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/lock"
)

var flakeMetadataCmd = &cobra.Command{
	Use:   "metadata [installable]",
	Short: "Show flake description, location, and input tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		installable := "."
		if len(args) > 0 {
			installable = args[0]
		}

		target, err := resolveTarget(ctx, installable)
		if err != nil {
			return err
		}
		if !target.Local() {
			return passthrough(ctx, "flake", "metadata", installable)
		}

		eng := &engine.MetadataEngine{Pipeline: newPipeline()}
		meta, err := eng.Metadata(ctx, target)
		if err != nil {
			return err
		}

		if meta.Description != "" {
			fmt.Printf("%s %s\n", bold("Description:"), meta.Description)
		}
		fmt.Printf("%s %s\n", bold("Path:"), meta.Path)
		if !meta.LastModified.IsZero() {
			fmt.Printf("%s %s\n", bold("Last modified:"), meta.LastModified.Local().Format("2006-01-02 15:04:05"))
		}

		switch {
		case meta.Locked != nil:
			fmt.Println(bold("Inputs:"))
			printLockedInputs(os.Stdout, meta.Locked, meta.Locked.RootNode(), "", nil)
		case len(meta.Inputs) > 0:
			fmt.Println(bold("Inputs (unlocked):"))
			for i, spec := range meta.Inputs {
				branch := "├───"
				if i == len(meta.Inputs)-1 {
					branch = "└───"
				}
				if spec.Follows != nil {
					fmt.Printf("%s%s follows input '%s'\n", branch, bold(spec.Name), strings.Join(spec.Follows, "/"))
				} else {
					fmt.Printf("%s%s: %s\n", branch, bold(spec.Name), spec.RefString())
				}
			}
		}
		return nil
	},
}

// printLockedInputs walks the lock graph from a node, one tree level
// per nesting. The chain guards against reference cycles.
func printLockedInputs(w io.Writer, g *lock.Graph, node *lock.Node, prefix string, chain []string) {
	if node == nil {
		return
	}
	names := make([]string, 0, len(node.Inputs))
	for name := range node.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		branch, childPrefix := "├───", prefix+"│   "
		if i == len(names)-1 {
			branch, childPrefix = "└───", prefix+"    "
		}

		ref := node.Inputs[name]
		if ref.IsFollows() {
			fmt.Fprintf(w, "%s%s%s follows input '%s'\n", prefix, branch, bold(name), strings.Join(ref.Follows, "/"))
			continue
		}

		child := g.Nodes[ref.Node]
		line := prefix + branch + bold(name)
		if child != nil && child.Locked != nil {
			line += ": " + metadataURL(child.Locked)
			if child.Locked.LastModified != 0 {
				line += " (" + localTime(child.Locked.LastModified) + ")"
			}
		}
		fmt.Fprintln(w, line)

		if child != nil && !contains(chain, ref.Node) {
			printLockedInputs(w, g, child, childPrefix, append(chain, ref.Node))
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// metadataURL renders a locked source with the pin material nix shows
// in metadata output.
func metadataURL(src *lock.Source) string {
	switch src.Type {
	case lock.TypeGitHub, lock.TypeGitLab, lock.TypeSourcehut:
		u := fmt.Sprintf("%s:%s/%s", src.Type, src.Owner, src.Repo)
		if src.Rev != "" {
			u += "/" + src.Rev
		}
		if src.NARHash != "" {
			u += "?narHash=" + url.QueryEscape(src.NARHash)
		}
		return u
	default:
		return lockedURL(src)
	}
}

func init() {
	flakeCmd.AddCommand(flakeMetadataCmd)
}
