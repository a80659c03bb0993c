package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Manage flake registry entries",
	Long: `Manage the flake registries that resolve bare names like 'nixpkgs'.
Entries come from three levels: the user registry, the system
registry, and the cached global registry. Changes apply to the user
registry only.`,
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registry entries from all levels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := newRegistry().List(cmd.Context())
		if len(entries) == 0 {
			info("No registry entries found.")
			return nil
		}

		grouped := map[string][]registry.Listed{}
		for _, e := range entries {
			grouped[e.Source] = append(grouped[e.Source], e)
		}
		first := true
		for _, source := range []string{"user", "system", "global"} {
			group := grouped[source]
			if len(group) == 0 {
				continue
			}
			sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })

			if !first {
				info("")
			}
			first = false
			info("%s registry:", strings.ToUpper(source))
			for _, e := range group {
				ref, _ := e.Entry.FlakeRef()
				suffix := ""
				if e.Entry.Local() {
					suffix = " (local)"
				}
				info("  %s -> %s%s", e.Name, ref, suffix)
			}
		}
		return nil
	},
}

var registryAddCmd = &cobra.Command{
	Use:   "add <name> <target>",
	Short: "Add an entry to the user registry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, target := args[0], args[1]
		if err := newRegistry().Add(name, target); err != nil {
			return err
		}
		entry := registry.ParseTarget(target)
		ref, _ := entry.FlakeRef()
		if entry.Local() {
			info("Added: %s -> %s (local)", name, ref)
		} else {
			info("Added: %s -> %s", name, ref)
		}
		return nil
	},
}

var registryRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an entry from the user registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		removed, err := newRegistry().Remove(name)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("entry '%s' not found in user registry", name)
		}
		info("Removed: %s", name)
		return nil
	},
}

func init() {
	registryCmd.AddCommand(registryListCmd)
	registryCmd.AddCommand(registryAddCmd)
	registryCmd.AddCommand(registryRemoveCmd)

	rootCmd.AddCommand(registryCmd)
}
