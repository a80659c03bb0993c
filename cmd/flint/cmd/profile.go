package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/profile"
)

var (
	profilePath      string
	profileListJSON  bool
	installPriority  int
	installOverrides []string
	rollbackTo       int
	wipeOlderThan    string
	wipeDryRun       bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage packages installed into a nix profile",
	Long: `Install, remove, and upgrade packages in a nix profile. Every change
creates a new profile generation; history, rollback, and wipe-history
operate on those generations.`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := profile.New(profilePath)
		if err != nil {
			return err
		}
		installed, err := prof.List()
		if err != nil {
			return err
		}

		if profileListJSON {
			elements := make(map[string]profile.Element, len(installed))
			for _, pkg := range installed {
				elements[pkg.Name] = pkg.Element
			}
			data, err := json.MarshalIndent(elements, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(installed) == 0 {
			info("No packages installed.")
			return nil
		}
		for i, pkg := range installed {
			if i > 0 {
				info("")
			}
			info("Name:               %s", bold(pkg.Name))
			info("Flake attribute:    %s", pkg.AttrPath)
			info("Original flake URL: %s", pkg.OriginalURL)
			info("Locked flake URL:   %s", pkg.URL)
			for j, p := range pkg.StorePaths {
				if j == 0 {
					info("Store paths:        %s", p)
				} else {
					info("                    %s", p)
				}
			}
		}
		return nil
	},
}

var profileInstallCmd = &cobra.Command{
	Use:   "install <installable>...",
	Short: "Install packages into the profile",
	Long: `Build packages and install them into the profile. Local flakes build
from the working tree, store paths are recorded as they are, and
remote references build through the nix CLI.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		overrides, err := parseOverrides(installOverrides)
		if err != nil {
			return err
		}
		eng, err := newProfileEngine()
		if err != nil {
			return err
		}

		for _, installable := range args {
			target, err := resolveTarget(ctx, installable)
			if err != nil {
				return err
			}
			res, err := eng.Install(ctx, target, engine.InstallOptions{
				Priority:  installPriority,
				Overrides: overrides,
			})
			if err != nil {
				return err
			}
			info("Added %s", res.Name)
			detail("%s -> %s", res.AttrPath, res.StorePath)
		}
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <name>...",
	Short: "Remove packages from the profile",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newProfileEngine()
		if err != nil {
			return err
		}
		res, err := eng.Remove(cmd.Context(), args)
		if err != nil {
			return err
		}
		for _, name := range res.Removed {
			info("Removed: %s", name)
		}
		for _, name := range res.Missing {
			fmt.Fprintf(os.Stderr, "Package not found: %s\n", name)
		}
		return nil
	},
}

var profileUpgradeCmd = &cobra.Command{
	Use:   "upgrade [name]",
	Short: "Rebuild installed packages from their flakes",
	Long: `Rebuild packages that were installed from a local flake directory and
switch the profile to the new store paths. Packages installed from
remote references or bare store paths are left alone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		eng, err := newProfileEngine()
		if err != nil {
			return err
		}
		res, err := eng.Upgrade(cmd.Context(), name)
		if err != nil {
			return err
		}

		for _, up := range res.Upgraded {
			detail("%s: %s -> %s", up.Name, up.OldPath, up.NewPath)
		}
		switch {
		case len(res.Upgraded) > 0:
			info("Upgraded %d package(s)", len(res.Upgraded))
		case res.Skipped > 0:
			info("All %d package(s) up to date", res.Skipped)
		default:
			info("No packages to upgrade")
		}
		return nil
	},
}

var profileHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show profile generations and their package changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := profile.New(profilePath)
		if err != nil {
			return err
		}
		gens, err := prof.Generations()
		if err != nil {
			return err
		}
		if len(gens) == 0 {
			info("No profile generations found")
			return nil
		}

		current := 0
		if cur, err := prof.Current(); err == nil && cur != nil {
			current = cur.Number
		}

		prevVersions := map[string]string{}
		for i, gen := range gens {
			if i > 0 {
				info("")
			}

			versions := generationVersions(gen)
			label := fmt.Sprintf("Version %d", gen.Number)
			if gen.Number == current {
				label = greenBold(label)
			} else {
				label = bold(label)
			}
			when := gen.Time.Local().Format("2006-01-02")
			if i == 0 {
				info("%s (%s):", label, when)
			} else {
				info("%s (%s) <- %d:", label, when, gens[i-1].Number)
			}

			changes := versionChanges(prevVersions, versions)
			if len(changes) == 0 {
				info("  No changes.")
			}
			for _, line := range changes {
				info("  %s", line)
			}
			prevVersions = versions
		}
		return nil
	},
}

var profileRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Switch the profile to an earlier generation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prof, err := profile.New(profilePath)
		if err != nil {
			return err
		}
		gen, err := prof.Rollback(rollbackTo)
		if err != nil {
			return err
		}
		info("Rolled back to generation %d", gen)
		return nil
	},
}

var profileWipeCmd = &cobra.Command{
	Use:   "wipe-history",
	Short: "Delete old profile generations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, err := parseOlderThan(wipeOlderThan)
		if err != nil {
			return err
		}
		prof, err := profile.New(profilePath)
		if err != nil {
			return err
		}
		deleted, err := prof.WipeHistory(olderThan, wipeDryRun)
		if err != nil {
			return err
		}

		if len(deleted) == 0 {
			info("No profile versions to delete.")
			return nil
		}
		for _, gen := range deleted {
			detail("generation %d (%s)", gen.Number, gen.Time.Local().Format("2006-01-02"))
		}
		if wipeDryRun {
			info("Would delete %d version(s)", len(deleted))
		} else {
			info("Deleted %d version(s)", len(deleted))
		}
		return nil
	},
}

func newProfileEngine() (*engine.ProfileEngine, error) {
	prof, err := profile.New(profilePath)
	if err != nil {
		return nil, err
	}
	return &engine.ProfileEngine{
		Pipeline: newPipeline(),
		Profile:  prof,
		Warn: func(msg string) {
			fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
		},
	}, nil
}

// generationVersions reads the package versions recorded in one
// generation's manifest. A generation without a manifest counts as
// empty.
func generationVersions(gen profile.Generation) map[string]string {
	m, err := profile.ReadManifest(gen.Target)
	if err != nil {
		return map[string]string{}
	}
	return m.PackageVersions()
}

// versionChanges diffs two version maps into display lines. The empty
// set symbol marks packages entering or leaving the profile.
func versionChanges(prev, cur map[string]string) []string {
	names := map[string]bool{}
	for name := range prev {
		names[name] = true
	}
	for name := range cur {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var lines []string
	for _, name := range sorted {
		oldV, hadOld := prev[name]
		newV, hasNew := cur[name]
		switch {
		case !hadOld && hasNew:
			lines = append(lines, fmt.Sprintf("%s: ∅ -> %s", name, newV))
		case hadOld && !hasNew:
			lines = append(lines, fmt.Sprintf("%s: %s -> ∅", name, oldV))
		case oldV != newV:
			lines = append(lines, fmt.Sprintf("%s: %s -> %s", name, oldV, newV))
		}
	}
	return lines
}

// parseOlderThan parses an age like "30d" or "12h". A bare number
// counts in days.
func parseOlderThan(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	num, unit := s, "d"
	if last := s[len(s)-1]; last < '0' || last > '9' {
		num, unit = s[:len(s)-1], string(last)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid --older-than value: %s", s)
	}
	switch unit {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid unit in --older-than: %s (expected s, m, h, d, w)", unit)
}

func init() {
	profileCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "profile symlink to operate on")

	profileListCmd.Flags().BoolVar(&profileListJSON, "json", false, "print the manifest elements as JSON")
	profileInstallCmd.Flags().IntVar(&installPriority, "priority", 0, "resolution priority for conflicting files")
	profileInstallCmd.Flags().StringArrayVar(&installOverrides, "override-input", nil, "override a flake input (name=ref)")
	profileRollbackCmd.Flags().IntVar(&rollbackTo, "to", 0, "generation to switch to (0 means the previous one)")
	profileWipeCmd.Flags().StringVar(&wipeOlderThan, "older-than", "", "only delete generations older than this age (e.g. 30d)")
	profileWipeCmd.Flags().BoolVar(&wipeDryRun, "dry-run", false, "show what would be deleted without deleting")

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileInstallCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	profileCmd.AddCommand(profileUpgradeCmd)
	profileCmd.AddCommand(profileHistoryCmd)
	profileCmd.AddCommand(profileRollbackCmd)
	profileCmd.AddCommand(profileWipeCmd)

	rootCmd.AddCommand(profileCmd)
}
