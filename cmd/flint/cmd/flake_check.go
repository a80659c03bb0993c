package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
)

var (
	checkNoBuild   bool
	checkStore     string
	checkOverrides []string
)

var flakeCheckCmd = &cobra.Command{
	Use:   "check [installable]",
	Short: "Build the checks output of a flake",
	Long: `Build every check the flake defines for the current platform and
report a pass/fail summary. With --no-build the checks are only
instantiated, which catches evaluation errors without building.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		installable := "."
		if len(args) > 0 {
			installable = args[0]
		}

		overrides, err := parseOverrides(checkOverrides)
		if err != nil {
			return err
		}

		target, err := resolveTarget(ctx, installable)
		if err != nil {
			return err
		}
		if !target.Local() {
			pass := []string{"flake", "check", installable}
			if checkNoBuild {
				pass = append(pass, "--no-build")
			}
			return passthrough(ctx, pass...)
		}

		eng := &engine.CheckEngine{Pipeline: newPipeline()}
		res, err := eng.Check(ctx, target, engine.CheckOptions{
			NoBuild:   checkNoBuild,
			Store:     checkStore,
			Overrides: overrides,
		})
		if err != nil {
			return err
		}

		if len(res.Runs) == 0 {
			info("No checks found for %s", res.System)
			return nil
		}

		for _, run := range res.Runs {
			if run.Err == nil {
				info("checking %s: ok", run.Name)
				continue
			}
			info("checking %s: FAILED", run.Name)
			for _, line := range strings.Split(strings.TrimSpace(run.Err.Error()), "\n") {
				info("  %s", line)
			}
		}
		info("")
		info("%d passed, %d failed", res.Passed, res.Failed)

		if res.Failed > 0 {
			return fmt.Errorf("%d check(s) failed", res.Failed)
		}
		return nil
	},
}

func init() {
	flakeCheckCmd.Flags().BoolVar(&checkNoBuild, "no-build", false, "evaluate checks without building them")
	flakeCheckCmd.Flags().StringVar(&checkStore, "store", "", "nix store to build in")
	flakeCheckCmd.Flags().StringArrayVar(&checkOverrides, "override-input", nil, "override a flake input (name=ref)")

	flakeCmd.AddCommand(flakeCheckCmd)
}
