package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/nix"
)

var logOverrides []string

var logCmd = &cobra.Command{
	Use:   "log [installable]",
	Short: "Show the build log of a flake output",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		installable := "."
		if len(args) > 0 {
			installable = args[0]
		}

		overrides, err := parseOverrides(logOverrides)
		if err != nil {
			return err
		}

		target, err := resolveTarget(ctx, installable)
		if err != nil {
			return err
		}
		if !target.Local() {
			return passthrough(ctx, "log", installable)
		}

		eng := &engine.BuildEngine{Pipeline: newPipeline()}
		drvPath, err := eng.DrvPath(ctx, target, engine.BuildOptions{Overrides: overrides})
		if err != nil {
			return err
		}

		// The log may be stored under the derivation or under its
		// outputs, depending on how the path was realized.
		if out, err := nix.ReadLog(ctx, drvPath); err == nil && out != "" {
			fmt.Print(out)
			return nil
		}
		if paths, err := nix.OutputPaths(ctx, drvPath); err == nil {
			for _, p := range paths {
				if out, err := nix.ReadLog(ctx, p); err == nil && out != "" {
					fmt.Print(out)
					return nil
				}
			}
		}
		return fmt.Errorf("no build log available for %s", drvPath)
	},
}

func init() {
	logCmd.Flags().StringArrayVar(&logOverrides, "override-input", nil, "override a flake input (name=ref)")

	rootCmd.AddCommand(logCmd)
}
