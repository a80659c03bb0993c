package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
)

var (
	evalExpr      string
	evalJSON      bool
	evalRaw       bool
	evalApply     string
	evalStore     string
	evalArgs      []string
	evalStrArgs   []string
	evalOverrides []string
)

var evalCmd = &cobra.Command{
	Use:   "eval [installable]",
	Short: "Evaluate a flake output attribute",
	Long: `Evaluate an output attribute of a flake and print the value. With
--expr a raw Nix expression is evaluated instead of a flake attribute.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		nixArgs, err := parsePairs("--arg", evalArgs)
		if err != nil {
			return err
		}
		strArgs, err := parsePairs("--argstr", evalStrArgs)
		if err != nil {
			return err
		}
		opts := engine.EvalOptions{
			JSON:    evalJSON,
			Raw:     evalRaw,
			Apply:   evalApply,
			Store:   evalStore,
			Args:    nixArgs,
			StrArgs: strArgs,
		}

		eng := &engine.EvalEngine{Pipeline: newPipeline()}

		if evalExpr != "" {
			if len(args) > 0 {
				return fmt.Errorf("--expr does not take an installable argument")
			}
			out, err := eng.EvalExpr(ctx, evalExpr, opts)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}

		installable := "."
		if len(args) > 0 {
			installable = args[0]
		}
		opts.Overrides, err = parseOverrides(evalOverrides)
		if err != nil {
			return err
		}

		target, err := resolveTarget(ctx, installable)
		if err != nil {
			return err
		}
		if !target.Local() {
			pass := []string{"eval", installable}
			if evalJSON {
				pass = append(pass, "--json")
			}
			if evalRaw {
				pass = append(pass, "--raw")
			}
			if evalApply != "" {
				pass = append(pass, "--apply", evalApply)
			}
			pass = appendCommonArgs(pass, evalStore, nixArgs, strArgs)
			return passthrough(ctx, pass...)
		}

		out, err := eng.Eval(ctx, target, opts)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	evalCmd.Flags().StringVar(&evalExpr, "expr", "", "evaluate a raw Nix expression")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "print the value as JSON")
	evalCmd.Flags().BoolVar(&evalRaw, "raw", false, "print a string value without quotes")
	evalCmd.Flags().StringVar(&evalApply, "apply", "", "apply a function to the value before printing")
	evalCmd.Flags().StringVar(&evalStore, "store", "", "nix store to evaluate against")
	evalCmd.Flags().StringArrayVar(&evalArgs, "arg", nil, "pass a Nix expression argument (name=expr)")
	evalCmd.Flags().StringArrayVar(&evalStrArgs, "argstr", nil, "pass a string argument (name=value)")
	evalCmd.Flags().StringArrayVar(&evalOverrides, "override-input", nil, "override a flake input (name=ref)")

	rootCmd.AddCommand(evalCmd)
}
