package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/nix"
	"github.com/bianoble/flint/internal/template"
)

var (
	initTemplate string
	newTemplate  string
)

var flakeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Copy a template into the current directory",
	Long: `Copy a flake template into the current directory. Files that already
exist are left alone. The bare template reference "templates" selects
the community collection at github:NixOS/templates; a '#name' suffix
picks a template other than the default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		ref := templateRef(initTemplate)

		res, err := newTemplateEngine().Init(cmd.Context(), cwd, ref)
		if err != nil {
			return err
		}
		printScaffold(res)
		return nil
	},
}

var flakeNewCmd = &cobra.Command{
	Use:   "new <dir>",
	Short: "Create a new directory from a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := templateRef(newTemplate)

		res, err := newTemplateEngine().New(cmd.Context(), args[0], ref)
		if err != nil {
			return err
		}
		info("Created flake in '%s' with %d file(s)", res.Dir, res.Copied)
		if res.Welcome != "" {
			info("")
			info("%s", res.Welcome)
		}
		return nil
	},
}

func newTemplateEngine() *engine.TemplateEngine {
	ev := &nix.Evaluator{Timeout: settings.EvalTimeout()}
	return &engine.TemplateEngine{
		Loader: template.Loader{
			Eval:    ev.Eval,
			Workers: settings.Workers(),
		},
	}
}

func templateRef(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return settings.TemplateRef()
}

func printScaffold(res *engine.ScaffoldResult) {
	_, name := template.SplitRef(res.Ref)
	if res.Copied > 0 {
		info("Wrote %d file(s) from template '%s'", res.Copied, name)
	} else {
		info("No files were written (all files already exist)")
	}
	if res.Skipped > 0 {
		info("Skipped %d existing file(s)", res.Skipped)
	}
	if res.Welcome != "" {
		info("")
		info("%s", res.Welcome)
	}
}

func init() {
	flakeInitCmd.Flags().StringVarP(&initTemplate, "template", "t", "", "template reference (flake[#name])")
	flakeNewCmd.Flags().StringVarP(&newTemplate, "template", "t", "", "template reference (flake[#name])")

	flakeCmd.AddCommand(flakeInitCmd)
	flakeCmd.AddCommand(flakeNewCmd)
}
