package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
)

var (
	developCommand   string
	developStore     string
	developArgs      []string
	developStrArgs   []string
	developOverrides []string
)

var developCmd = &cobra.Command{
	Use:   "develop [installable] [-- command...]",
	Short: "Enter the build environment of a dev shell",
	Long: `Drop into the build environment of a flake's devShell output, or run
a single command inside it with --command. Falls back to the default
package when the flake has no dev shell.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		installable := "."
		command := developCommand
		if at := cmd.ArgsLenAtDash(); at >= 0 {
			extra := strings.Join(args[at:], " ")
			if command == "" {
				command = extra
			} else {
				command += " " + extra
			}
			args = args[:at]
		}
		if len(args) > 1 {
			return errors.New("develop takes at most one installable")
		}
		if len(args) == 1 {
			installable = args[0]
		}

		nixArgs, err := parsePairs("--arg", developArgs)
		if err != nil {
			return err
		}
		strArgs, err := parsePairs("--argstr", developStrArgs)
		if err != nil {
			return err
		}
		overrides, err := parseOverrides(developOverrides)
		if err != nil {
			return err
		}

		target, err := resolveTarget(ctx, installable)
		if err != nil {
			return err
		}
		if !target.Local() {
			pass := []string{"develop", installable}
			if command != "" {
				pass = append(pass, "--command", command)
			}
			pass = appendCommonArgs(pass, developStore, nixArgs, strArgs)
			return passthrough(ctx, pass...)
		}

		eng := &engine.DevelopEngine{
			Pipeline: newPipeline(),
			Warn: func(msg string) {
				fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
			},
		}
		res, err := eng.Develop(ctx, target, engine.DevelopOptions{
			Command:   command,
			Store:     developStore,
			Args:      nixArgs,
			StrArgs:   strArgs,
			Overrides: overrides,
		})
		if err != nil {
			return err
		}
		detail("left %s", strings.Join(res.Attr, "."))
		return nil
	},
}

func init() {
	developCmd.Flags().StringVarP(&developCommand, "command", "c", "", "run a command instead of an interactive shell")
	developCmd.Flags().StringVar(&developStore, "store", "", "nix store to build in")
	developCmd.Flags().StringArrayVar(&developArgs, "arg", nil, "pass a Nix expression argument (name=expr)")
	developCmd.Flags().StringArrayVar(&developStrArgs, "argstr", nil, "pass a string argument (name=value)")
	developCmd.Flags().StringArrayVar(&developOverrides, "override-input", nil, "override a flake input (name=ref)")

	rootCmd.AddCommand(developCmd)
}
