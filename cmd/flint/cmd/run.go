package cmd

import (
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
)

var (
	runStore     string
	runArgs      []string
	runStrArgs   []string
	runOverrides []string
)

var runCmd = &cobra.Command{
	Use:   "run [installable] [-- args...]",
	Short: "Run a flake application or package",
	Long: `Resolve a flake output to an executable and run it. Apps run their
declared program; packages are built and their main program is
executed. Arguments after -- are passed to the program.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		installable := "."
		var progArgs []string
		if at := cmd.ArgsLenAtDash(); at >= 0 {
			progArgs = args[at:]
			args = args[:at]
		}
		if len(args) > 1 {
			return errors.New("run takes at most one installable; pass program arguments after --")
		}
		if len(args) == 1 {
			installable = args[0]
		}

		nixArgs, err := parsePairs("--arg", runArgs)
		if err != nil {
			return err
		}
		strArgs, err := parsePairs("--argstr", runStrArgs)
		if err != nil {
			return err
		}
		overrides, err := parseOverrides(runOverrides)
		if err != nil {
			return err
		}

		target, err := resolveTarget(ctx, installable)
		if err != nil {
			return err
		}
		if !target.Local() {
			pass := []string{"run", installable}
			pass = appendCommonArgs(pass, runStore, nixArgs, strArgs)
			if len(progArgs) > 0 {
				pass = append(pass, "--")
				pass = append(pass, progArgs...)
			}
			return passthrough(ctx, pass...)
		}

		eng := &engine.RunEngine{Pipeline: newPipeline()}
		res, err := eng.Run(ctx, target, engine.RunOptions{
			Store:     runStore,
			Args:      nixArgs,
			StrArgs:   strArgs,
			Overrides: overrides,
		})
		if err != nil {
			return err
		}
		detail("running %s", strings.Join(res.Attr, "."))

		child := exec.CommandContext(ctx, res.Program, progArgs...)
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Run(); err != nil {
			var exit *exec.ExitError
			if errors.As(err, &exit) {
				os.Exit(exit.ExitCode())
			}
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runStore, "store", "", "nix store to build in")
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "pass a Nix expression argument (name=expr)")
	runCmd.Flags().StringArrayVar(&runStrArgs, "argstr", nil, "pass a string argument (name=value)")
	runCmd.Flags().StringArrayVar(&runOverrides, "override-input", nil, "override a flake input (name=ref)")

	rootCmd.AddCommand(runCmd)
}
