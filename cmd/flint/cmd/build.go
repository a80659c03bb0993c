package cmd

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/nix"
)

var (
	buildOutLink   string
	buildNoLink    bool
	buildFile      string
	buildStore     string
	buildArgs      []string
	buildStrArgs   []string
	buildOverrides []string
)

var buildCmd = &cobra.Command{
	Use:   "build [installable]",
	Short: "Build a flake output attribute",
	Long: `Build an output attribute of a flake and leave a result symlink
behind. Local flakes build straight from the working tree; remote
references are handed to the nix CLI.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		installable := "."
		if len(args) > 0 {
			installable = args[0]
		}

		nixArgs, err := parsePairs("--arg", buildArgs)
		if err != nil {
			return err
		}
		strArgs, err := parsePairs("--argstr", buildStrArgs)
		if err != nil {
			return err
		}

		if buildFile != "" {
			return buildFromFile(cmd, installable, nixArgs, strArgs)
		}

		overrides, err := parseOverrides(buildOverrides)
		if err != nil {
			return err
		}

		target, err := resolveTarget(ctx, installable)
		if err != nil {
			return err
		}
		if !target.Local() {
			pass := []string{"build", installable}
			if buildNoLink {
				pass = append(pass, "--no-link")
			} else if buildOutLink != "" {
				pass = append(pass, "--out-link", buildOutLink)
			}
			pass = appendCommonArgs(pass, buildStore, nixArgs, strArgs)
			for _, o := range buildOverrides {
				if name, ref, ok := cutPair(o); ok {
					pass = append(pass, "--override-input", name, ref)
				}
			}
			return passthrough(ctx, pass...)
		}

		eng := &engine.BuildEngine{Pipeline: newPipeline()}
		outLink := buildOutLink
		if outLink == "" {
			outLink = settings.OutLink()
		}
		res, err := eng.Build(ctx, target, engine.BuildOptions{
			OutLink:   outLink,
			NoLink:    buildNoLink,
			Store:     buildStore,
			Args:      nixArgs,
			StrArgs:   strArgs,
			Overrides: overrides,
		})
		if err != nil {
			return err
		}
		detail("built %s", strings.Join(res.Attr, "."))
		return nil
	},
}

// buildFromFile bypasses the flake machinery and runs plain nix-build
// on a Nix file.
func buildFromFile(cmd *cobra.Command, installable string, nixArgs, strArgs map[string]string) error {
	args := []string{buildFile}
	if i := strings.Index(installable, "#"); i >= 0 {
		if attr := installable[i+1:]; attr != "" && attr != "default" {
			args = append(args, "-A", attr)
		}
	}
	args = appendCommonArgs(args, buildStore, nixArgs, strArgs)
	if buildNoLink {
		args = append(args, "--no-link")
	} else {
		outLink := buildOutLink
		if outLink == "" {
			outLink = settings.OutLink()
		}
		args = append(args, "-o", outLink)
	}
	return nix.NewCommand("nix-build", args...).Run(cmd.Context())
}

// appendCommonArgs renders store and argument flags in a stable order.
func appendCommonArgs(args []string, store string, nixArgs, strArgs map[string]string) []string {
	if store != "" {
		args = append(args, "--store", store)
	}
	for _, k := range sortedArgKeys(nixArgs) {
		args = append(args, "--arg", k, nixArgs[k])
	}
	for _, k := range sortedArgKeys(strArgs) {
		args = append(args, "--argstr", k, strArgs[k])
	}
	return args
}

func sortedArgKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	buildCmd.Flags().StringVarP(&buildOutLink, "out-link", "o", "", "name of the result symlink")
	buildCmd.Flags().BoolVar(&buildNoLink, "no-link", false, "do not create a result symlink")
	buildCmd.Flags().StringVarP(&buildFile, "file", "f", "", "build from a Nix file instead of a flake")
	buildCmd.Flags().StringVar(&buildStore, "store", "", "nix store to build in")
	buildCmd.Flags().StringArrayVar(&buildArgs, "arg", nil, "pass a Nix expression argument (name=expr)")
	buildCmd.Flags().StringArrayVar(&buildStrArgs, "argstr", nil, "pass a string argument (name=value)")
	buildCmd.Flags().StringArrayVar(&buildOverrides, "override-input", nil, "override a flake input (name=ref)")

	rootCmd.AddCommand(buildCmd)
}
