package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/flake"
)

var flakeCmd = &cobra.Command{
	Use:   "flake",
	Short: "Inspect and manage flakes",
}

// resolveFlakeDir locates the flake root for an optional directory
// argument, climbing from the working directory when none is given.
func resolveFlakeDir(args []string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	start := cwd
	if len(args) > 0 && args[0] != "" && args[0] != "." {
		start = args[0]
		if !filepath.IsAbs(start) {
			start = filepath.Join(cwd, start)
		}
	}
	return flake.FindRoot(start)
}

func init() {
	rootCmd.AddCommand(flakeCmd)
}
