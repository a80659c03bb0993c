package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/flint/internal/engine"
	"github.com/bianoble/flint/internal/lock"
)

var (
	lockOverrides   []string
	updateOverrides []string
)

var flakeLockCmd = &cobra.Command{
	Use:   "lock [dir]",
	Short: "Create or reconcile flake.lock",
	Long: `Reconcile flake.lock with the inputs declared in flake.nix: new
inputs are locked, removed ones dropped, and follows declarations
rewired. Existing pins are left alone; use 'flake update' to move
them.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir, err := resolveFlakeDir(args)
		if err != nil {
			return err
		}

		eng := newLockEngine()
		overrides, err := parseOverrides(lockOverrides)
		if err != nil {
			return err
		}

		var res *engine.LockResult
		if len(overrides) > 0 {
			res, err = eng.Update(ctx, dir, engine.UpdateOptions{Overrides: overrides})
		} else {
			res, err = eng.Sync(ctx, dir)
		}
		if err != nil {
			return err
		}
		printLockReport(res)
		return nil
	},
}

var flakeUpdateCmd = &cobra.Command{
	Use:   "update [input...]",
	Short: "Update locked inputs to their latest revisions",
	Long: `Refresh locked inputs to the newest revision their flake.nix
reference allows. Named inputs restrict the update; --override-input
pins an input to an explicit reference instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir, err := resolveFlakeDir(nil)
		if err != nil {
			return err
		}

		overrides, err := parseOverrides(updateOverrides)
		if err != nil {
			return err
		}

		res, err := newLockEngine().Update(ctx, dir, engine.UpdateOptions{
			Inputs:    args,
			Overrides: overrides,
		})
		if err != nil {
			return err
		}
		printLockReport(res)
		return nil
	},
}

func newLockEngine() *engine.LockEngine {
	return &engine.LockEngine{
		Pipeline: newPipeline(),
		Warn: func(msg string) {
			fmt.Fprintf(os.Stderr, "warning: %s\n", msg)
		},
	}
}

// printLockReport renders a lock operation's change report to stderr,
// matching the shape nix itself prints for lock file changes.
func printLockReport(res *engine.LockResult) {
	renderLockReport(os.Stderr, res)
}

func renderLockReport(w io.Writer, res *engine.LockResult) {
	for _, pin := range res.AlreadyPinned {
		fmt.Fprintf(w, "warning: input '%s' already at %s\n", pin.Name, cyan(pin.Rev))
	}
	if !res.Written {
		return
	}

	verb := "updating"
	if res.Created {
		verb = "creating"
	}
	fmt.Fprintf(w, "%s %s lock file '%s':\n", yellow("warning:"), verb, res.Path)

	for _, add := range res.Added {
		printAddition(w, add)
	}
	for _, upd := range res.Updated {
		printUpdate(w, upd)
	}
	for _, name := range res.Removed {
		fmt.Fprintf(w, "%s %s %s\n", magentaBold("•"), magentaBold("Removed input"), bold("'"+name+"'"))
	}
}

func printAddition(w io.Writer, add engine.LockAddition) {
	fmt.Fprintf(w, "%s %s %s:\n", magentaBold("•"), magentaBold("Added input"), bold("'"+add.Name+"'"))
	switch {
	case len(add.Follows) > 0:
		fmt.Fprintf(w, "    %s %s\n", magentaBold("follows"), cyan("'"+strings.Join(add.Follows, "/")+"'"))
	case add.Node != nil:
		fmt.Fprintf(w, "    %s%s\n", cyan("'"+lockedURL(add.Node.Locked)+"'"), dateSuffix(add.Node))
	}
	for _, nf := range add.NestedFollows {
		fmt.Fprintf(w, "%s %s %s:\n", magentaBold("•"), magentaBold("Added input"), bold("'"+nf.Name+"'"))
		fmt.Fprintf(w, "    %s %s\n", magentaBold("follows"), cyan("'"+strings.Join(nf.Path, "/")+"'"))
	}
}

func printUpdate(w io.Writer, upd engine.LockUpdate) {
	oldURL := lockedURL(lockedSource(upd.Old))
	newURL := lockedURL(lockedSource(upd.New))
	if oldURL != newURL {
		fmt.Fprintf(w, "%s %s %s:\n", magentaBold("•"), magentaBold("Updated input"), bold("'"+upd.Name+"'"))
		fmt.Fprintf(w, "    %s%s\n", cyan("'"+oldURL+"'"), dateSuffix(upd.Old))
		fmt.Fprintf(w, "  → %s%s\n", cyan("'"+newURL+"'"), dateSuffix(upd.New))
		return
	}

	// Same pin, so the change is in the nested follows wiring.
	for _, name := range inputNameUnion(upd.Old, upd.New) {
		oldRef, oldOK := nodeInput(upd.Old, name)
		newRef, newOK := nodeInput(upd.New, name)
		if oldOK == newOK && refEqual(oldRef, newRef) {
			continue
		}
		fmt.Fprintf(w, "%s %s %s:\n", magentaBold("•"), magentaBold("Updated input"), bold("'"+upd.Name+"/"+name+"'"))
		fmt.Fprintf(w, "    %s\n", refDesc(oldRef, oldOK, "(was not overridden)"))
		fmt.Fprintf(w, "  → %s\n", refDesc(newRef, newOK, "(no longer overridden)"))
	}
}

func lockedSource(n *lock.Node) *lock.Source {
	if n == nil {
		return nil
	}
	return n.Locked
}

// dateSuffix renders the last-modified day of a node's pin.
func dateSuffix(n *lock.Node) string {
	if n == nil || n.Locked == nil || n.Locked.LastModified == 0 {
		return ""
	}
	return " (" + shortDate(n.Locked.LastModified) + ")"
}

func inputNameUnion(old, new *lock.Node) []string {
	seen := map[string]bool{}
	var names []string
	for _, n := range []*lock.Node{old, new} {
		if n == nil {
			continue
		}
		for name := range n.Inputs {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func nodeInput(n *lock.Node, name string) (lock.InputRef, bool) {
	if n == nil {
		return lock.InputRef{}, false
	}
	ref, ok := n.Inputs[name]
	return ref, ok
}

func refEqual(a, b lock.InputRef) bool {
	return a.Node == b.Node && strings.Join(a.Follows, "/") == strings.Join(b.Follows, "/")
}

func refDesc(ref lock.InputRef, ok bool, missing string) string {
	if !ok {
		return missing
	}
	if ref.IsFollows() {
		return "follows " + cyan("'"+strings.Join(ref.Follows, "/")+"'")
	}
	return cyan("'" + ref.Node + "'")
}

func init() {
	flakeLockCmd.Flags().StringArrayVar(&lockOverrides, "override-input", nil, "pin a flake input (name=ref)")
	flakeUpdateCmd.Flags().StringArrayVar(&updateOverrides, "override-input", nil, "pin a flake input (name=ref)")

	flakeCmd.AddCommand(flakeLockCmd)
	flakeCmd.AddCommand(flakeUpdateCmd)
}
