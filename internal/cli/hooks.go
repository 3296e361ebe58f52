package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "List declared hooks",
	Long: `List every hook in the catalog with its type, the permission callbacks
need to receive it and the number of registered callbacks. Callbacks are
registered by plugin entry code, so active plugins are loaded first.`,
	Args: cobra.NoArgs,
	RunE: runHooks,
}

var execCmd = &cobra.Command{
	Use:   "exec <hook> <value>",
	Short: "Dispatch a hook with a string value and print the result",
	Args:  cobra.ExactArgs(2),
	RunE:  runExec,
}

func init() {
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(execCmd)
}

func runHooks(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tPERMISSION\tCALLBACKS\tDESCRIPTION")
	for _, info := range a.registry.Hooks() {
		perm := string(info.Permission)
		switch {
		case info.Resolve != nil:
			perm = "resolved"
		case perm == "":
			perm = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", info.Name, info.Type, perm, info.Callbacks, info.Description)
	}
	return w.Flush()
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.registry.ExecuteHook(ctx, args[0], args[1])
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}
