package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var errorsLimit int

var errorsCmd = &cobra.Command{
	Use:   "errors <plugin-id>",
	Short: "Show the most recent contained failures of a plugin",
	Args:  cobra.ExactArgs(1),
	RunE:  runErrors,
}

func init() {
	errorsCmd.Flags().IntVar(&errorsLimit, "limit", 20, "maximum number of entries")
	rootCmd.AddCommand(errorsCmd)
}

func runErrors(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.registry.Errors(cmd.Context(), args[0], errorsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "No errors recorded for %s\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tHOOK\tDISPATCH\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.HookName, e.DispatchID, e.Message)
	}
	return w.Flush()
}
