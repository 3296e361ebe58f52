package cli

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/harun/hookhost/pkg/objectstore"
	"github.com/spf13/cobra"
)

var registerFrom string

var registerCmd = &cobra.Command{
	Use:   "register <plugin-path>",
	Short: "Register a plugin from the code store",
	Long: `Register reads <plugin-path>/plugin.json from the code store and records
the plugin as inactive. With --from, the files of a local directory are
uploaded under <plugin-path>/ first. Entry code is loaded from <id>/<main>,
so <plugin-path> is usually the plugin id.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegister,
}

var activateCmd = &cobra.Command{
	Use:   "activate <plugin-id>",
	Short: "Activate a plugin and run its entry code",
	Args:  cobra.ExactArgs(1),
	RunE:  runActivate,
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <plugin-id>",
	Short: "Deactivate a plugin",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeactivate,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <plugin-id>",
	Short: "Remove a plugin record after firing onUninstall",
	Long: `Uninstall fires onUninstall, unloads the plugin's code and deletes its
record. Files in the code store and error log entries are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runUninstall,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plugins",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	registerCmd.Flags().StringVar(&registerFrom, "from", "", "local plugin directory to upload before registering")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(deactivateCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(listCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	pluginPath := strings.Trim(args[0], "/")
	if registerFrom != "" {
		if err := uploadDir(ctx, a.registry.Code(), registerFrom, pluginPath); err != nil {
			return err
		}
	}

	p, err := a.registry.Register(ctx, pluginPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s %s)\n", p.ID, p.Name, p.Version)
	return nil
}

func runActivate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.registry.Plugin(args[0]); !ok {
		return fmt.Errorf("plugin %s is not registered", args[0])
	}
	if err := a.registry.Activate(ctx, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Activated %s\n", args[0])
	return nil
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.registry.Plugin(args[0]); !ok {
		return fmt.Errorf("plugin %s is not registered", args[0])
	}
	if err := a.registry.Deactivate(ctx, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", args[0])
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.registry.Plugin(args[0]); !ok {
		return fmt.Errorf("plugin %s is not registered", args[0])
	}
	if err := a.registry.Uninstall(ctx, args[0]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	// Restoring would run plugin code; listing only needs the table
	if err := a.registry.RestoreTable(cmd.Context()); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTATUS\tPERMISSIONS")
	for _, p := range a.registry.Plugins() {
		perms := make([]string, 0, 5)
		for _, perm := range p.Permissions.Granted() {
			perms = append(perms, string(perm))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Version, p.Status, strings.Join(perms, ","))
	}
	return w.Flush()
}

// uploadDir copies every regular file under dir into bucket below prefix
func uploadDir(ctx context.Context, bucket objectstore.Bucket, dir, prefix string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}

		key := path.Join(prefix, filepath.ToSlash(rel))
		if _, err := bucket.Put(ctx, key, body, nil); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		return nil
	})
}
