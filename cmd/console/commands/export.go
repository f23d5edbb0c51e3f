package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session>",
		Short: "Download a session transcript as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			name, data, err := e.client.ExportSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrap(err, "create output directory")
			}
			path := filepath.Join(dir, filepath.Base(name))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return errors.Wrap(err, "write transcript")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return nil
		}),
	}
	cmd.Flags().StringP("dir", "o", ".", "output directory")
	return cmd
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up and purge every session on the server (admin only)",
		Long: `Asks the server to write every session to its backup directory and
delete them. The local session cache is cleared afterwards.`,
		Args: cobra.NoArgs,
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, _ []string) error {
			res, err := e.client.ExportAll(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.manager.ResetCache(cmd.Context()); err != nil {
				return err
			}
			if res.Exported == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to back up")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d session(s) to %s, %d deleted\n", res.Exported, res.File, res.Deleted)
			return nil
		}),
	}
}
