// Package commands implements the ulink-console CLI with cobra.
package commands

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ulink-console",
		Short: "Ulink chat console",
		Long: `Terminal client for the Ulink assistants. Sessions are cached locally
and synchronised with the console server.

Examples:
  ulink-console login --username amy
  ulink-console assistants
  ulink-console chat ulink-general
  ulink-console guided my-doctor`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := zerolog.WarnLevel
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)
		},
	}

	rootCmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newAssistantsCmd(),
		newRenameCmd(),
		newSessionsCmd(),
		newNewCmd(),
		newSendCmd(),
		newChatCmd(),
		newGuidedCmd(),
		newExportCmd(),
		newBackupCmd(),
		newUsersCmd(),
	)

	rootCmd.PersistentFlags().String("server", envOr("ULINK_SERVER", "http://localhost:8080"), "console server base URL")
	rootCmd.PersistentFlags().String("cache", envOr("ULINK_CACHE", defaultCachePath()), "local cache database")
	rootCmd.PersistentFlags().String("assistants", os.Getenv("ASSISTANTS_FILE"), "assistant registry YAML (defaults to the built-in list)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
