package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/ulink/backend/internal/client"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage console accounts (admin only)",
		Long: `Creates, edits, and removes console accounts.

Examples:
  ulink-console users list
  ulink-console users create ben --password pw --assistants-granted ulink-general,my-doctor
  ulink-console users update <id> --assistants-granted sg-doctor
  ulink-console users reset-password <id> --password new-pw
  ulink-console users delete <id>`,
	}

	cmd.AddCommand(
		newUsersListCmd(),
		newUsersCreateCmd(),
		newUsersUpdateCmd(),
		newUsersResetPasswordCmd(),
		newUsersDeleteCmd(),
	)
	return cmd
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts, newest first",
		Args:  cobra.NoArgs,
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, _ []string) error {
			users, err := e.client.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tASSISTANTS\tCREATED")
			for _, u := range users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Username, strings.Join(u.AssistantIDs, ","), u.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		}),
	}
}

func assistantsFlag(cmd *cobra.Command) (*[]string, bool) {
	if !cmd.Flags().Changed("assistants-granted") {
		return nil, false
	}
	raw, _ := cmd.Flags().GetStringSlice("assistants-granted")
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return &keys, true
}

func newUsersCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account; no grants means every assistant",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			in := client.UserInput{Username: args[0], Password: password}
			in.AssistantIDs, _ = assistantsFlag(cmd)

			u, err := e.client.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s) with access to %s\n", u.Username, u.ID, strings.Join(u.AssistantIDs, ", "))
			return nil
		}),
	}
	cmd.Flags().String("password", "", "initial password")
	cmd.Flags().StringSlice("assistants-granted", nil, "assistant keys the user may use")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUsersUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Rename an account, change its password, or replace its grants",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			in := client.UserInput{Username: username, Password: password}
			in.AssistantIDs, _ = assistantsFlag(cmd)

			u, err := e.client.UpdateUser(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", u.Username)
			return nil
		}),
	}
	cmd.Flags().String("username", "", "new username")
	cmd.Flags().String("password", "", "new password")
	cmd.Flags().StringSlice("assistants-granted", nil, "replacement assistant keys (must not be empty)")
	return cmd
}

func newUsersResetPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-password <id>",
		Short: "Set a new password",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			if err := e.client.ResetPassword(cmd.Context(), args[0], password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password updated")
			return nil
		}),
	}
	cmd.Flags().String("password", "", "new password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUsersDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an account that has no sessions",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			if err := e.client.DeleteUser(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted")
			return nil
		}),
	}
}
