package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/ulink/backend/internal/console"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		Long: `Signs in to the console server. The password is read from --password,
the ULINK_PASSWORD environment variable, or the first line of stdin.

Examples:
  ulink-console login --username amy
  echo "$PW" | ulink-console login -u amy`,
		Args: cobra.NoArgs,
		RunE: withEnv(false, runLogin),
	}
	cmd.Flags().StringP("username", "u", "", "account name")
	cmd.Flags().StringP("password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func runLogin(cmd *cobra.Command, e *env, _ []string) error {
	ctx := cmd.Context()
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password = os.Getenv("ULINK_PASSWORD")
	}
	if password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		line, err := readLine(cmd.InOrStdin())
		if err != nil {
			return errors.Wrap(err, "read password")
		}
		password = line
	}

	res, err := e.client.Login(ctx, username, password)
	if err != nil {
		return err
	}

	// A different account must not see the previous user's sessions.
	if e.creds.User.ID != "" && e.creds.User.ID != res.User.ID {
		if err := e.manager.ResetCache(ctx); err != nil {
			return err
		}
	}
	if err := console.SaveCredentials(ctx, e.blobs, console.Credentials{Token: res.Token, User: res.User}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", res.User.Username, res.User.Role)
	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: withEnv(false, func(cmd *cobra.Command, e *env, _ []string) error {
			if err := console.ClearCredentials(cmd.Context(), e.blobs); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
