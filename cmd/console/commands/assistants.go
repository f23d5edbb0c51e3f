package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/ulink/backend/internal/console"
	"github.com/zhouzirui/ulink/backend/internal/model/assistant"
)

func newAssistantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assistants [query]",
		Short: "List the assistants you may use",
		Long: `Lists the assistants granted to the signed-in user. An optional query
filters by key or name, ignoring case.

Examples:
  ulink-console assistants
  ulink-console assistants doctor`,
		Args: cobra.MaximumNArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			items, err := e.client.ListAssistants(cmd.Context(), query)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tKIND\tNOTES")
			for _, a := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Key, e.name(a.Key), a.RoutingKind, notes(a, e))
			}
			return tw.Flush()
		}),
	}
}

func notes(a assistant.Assistant, e *env) string {
	var out []string
	if a.Guided {
		out = append(out, "guided")
	}
	if a.IsFirstReply {
		out = append(out, "greets first")
	}
	if local, ok := e.registry.FindByKey(a.Key); ok && local.IsWebhook() && !local.WebhookConfigured() {
		out = append(out, "webhook not configured")
	}
	if _, ok := e.registry.FindByKey(a.Key); !ok {
		out = append(out, "not in local registry")
	}
	return strings.Join(out, ", ")
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <assistant> [name]",
		Short: "Set a local display name; omit the name to reset it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withEnv(false, func(cmd *cobra.Command, e *env, args []string) error {
			key := args[0]
			if _, ok := e.registry.FindByKey(key); !ok {
				return console.ErrUnknownAssistant
			}
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			e.labels.Set(key, name)
			if err := console.SaveLabels(cmd.Context(), e.blobs, e.labels); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now shown as %q\n", key, e.name(key))
			return nil
		}),
	}
}
