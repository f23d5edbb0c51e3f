package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/ulink/backend/internal/console"
	"github.com/zhouzirui/ulink/backend/internal/model/chat"
)

// firstReplyGreeting is the synthetic message that opens first-reply sessions.
const firstReplyGreeting = "Hi"

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <assistant>",
		Short: "List your sessions with an assistant, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			if _, err := e.manager.Assistant(args[0]); err != nil {
				return err
			}
			sessions := e.manager.ListSessions(cmd.Context(), args[0], e.userID())

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, len(s.Messages), s.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		}),
	}
}

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <assistant>",
		Short: "Start a session",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			session, err := startSession(cmd.Context(), cmd.OutOrStdout(), e, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s (%s)\n", session.ID, session.Title)
			return nil
		}),
	}
}

// startSession creates a session and, for first-reply assistants, sends the
// greeting so the assistant speaks first.
func startSession(ctx context.Context, out io.Writer, e *env, key string) (chat.Session, error) {
	a, err := e.manager.Assistant(key)
	if err != nil {
		return chat.Session{}, err
	}
	session, err := e.manager.CreateSession(ctx, key, e.userID())
	if err != nil {
		return chat.Session{}, err
	}

	if a.IsFirstReply {
		reply, err := e.dispatcher.SendMessage(ctx, console.SendRequest{
			AssistantKey: key,
			SessionID:    session.ID,
			UserID:       e.userID(),
			Text:         firstReplyGreeting,
			IsFirstReply: true,
		}, nil)
		if err != nil {
			return chat.Session{}, err
		}
		printReply(out, e.name(key), reply)
	}

	if s, ok := e.manager.GetSession(session.ID); ok {
		session = s
	}
	return session, nil
}

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <assistant> <session> <message...>",
		Short: "Send one message and print the reply",
		Long: `Sends a message to an existing session. Files given with --file are
uploaded with the message.

Examples:
  ulink-console send ulink-general 6f1c... "Is dental covered?"
  ulink-console send document-review 6f1c... "Here is my claim" --file claim.pdf`,
		Args: cobra.MinimumNArgs(3),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			paths, _ := cmd.Flags().GetStringArray("file")
			attachments, err := readAttachments(paths)
			if err != nil {
				return err
			}

			reply, err := e.dispatcher.SendMessage(cmd.Context(), console.SendRequest{
				AssistantKey: args[0],
				SessionID:    args[1],
				UserID:       e.userID(),
				Text:         strings.Join(args[2:], " "),
				Attachments:  attachments,
			}, nil)
			if err != nil {
				return err
			}
			printReply(cmd.OutOrStdout(), e.name(args[0]), reply)
			return nil
		}),
	}
	cmd.Flags().StringArrayP("file", "f", nil, "attach a file (repeatable)")
	return cmd
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <assistant>",
		Short: "Chat interactively",
		Long: `Starts an interactive chat. Without --session the newest session is
resumed, or a new one is started when there is none.

Commands inside the chat:
  /new          start a new session
  /attach PATH  attach a file to the next message
  /quit         leave`,
		Args: cobra.ExactArgs(1),
		RunE: withEnv(true, runChat),
	}
	cmd.Flags().StringP("session", "s", "", "session id to resume")
	return cmd
}

func runChat(cmd *cobra.Command, e *env, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	key := args[0]
	if _, err := e.manager.Assistant(key); err != nil {
		return err
	}

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		if sessions := e.manager.ListSessions(ctx, key, e.userID()); len(sessions) > 0 {
			sessionID = sessions[0].ID
		}
	}
	if sessionID == "" {
		session, err := startSession(ctx, out, e, key)
		if err != nil {
			return err
		}
		sessionID = session.ID
	} else if session, ok := e.manager.GetSession(sessionID); ok {
		for _, msg := range session.Messages {
			printMessage(out, e.name(key), msg)
		}
	} else {
		return console.ErrSessionNotFound
	}

	observer := console.ObserverFuncs{
		OnTyping: func(_ string, active bool) {
			if active {
				fmt.Fprintf(out, "%s is typing…\n", e.name(key))
			}
		},
	}

	var pending []console.Attachment
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			session, err := startSession(ctx, out, e, key)
			if err != nil {
				return err
			}
			sessionID = session.ID
			pending = nil
			fmt.Fprintf(out, "Session %s\n", sessionID)
			continue
		case strings.HasPrefix(line, "/attach "):
			att, err := readAttachments([]string{strings.TrimSpace(strings.TrimPrefix(line, "/attach "))})
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			pending = append(pending, att...)
			fmt.Fprintf(out, "%d file(s) attached\n", len(pending))
			continue
		}

		reply, err := e.dispatcher.SendMessage(ctx, console.SendRequest{
			AssistantKey: key,
			SessionID:    sessionID,
			UserID:       e.userID(),
			Text:         line,
			Attachments:  pending,
		}, observer)
		if err != nil {
			return err
		}
		pending = nil
		printReply(out, e.name(key), reply)
	}
}

func readAttachments(paths []string) ([]console.Attachment, error) {
	attachments := make([]console.Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", p)
		}
		attachments = append(attachments, console.Attachment{
			Name:        filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Data:        data,
		})
	}
	return attachments, nil
}

func printReply(out io.Writer, name, reply string) {
	fmt.Fprintf(out, "%s: %s\n", name, reply)
}

func printMessage(out io.Writer, name string, msg chat.Message) {
	speaker := "You"
	if msg.Role == chat.RoleAssistant {
		speaker = name
	}
	fmt.Fprintf(out, "%s: %s\n", speaker, msg.Content)
}
