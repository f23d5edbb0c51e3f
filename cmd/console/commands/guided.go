package commands

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/ulink/backend/internal/guided"
)

func newGuidedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guided <assistant>",
		Short: "Run the doctor-recommendation flow",
		Long: `Runs the guided doctor-recommendation flow for a guided assistant.
Answer quick replies by number or by value; type "restart" to start over
and "/quit" to leave.

Examples:
  ulink-console guided my-doctor`,
		Args: cobra.ExactArgs(1),
		RunE: withEnv(true, func(cmd *cobra.Command, e *env, args []string) error {
			conn, err := e.client.DialGuided(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer conn.Close()
			return runGuided(conn, cmd.InOrStdin(), cmd.OutOrStdout(), e.name(args[0]))
		}),
	}
}

// guidedPrompt is what the flow is waiting for after its last event.
type guidedPrompt struct {
	options []guided.Option
	text    bool
}

func runGuided(conn *websocket.Conn, in io.Reader, out io.Writer, name string) error {
	scanner := bufio.NewScanner(in)
	var prompt guidedPrompt
	for {
		next, ok, err := readUntilPrompt(conn, out, name)
		if err != nil {
			return err
		}
		if ok {
			prompt = next
		}

		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			if err := conn.WriteJSON(actionFor(prompt, line)); err != nil {
				return errors.Wrap(err, "send action")
			}
			break
		}
	}
}

// actionFor maps a typed line onto the action the pending step accepts.
func actionFor(prompt guidedPrompt, line string) guided.Action {
	if strings.EqualFold(line, "restart") {
		return guided.Action{Type: guided.ActionRestart}
	}
	if prompt.text {
		return guided.Action{Type: guided.ActionSubmit, Text: line}
	}
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(prompt.options) {
		return guided.Action{Type: guided.ActionChoose, Value: prompt.options[n-1].Value}
	}
	for _, opt := range prompt.options {
		if strings.EqualFold(opt.Value, line) || strings.EqualFold(opt.Label, line) {
			return guided.Action{Type: guided.ActionChoose, Value: opt.Value}
		}
	}
	return guided.Action{Type: guided.ActionChoose, Value: line}
}

// readUntilPrompt prints events until the flow asks for input. ok is false
// when the last action was rejected and the previous prompt still applies.
func readUntilPrompt(conn *websocket.Conn, out io.Writer, name string) (prompt guidedPrompt, ok bool, err error) {
	for {
		var ev guided.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return guidedPrompt{}, false, errors.Wrap(err, "guided flow closed")
		}

		switch ev.Kind {
		case guided.EventBot:
			if ev.Text != "" {
				fmt.Fprintf(out, "%s: %s\n", name, ev.Text)
			}
			if ev.Cards != nil {
				printCards(out, ev.Cards)
			}
		case guided.EventUser:
			fmt.Fprintf(out, "You: %s\n", ev.Text)
		case guided.EventTyping:
			if ev.Active {
				fmt.Fprintf(out, "%s is searching…\n", name)
			}
		case guided.EventQuickReplies:
			for i, opt := range ev.Options {
				fmt.Fprintf(out, "  [%d] %s\n", i+1, opt.Label)
			}
			return guidedPrompt{options: ev.Options}, true, nil
		case guided.EventInput:
			if ev.Placeholder != "" {
				fmt.Fprintf(out, "  (%s)\n", ev.Placeholder)
			}
			return guidedPrompt{text: true}, true, nil
		case guided.EventError:
			fmt.Fprintf(out, "! %s\n", ev.Text)
			return guidedPrompt{}, false, nil
		}
	}
}

func printCards(out io.Writer, res *guided.Result) {
	for i, rec := range res.Recommendations {
		number := string(rec.Number)
		if number == "" {
			number = strconv.Itoa(i + 1)
		}
		fmt.Fprintf(out, "  #%s %s\n", number, rec.DoctorName)
		specialty := rec.Specialty
		if rec.SubSpecialty != "" {
			specialty += " / " + rec.SubSpecialty
		}
		for _, line := range [][2]string{
			{"Hospital", rec.Hospital},
			{"Specialty", specialty},
			{"Location", rec.Location},
			{"Website", rec.Website},
		} {
			if line[1] != "" {
				fmt.Fprintf(out, "     %-9s %s\n", line[0]+":", line[1])
			}
		}
	}
}
