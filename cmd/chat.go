package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/agent"
	"github.com/iksnae/chief-of-staff/internal/events"
	"github.com/spf13/cobra"
)

const chatEventBuffer = 4096

var (
	chatSessionID string
	chatNew       bool
)

// chatCmd talks to the agent, either one message or an interactive loop.
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the agent",
	Long: `Send a message to the agent, or start an interactive chat when no message
is given. The conversation continues the latest chat session unless --new or
--session is used.

Interactive commands:
  /clear   start a fresh conversation
  /exit    quit`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return withApp(ctx, func(a *app) error {
			id := chatSessionID
			var err error
			if chatNew {
				id, err = a.orch.ClearChat(ctx, "")
			} else {
				id, err = a.orch.EnsureChatSession(ctx, id)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				_, err := chatTurn(ctx, a, out, id, args[0])
				return err
			}
			return chatLoop(ctx, a, cmd.InOrStdin(), out, id)
		})
	},
}

func chatLoop(ctx context.Context, a *app, in io.Reader, out io.Writer, id string) error {
	_, _ = fmt.Fprintf(out, "%s %s\n\n", sectionStyle.Render("Chat"), dimStyle.Render("session "+id+" · /clear to reset · /exit to quit"))
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		_, _ = fmt.Fprint(out, infoStyle.Render("you › "))
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			next, err := a.orch.ClearChat(ctx, id)
			if err != nil {
				return err
			}
			id = next
			_, _ = fmt.Fprintln(out, dimStyle.Render("Started a new conversation ("+id+")"))
			continue
		}

		if _, err := chatTurn(ctx, a, out, id, text); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			internal.PrintError(err.Error())
		}
	}
}

// chatTurn sends one message. Tool activity is shown as it happens; the reply
// streams as plain text when stdout is not a terminal and is rendered as
// markdown when it is.
func chatTurn(ctx context.Context, a *app, out io.Writer, id, text string) (string, error) {
	stream := !internal.IsTerminal()
	sub, cancel := a.bus.SubscribeBuffered(chatEventBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub {
			if e.SessionID != id {
				continue
			}
			switch e.Type {
			case events.ChatChunk:
				if stream {
					_, _ = fmt.Fprint(out, e.Data["text"])
				}
			case events.ChatToolCall:
				if e.Data["status"] == agent.ToolStart {
					_, _ = fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("  → %v", e.Data["tool"])))
				}
			}
		}
	}()

	reply, err := a.orch.SendChatMessage(ctx, id, text)
	cancel()
	<-done
	if err != nil {
		return "", err
	}

	if stream {
		_, _ = fmt.Fprintln(out)
	} else {
		_, _ = fmt.Fprint(out, renderMarkdown(reply))
	}
	return reply, nil
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Continue a specific chat session")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Start a new conversation")
	rootCmd.AddCommand(chatCmd)
}
