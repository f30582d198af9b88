package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/chat"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

func newChatCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <peer-id>",
		Short: "Open the conversation with a peer; lines read from stdin are sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			client, err := e.client()
			if err != nil {
				return err
			}
			session, err := chat.NewSession(client.UserID())
			if err != nil {
				return err
			}
			opts := e.chatOptions()

			conv, err := chat.NewResolver(client, session, opts...).Resolve(ctx, session.UserID, args[0])
			if err != nil {
				return err
			}
			room, err := chat.OpenRoom(ctx, client, session, conv, opts...)
			if err != nil {
				return err
			}
			defer room.Close()

			out := cmd.OutOrStdout()
			for _, m := range room.Messages() {
				printMessage(out, m)
			}

			lines := readLines(ctx, cmd.InOrStdin())
			for {
				select {
				case <-ctx.Done():
					return nil
				case s, ok := <-room.Signals():
					if !ok {
						return nil
					}
					printRoomSignal(out, session.UserID, s)
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					if _, err := room.Send(ctx, store.Body{Text: line}); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "send failed (%s): %v\n", chat.CodeOf(err), err)
					}
				}
			}
		},
	}
}

func printRoomSignal(w io.Writer, viewer string, s chat.Signal) {
	switch s.Kind {
	case chat.SignalNewMessage:
		if s.Message != nil && s.Message.SenderID != viewer {
			printMessage(w, s.Message)
		}
	case chat.SignalDisconnected:
		fmt.Fprintln(w, "-- connection lost, reconnecting")
	case chat.SignalReconnected:
		fmt.Fprintln(w, "-- reconnected")
	case chat.SignalError:
		fmt.Fprintf(w, "-- error: %v\n", s.Err)
	}
}

func printMessage(w io.Writer, m *store.Message) {
	text := m.Body.Text
	if m.Body.MediaURL != "" {
		text = strings.TrimSpace(text + " [" + m.Body.MediaURL + "]")
	}
	fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.SenderID, text)
}

// readLines feeds r line by line until EOF or ctx ends.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	if r == nil {
		r = os.Stdin
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
