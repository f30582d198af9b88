package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/chat"
)

func newInboxCmd(e *env) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List conversations, newest activity first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			inbox, err := chat.OpenInbox(ctx, client, session, e.chatOptions()...)
			if err != nil {
				return err
			}
			defer inbox.Close()

			out := cmd.OutOrStdout()
			printSummaries(out, inbox.Summaries())
			if !follow {
				return nil
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case s, ok := <-inbox.Signals():
					if !ok {
						return nil
					}
					switch s.Kind {
					case chat.SignalUpdated, chat.SignalReconnected:
						fmt.Fprintln(out)
						printSummaries(out, inbox.Summaries())
					case chat.SignalDisconnected:
						fmt.Fprintln(out, "-- connection lost, reconnecting")
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep the list updated")
	return cmd
}

func printSummaries(w io.Writer, summaries []chat.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "no conversations")
		return
	}
	for _, s := range summaries {
		name := s.OtherID
		if s.Other != nil && s.Other.Username != "" {
			name = s.Other.Username
		}
		fmt.Fprintf(w, "%-24s %-20s %s\n", s.ConversationID(), name, s.UpdatedAt.Local().Format(time.DateTime))
		if preview := s.Preview(); preview != "" {
			fmt.Fprintf(w, "    %s\n", preview)
		}
	}
}
