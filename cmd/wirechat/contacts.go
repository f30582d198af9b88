package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/chat"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

func newContactsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage your contacts and browse the user directory",
	}
	cmd.AddCommand(
		newContactsListCmd(e),
		newContactsAddCmd(e),
		newContactsRemoveCmd(e),
		newDirectoryCmd(e),
	)
	return cmd
}

func newContactsListCmd(e *env) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your contacts",
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

			contacts, err := chat.OpenContacts(ctx, client, session, e.chatOptions()...)
			if err != nil {
				return err
			}
			defer contacts.Close()

			out := cmd.OutOrStdout()
			printContacts(out, contacts.List())
			if !follow {
				return nil
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case s, ok := <-contacts.Signals():
					if !ok {
						return nil
					}
					switch s.Kind {
					case chat.SignalUpdated, chat.SignalReconnected:
						fmt.Fprintln(out)
						printContacts(out, contacts.List())
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

func newContactsAddCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "add <email>",
		Short: "Add the user registered with an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := e.client()
			if err != nil {
				return err
			}
			c, err := client.AddContactByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", contactName(c))
			return nil
		},
	}
}

func newContactsRemoveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Remove a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := e.client()
			if err != nil {
				return err
			}
			if err := client.RemoveContact(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newDirectoryCmd(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "directory",
		Short: "List registered users by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := e.client()
			if err != nil {
				return err
			}
			profiles, err := client.ListProfiles(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range profiles {
				fmt.Fprintf(out, "%-24s %-20s %s\n", p.ID, p.Username, p.Email)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of users, 0 for all")
	return cmd
}

func contactName(c *store.Contact) string {
	if c.Profile != nil && c.Profile.Username != "" {
		return c.Profile.Username
	}
	return c.ContactID
}

func printContacts(w io.Writer, contacts []store.Contact) {
	if len(contacts) == 0 {
		fmt.Fprintln(w, "no contacts")
		return
	}
	for i := range contacts {
		c := &contacts[i]
		email := ""
		if c.Profile != nil {
			email = c.Profile.Email
		}
		fmt.Fprintf(w, "%-24s %-20s %-28s added %s\n", c.ContactID, contactName(c), email, c.AddedAt.Local().Format(time.DateOnly))
	}
}
