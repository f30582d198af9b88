package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

func newProfileCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Read or update profiles",
	}
	cmd.AddCommand(newProfileGetCmd(e), newProfileSetCmd(e))
	return cmd
}

func newProfileGetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user-id>...",
		Short: "Show the profiles of the given users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := e.client()
			if err != nil {
				return err
			}
			profiles, err := client.QueryProfiles(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range args {
				p, ok := profiles[id]
				if !ok {
					fmt.Fprintf(out, "%s\t(no profile)\n", id)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.ID, p.Username, p.Email, p.AvatarURL)
			}
			return nil
		},
	}
}

func newProfileSetCmd(e *env) *cobra.Command {
	var p store.Profile

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace your own profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := e.client()
			if err != nil {
				return err
			}
			saved, err := client.UpsertProfile(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile of %s saved\n", saved.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.Username, "username", "", "display name")
	f.StringVar(&p.Email, "email", "", "contact email")
	f.StringVar(&p.AvatarURL, "avatar", "", "avatar URL")
	return cmd
}
