package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	transporthttp "github.com/vovakirdan/wirechat-sync/internal/transport/http"
)

func newTokenCmd(e *env) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken(transporthttp.JWTConfig(&e.cfg), args[0], username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	return cmd
}
