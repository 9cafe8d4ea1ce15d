package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/cobra"

	"github.com/sakif/calorily/internal/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:     "token",
		GroupID: "admin",
		Short:   "Mint an API token signed with http.jwt_secret",
		Long: `Mint a bearer token for the HTTP API.

Clients send it as "Authorization: Bearer <token>", or as ?access_token=
on the websocket endpoint. Without --subject a random id is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.HTTP.JWTSecret == "" {
				return errors.New("http.jwt_secret is not set; the API runs without authentication")
			}
			tokens, err := auth.NewTokenService(a.cfg.HTTP.JWTSecret)
			if err != nil {
				return err
			}
			if subject == "" {
				subject = xid.New().String()
			}
			token, err := tokens.Generate(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (default: random id)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}
