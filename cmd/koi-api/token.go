package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/auth"
	"github.com/MarcoPoloResearchLab/koi/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errMissingSubject = errors.New("token: --subject is required")

type tokenOptions struct {
	subject string
	email   string
	name    string
	avatar  string
}

func newTokenCommand() *cobra.Command {
	var opts tokenOptions
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, expiresIn, err := mintToken(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", time.Duration(expiresIn)*time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.subject, "subject", "", "Identity subject (user id)")
	cmd.Flags().StringVar(&opts.email, "email", "", "Identity email")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name")
	cmd.Flags().StringVar(&opts.avatar, "avatar", "", "Avatar URL")
	return cmd
}

func mintToken(ctx context.Context, opts tokenOptions) (string, int64, error) {
	subject := strings.TrimSpace(opts.subject)
	if subject == "" {
		return "", 0, errMissingSubject
	}
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return "", 0, err
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return "", 0, err
	}
	return issuer.IssueSessionToken(ctx, auth.Principal{
		Subject:     subject,
		Email:       strings.TrimSpace(opts.email),
		DisplayName: strings.TrimSpace(opts.name),
		AvatarURL:   strings.TrimSpace(opts.avatar),
	})
}
