package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		userID  string
		ownerID string
		email   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access and refresh token pair for an operator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}
			user, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			owner, err := uuid.Parse(ownerID)
			if err != nil {
				return fmt.Errorf("--owner: %w", err)
			}

			pair, err := newTokenManager(cfg).GenerateTokenPair(user, owner, email)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "IMPORT_ACCESS_TOKEN=%s\n", pair.AccessToken)
			fmt.Fprintf(out, "IMPORT_REFRESH_TOKEN=%s\n", pair.RefreshToken)
			fmt.Fprintf(cmd.ErrOrStderr(), "access token expires %s\n", pair.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Operator user id")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Catalog owner id the imports belong to")
	cmd.Flags().StringVar(&email, "email", "", "Operator email")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
