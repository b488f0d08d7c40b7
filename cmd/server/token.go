package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainsyncstore/chainsync-notify/internal/auth"
	"github.com/chainsyncstore/chainsync-notify/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		tenant  string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			if tenant == "" {
				return errors.New("--tenant is required")
			}
			j := auth.NewJWTService(config.Load().JWTSecret)
			token, err := j.GenerateTokenWithTTL(subject, tenant, role, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "User id (sub claim)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&role, "role", "", "Role claim, e.g. admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
