// devtoken issues bearer tokens signed with the service's JWT_SECRET for local
// development and manual testing.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sayuricruzv/project-YeyosFitness/internal/auth"
	"github.com/sayuricruzv/project-YeyosFitness/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Print a signed bearer token for the reservation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleClient && role != auth.RoleAdmin {
				return fmt.Errorf("role must be %q or %q", auth.RoleClient, auth.RoleAdmin)
			}
			cfg := config.Load()
			token, err := auth.NewVerifier(cfg.JWTSecret).Sign(auth.Identity{UserID: userID, Role: role}, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id carried by the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleClient, "client or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
