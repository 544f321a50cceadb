package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/dispenser-core/internal/session"
)

// Token returns the command that issues an API session token.
func Token(opts *globalOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue a session token for the provisioning API",
		Long: `Issue a signed bearer token for the provisioning API.

The token is signed with security.jwt.secret (DISPENSER_JWT_SECRET). When no
user is given the --user flag is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := opts.user
			if len(args) == 1 {
				user = args[0]
			}
			if user == "" {
				return errors.New("a user is required")
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set (DISPENSER_JWT_SECRET)")
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}

			token, err := session.GenerateToken(user, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: security.jwt.access_token_ttl)")

	return cmd
}
