package cli

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mrsingh-rishi/watson/api"
)

func NewTokenCmd(deps *Dependencies) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a token for the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.Config.APIJWTSecret == "" {
				return errors.New("WATSON_API_JWT_SECRET is not set")
			}
			token, err := api.IssueToken([]byte(deps.Config.APIJWTSecret), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "name recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "how long the token stays valid")
	return cmd
}
