package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-exam-grader/internal/middleware"
)

func newTokenCommand(rt *runtime) *cobra.Command {
	var (
		subject uint
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the grading API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == 0 {
				return fmt.Errorf("--sub must be a positive user id")
			}
			token, err := middleware.IssueToken(rt.cfg.JWTSecret, subject, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().UintVar(&subject, "sub", 0, "user id placed in the sub claim")
	cmd.Flags().StringVar(&role, "role", "teacher", "role claim (teacher, admin or student)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
