package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/email-confirmation-service/internal/domain"
	"github.com/spf13/cobra"
)

func newTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify signed tokens",
	}
	cmd.AddCommand(newTokenIssueCommand(opts), newTokenVerifyCommand(opts))
	return cmd
}

func newTokenIssueCommand(opts *RootOptions) *cobra.Command {
	var subject, purpose string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a token for a subject and purpose",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.Load(cmd.Context())
			if err != nil {
				return err
			}
			tok, err := rt.Engine.Issue(subject, domain.Purpose(purpose), ttl)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Format, tok, func(w io.Writer) {
				fmt.Fprintln(w, tok.Value)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (request key)")
	cmd.Flags().StringVar(&purpose, "purpose", string(domain.PurposeStatusUpdate), "confirm-link | service-invocation | status-update")
	cmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

type verifyResult struct {
	Valid   bool   `json:"valid"`
	Subject string `json:"subject,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newTokenVerifyCommand(opts *RootOptions) *cobra.Command {
	var purpose string

	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token against a purpose",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Load(cmd.Context())
			if err != nil {
				return err
			}
			subject, verr := rt.Engine.Verify(args[0], domain.Purpose(purpose))
			res := verifyResult{Valid: verr == nil, Subject: subject}
			if verr != nil {
				res.Error = verr.Error()
			}
			if err := render(cmd.OutOrStdout(), opts.Format, res, func(w io.Writer) {
				if res.Valid {
					fmt.Fprintf(w, "valid: subject=%s\n", res.Subject)
				} else {
					fmt.Fprintf(w, "invalid: %s\n", res.Error)
				}
			}); err != nil {
				return err
			}
			return verr
		},
	}
	cmd.Flags().StringVar(&purpose, "purpose", string(domain.PurposeConfirmLink), "expected purpose")
	return cmd
}
