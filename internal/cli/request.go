package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/email-confirmation-service/internal/application/confirmation"
	"github.com/email-confirmation-service/internal/domain"
	"github.com/spf13/cobra"
)

func newRequestCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Inspect, create and transition confirmation requests",
	}
	cmd.AddCommand(newRequestGetCommand(opts), newRequestCreateCommand(opts), newRequestTransitionCommand(opts))
	return cmd
}

func printRequest(w io.Writer, c *domain.ConfirmationRequest) {
	fmt.Fprintf(w, "key:        %s\n", c.Key)
	fmt.Fprintf(w, "email:      %s\n", c.Email)
	fmt.Fprintf(w, "state:      %s\n", c.State)
	fmt.Fprintf(w, "version:    %d\n", c.Version)
	fmt.Fprintf(w, "expires_at: %s\n", c.ExpiresAt.Format(time.RFC3339))
	if c.ConfirmedAt != nil {
		fmt.Fprintf(w, "confirmed:  %s\n", c.ConfirmedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "callback:   %s\n", c.CallbackTarget)
}

func newRequestGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show a confirmation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Load(cmd.Context())
			if err != nil {
				return err
			}
			c, err := rt.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Format, c, func(w io.Writer) { printRequest(w, c) })
		},
	}
}

func newRequestCreateCommand(opts *RootOptions) *cobra.Command {
	var email, callback, clientID string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a confirmation request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.Load(cmd.Context())
			if err != nil {
				return err
			}
			svc := confirmation.NewService(confirmation.ServiceDeps{Store: rt.Store, DefaultTTL: rt.Config.DefaultTTL})
			c, err := svc.Create(cmd.Context(), domain.NewConfirmation{
				Email:          email,
				ClientID:       clientID,
				CallbackTarget: callback,
				TTL:            ttl,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Format, c, func(w io.Writer) { printRequest(w, c) })
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "address to confirm")
	cmd.Flags().StringVar(&callback, "callback", "", "callback target URL")
	cmd.Flags().StringVar(&clientID, "client-id", "", "optional client identifier")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "request lifetime (default from config)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("callback")
	return cmd
}

func newRequestTransitionCommand(opts *RootOptions) *cobra.Command {
	var to string
	var expected int64

	cmd := &cobra.Command{
		Use:   "transition <key>",
		Short: "Move a confirmation request to a later state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := domain.ParseState(to)
			if err != nil {
				return err
			}
			rt, err := opts.Load(cmd.Context())
			if err != nil {
				return err
			}
			svc := confirmation.NewService(confirmation.ServiceDeps{Store: rt.Store, DefaultTTL: rt.Config.DefaultTTL})
			c, err := svc.SetStatus(cmd.Context(), args[0], expected, state)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Format, c, func(w io.Writer) { printRequest(w, c) })
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target state")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "version the record must currently have")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("expected-version")
	return cmd
}
