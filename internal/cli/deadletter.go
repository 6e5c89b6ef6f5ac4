package cli

import (
	"fmt"
	"io"
	"path"

	"github.com/email-confirmation-service/internal/bootstrap"
	"github.com/email-confirmation-service/internal/domain"
	s3infra "github.com/email-confirmation-service/internal/infrastructure/s3"
	"github.com/spf13/cobra"
)

func newDeadLetterCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect archived poison change records",
	}
	cmd.AddCommand(newDeadLetterListCommand(opts), newDeadLetterGetCommand(opts))
	return cmd
}

func archive(rt *bootstrap.Runtime) (*s3infra.Store, error) {
	if rt.Dynamo == nil || rt.Config.DeadLetterBucket == "" {
		return nil, fmt.Errorf("dead-letter archive needs the dynamo backend and DEADLETTER_BUCKET")
	}
	return s3infra.NewStore(s3infra.NewClient(rt.AWS, rt.Config), rt.Config.DeadLetterBucket), nil
}

func newDeadLetterListCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list [key]",
		Short: "List archived entries, optionally for one request key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Load(cmd.Context())
			if err != nil {
				return err
			}
			store, err := archive(rt)
			if err != nil {
				return err
			}
			prefix := "deadletter/"
			if len(args) == 1 {
				prefix = path.Join("deadletter", args[0]) + "/"
			}
			keys, err := store.List(cmd.Context(), prefix, limit)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Format, keys, func(w io.Writer) {
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of keys")
	return cmd
}

func newDeadLetterGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <object-key>",
		Short: "Show an archived entry, e.g. deadletter/<key>/<sequence>.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Load(cmd.Context())
			if err != nil {
				return err
			}
			store, err := archive(rt)
			if err != nil {
				return err
			}
			var entry domain.PoisonEntry
			if err := store.GetJSON(cmd.Context(), args[0], &entry); err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.Format, entry, func(w io.Writer) {
				fmt.Fprintf(w, "key:         %s\n", entry.Record.Key)
				fmt.Fprintf(w, "sequence:    %s\n", entry.Record.Sequence)
				fmt.Fprintf(w, "state:       %s\n", entry.Record.New.State)
				fmt.Fprintf(w, "attempts:    %d\n", entry.Attempts)
				fmt.Fprintf(w, "isolated_at: %s\n", entry.IsolatedAt)
				fmt.Fprintf(w, "error:       %s\n", entry.Error)
			})
		},
	}
}
