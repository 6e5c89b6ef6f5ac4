// Package cli implements confirmctl, the operator tool for tokens, requests
// and dead-lettered change records.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/email-confirmation-service/internal/bootstrap"
	"github.com/email-confirmation-service/internal/config"
	"github.com/email-confirmation-service/internal/logging"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the runtime loader shared by all commands.
type RootOptions struct {
	Format string // "json" | "text"

	// Load builds the runtime. Defaults to config.Load plus bootstrap.New.
	Load func(ctx context.Context) (*bootstrap.Runtime, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for confirmctl.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts.Load == nil {
		opts.Load = loadRuntime
	}

	cmd := &cobra.Command{
		Use:   "confirmctl",
		Short: "Operate the email confirmation service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newRequestCommand(opts))
	cmd.AddCommand(newDeadLetterCommand(opts))
	return cmd
}

func loadRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.IsLocal(), slog.LevelWarn)
	return bootstrap.New(ctx, cfg, logger)
}

// render writes v as indented JSON or as the text produced by text.
func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
