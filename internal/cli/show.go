package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/indextrack/internal/config"
	"github.com/roach88/indextrack/internal/record"
	"github.com/roach88/indextrack/internal/tracker"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print the stored tracking row for a record",
		Long: `Print the stored tracking row for one record.

Exit codes:
  0 - Record found
  1 - Record not found
  2 - Command error (bad config, database unreachable)

Examples:
  indextrack show --db ./tracker.db u123
  indextrack show --namespace authority a-17 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runShow(opts *RootOptions, id string, cmd *cobra.Command) error {
	logger := configureLogging(opts, cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	return withStore(ctx, opts, logger, func(cfg *config.Config, st recordStore) error {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

		rec, err := tracker.New(st, tracker.WithLogger(logger)).Retrieve(ctx, cfg.Namespace, id)
		if errors.Is(err, record.ErrNotFound) {
			msg := fmt.Sprintf("record %s:%s not found", cfg.Namespace, id)
			_ = formatter.Error(ErrCodeNotFound, msg, nil)
			return NewExitError(ExitFailure, msg)
		}
		if errors.Is(err, record.ErrInvalidKey) {
			return WrapExitError(ExitCommandError, "invalid record id", err)
		}
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read record", err)
		}

		view := newRecordView(rec)
		if opts.Format == "json" {
			return formatter.Success(view)
		}
		writeRecordText(cmd.OutOrStdout(), view)
		return nil
	})
}
