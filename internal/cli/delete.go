package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/indextrack/internal/config"
	"github.com/roach88/indextrack/internal/record"
	"github.com/roach88/indextrack/internal/tracker"
)

// DeleteResult reports what delete did to one record.
type DeleteResult struct {
	ID      string `json:"id"`
	Deleted string `json:"deleted"`
	Changed bool   `json:"changed"`
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Mark records deleted",
		Long: `Mark records deleted in the change tracker.

A record never seen before becomes a bare tombstone. A record that is already
deleted is left alone. A live record keeps its last indexed instant and
forgets its first indexed instant, so indexing it again later starts a new
lifetime.

Examples:
  indextrack delete --db ./tracker.db u123 u456
  indextrack delete --namespace authority a-17 --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runDelete(opts *RootOptions, ids []string, cmd *cobra.Command) error {
	logger := configureLogging(opts, cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	return withStore(ctx, opts, logger, func(cfg *config.Config, st recordStore) error {
		tr := tracker.New(st,
			tracker.WithClock(opts.trackerClock()),
			tracker.WithLogger(logger),
		)

		results := make([]DeleteResult, 0, len(ids))
		for _, id := range ids {
			del, err := tr.MarkDeleted(ctx, cfg.Namespace, id)
			if errors.Is(err, record.ErrInvalidKey) {
				return WrapExitError(ExitCommandError, "invalid record id", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("failed to delete record %q", id), err)
			}
			results = append(results, DeleteResult{
				ID:      del.Record.Identifier,
				Deleted: record.FormatNullable(del.Record.Deleted),
				Changed: del.Changed,
			})
		}

		if opts.Format == "json" {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return formatter.Success(results)
		}
		for _, r := range results {
			if r.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s:%s at %s\n", cfg.Namespace, r.ID, r.Deleted)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "already deleted %s:%s at %s\n", cfg.Namespace, r.ID, r.Deleted)
			}
		}
		return nil
	})
}
