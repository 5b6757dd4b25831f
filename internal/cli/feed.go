package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/indextrack/internal/changedate"
	"github.com/roach88/indextrack/internal/config"
	"github.com/roach88/indextrack/internal/record"
)

// FeedOptions holds flags for the deleted and changed commands.
type FeedOptions struct {
	*RootOptions
	From   string
	Until  string
	Offset int
	Limit  int
}

// FeedPage is one page of a record feed.
type FeedPage struct {
	Namespace string       `json:"namespace"`
	From      string       `json:"from"`
	Until     string       `json:"until"`
	Offset    int          `json:"offset"`
	Total     *int         `json:"total,omitempty"`
	Records   []RecordView `json:"records"`
}

// NewDeletedCommand creates the deleted command.
func NewDeletedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deleted",
		Short: "List records deleted within a time range",
		Long: `List tombstoned records whose deletion instant falls in [--from, --until],
oldest first, together with the total number of matches.

This is the feed harvesters use to learn about withdrawn records.

Examples:
  indextrack deleted --db ./tracker.db --from 2024-01-01T00:00:00Z
  indextrack deleted --from 2024-01-01T00:00:00Z --offset 100 --limit 100 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeleted(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "start of range, RFC 3339 (default epoch)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "end of range, RFC 3339 (default now)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of matches to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum matches to return (0 for all)")

	return cmd
}

// NewChangedCommand creates the changed command.
func NewChangedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changed",
		Short: "List live records whose last indexed instant falls in a time range",
		Long: `List live (not deleted) records whose last indexed instant falls in
[--since, --until], oldest first.

Examples:
  indextrack changed --db ./tracker.db --since 2024-01-01T00:00:00Z
  indextrack changed --since 2024-01-01T00:00:00Z --limit 0 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanged(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "since", "", "start of range, RFC 3339 (default epoch)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "end of range, RFC 3339 (default now)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of matches to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum matches to return (0 for all)")

	return cmd
}

func runDeleted(opts *FeedOptions, cmd *cobra.Command) error {
	logger := configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	from, until, err := opts.window("from")
	if err != nil {
		return err
	}

	return withStore(ctx, opts.RootOptions, logger, func(cfg *config.Config, st recordStore) error {
		recs, err := st.ListDeleted(ctx, cfg.Namespace, from, until, opts.Offset, opts.Limit)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list deleted records", err)
		}
		total, err := st.CountDeleted(ctx, cfg.Namespace, from, until)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to count deleted records", err)
		}

		page := FeedPage{
			Namespace: cfg.Namespace,
			From:      record.FormatTimestamp(from),
			Until:     record.FormatTimestamp(until),
			Offset:    opts.Offset,
			Total:     &total,
			Records:   newRecordViews(recs),
		}
		return writeFeed(opts.RootOptions, cmd, page, func(v RecordView) string { return v.Deleted })
	})
}

func runChanged(opts *FeedOptions, cmd *cobra.Command) error {
	logger := configureLogging(opts.RootOptions, cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	since, until, err := opts.window("since")
	if err != nil {
		return err
	}

	return withStore(ctx, opts.RootOptions, logger, func(cfg *config.Config, st recordStore) error {
		recs, err := st.ListChanged(ctx, cfg.Namespace, since, until, opts.Offset, opts.Limit)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list changed records", err)
		}

		page := FeedPage{
			Namespace: cfg.Namespace,
			From:      record.FormatTimestamp(since),
			Until:     record.FormatTimestamp(until),
			Offset:    opts.Offset,
			Records:   newRecordViews(recs),
		}
		return writeFeed(opts.RootOptions, cmd, page, func(v RecordView) string { return v.LastIndexed })
	})
}

func (opts *FeedOptions) window(fromFlag string) (from, until time.Time, err error) {
	if opts.Offset < 0 {
		return from, until, NewExitError(ExitCommandError, "--offset must not be negative")
	}
	from, err = parseInstant(fromFlag, opts.From, changedate.Epoch)
	if err != nil {
		return from, until, err
	}
	until, err = parseInstant("until", opts.Until, opts.trackerClock().Now())
	if err != nil {
		return from, until, err
	}
	if until.Before(from) {
		return from, until, NewExitError(ExitCommandError, fmt.Sprintf("--until %s is before --%s %s", record.FormatTimestamp(until), fromFlag, record.FormatTimestamp(from)))
	}
	return from, until, nil
}

func writeFeed(opts *RootOptions, cmd *cobra.Command, page FeedPage, instant func(RecordView) string) error {
	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(page)
	}

	out := cmd.OutOrStdout()
	for _, v := range page.Records {
		fmt.Fprintf(out, "%s\t%s\n", instant(v), v.ID)
	}
	if page.Total != nil {
		fmt.Fprintf(out, "%d of %d record(s) from offset %d\n", len(page.Records), *page.Total, page.Offset)
	} else {
		fmt.Fprintf(out, "%d record(s) from offset %d\n", len(page.Records), page.Offset)
	}
	return nil
}
