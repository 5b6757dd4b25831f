package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/indextrack/internal/changedate"
	"github.com/roach88/indextrack/internal/config"
	"github.com/roach88/indextrack/internal/metrics"
	"github.com/roach88/indextrack/internal/record"
	"github.com/roach88/indextrack/internal/shutdown"
	"github.com/roach88/indextrack/internal/tracker"
)

// maxLineSize bounds one input line.
const maxLineSize = 4 << 20

// IndexOptions holds flags for the index command.
type IndexOptions struct {
	*RootOptions
	Tolerance   time.Duration
	RejectStale bool
	MetricsAddr string

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs RunIDGenerator

	// Shutdown allows supplying the shutdown coordinator (for testing).
	// If nil, a new coordinator is created per run.
	Shutdown *shutdown.Coordinator
}

// inputRecord is one JSON line of index input.
type inputRecord struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace,omitempty"`
	Precise   string `json:"precise,omitempty"`
	Coarse    string `json:"coarse,omitempty"`
	Declared  string `json:"declared,omitempty"`
}

// IndexDocument is the per-record output of the index command: the fields a
// search document embeds.
type IndexDocument struct {
	ID           string `json:"id"`
	FirstIndexed string `json:"first_indexed"`
	LastIndexed  string `json:"last_indexed"`
	Outcome      string `json:"outcome"`
}

// IndexSummary reports the totals of one index run.
type IndexSummary struct {
	RunID       string `json:"run_id"`
	Namespace   string `json:"namespace"`
	Records     int    `json:"records"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Unchanged   int    `json:"unchanged"`
	Invalid     int    `json:"invalid"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// NewIndexCommand creates the index command.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	return newIndexCommand(&IndexOptions{RootOptions: rootOpts})
}

func newIndexCommand(opts *IndexOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [file]",
		Short: "Track a batch of records and emit their indexing dates",
		Long: `Read records as JSON lines, track each one, and write one JSON document
per record carrying its first and last indexed instants.

Each input line looks like:
  {"id": "u123", "namespace": "biblio", "precise": "20200101120000.0", "coarse": "200101"}

The declared change instant is taken from "declared" (RFC 3339) when present,
else from "precise" (yyyyMMddHHmmss[.S]), else from the first six characters
of "coarse" (yyMMdd), else the epoch. A missing namespace uses --namespace.

Input is read from the file argument, or stdin when absent or "-". A run
summary is written to stderr.

Exit codes:
  0 - All records tracked
  1 - Store failure, or some input lines were invalid
  2 - Command error (bad config, database unreachable, unreadable input)

Examples:
  indextrack index --db ./tracker.db records.jsonl
  producer | indextrack index --namespace authority --tolerance 2s
  indextrack index --config indextrack.yaml --metrics-addr :9102 records.jsonl`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runIndex(opts, path, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Tolerance, "tolerance", tracker.DefaultTolerance, "maximum declared-instant difference treated as unchanged; overrides config")
	cmd.Flags().BoolVar(&opts.RejectStale, "reject-stale", false, "ignore declared instants older than the stored one; overrides config")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run; overrides config")

	return cmd
}

func runIndex(opts *IndexOptions, path string, cmd *cobra.Command) error {
	logger := configureLogging(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := resolveConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("tolerance") {
		cfg.Tolerance = opts.Tolerance
	}
	if cmd.Flags().Changed("reject-stale") {
		cfg.RejectStale = opts.RejectStale
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	in, closeInput, err := openInput(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer closeInput()

	// Setup shutdown coordination. Teardown callbacks run on signal or when
	// the run returns, whichever comes first.
	coord := opts.Shutdown
	if coord == nil {
		coord = shutdown.New(logger)
	}
	ctx, stop := coord.OnSignal(commandContext(cmd))
	defer stop()
	defer func() {
		_ = coord.Begin()
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	coord.Register("store", st.Close)

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		if err := serveMetrics(cfg.MetricsAddr, m, coord, logger); err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics server", err)
		}
	}

	tr := tracker.New(st,
		tracker.WithClock(opts.trackerClock()),
		tracker.WithTolerance(cfg.Tolerance),
		tracker.WithRejectStale(cfg.RejectStale),
		tracker.WithLogger(logger),
		tracker.WithRecorder(m),
		tracker.WithShutdownSignal(coord),
	)

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = UUIDv7Generator{}
	}
	summary := IndexSummary{RunID: runIDs.Generate(), Namespace: cfg.Namespace}
	logger.Info("index run starting",
		"run_id", summary.RunID,
		"driver", cfg.Driver,
		"namespace", cfg.Namespace,
		"tolerance", cfg.Tolerance,
	)

	runErr := indexRecords(ctx, tr, cfg, in, cmd.OutOrStdout(), m, opts.trackerClock().Now, logger, &summary)

	if err := writeSummary(opts.Format, cmd.ErrOrStderr(), summary); err != nil {
		logger.Error("failed to write summary", "error", err)
	}
	if runErr != nil {
		return runErr
	}
	if summary.Invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid input line(s) skipped", summary.Invalid))
	}
	return nil
}

func indexRecords(
	ctx context.Context,
	tr *tracker.Tracker,
	cfg *config.Config,
	in io.Reader,
	out io.Writer,
	m *metrics.Metrics,
	now func() time.Time,
	logger *slog.Logger,
	summary *IndexSummary,
) error {
	enc := json.NewEncoder(out)
	lines, readErr := readLines(ctx, in)

	line := 0
	for {
		var raw []byte
		select {
		case <-ctx.Done():
			summary.Interrupted = true
			logger.Info("run cancelled, stopping", "line", line)
			return nil
		case next, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return WrapExitError(ExitCommandError, "failed to read input", err)
				}
				return nil
			}
			raw = next
		}
		line++
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		start := time.Now()

		var rec inputRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			summary.Invalid++
			logger.Warn("skipping malformed input line", "line", line, "error", err)
			continue
		}
		namespace := rec.Namespace
		if namespace == "" {
			namespace = cfg.Namespace
		}
		declared, source := changedate.ResolveAt(rec.Declared, changedate.Fields{Precise: rec.Precise, Coarse: rec.Coarse}, now())
		logger.Debug("declared change instant", "line", line, "id", rec.ID, "source", source, "declared", declared)

		res, err := tr.Observe(ctx, namespace, rec.ID, declared)
		switch {
		case errors.Is(err, record.ErrInvalidKey):
			summary.Invalid++
			logger.Warn("skipping record with invalid key", "line", line, "error", err)
			continue
		case tracker.IsShuttingDown(err):
			summary.Interrupted = true
			logger.Info("shutdown in progress, stopping run", "line", line)
			return nil
		case err != nil:
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to track record %q (line %d)", rec.ID, line), err)
		}

		if err := enc.Encode(IndexDocument{
			ID:           rec.ID,
			FirstIndexed: record.FormatTimestamp(res.FirstIndexed),
			LastIndexed:  record.FormatTimestamp(res.LastIndexed),
			Outcome:      string(res.Outcome),
		}); err != nil {
			return WrapExitError(ExitFailure, "failed to write output", err)
		}

		summary.Records++
		switch res.Outcome {
		case record.OutcomeCreate:
			summary.Created++
		case record.OutcomeUpdate:
			summary.Updated++
		case record.OutcomeNoop:
			summary.Unchanged++
		}
		m.ObserveRecord(start)
	}
}

// readLines scans in on its own goroutine so a stalled reader cannot keep
// the run from seeing ctx cancellation. The error channel yields the scan
// error once lines is closed.
func readLines(ctx context.Context, in io.Reader) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			select {
			case lines <- bytes.Clone(scanner.Bytes()):
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	return lines, errc
}

func writeSummary(format string, w io.Writer, s IndexSummary) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(CLIResponse{Status: "ok", Data: s, RunID: s.RunID})
	}
	_, err := fmt.Fprintf(w, "run %s: %d record(s) in %s (%d created, %d updated, %d unchanged), %d invalid\n",
		s.RunID, s.Records, s.Namespace, s.Created, s.Updated, s.Unchanged, s.Invalid)
	if err == nil && s.Interrupted {
		_, err = fmt.Fprintln(w, "run interrupted by shutdown")
	}
	return err
}

func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// serveMetrics starts an HTTP server exposing m on addr and registers its
// shutdown with coord.
func serveMetrics(addr string, m *metrics.Metrics, coord *shutdown.Coordinator, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	coord.Register("metrics", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return nil
}
