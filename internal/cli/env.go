package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/indextrack/internal/clock"
	"github.com/roach88/indextrack/internal/config"
	"github.com/roach88/indextrack/internal/record"
	"github.com/roach88/indextrack/internal/store"
	"github.com/roach88/indextrack/internal/store/postgres"
	"github.com/roach88/indextrack/internal/tracker"
)

// recordStore is what the commands need from a store backend. Both the
// SQLite and the PostgreSQL stores satisfy it.
type recordStore interface {
	tracker.Store
	ListDeleted(ctx context.Context, namespace string, from, until time.Time, offset, limit int) ([]record.TrackedRecord, error)
	CountDeleted(ctx context.Context, namespace string, from, until time.Time) (int, error)
	ListChanged(ctx context.Context, namespace string, since, until time.Time, offset, limit int) ([]record.TrackedRecord, error)
	Close() error
}

// configureLogging installs a text handler on w as the default logger.
func configureLogging(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// resolveConfig layers config file, environment, and global flags, in that
// order of increasing precedence.
func resolveConfig(opts *RootOptions) (*config.Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	cache := opts.Configs
	if cache == nil {
		cache = config.Shared()
	}

	cfg, err := cache.Resolve(opts.ConfigPath, getenv)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Driver != "" {
		cfg.Driver = opts.Driver
	}
	if opts.Database != "" {
		cfg.DSN = opts.Database
	}
	if opts.Namespace != "" {
		cfg.Namespace = opts.Namespace
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// openStore connects to the backend cfg names.
func openStore(ctx context.Context, cfg *config.Config) (recordStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil
	default:
		st, err := store.Open(cfg.DSN)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil
	}
}

// commandContext returns the context the caller executed cmd with, or
// context.Background when there is none.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (opts *RootOptions) trackerClock() clock.Clock {
	if opts.Clock != nil {
		return opts.Clock
	}
	return clock.System{}
}

// withStore resolves config, opens the store, and runs fn. The store is
// closed on every exit path.
func withStore(ctx context.Context, opts *RootOptions, logger *slog.Logger, fn func(*config.Config, recordStore) error) error {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	logger.Debug("opening database", "driver", cfg.Driver)
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	return fn(cfg, st)
}
