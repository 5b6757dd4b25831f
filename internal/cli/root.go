package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/indextrack/internal/clock"
	"github.com/roach88/indextrack/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	Driver     string
	Namespace  string

	// Getenv reads the environment. If nil, defaults to os.Getenv.
	Getenv func(string) string

	// Clock overrides the tracker clock (for testing).
	// If nil, defaults to the system clock.
	Clock clock.Clock

	// Configs caches config resources. If nil, defaults to config.Shared().
	Configs *config.Cache
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidDrivers defines the allowed store drivers.
var ValidDrivers = []string{config.DriverSQLite, config.DriverPostgres}

// NewRootCommand creates the root command for the indextrack CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indextrack",
		Short: "indextrack - record change tracking for search indexing",
		Long: `Track when source records were first indexed, when they last changed,
and whether they are deleted, independently of the search index.

The history survives index rebuilds, so replication feeds and incremental
harvesters can ask what changed since a given instant.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Driver != "" && !contains(ValidDrivers, opts.Driver) {
				return fmt.Errorf("invalid driver %q: must be one of %v", opts.Driver, ValidDrivers)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (.yaml, .yml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database DSN (SQLite path or PostgreSQL URL); overrides config and $"+config.EnvDSN)
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "store driver (sqlite|postgres); overrides config")
	cmd.PersistentFlags().StringVarP(&opts.Namespace, "namespace", "n", "", "record namespace; overrides config (default \"biblio\")")

	// Add subcommands
	cmd.AddCommand(NewIndexCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewDeletedCommand(opts))
	cmd.AddCommand(NewChangedCommand(opts))

	return cmd
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
