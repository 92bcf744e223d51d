package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Backend    string
	Database   string
	DSN        string
	Verbose    bool
	Format     string // "json" | "text"

	// Config is resolved before any subcommand runs.
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ledgersync CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported on stderr, or as a JSON envelope on stdout with --format json.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	f := &OutputFormatter{Format: "text", Writer: stderr}
	if opts.Format == "json" {
		f = &OutputFormatter{Format: "json", Writer: stdout}
	}
	_ = f.Error(err)
	return GetExitCode(err)
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ledgersync",
		Short: "ledgersync - wallet ledger storage and sync",
		Long: `Inspect and maintain a wallet's local ledger: payments, unclaimed
deposits, cached settings and the record sync queues.

Settings come from defaults, then --config, then LEDGERSYNC_* environment
variables (a .env file is read if present), then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend (sqlite|postgres|bolt)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database file for sqlite and bolt")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "postgres connection string")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewPaymentsCommand(opts))
	cmd.AddCommand(NewDepositsCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewExporterCommand(opts))

	return cmd, opts
}

// resolve loads the config, applies flag overrides and installs the logger.
func (opts *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = opts.Backend
	}
	if flags.Changed("db") {
		cfg.Path = opts.Database
	}
	if flags.Changed("dsn") {
		cfg.Postgres.DSN = opts.DSN
	}
	if opts.Verbose {
		cfg.Log.Level = "DEBUG"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	opts.Config = cfg
	opts.Logger = config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(opts.Logger)
	return nil
}
