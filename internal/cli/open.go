package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/config"
	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/store/boltstore"
	"github.com/roach88/ledgersync/internal/store/sqlstore"
)

// openStorage opens and migrates the configured backend.
func openStorage(ctx context.Context, opts *RootOptions) (store.Storage, error) {
	cfg := opts.Config
	logger := opts.Logger

	logger.Debug("opening store", "backend", cfg.Backend)
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.Path, sqlstore.WithLogger(logger))
	case config.BackendPostgres:
		return sqlstore.OpenPostgres(ctx, sqlstore.PostgresConfig{
			DSN:          cfg.Postgres.DSN,
			Schema:       cfg.Postgres.Schema,
			MaxOpenConns: cfg.Postgres.MaxConns,
		}, sqlstore.WithLogger(logger))
	case config.BackendBolt:
		return boltstore.Open(ctx, cfg.Path, boltstore.WithLogger(logger))
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// withStorage opens the store, runs fn and closes the store.
func withStorage(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s store.Storage) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := openStorage(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			opts.Logger.Error("error closing store", "error", closeErr)
		}
	}()
	return fn(ctx, s)
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}
