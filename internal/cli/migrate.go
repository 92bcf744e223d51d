package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/store"
)

// MigrateResult is the output of the migrate command.
type MigrateResult struct {
	Backend       string `json:"backend"`
	SchemaVersion int    `json:"schema_version"`
}

type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (int, error)
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long: `Open the configured store, apply any pending schema migrations and
print the resulting schema version. Opening a store written by a newer
release fails without changes.

Examples:
  ledgersync migrate --db ./wallet.db
  ledgersync migrate --backend postgres --dsn postgres://localhost/wallet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				res := MigrateResult{Backend: rootOpts.Config.Backend}
				if v, ok := s.(schemaVersioner); ok {
					version, err := v.SchemaVersion(ctx)
					if err != nil {
						return storeExit("failed to read schema version", err)
					}
					res.SchemaVersion = version
				}
				return formatter(cmd, rootOpts).Success(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s schema at version %d\n", res.Backend, res.SchemaVersion)
					return err
				})
			})
		},
	}
}
