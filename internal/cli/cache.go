package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/store"
)

// CacheEntry is the output of the cache commands.
type CacheEntry struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Read and write cached settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value",
		Long:  "Print a cached value. A missing key exits with status 1.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				value, ok, err := s.GetCachedItem(ctx, args[0])
				if err != nil {
					return storeExit("failed to read cache", err)
				}
				entry := CacheEntry{Key: args[0], Value: value, Found: ok}
				if err := formatter(cmd, rootOpts).Success(entry, func(w io.Writer) error {
					if !ok {
						return nil
					}
					_, err := fmt.Fprintln(w, value)
					return err
				}); err != nil {
					return err
				}
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("key %q not set", args[0]))
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				if err := s.SetCachedItem(ctx, args[0], args[1]); err != nil {
					return storeExit("failed to write cache", err)
				}
				entry := CacheEntry{Key: args[0], Value: args[1], Found: true}
				return formatter(cmd, rootOpts).Success(entry, func(w io.Writer) error { return nil })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a value; removing a missing key succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				if err := s.DeleteCachedItem(ctx, args[0]); err != nil {
					return storeExit("failed to delete cache entry", err)
				}
				return formatter(cmd, rootOpts).Success(CacheEntry{Key: args[0]}, func(w io.Writer) error { return nil })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the well-known wallet entries",
		Long: `Decode and show the typed entries the wallet keeps in the cache:
account balance, payment sync offset, static deposit address and
Lightning address. Missing entries are omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				info, err := readWalletInfo(ctx, store.NewObjectCache(s))
				if err != nil {
					return storeExit("failed to read cache", err)
				}
				return formatter(cmd, rootOpts).Success(info, func(w io.Writer) error {
					return writeWalletInfo(w, info)
				})
			})
		},
	})

	return cmd
}

// WalletInfo collects the typed cache entries.
type WalletInfo struct {
	Account          *store.AccountInfo          `json:"account,omitempty"`
	Sync             *store.SyncInfo             `json:"sync,omitempty"`
	DepositAddress   *store.StaticDepositAddress `json:"deposit_address,omitempty"`
	LightningAddress *store.LightningAddress     `json:"lightning_address,omitempty"`
}

func readWalletInfo(ctx context.Context, oc *store.ObjectCache) (WalletInfo, error) {
	var (
		info WalletInfo
		err  error
	)
	if info.Account, err = oc.FetchAccountInfo(ctx); err != nil {
		return info, err
	}
	if info.Sync, err = oc.FetchSyncInfo(ctx); err != nil {
		return info, err
	}
	if info.DepositAddress, err = oc.FetchStaticDepositAddress(ctx); err != nil {
		return info, err
	}
	info.LightningAddress, err = oc.FetchLightningAddress(ctx)
	return info, err
}

func writeWalletInfo(w io.Writer, info WalletInfo) error {
	if info.Account != nil {
		fmt.Fprintf(w, "Balance:\t%d sats\n", info.Account.BalanceSats)
		for _, id := range slices.Sorted(maps.Keys(info.Account.TokenBalances)) {
			fmt.Fprintf(w, "Token %s:\t%s\n", id, info.Account.TokenBalances[id])
		}
	}
	if info.Sync != nil {
		fmt.Fprintf(w, "Sync offset:\t%d\n", info.Sync.Offset)
	}
	if info.DepositAddress != nil {
		fmt.Fprintf(w, "Deposit address:\t%s\n", info.DepositAddress.Address)
	}
	if info.LightningAddress != nil {
		fmt.Fprintf(w, "Lightning address:\t%s\n", info.LightningAddress.Address)
	}
	return nil
}
