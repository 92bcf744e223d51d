package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/metrics"
	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/syncengine"
)

// RecordStatus is the output of sync record.
type RecordStatus struct {
	model.RecordSyncStatus
	State model.SyncStateKind `json:"state"`
}

// NewSyncCommand creates the sync command group.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and feed the record sync queues",
	}
	cmd.AddCommand(newSyncStatusCommand(rootOpts))
	cmd.AddCommand(newSyncRecordCommand(rootOpts))
	cmd.AddCommand(newSyncEnqueueCommand(rootOpts))
	cmd.AddCommand(newSyncRunCommand(rootOpts))
	return cmd
}

func newSyncStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the revision cursor and queue backlog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				backlog, err := metrics.ReadBacklog(ctx, s)
				if err != nil {
					return storeExit("failed to read sync status", err)
				}
				return formatter(cmd, rootOpts).Success(backlog, func(w io.Writer) error {
					fmt.Fprintf(w, "Last revision:\t%d\n", backlog.LastRevision)
					fmt.Fprintf(w, "Outgoing:\t%d\n", backlog.Outgoing)
					_, err := fmt.Fprintf(w, "Incoming:\t%d\n", backlog.Incoming)
					return err
				})
			})
		},
	}
}

func newSyncRecordCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "record <type> <data-id>",
		Short: "Show one record's sync state",
		Long: `Show one record's sync state:

  unsynced      never confirmed by the server
  pending_push  confirmed, with local changes queued
  synced        confirmed, nothing queued
  pending_pull  a newer server revision is staged`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := model.RecordID{Type: args[0], DataID: args[1]}
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				st, err := s.GetRecordSyncStatus(ctx, id)
				if err != nil {
					return storeExit("failed to read record status", err)
				}
				res := RecordStatus{RecordSyncStatus: st, State: st.State()}
				return formatter(cmd, rootOpts).Success(res, func(w io.Writer) error {
					fmt.Fprintf(w, "Record:\t%s\n", id)
					fmt.Fprintf(w, "State:\t%s\n", res.State)
					if st.HasState {
						fmt.Fprintf(w, "Revision:\t%d\n", st.Revision)
					}
					fmt.Fprintf(w, "Outgoing:\t%d\n", st.PendingOutgoing)
					_, err := fmt.Fprintf(w, "Incoming:\t%d\n", st.PendingIncoming)
					return err
				})
			})
		},
	}
}

// EnqueueResult is the output of sync enqueue.
type EnqueueResult struct {
	ID            model.RecordID `json:"id"`
	LocalRevision uint64         `json:"local_revision"`
}

func newSyncEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dataID        string
		schemaVersion string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <type> <field=value>...",
		Short: "Queue a local record change for push",
		Long: `Queue a local change that sets fields on a record. Without --id a new
record is created with a UUIDv7 data id.

Example:
  ledgersync sync enqueue contact name=Alice ln=alice@example.com`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args[1:])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid field", err)
			}
			id := dataID
			if id == "" {
				u, err := uuid.NewV7()
				if err != nil {
					return WrapExitError(ExitFailure, "failed to generate record id", err)
				}
				id = u.String()
			}
			change := model.UnversionedRecordChange{
				ID:            model.RecordID{Type: args[0], DataID: id},
				SchemaVersion: schemaVersion,
				UpdatedFields: fields,
			}
			return withStorage(cmd, rootOpts, func(ctx context.Context, s store.Storage) error {
				rev, err := s.EnqueueOutgoingChange(ctx, change)
				if err != nil {
					return storeExit("failed to enqueue change", err)
				}
				res := EnqueueResult{ID: change.ID, LocalRevision: rev}
				return formatter(cmd, rootOpts).Success(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "queued %s at local revision %d\n", res.ID, rev)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&dataID, "id", "", "record data id (default: new UUIDv7)")
	cmd.Flags().StringVar(&schemaVersion, "schema-version", "1.0.0", "record schema version")
	return cmd
}

func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%q is not field=value", arg)
		}
		fields[k] = v
	}
	return fields, nil
}

// SyncRunOptions holds flags for sync run.
type SyncRunOptions struct {
	Remote      string
	Once        bool
	Interval    time.Duration
	MetricsAddr string
}

// SyncRoundResult is the output of sync run --once.
type SyncRoundResult struct {
	Pulled    int `json:"pulled"`
	Applied   int `json:"applied"`
	Pushed    int `json:"pushed"`
	Conflicts int `json:"conflicts"`
}

func newSyncRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncRunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync with a shared revision log file",
		Long: `Pull, apply and push records against a revision log kept in a local
file. Stores of several devices on one host can point at the same log.

Without --once, rounds repeat every --interval until interrupted; failed
rounds are retried with backoff.

Examples:
  ledgersync sync run --remote ./remote.log --once
  ledgersync --backend bolt --db ./phone.bolt sync run --remote ./remote.log --interval 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Remote == "" {
				return NewExitError(ExitCommandError, "--remote is required")
			}
			if !cmd.Flags().Changed("interval") {
				opts.Interval = rootOpts.Config.Sync.Interval
			}
			if opts.Interval <= 0 {
				return NewExitError(ExitCommandError, "interval must be positive")
			}
			return runSync(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Remote, "remote", "", "revision log file shared by devices")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single round and exit")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between rounds (default from config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics on this address while running")

	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, opts *SyncRunOptions) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withStorage(cmd, rootOpts, func(_ context.Context, s store.Storage) error {
		pumpOpts := []syncengine.Option{
			syncengine.WithLogger(rootOpts.Logger),
			syncengine.WithBatchSize(uint32(rootOpts.Config.Sync.BatchSize)),
		}
		if opts.MetricsAddr != "" && !opts.Once {
			reg := prometheus.NewRegistry()
			c := metrics.New(reg)
			s = metrics.Instrument(s, c)
			pumpOpts = append(pumpOpts, syncengine.WithObserver(c.ObserveRound))

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler(reg))
			srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					rootOpts.Logger.Error("metrics server failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
		pump := syncengine.New(s, syncengine.NewFileRemote(opts.Remote), pumpOpts...)

		if !opts.Once {
			err := pump.Run(ctx, opts.Interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return WrapExitError(ExitFailure, "sync stopped", err)
		}

		stats, err := pump.SyncOnce(ctx)
		if err != nil {
			return storeExit("sync round failed", err)
		}
		res := SyncRoundResult(stats)
		return formatter(cmd, rootOpts).Success(res, func(w io.Writer) error {
			fmt.Fprintf(w, "Pulled:\t%d\n", res.Pulled)
			fmt.Fprintf(w, "Applied:\t%d\n", res.Applied)
			fmt.Fprintf(w, "Pushed:\t%d\n", res.Pushed)
			_, err := fmt.Fprintf(w, "Conflicts:\t%d\n", res.Conflicts)
			return err
		})
	})
}
