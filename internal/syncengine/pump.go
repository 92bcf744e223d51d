package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// DefaultBatchSize bounds each pull and each inbox read.
const DefaultBatchSize = 100

// ErrConflict is returned by Remote.Push when parentRevision is not the
// record's latest revision on the remote.
var ErrConflict = errors.New("syncengine: stale parent revision")

// Remote is the server side of the revision log.
type Remote interface {
	// Push stores record on top of parentRevision (0 for a new record) and
	// returns the revision the remote assigned.
	Push(ctx context.Context, record model.Record, parentRevision uint64) (uint64, error)

	// Pull returns up to limit records with revision greater than since,
	// in ascending revision order.
	Pull(ctx context.Context, since uint64, limit uint32) ([]model.Record, error)
}

// IncomingHandler lets the application react to a remote change before it
// is applied. A returned error leaves the record staged for the next round.
type IncomingHandler func(ctx context.Context, change model.IncomingChange) error

// Stats counts what one round did.
type Stats struct {
	Pulled    int
	Applied   int
	Pushed    int
	Conflicts int
}

// Observer receives every finished round.
type Observer func(stats Stats, err error, elapsed time.Duration)

// Pump drives sync rounds for one store.
//
// SyncOnce must not run concurrently with itself on the same store.
type Pump struct {
	store    store.SyncStore
	remote   Remote
	logger   *slog.Logger
	batch    uint32
	handler  IncomingHandler
	observer Observer
	backoff  *Backoff
}

// Option configures a Pump.
type Option func(*Pump)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pump) { p.logger = l }
}

// WithBatchSize sets the pull and inbox page size. Zero keeps the default.
func WithBatchSize(n uint32) Option {
	return func(p *Pump) {
		if n > 0 {
			p.batch = n
		}
	}
}

func WithIncomingHandler(h IncomingHandler) Option {
	return func(p *Pump) { p.handler = h }
}

func WithObserver(o Observer) Option {
	return func(p *Pump) { p.observer = o }
}

// WithBackoff replaces the wait policy Run uses after a failed round.
func WithBackoff(b *Backoff) Option {
	return func(p *Pump) { p.backoff = b }
}

func New(s store.SyncStore, remote Remote, opts ...Option) *Pump {
	p := &Pump{
		store:   s,
		remote:  remote,
		logger:  slog.Default(),
		batch:   DefaultBatchSize,
		backoff: NewBackoff(time.Second, time.Minute, 2),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "syncengine")
	return p
}

// SyncOnce runs one pull, apply and push round.
func (p *Pump) SyncOnce(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats
	err := p.round(ctx, &stats)
	if p.observer != nil {
		p.observer(stats, err, time.Since(start))
	}
	if err != nil {
		return stats, err
	}
	p.logger.Debug("sync round done",
		"pulled", stats.Pulled,
		"applied", stats.Applied,
		"pushed", stats.Pushed,
		"conflicts", stats.Conflicts,
	)
	return stats, nil
}

func (p *Pump) round(ctx context.Context, stats *Stats) error {
	if err := p.pull(ctx, stats); err != nil {
		return err
	}
	return p.push(ctx, stats)
}

// pull stages and applies remote records until the remote has nothing newer
// than the cursor. The inbox is drained per page because the cursor only
// moves on apply.
func (p *Pump) pull(ctx context.Context, stats *Stats) error {
	// Records staged by an interrupted round go first.
	if err := p.drainInbox(ctx, stats); err != nil {
		return err
	}
	for {
		since, err := p.store.GetLastRevision(ctx)
		if err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
		records, err := p.remote.Pull(ctx, since, p.batch)
		if err != nil {
			return fmt.Errorf("pull since %d: %w", since, err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := p.store.StageIncomingRecords(ctx, records); err != nil {
			return fmt.Errorf("stage: %w", err)
		}
		stats.Pulled += len(records)

		if err := p.drainInbox(ctx, stats); err != nil {
			return err
		}
		if uint32(len(records)) < p.batch {
			return nil
		}
	}
}

// catchUp stages and applies every remote revision between the cursor and
// below.
func (p *Pump) catchUp(ctx context.Context, below uint64, stats *Stats) error {
	for {
		since, err := p.store.GetLastRevision(ctx)
		if err != nil {
			return fmt.Errorf("read cursor: %w", err)
		}
		if since+1 >= below {
			return nil
		}
		page, err := p.remote.Pull(ctx, since, p.batch)
		if err != nil {
			return fmt.Errorf("pull since %d: %w", since, err)
		}
		records := make([]model.Record, 0, len(page))
		for _, r := range page {
			if r.Revision < below {
				records = append(records, r)
			}
		}
		if len(records) == 0 {
			return nil
		}
		if err := p.store.StageIncomingRecords(ctx, records); err != nil {
			return fmt.Errorf("stage: %w", err)
		}
		stats.Pulled += len(records)
		if err := p.drainInbox(ctx, stats); err != nil {
			return err
		}
		if len(records) < len(page) || uint32(len(page)) < p.batch {
			return nil
		}
	}
}

func (p *Pump) drainInbox(ctx context.Context, stats *Stats) error {
	for {
		changes, err := p.store.ListIncomingRecords(ctx, p.batch)
		if err != nil {
			return fmt.Errorf("list incoming: %w", err)
		}
		if len(changes) == 0 {
			return nil
		}
		for _, c := range changes {
			if err := p.applyIncoming(ctx, c); err != nil {
				return err
			}
			stats.Applied++
		}
	}
}

func (p *Pump) applyIncoming(ctx context.Context, c model.IncomingChange) error {
	rec := c.NewState
	if p.handler != nil {
		if err := p.handler(ctx, c); err != nil {
			return fmt.Errorf("handle %s@%d: %w", rec.ID, rec.Revision, err)
		}
	}
	if err := p.store.ApplyIncomingRecord(ctx, rec); err != nil {
		return fmt.Errorf("apply %s@%d: %w", rec.ID, rec.Revision, err)
	}
	if err := p.store.DeleteIncomingRecord(ctx, rec); err != nil {
		return fmt.Errorf("delete incoming %s@%d: %w", rec.ID, rec.Revision, err)
	}
	return nil
}

// push sends the outbox oldest first. Each change is retried once after a
// conflict; a second conflict ends the round.
func (p *Pump) push(ctx context.Context, stats *Stats) error {
	var retried uint64
	for {
		pending, err := p.store.ListPendingOutgoingChanges(ctx, 1)
		if err != nil {
			return fmt.Errorf("list pending: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}
		change := pending[0]
		local := change.Change.LocalRevision

		parent := change.ParentRevision()
		rev, err := p.remote.Push(ctx, change.Merge(parent), parent)
		switch {
		case errors.Is(err, ErrConflict):
			stats.Conflicts++
			if retried == local {
				return fmt.Errorf("push %s local %d: %w", change.Change.ID, local, err)
			}
			retried = local
			p.logger.Info("push conflict, rebasing",
				"record", change.Change.ID.String(),
				"local_revision", local,
				"parent_revision", parent,
			)
			if err := p.pull(ctx, stats); err != nil {
				return err
			}
			continue
		case err != nil:
			return fmt.Errorf("push %s local %d: %w", change.Change.ID, local, err)
		}

		// Completion moves the cursor to rev, so revisions other devices
		// pushed since the last pull have to land first.
		if err := p.catchUp(ctx, rev, stats); err != nil {
			return err
		}
		if err := p.store.CompleteOutgoingChange(ctx, change.Merge(rev), local); err != nil {
			return fmt.Errorf("complete %s local %d: %w", change.Change.ID, local, err)
		}
		stats.Pushed++
	}
}

// Run repeats rounds every interval until ctx ends. Failed rounds wait
// according to the backoff instead.
func (p *Pump) Run(ctx context.Context, interval time.Duration) error {
	p.logger.Info("sync pump starting", "interval", interval)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sync pump stopping")
			return ctx.Err()
		case <-timer.C:
		}

		wait := interval
		if _, err := p.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("sync pump stopping")
				return ctx.Err()
			}
			wait = p.backoff.Next()
			p.logger.Warn("sync round failed",
				"error", err,
				"retryable", store.IsRetryable(err),
				"attempt", p.backoff.Attempts(),
				"wait", wait,
			)
		} else {
			p.backoff.Reset()
		}
		timer.Reset(wait)
	}
}
