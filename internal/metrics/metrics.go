// Package metrics exposes storage and sync activity as Prometheus series.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/syncengine"
)

const namespace = "ledgersync"

// Collectors holds every series. Create one per registry with New.
type Collectors struct {
	// StoreOperations counts storage calls by operation and result code
	// ("ok" or a store.ErrorCode).
	StoreOperations *prometheus.CounterVec

	// StoreDuration measures storage call latency by operation.
	StoreDuration *prometheus.HistogramVec

	// OutboxBacklog is the number of local changes waiting to be pushed.
	// This is the primary indicator of sync lag.
	OutboxBacklog prometheus.Gauge

	// InboxBacklog is the number of staged remote records not yet applied.
	InboxBacklog prometheus.Gauge

	// LastRevision is the local revision cursor.
	LastRevision prometheus.Gauge

	// SyncRounds counts pump rounds by status (ok, error).
	SyncRounds *prometheus.CounterVec

	// SyncRecords counts records moved by direction (pulled, applied, pushed).
	SyncRecords *prometheus.CounterVec

	// SyncConflicts counts pushes rejected for a stale parent.
	SyncConflicts prometheus.Counter

	SyncRoundDuration prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		StoreOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Storage operations by operation and result code",
		}, []string{"op", "code"}),
		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of storage operations in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		OutboxBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_outbox_backlog",
			Help:      "Local changes waiting to be pushed",
		}),
		InboxBacklog: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_inbox_backlog",
			Help:      "Remote records staged but not applied",
		}),
		LastRevision: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_revision",
			Help:      "Highest remote revision applied locally",
		}),
		SyncRounds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rounds_total",
			Help:      "Sync rounds by status",
		}, []string{"status"}),
		SyncRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_records_total",
			Help:      "Records moved by the sync pump by direction",
		}, []string{"direction"}),
		SyncConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_conflicts_total",
			Help:      "Pushes rejected because the parent revision was stale",
		}),
		SyncRoundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_round_duration_seconds",
			Help:      "Duration of sync rounds in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveRound records a finished pump round. It satisfies
// syncengine.Observer as a method value.
func (c *Collectors) ObserveRound(stats syncengine.Stats, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.SyncRounds.WithLabelValues(status).Inc()
	c.SyncRecords.WithLabelValues("pulled").Add(float64(stats.Pulled))
	c.SyncRecords.WithLabelValues("applied").Add(float64(stats.Applied))
	c.SyncRecords.WithLabelValues("pushed").Add(float64(stats.Pushed))
	c.SyncConflicts.Add(float64(stats.Conflicts))
	c.SyncRoundDuration.Observe(elapsed.Seconds())
}

// Backlog is a snapshot of the sync queues.
type Backlog struct {
	Outgoing     int    `json:"outgoing"`
	Incoming     int    `json:"incoming"`
	LastRevision uint64 `json:"last_revision"`
}

// ReadBacklog counts the outbox and inbox and reads the cursor.
func ReadBacklog(ctx context.Context, s store.SyncStore) (Backlog, error) {
	out, err := s.ListPendingOutgoingChanges(ctx, math.MaxUint32)
	if err != nil {
		return Backlog{}, fmt.Errorf("count outbox: %w", err)
	}
	in, err := s.ListIncomingRecords(ctx, math.MaxUint32)
	if err != nil {
		return Backlog{}, fmt.Errorf("count inbox: %w", err)
	}
	rev, err := s.GetLastRevision(ctx)
	if err != nil {
		return Backlog{}, fmt.Errorf("read cursor: %w", err)
	}
	return Backlog{Outgoing: len(out), Incoming: len(in), LastRevision: rev}, nil
}

// RefreshBacklog sets the backlog gauges from s.
func (c *Collectors) RefreshBacklog(ctx context.Context, s store.SyncStore) (Backlog, error) {
	b, err := ReadBacklog(ctx, s)
	if err != nil {
		return Backlog{}, err
	}
	c.OutboxBacklog.Set(float64(b.Outgoing))
	c.InboxBacklog.Set(float64(b.Incoming))
	c.LastRevision.Set(float64(b.LastRevision))
	return b, nil
}

// Handler serves the series gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	var se *store.Error
	if errors.As(err, &se) {
		return string(se.Code)
	}
	return "unknown"
}
