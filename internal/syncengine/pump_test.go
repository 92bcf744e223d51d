package syncengine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/store/boltstore"
	"github.com/roach88/ledgersync/internal/store/sqlstore"
	"github.com/roach88/ledgersync/internal/testutil"
)

// memRemote is a revision log shared by test devices.
type memRemote struct {
	mu         sync.Mutex
	log        []model.Record
	latest     map[model.RecordID]uint64
	beforePush func()
	pullErr    error
}

func newMemRemote() *memRemote {
	return &memRemote{latest: map[model.RecordID]uint64{}}
}

func (r *memRemote) Push(_ context.Context, rec model.Record, parent uint64) (uint64, error) {
	if hook := r.beforePush; hook != nil {
		r.beforePush = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest[rec.ID] != parent {
		return 0, ErrConflict
	}
	rec.Revision = uint64(len(r.log) + 1)
	rec.Data = maps.Clone(rec.Data)
	r.log = append(r.log, rec)
	r.latest[rec.ID] = rec.Revision
	return rec.Revision, nil
}

func (r *memRemote) Pull(_ context.Context, since uint64, limit uint32) ([]model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pullErr != nil {
		return nil, r.pullErr
	}
	out := []model.Record{}
	for _, rec := range r.log {
		if uint32(len(out)) == limit {
			break
		}
		if rec.Revision > since {
			out = append(out, rec)
		}
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteDevice(t *testing.T) store.Storage {
	t.Helper()
	s, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "device.db"),
		sqlstore.WithLogger(quietLogger()),
		sqlstore.WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func boltDevice(t *testing.T) store.Storage {
	t.Helper()
	s, err := boltstore.Open(context.Background(), filepath.Join(t.TempDir(), "device.bolt"),
		boltstore.WithLogger(quietLogger()),
		boltstore.WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// requireSynced asserts id is synced and returns its confirmed revision.
func requireSynced(t *testing.T, s store.SyncStore, id model.RecordID) uint64 {
	t.Helper()
	status, err := s.GetRecordSyncStatus(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.SyncSynced, status.State(), "record %s", id)
	return status.Revision
}

func TestSyncOnce_PushesOutbox(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	dev := sqliteDevice(t)
	p := New(dev, remote, WithLogger(quietLogger()))

	_, err := dev.EnqueueOutgoingChange(ctx, testutil.Change("contact", "alice", map[string]string{"name": "Alice"}))
	require.NoError(t, err)
	_, err = dev.EnqueueOutgoingChange(ctx, testutil.Change("contact", "alice", map[string]string{"ln": "alice@example.com"}))
	require.NoError(t, err)

	stats, err := p.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pushed)
	assert.Zero(t, stats.Conflicts)

	require.Len(t, remote.log, 2)
	assert.Equal(t, map[string]string{"name": "Alice", "ln": "alice@example.com"}, remote.log[1].Data)

	last, err := dev.GetLastRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	pending, err := dev.ListPendingOutgoingChanges(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSyncOnce_TwoDevicesConverge(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	a, b := sqliteDevice(t), boltDevice(t)
	pa := New(a, remote, WithLogger(quietLogger()), WithBatchSize(1))
	pb := New(b, remote, WithLogger(quietLogger()), WithBatchSize(1))

	_, err := a.EnqueueOutgoingChange(ctx, testutil.Change("contact", "alice", map[string]string{"name": "Alice"}))
	require.NoError(t, err)
	_, err = pa.SyncOnce(ctx)
	require.NoError(t, err)

	_, err = b.EnqueueOutgoingChange(ctx, testutil.Change("contact", "bob", map[string]string{"name": "Bob"}))
	require.NoError(t, err)
	stats, err := pb.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pulled)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 1, stats.Pushed)

	_, err = pa.SyncOnce(ctx)
	require.NoError(t, err)

	for _, dev := range []store.Storage{a, b} {
		last, err := dev.GetLastRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), last)
	}

	alice := model.RecordID{Type: "contact", DataID: "alice"}
	bob := model.RecordID{Type: "contact", DataID: "bob"}
	for _, dev := range []store.Storage{a, b} {
		for _, id := range []model.RecordID{alice, bob} {
			assert.Equal(t, remote.latest[id], requireSynced(t, dev, id))
		}
	}
}

func TestSyncOnce_ConflictRebasesOntoRemote(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	a, b := sqliteDevice(t), boltDevice(t)
	pa := New(a, remote, WithLogger(quietLogger()))
	pb := New(b, remote, WithLogger(quietLogger()))

	_, err := b.EnqueueOutgoingChange(ctx, testutil.Change("contact", "carol", map[string]string{"note": "from b"}))
	require.NoError(t, err)

	// a wins the race between b's pull and b's push.
	remote.beforePush = func() {
		_, err := a.EnqueueOutgoingChange(ctx, testutil.Change("contact", "carol", map[string]string{"name": "Carol"}))
		require.NoError(t, err)
		_, err = pa.SyncOnce(ctx)
		require.NoError(t, err)
	}

	stats, err := pb.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 1, stats.Applied)
	assert.Equal(t, 1, stats.Pushed)

	require.Len(t, remote.log, 2)
	assert.Equal(t, map[string]string{"name": "Carol", "note": "from b"}, remote.log[1].Data)
	assert.Equal(t, uint64(2), remote.log[1].Revision)
}

func TestSyncOnce_PushCatchesUpOnInterleavedRevisions(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	a, b := sqliteDevice(t), boltDevice(t)
	pa := New(a, remote, WithLogger(quietLogger()))
	pb := New(b, remote, WithLogger(quietLogger()))

	_, err := a.EnqueueOutgoingChange(ctx, testutil.Change("contact", "x", map[string]string{"v": "1"}))
	require.NoError(t, err)
	_, err = pa.SyncOnce(ctx)
	require.NoError(t, err)
	_, err = pb.SyncOnce(ctx)
	require.NoError(t, err)

	// b edits x after a's pull but before a's push of y.
	_, err = a.EnqueueOutgoingChange(ctx, testutil.Change("contact", "y", map[string]string{"v": "1"}))
	require.NoError(t, err)
	remote.beforePush = func() {
		_, err := b.EnqueueOutgoingChange(ctx, testutil.Change("contact", "x", map[string]string{"v": "2"}))
		require.NoError(t, err)
		_, err = pb.SyncOnce(ctx)
		require.NoError(t, err)
	}

	stats, err := pa.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pushed)
	assert.Equal(t, 1, stats.Applied)

	x := model.RecordID{Type: "contact", DataID: "x"}
	y := model.RecordID{Type: "contact", DataID: "y"}
	assert.Equal(t, uint64(2), requireSynced(t, a, x))
	assert.Equal(t, uint64(3), requireSynced(t, a, y))

	last, err := a.GetLastRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)

	// A later edit of x pushes without conflict.
	_, err = a.EnqueueOutgoingChange(ctx, testutil.Change("contact", "x", map[string]string{"v": "3"}))
	require.NoError(t, err)
	stats, err = pa.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Conflicts)
	assert.Equal(t, 1, stats.Pushed)
	assert.Equal(t, remote.latest[x], requireSynced(t, a, x))
}

func TestSyncOnce_SecondConflictFails(t *testing.T) {
	ctx := context.Background()
	dev := boltDevice(t)
	p := New(dev, conflictRemote{}, WithLogger(quietLogger()))

	_, err := dev.EnqueueOutgoingChange(ctx, testutil.Change("contact", "dave", map[string]string{"n": "1"}))
	require.NoError(t, err)

	stats, err := p.SyncOnce(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, stats.Conflicts)

	pending, err := dev.ListPendingOutgoingChanges(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

type conflictRemote struct{}

func (conflictRemote) Push(context.Context, model.Record, uint64) (uint64, error) {
	return 0, ErrConflict
}

func (conflictRemote) Pull(context.Context, uint64, uint32) ([]model.Record, error) {
	return nil, nil
}

func TestSyncOnce_HandlerErrorKeepsRecordStaged(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	_, err := remote.Push(ctx, testutil.Record("contact", "erin", 0, 1), 0)
	require.NoError(t, err)

	dev := sqliteDevice(t)
	boom := errors.New("boom")
	fail := true
	var seen []model.IncomingChange
	p := New(dev, remote,
		WithLogger(quietLogger()),
		WithIncomingHandler(func(_ context.Context, c model.IncomingChange) error {
			seen = append(seen, c)
			if fail {
				return boom
			}
			return nil
		}))

	_, err = p.SyncOnce(ctx)
	require.ErrorIs(t, err, boom)

	id := model.RecordID{Type: "contact", DataID: "erin"}
	status, err := dev.GetRecordSyncStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SyncPendingPull, status.State())

	fail = false
	stats, err := p.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Applied)
	assert.Zero(t, stats.Pulled, "staged record is applied before pulling again")

	require.Len(t, seen, 2)
	assert.Nil(t, seen[1].OldState)
	assert.Equal(t, uint64(1), seen[1].NewState.Revision)

	status, err = dev.GetRecordSyncStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, status.State())
}

func TestSyncOnce_ObserverSeesEveryRound(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote()
	remote.pullErr = errors.New("offline")

	var rounds []error
	p := New(sqliteDevice(t), remote,
		WithLogger(quietLogger()),
		WithObserver(func(_ Stats, err error, _ time.Duration) { rounds = append(rounds, err) }))

	_, err := p.SyncOnce(ctx)
	require.Error(t, err)
	remote.pullErr = nil
	_, err = p.SyncOnce(ctx)
	require.NoError(t, err)

	require.Len(t, rounds, 2)
	assert.Error(t, rounds[0])
	assert.NoError(t, rounds[1])
}

func TestRun_BacksOffAndStopsOnCancel(t *testing.T) {
	remote := newMemRemote()
	remote.pullErr = errors.New("offline")
	backoff := NewBackoff(time.Millisecond, 5*time.Millisecond, 2)
	p := New(boltDevice(t), remote, WithLogger(quietLogger()), WithBackoff(backoff))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, time.Hour) }()

	require.Eventually(t, func() bool { return backoff.Attempts() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
