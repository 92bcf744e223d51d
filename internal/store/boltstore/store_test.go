package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/migrate"
	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.bolt"),
		WithLogger(quietLogger()),
		WithClock(testutil.NewDeterministicClock().Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations()), v)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.bolt")

	s, err := Open(ctx, path, WithLogger(quietLogger()))
	require.NoError(t, err)
	rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"n": "1"}))
	require.NoError(t, err)
	require.NoError(t, s.CompleteOutgoingChange(ctx, testutil.Record("contact", "c1", 4, 1), rev))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()

	last, err := s.GetLastRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), last)

	next, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"n": "2"}))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bolt")
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		return schema{db}.SetVersion(context.Background(), tx, 42)
	}))
	require.NoError(t, db.Close())

	_, err = Open(context.Background(), path, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, store.IsMigration(err))
	var verr *migrate.VersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 42, verr.Stored)
}

func TestOpen_LockedFileIsRetryable(t *testing.T) {
	s := createTestStore(t)

	_, err := Open(context.Background(), s.db.Path(), WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Equal(t, store.ErrCodeConnection, store.CodeOf(err))
	assert.True(t, store.IsRetryable(err))
}

func TestMigrations_BackfillDetailsType(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.bolt")

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	_, err = migrate.Run[*bolt.Tx](ctx, schema{db}, migrations()[:2], quietLogger())
	require.NoError(t, err)

	legacy := testutil.WithdrawPayment("wd1", 1)
	raw, err := json.Marshal(paymentDoc{Payment: legacy})
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(paymentsBucket)
		if err := b.Put([]byte("wd1"), raw); err != nil {
			return err
		}
		return b.Put([]byte("junk"), []byte("{not json"))
	}))
	require.NoError(t, db.Close())

	s, err := Open(ctx, path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()

	var doc paymentDoc
	require.NoError(t, s.db.View(func(tx *bolt.Tx) error {
		return json.Unmarshal(tx.Bucket(paymentsBucket).Get([]byte("wd1")), &doc)
	}))
	assert.Equal(t, model.DetailsWithdraw, doc.DetailsType)
}

func TestStore_CanceledUpdateLeavesNoEffect(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SetCachedItem(ctx, "k", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, ok, err := s.GetCachedItem(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeys_Ordering(t *testing.T) {
	assert.Less(t, string(depositKey("a", 255)), string(depositKey("a", 256)))
	assert.Less(t, string(depositKey("a", 9)), string(depositKey("ab", 0)))
	assert.Less(t,
		string(incomingKey(testutil.Record("z", "z", 1, 0))),
		string(incomingKey(testutil.Record("a", "a", 2, 0))))
}
