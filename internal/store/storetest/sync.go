package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/testutil"
)

func runSync(t *testing.T, open Factory) {
	ctx := context.Background()
	contact := model.RecordID{Type: "contact", DataID: "c1"}

	t.Run("first change completes to server revision", func(t *testing.T) {
		s := open(t)

		rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"name": "Alice"}))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), rev)

		pending, err := s.ListPendingOutgoingChanges(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Nil(t, pending[0].Parent)
		assert.Equal(t, map[string]string{"name": "Alice"}, pending[0].Change.UpdatedFields)

		record := pending[0].Merge(5)
		require.NoError(t, s.CompleteOutgoingChange(ctx, record, rev))

		last, err := s.GetLastRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), last)

		pending, err = s.ListPendingOutgoingChanges(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("local revisions are global and ordered", func(t *testing.T) {
		s := open(t)

		var revs []uint64
		for _, id := range []string{"c1", "c2", "c1"} {
			rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", id, map[string]string{"v": id}))
			require.NoError(t, err)
			revs = append(revs, rev)
		}
		assert.Equal(t, []uint64{1, 2, 3}, revs)

		pending, err := s.ListPendingOutgoingChanges(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		for i, c := range pending {
			assert.Equal(t, revs[i], c.Change.LocalRevision)
		}

		limited, err := s.ListPendingOutgoingChanges(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		latest, err := s.PeekLatestOutgoingChange(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, uint64(3), latest.Change.LocalRevision)
		assert.Equal(t, contact, latest.Change.ID)
	})

	t.Run("revisions are not reused after drain", func(t *testing.T) {
		s := open(t)

		rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"a": "1"}))
		require.NoError(t, err)
		require.NoError(t, s.CompleteOutgoingChange(ctx, testutil.Record("contact", "c1", 1, 1), rev))

		next, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"a": "2"}))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), next)
	})

	t.Run("peek on empty outbox", func(t *testing.T) {
		s := open(t)
		latest, err := s.PeekLatestOutgoingChange(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("pending changes carry the confirmed parent", func(t *testing.T) {
		s := open(t)

		rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"name": "Alice"}))
		require.NoError(t, err)
		require.NoError(t, s.CompleteOutgoingChange(ctx, model.Record{
			ID: contact, Revision: 4, SchemaVersion: "1.0.0",
			Data: map[string]string{"name": "Alice", "phone": "123"},
		}, rev))

		_, err = s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"name": "Alicia"}))
		require.NoError(t, err)

		pending, err := s.ListPendingOutgoingChanges(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.NotNil(t, pending[0].Parent)
		assert.Equal(t, uint64(4), pending[0].Parent.Revision)

		merged := pending[0].Merge(6)
		assert.Equal(t, map[string]string{"name": "Alicia", "phone": "123"}, merged.Data)
	})

	t.Run("second completion is a no-op", func(t *testing.T) {
		s := open(t)

		rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"n": "1"}))
		require.NoError(t, err)
		require.NoError(t, s.CompleteOutgoingChange(ctx, testutil.Record("contact", "c1", 5, 1), rev))

		require.NoError(t, s.CompleteOutgoingChange(ctx, testutil.Record("contact", "c1", 9, 2), rev))

		status, err := s.GetRecordSyncStatus(ctx, contact)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), status.Revision)
		last, err := s.GetLastRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), last)
	})

	t.Run("completion for an unknown change is a no-op", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CompleteOutgoingChange(ctx, testutil.Record("contact", "c1", 5, 1), 42))

		status, err := s.GetRecordSyncStatus(ctx, contact)
		require.NoError(t, err)
		assert.False(t, status.HasState)
	})

	t.Run("incoming records are staged in revision order", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.StageIncomingRecords(ctx, []model.Record{
			testutil.Record("contact", "c2", 8, 1),
			testutil.Record("contact", "c1", 3, 1),
			testutil.Record("contact", "c1", 5, 2),
		}))
		// Restaging overwrites.
		require.NoError(t, s.StageIncomingRecords(ctx, []model.Record{testutil.Record("contact", "c1", 5, 3)}))

		incoming, err := s.ListIncomingRecords(ctx, 10)
		require.NoError(t, err)
		require.Len(t, incoming, 3)
		assert.Equal(t, uint64(3), incoming[0].NewState.Revision)
		assert.Equal(t, uint64(5), incoming[1].NewState.Revision)
		assert.Equal(t, "3", incoming[1].NewState.Data["n"])
		assert.Equal(t, uint64(8), incoming[2].NewState.Revision)
		for _, c := range incoming {
			assert.Nil(t, c.OldState)
		}

		limited, err := s.ListIncomingRecords(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("apply then delete", func(t *testing.T) {
		s := open(t)

		first := testutil.Record("contact", "c1", 3, 1)
		second := testutil.Record("contact", "c1", 5, 2)
		require.NoError(t, s.StageIncomingRecords(ctx, []model.Record{first, second}))

		require.NoError(t, s.ApplyIncomingRecord(ctx, first))
		require.NoError(t, s.DeleteIncomingRecord(ctx, first))

		incoming, err := s.ListIncomingRecords(ctx, 10)
		require.NoError(t, err)
		require.Len(t, incoming, 1)
		require.NotNil(t, incoming[0].OldState)
		assert.Equal(t, first, *incoming[0].OldState)
		assert.Equal(t, second, incoming[0].NewState)

		require.NoError(t, s.ApplyIncomingRecord(ctx, second))
		require.NoError(t, s.DeleteIncomingRecord(ctx, second))

		incoming, err = s.ListIncomingRecords(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, incoming)

		last, err := s.GetLastRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), last)
	})

	t.Run("late older revisions do not regress state", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.ApplyIncomingRecord(ctx, testutil.Record("contact", "c1", 7, 7)))
		require.NoError(t, s.ApplyIncomingRecord(ctx, testutil.Record("contact", "c1", 3, 3)))

		status, err := s.GetRecordSyncStatus(ctx, contact)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), status.Revision)
	})

	t.Run("cursor is the maximum applied revision", func(t *testing.T) {
		s := open(t)

		rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("note", "n1", map[string]string{"x": "1"}))
		require.NoError(t, err)

		require.NoError(t, s.ApplyIncomingRecord(ctx, testutil.Record("contact", "c1", 12, 1)))
		require.NoError(t, s.CompleteOutgoingChange(ctx, testutil.Record("note", "n1", 9, 1), rev))
		require.NoError(t, s.ApplyIncomingRecord(ctx, testutil.Record("contact", "c2", 4, 1)))

		last, err := s.GetLastRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(12), last)
	})

	t.Run("record status follows the state machine", func(t *testing.T) {
		s := open(t)
		state := func() model.SyncStateKind {
			t.Helper()
			status, err := s.GetRecordSyncStatus(ctx, contact)
			require.NoError(t, err)
			return status.State()
		}

		assert.Equal(t, model.SyncUnsynced, state())

		rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"n": "1"}))
		require.NoError(t, err)
		require.NoError(t, s.CompleteOutgoingChange(ctx, testutil.Record("contact", "c1", 1, 1), rev))
		assert.Equal(t, model.SyncSynced, state())

		_, err = s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"n": "2"}))
		require.NoError(t, err)
		assert.Equal(t, model.SyncPendingPush, state())

		require.NoError(t, s.StageIncomingRecords(ctx, []model.Record{testutil.Record("contact", "c1", 2, 9)}))
		assert.Equal(t, model.SyncPendingPull, state())
	})

	t.Run("payloads are stored canonically", func(t *testing.T) {
		s := open(t)
		rec := model.Record{
			ID: contact, Revision: 2, SchemaVersion: "1.0.0",
			Data: map[string]string{"name": "Amélie"},
		}
		require.NoError(t, s.ApplyIncomingRecord(ctx, rec))
		_, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"x": "1"}))
		require.NoError(t, err)

		pending, err := s.ListPendingOutgoingChanges(ctx, 1)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.NotNil(t, pending[0].Parent)
		assert.Equal(t, "Amélie", pending[0].Parent.Data["name"])
	})

	t.Run("invalid record ids are rejected", func(t *testing.T) {
		s := open(t)

		_, err := s.EnqueueOutgoingChange(ctx, testutil.Change("", "c1", nil))
		assert.True(t, store.IsValidation(err))
		assert.True(t, store.IsValidation(s.ApplyIncomingRecord(ctx, testutil.Record("contact", "", 1, 1))))
		assert.True(t, store.IsValidation(s.StageIncomingRecords(ctx, []model.Record{testutil.Record("", "x", 1, 1)})))
	})

	t.Run("ids with NUL are rejected so keys stay distinct", func(t *testing.T) {
		s := open(t)

		assert.True(t, store.IsValidation(s.ApplyIncomingRecord(ctx, testutil.Record("a\x00b", "c", 3, 1))))
		assert.True(t, store.IsValidation(s.StageIncomingRecords(ctx, []model.Record{testutil.Record("a", "b\x00c", 3, 1)})))
		_, err := s.EnqueueOutgoingChange(ctx, testutil.Change("a\x00b", "c", map[string]string{"v": "1"}))
		assert.True(t, store.IsValidation(err))
		_, err = s.GetRecordSyncStatus(ctx, model.RecordID{Type: "a", DataID: "b\x00c"})
		assert.True(t, store.IsValidation(err))

		// Neighbouring ids without NUL are stored apart.
		require.NoError(t, s.ApplyIncomingRecord(ctx, testutil.Record("ab", "c", 3, 1)))
		status, err := s.GetRecordSyncStatus(ctx, model.RecordID{Type: "a", DataID: "bc"})
		require.NoError(t, err)
		assert.False(t, status.HasState)
	})
}
