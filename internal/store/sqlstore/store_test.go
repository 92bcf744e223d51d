package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/migrate"
	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/testutil"
)

func TestOpenSQLite_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(context.Background(), path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, "sqlite", s.Dialect())
}

func TestOpenSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := OpenSQLite(ctx, path, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, s1.UpsertPayment(ctx, testutil.SparkPayment("p1", 1)))
	require.NoError(t, s1.Close())

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(ctx, path, WithLogger(quietLogger()))
		require.NoError(t, err, "open iteration %d", i)
		_, err = s.GetPaymentByID(ctx, "p1")
		assert.NoError(t, err)
		require.NoError(t, s.Close())
	}
}

func TestOpenSQLite_Pragmas(t *testing.T) {
	s := createTestStore(t)

	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		assert.NoError(t, s.verifyPragma(name, want))
	}
}

func TestOpenSQLite_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations(sqliteDialect)), v)
	assert.Equal(t, 5, v)
}

func TestOpenSQLite_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenSQLite(context.Background(), path, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.True(t, store.IsMigration(err))

	var verr *migrate.VersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 99, verr.Stored)
}

func TestOpenSQLite_UnopenablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "test.db")

	_, err := OpenSQLite(context.Background(), path, WithLogger(quietLogger()))
	require.Error(t, err)
	assert.Equal(t, store.ErrCodeConnection, store.CodeOf(err))
}

func TestStore_CommitTimesComeFromClock(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"n": "1"}))
	require.NoError(t, err)

	var enqueued int64
	require.NoError(t, s.db.QueryRow(`SELECT commit_time FROM sync_outgoing WHERE revision = ?`, rev).Scan(&enqueued))
	assert.Equal(t, testutil.Epoch.Unix(), enqueued)

	require.NoError(t, s.CompleteOutgoingChange(ctx, testutil.Record("contact", "c1", 3, 1), rev))

	var confirmed int64
	require.NoError(t, s.db.QueryRow(`SELECT commit_time FROM sync_state WHERE data_id = 'c1'`).Scan(&confirmed))
	assert.Equal(t, testutil.Epoch.Unix()+1, confirmed)
}

func TestStore_StoresDiscriminator(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.UpsertPayment(ctx, testutil.TokenPayment("tk1", 1, "btkn1")))
	require.NoError(t, s.UpsertPayment(ctx, testutil.WithdrawPayment("wd1", 2)))

	var detailsType, identifier string
	require.NoError(t, s.db.QueryRow(`SELECT details_type FROM payments WHERE id = 'tk1'`).Scan(&detailsType))
	require.NoError(t, s.db.QueryRow(`SELECT token_identifier FROM payment_details_token WHERE payment_id = 'tk1'`).Scan(&identifier))
	assert.Equal(t, "token", detailsType)
	assert.Equal(t, "btkn1", identifier)

	require.NoError(t, s.db.QueryRow(`SELECT details_type FROM payments WHERE id = 'wd1'`).Scan(&detailsType))
	assert.Equal(t, "withdraw", detailsType)
}

func TestStore_MetadataWriteErrorNamesStatement(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	_, err := s.db.Exec(`DROP TABLE payment_metadata`)
	require.NoError(t, err)

	err = s.UpsertPaymentMetadata(ctx, "p1", model.PaymentMetadata{LnurlDescription: testutil.Ptr("coffee")})
	require.Error(t, err)
	assert.Equal(t, store.ErrCodeStorage, store.CodeOf(err))
	assert.Contains(t, err.Error(), "write payment metadata")
}

func TestStore_ClosedStoreReturnsStorageError(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.GetPaymentByID(context.Background(), "p1")
	require.Error(t, err)
	assert.False(t, store.IsNotFound(err))
	assert.NotEmpty(t, store.CodeOf(err))
}
