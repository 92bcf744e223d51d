package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/migrate"
	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/testutil"
)

func TestMigrations_StepNamesAreValid(t *testing.T) {
	for _, d := range []dialect{sqliteDialect, postgresDialect} {
		steps := migrations(d)
		assert.NoError(t, migrate.Validate(steps), d.name)
		assert.Len(t, steps, 5, d.name)
	}
}

// openAtVersion4 creates a database with the schema as it was before the
// typed filter columns existed.
func openAtVersion4(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	res, err := migrate.Run[*sql.Tx](context.Background(), sqliteSchema{txRunner{db}}, migrations(sqliteDialect)[:4], quietLogger())
	require.NoError(t, err)
	require.Equal(t, 4, res.To)
	return db, path
}

func TestMigrations_BackfillLegacyRows(t *testing.T) {
	ctx := context.Background()
	db, path := openAtVersion4(t)

	stmts := []string{
		`INSERT INTO payments (id, payment_type, status, amount, fees, timestamp) VALUES ('ln1', 'receive', 'completed', '1', '0', 1)`,
		`INSERT INTO payment_details_lightning (payment_id, invoice, payment_hash, destination_pubkey) VALUES ('ln1', 'lnbc1', 'hash1', '02')`,

		`INSERT INTO payments (id, payment_type, status, amount, fees, timestamp, spark) VALUES ('sp1', 'send', 'pending', '2', '0', 2, 1)`,
		`INSERT INTO payment_details_spark (payment_id, htlc_details) VALUES ('sp1', '{"payment_hash":"h","expiry_time":9,"status":"WaitingForPreimage"}')`,
		`INSERT INTO payment_metadata (payment_id, conversion_info) VALUES ('sp1', '{"pool_id":"p","conversion_id":"c","status":"RefundNeeded"}')`,

		`INSERT INTO payments (id, payment_type, status, amount, fees, timestamp) VALUES ('tk1', 'receive', 'completed', '3', '0', 3)`,
		`INSERT INTO payment_details_token (payment_id, metadata, tx_hash) VALUES ('tk1', '{"identifier":"btkn1","ticker":"TKN"}', 'txh')`,

		`INSERT INTO payments (id, payment_type, status, amount, fees, timestamp, withdraw_tx_id) VALUES ('wd1', 'send', 'completed', '4', '1', 4, 'wtx')`,

		`INSERT INTO payments (id, payment_type, status, amount, fees, timestamp, spark) VALUES ('odd', 'send', 'completed', '5', '0', 5, 1)`,
		`INSERT INTO payment_details_spark (payment_id, htlc_details) VALUES ('odd', '{"payment_hash":"h","expiry_time":9,"status":"Exploded"}')`,
		`INSERT INTO payment_metadata (payment_id, conversion_info) VALUES ('odd', 'not json')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())

	s, err := OpenSQLite(ctx, path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	kinds := map[string]string{}
	rows, err := s.db.Query(`SELECT id, COALESCE(details_type, '') FROM payments`)
	require.NoError(t, err)
	for rows.Next() {
		var id, kind string
		require.NoError(t, rows.Scan(&id, &kind))
		kinds[id] = kind
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, map[string]string{
		"ln1": "lightning",
		"sp1": "spark",
		"tk1": "token",
		"wd1": "withdraw",
		"odd": "spark",
	}, kinds)

	var htlc, conversion sql.NullString
	require.NoError(t, s.db.QueryRow(`SELECT htlc_status FROM payment_details_spark WHERE payment_id = 'sp1'`).Scan(&htlc))
	require.NoError(t, s.db.QueryRow(`SELECT conversion_status FROM payment_metadata WHERE payment_id = 'sp1'`).Scan(&conversion))
	assert.Equal(t, "waiting_for_preimage", htlc.String)
	assert.Equal(t, "refund_needed", conversion.String)

	// Undecodable or unknown values stay NULL instead of failing the upgrade.
	require.NoError(t, s.db.QueryRow(`SELECT htlc_status FROM payment_details_spark WHERE payment_id = 'odd'`).Scan(&htlc))
	require.NoError(t, s.db.QueryRow(`SELECT conversion_status FROM payment_metadata WHERE payment_id = 'odd'`).Scan(&conversion))
	assert.False(t, htlc.Valid)
	assert.False(t, conversion.Valid)

	got, err := s.ListPayments(ctx, model.ListPaymentsRequest{
		PaymentDetailsFilter: []model.PaymentDetailsFilter{{Spark: &model.SparkDetailsFilter{
			HTLCStatus: []model.SparkHTLCStatus{model.HTLCWaitingForPreimage},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sp1", got[0].ID)

	got, err = s.ListPayments(ctx, model.ListPaymentsRequest{
		AssetFilter: &model.AssetFilter{Kind: model.AssetToken, TokenIdentifier: testutil.Ptr("btkn1")},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.TokenTransfer, got[0].Details.Token.TxType)

	wd, err := s.GetPaymentByID(ctx, "wd1")
	require.NoError(t, err)
	require.NotNil(t, wd.Details.Withdraw)
	assert.Equal(t, "wtx", wd.Details.Withdraw.TxID)
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"RefundNeeded":       "refund_needed",
		"WaitingForPreimage": "waiting_for_preimage",
		"refund_needed":      "refund_needed",
		"Pending":            "pending",
		"":                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, snakeCase(in), in)
	}
}
