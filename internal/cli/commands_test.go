package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/testutil"
)

// run executes the CLI and returns the exit code and both streams.
func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func tempDB(t *testing.T, backend string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "wallet."+backend)
}

// decodeData unmarshals the data field of a JSON envelope into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestMigrate(t *testing.T) {
	for _, backend := range []string{"sqlite", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			db := tempDB(t, backend)

			code, stdout, stderr := run(t, "--backend", backend, "--db", db, "--format", "json", "migrate")
			require.Equal(t, ExitSuccess, code, stderr)

			var res MigrateResult
			decodeData(t, stdout, &res)
			assert.Equal(t, backend, res.Backend)
			assert.Positive(t, res.SchemaVersion)

			// Migrating again is a no-op.
			code, stdout, _ = run(t, "--backend", backend, "--db", db, "migrate")
			require.Equal(t, ExitSuccess, code)
			assert.Contains(t, stdout, "schema at version")
		})
	}
}

func TestMigrate_UnopenableStore(t *testing.T) {
	code, _, stderr := run(t, "--backend", "sqlite", "--db", "/nonexistent/dir/wallet.db", "migrate")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "failed to open store")
}

func writePayments(t *testing.T, payments ...model.Payment) string {
	t.Helper()
	data, err := json.Marshal(payments)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "payments.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestPayments_ImportListGet(t *testing.T) {
	db := tempDB(t, "bolt")
	flags := []string{"--backend", "bolt", "--db", db}

	anonymous := testutil.SparkPayment("", 300)
	file := writePayments(t,
		testutil.LightningPayment("ln1", 100),
		testutil.DepositPayment("dep1", 200),
		anonymous,
	)

	code, stdout, stderr := run(t, append(flags, "--format", "json", "payments", "import", file)...)
	require.Equal(t, ExitSuccess, code, stderr)
	var imported ImportResult
	decodeData(t, stdout, &imported)
	require.Equal(t, 3, imported.Imported)
	generated, err := uuid.Parse(imported.IDs[2])
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), generated.Version())

	code, stdout, _ = run(t, append(flags, "--format", "json", "payments", "list", "--limit", "2")...)
	require.Equal(t, ExitSuccess, code)
	var listed []model.Payment
	decodeData(t, stdout, &listed)
	require.Len(t, listed, 2)
	assert.Equal(t, imported.IDs[2], listed[0].ID)
	assert.Equal(t, "dep1", listed[1].ID)

	code, stdout, _ = run(t, append(flags, "payments", "list", "--asc", "--from", "100", "--to", "200")...)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "ln1")
	assert.NotContains(t, stdout, "dep1")

	code, stdout, _ = run(t, append(flags, "payments", "get", "ln1")...)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Details (lightning)")

	code, stdout, _ = run(t, append(flags, "payments", "get", "--invoice", "lnbc-ln1")...)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "ln1")
}

func TestPayments_GetMissing(t *testing.T) {
	db := tempDB(t, "sqlite")

	code, stdout, stderr := run(t, "--db", db, "payments", "get", "nope")
	assert.Equal(t, ExitFailure, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Error [NOT_FOUND]")

	code, stdout, _ = run(t, "--db", db, "--format", "json", "payments", "get", "nope")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, `"status":"error"`)
}

func TestPayments_ImportRejectsInvalid(t *testing.T) {
	bad := testutil.LightningPayment("bad", 1)
	bad.Amount = "1.5"

	code, _, stderr := run(t, "--db", tempDB(t, "sqlite"), "payments", "import", writePayments(t, bad))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "VALIDATION")
}

func TestDeposits_Lifecycle(t *testing.T) {
	flags := []string{"--backend", "sqlite", "--db", tempDB(t, "sqlite")}

	for _, args := range [][]string{
		{"deposits", "add", "txb", "1", "5000"},
		{"deposits", "add", "txa", "0", "1000"},
		{"deposits", "refund", "txb", "1", "--tx", "0200ff", "--txid", "refund1"},
	} {
		code, _, stderr := run(t, append(flags, args...)...)
		require.Equal(t, ExitSuccess, code, stderr)
	}

	code, stdout, _ := run(t, append(flags, "--format", "json", "deposits", "list")...)
	require.Equal(t, ExitSuccess, code)
	var deposits []model.DepositInfo
	decodeData(t, stdout, &deposits)
	require.Len(t, deposits, 2)
	assert.Equal(t, "txa", deposits[0].TxID)
	require.NotNil(t, deposits[1].RefundTxID)
	assert.Equal(t, "refund1", *deposits[1].RefundTxID)

	code, _, _ = run(t, append(flags, "deposits", "delete", "txa", "0")...)
	require.Equal(t, ExitSuccess, code)

	code, stdout, _ = run(t, append(flags, "deposits", "list")...)
	require.Equal(t, ExitSuccess, code)
	assert.NotContains(t, stdout, "txa")
	assert.Contains(t, stdout, "refunded by refund1")
}

func TestDeposits_InvalidVout(t *testing.T) {
	code, _, stderr := run(t, "--db", tempDB(t, "sqlite"), "deposits", "add", "tx", "first", "10")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid vout")
}

func TestCache_SetGetDelete(t *testing.T) {
	flags := []string{"--backend", "bolt", "--db", tempDB(t, "bolt")}

	code, _, _ := run(t, append(flags, "cache", "set", "fiat", "USD")...)
	require.Equal(t, ExitSuccess, code)

	code, stdout, _ := run(t, append(flags, "cache", "get", "fiat")...)
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "USD\n", stdout)

	code, _, _ = run(t, append(flags, "cache", "delete", "fiat")...)
	require.Equal(t, ExitSuccess, code)

	code, stdout, _ = run(t, append(flags, "--format", "json", "cache", "get", "fiat")...)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, `"found":false`)
}

func TestSync_EnqueueStatusRecord(t *testing.T) {
	flags := []string{"--backend", "sqlite", "--db", tempDB(t, "sqlite")}

	code, stdout, stderr := run(t, append(flags, "--format", "json", "sync", "enqueue", "contact", "--id", "alice", "name=Alice")...)
	require.Equal(t, ExitSuccess, code, stderr)
	var enq EnqueueResult
	decodeData(t, stdout, &enq)
	assert.Equal(t, uint64(1), enq.LocalRevision)

	code, stdout, _ = run(t, append(flags, "--format", "json", "sync", "enqueue", "contact", "name=Bob")...)
	require.Equal(t, ExitSuccess, code)
	decodeData(t, stdout, &enq)
	assert.Equal(t, uint64(2), enq.LocalRevision)
	_, err := uuid.Parse(enq.ID.DataID)
	assert.NoError(t, err)

	code, stdout, _ = run(t, append(flags, "sync", "status")...)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Outgoing:")
	assert.Contains(t, stdout, "2")

	code, stdout, _ = run(t, append(flags, "--format", "json", "sync", "record", "contact", "alice")...)
	require.Equal(t, ExitSuccess, code)
	var rec RecordStatus
	decodeData(t, stdout, &rec)
	assert.Equal(t, model.SyncUnsynced, rec.State)
	assert.Equal(t, 1, rec.PendingOutgoing)
}

func TestSync_EnqueueRejectsBadField(t *testing.T) {
	code, _, stderr := run(t, "--db", tempDB(t, "sqlite"), "sync", "enqueue", "contact", "novalue")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "field=value")
}

func TestCache_Info(t *testing.T) {
	db := tempDB(t, "sqlite")
	flags := []string{"--db", db}

	code, _, _ := run(t, append(flags, "cache", "set", "account_info", `{"balance_sats":2100}`)...)
	require.Equal(t, ExitSuccess, code)
	code, _, _ = run(t, append(flags, "cache", "set", "sync_offset", `{"offset":42}`)...)
	require.Equal(t, ExitSuccess, code)

	code, stdout, stderr := run(t, append(flags, "--format", "json", "cache", "info")...)
	require.Equal(t, ExitSuccess, code, stderr)
	var info WalletInfo
	decodeData(t, stdout, &info)
	require.NotNil(t, info.Account)
	assert.Equal(t, uint64(2100), info.Account.BalanceSats)
	require.NotNil(t, info.Sync)
	assert.Equal(t, uint64(42), info.Sync.Offset)
	assert.Nil(t, info.DepositAddress)

	code, _, _ = run(t, append(flags, "cache", "set", "account_info", "not json")...)
	require.Equal(t, ExitSuccess, code)
	code, _, stderr = run(t, append(flags, "cache", "info")...)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "unmarshal")
}

func TestSync_RunOnceConvergesDevices(t *testing.T) {
	remote := filepath.Join(t.TempDir(), "remote.log")
	phone := []string{"--backend", "bolt", "--db", tempDB(t, "bolt")}
	laptop := []string{"--backend", "sqlite", "--db", tempDB(t, "sqlite")}

	code, _, stderr := run(t, append(phone, "sync", "enqueue", "contact", "--id", "alice", "name=Alice")...)
	require.Equal(t, ExitSuccess, code, stderr)

	code, stdout, stderr := run(t, append(phone, "--format", "json", "sync", "run", "--remote", remote, "--once")...)
	require.Equal(t, ExitSuccess, code, stderr)
	var round SyncRoundResult
	decodeData(t, stdout, &round)
	assert.Equal(t, 1, round.Pushed)

	code, stdout, stderr = run(t, append(laptop, "--format", "json", "sync", "run", "--remote", remote, "--once")...)
	require.Equal(t, ExitSuccess, code, stderr)
	decodeData(t, stdout, &round)
	assert.Equal(t, 1, round.Pulled)
	assert.Equal(t, 1, round.Applied)

	code, stdout, _ = run(t, append(laptop, "--format", "json", "sync", "record", "contact", "alice")...)
	require.Equal(t, ExitSuccess, code)
	var rec RecordStatus
	decodeData(t, stdout, &rec)
	assert.Equal(t, model.SyncSynced, rec.State)
	assert.Equal(t, uint64(1), rec.Revision)
}

func TestSync_RunRequiresRemote(t *testing.T) {
	code, _, stderr := run(t, "--db", tempDB(t, "sqlite"), "sync", "run", "--once")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "--remote is required")
}

// assertGolden compares text output against testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/cli -update
func assertGolden(t *testing.T, name, out string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(out))
}

func TestTextOutput_Golden(t *testing.T) {
	flags := []string{"--backend", "sqlite", "--db", tempDB(t, "sqlite")}
	file := writePayments(t,
		testutil.LightningPayment("ln1", 100),
		testutil.DepositPayment("dep1", 200),
		testutil.WithdrawPayment("wd1", 300),
	)

	setup := [][]string{
		{"payments", "import", file},
		{"deposits", "add", "txb", "1", "5000"},
		{"deposits", "add", "txa", "0", "1000"},
		{"deposits", "refund", "txb", "1", "--tx", "0200ff", "--txid", "refund1"},
		{"sync", "enqueue", "contact", "--id", "alice", "name=Alice"},
		{"cache", "set", "account_info", `{"balance_sats":2100,"token_balances":{"btkn1":"50"}}`},
		{"cache", "set", "sync_offset", `{"offset":42}`},
	}
	for _, args := range setup {
		code, _, stderr := run(t, append(flags, args...)...)
		require.Equal(t, ExitSuccess, code, stderr)
	}

	tests := []struct {
		golden string
		args   []string
	}{
		{"payments_list", []string{"payments", "list"}},
		{"payments_get_deposit", []string{"payments", "get", "dep1"}},
		{"deposits_list", []string{"deposits", "list"}},
		{"sync_record_unsynced", []string{"sync", "record", "contact", "alice"}},
		{"cache_info", []string{"cache", "info"}},
	}
	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			code, stdout, stderr := run(t, append(flags, tt.args...)...)
			require.Equal(t, ExitSuccess, code, stderr)
			assertGolden(t, tt.golden, stdout)
		})
	}
}
