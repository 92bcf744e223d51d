package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/roach88/ledgersync/internal/migrate"
	"github.com/roach88/ledgersync/internal/model"
)

// Schema version history. Append only:
//
//	1 create_payment_tables
//	2 create_sync_tables
//	3 index_payment_lookups
//	4 add_token_tx_type
//	5 add_typed_filter_columns (with backfill)
func migrations(d dialect) []migrate.Step[*sql.Tx] {
	if d.name == postgresDialect.name {
		return postgresMigrations()
	}
	return sqliteMigrations()
}

func sqliteMigrations() []migrate.Step[*sql.Tx] {
	return []migrate.Step[*sql.Tx]{
		{Name: "create_payment_tables", Up: migrate.Statements(
			`CREATE TABLE IF NOT EXISTS payments (
				id TEXT PRIMARY KEY,
				payment_type TEXT NOT NULL,
				status TEXT NOT NULL,
				amount TEXT NOT NULL,
				fees TEXT NOT NULL,
				timestamp INTEGER NOT NULL,
				method TEXT,
				withdraw_tx_id TEXT,
				deposit_tx_id TEXT,
				spark INTEGER
			)`,
			`CREATE TABLE IF NOT EXISTS payment_details_lightning (
				payment_id TEXT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
				invoice TEXT NOT NULL,
				payment_hash TEXT NOT NULL,
				destination_pubkey TEXT NOT NULL,
				description TEXT,
				preimage TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS payment_details_spark (
				payment_id TEXT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
				invoice_details TEXT,
				htlc_details TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS payment_details_token (
				payment_id TEXT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
				metadata TEXT NOT NULL,
				tx_hash TEXT NOT NULL,
				invoice_details TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS payment_metadata (
				payment_id TEXT PRIMARY KEY,
				parent_payment_id TEXT,
				lnurl_pay_info TEXT,
				lnurl_withdraw_info TEXT,
				lnurl_description TEXT,
				conversion_info TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS lnurl_receive_metadata (
				payment_hash TEXT PRIMARY KEY,
				nostr_zap_request TEXT,
				nostr_zap_receipt TEXT,
				sender_comment TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS unclaimed_deposits (
				txid TEXT NOT NULL,
				vout INTEGER NOT NULL,
				amount_sats INTEGER,
				claim_error TEXT,
				refund_tx TEXT,
				refund_tx_id TEXT,
				PRIMARY KEY (txid, vout)
			)`,
			`CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		)},
		{Name: "create_sync_tables", Up: migrate.Statements(
			`CREATE TABLE IF NOT EXISTS sync_revision (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				revision INTEGER NOT NULL
			)`,
			`INSERT INTO sync_revision (id, revision) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
			`CREATE TABLE IF NOT EXISTS sync_outgoing_counter (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				revision INTEGER NOT NULL
			)`,
			`INSERT INTO sync_outgoing_counter (id, revision) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
			`CREATE TABLE IF NOT EXISTS sync_outgoing (
				record_type TEXT NOT NULL,
				data_id TEXT NOT NULL,
				schema_version TEXT NOT NULL,
				commit_time INTEGER NOT NULL,
				updated_fields TEXT NOT NULL,
				revision INTEGER NOT NULL UNIQUE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_outgoing_record ON sync_outgoing(record_type, data_id)`,
			`CREATE TABLE IF NOT EXISTS sync_state (
				record_type TEXT NOT NULL,
				data_id TEXT NOT NULL,
				schema_version TEXT NOT NULL,
				commit_time INTEGER NOT NULL,
				data TEXT NOT NULL,
				revision INTEGER NOT NULL,
				PRIMARY KEY (record_type, data_id)
			)`,
			`CREATE TABLE IF NOT EXISTS sync_incoming (
				record_type TEXT NOT NULL,
				data_id TEXT NOT NULL,
				schema_version TEXT NOT NULL,
				commit_time INTEGER NOT NULL,
				data TEXT NOT NULL,
				revision INTEGER NOT NULL,
				PRIMARY KEY (record_type, data_id, revision)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_incoming_revision ON sync_incoming(revision)`,
		)},
		{Name: "index_payment_lookups", Up: migrate.Statements(indexStatements...)},
		{Name: "add_token_tx_type", Up: migrate.Statements(
			`ALTER TABLE payment_details_token ADD COLUMN tx_type TEXT NOT NULL DEFAULT 'transfer'`,
		)},
		{Name: "add_typed_filter_columns", Up: typedFilterColumns(sqliteDialect,
			`ALTER TABLE payments ADD COLUMN details_type TEXT`,
			`ALTER TABLE payment_details_spark ADD COLUMN htlc_status TEXT`,
			`ALTER TABLE payment_details_token ADD COLUMN token_identifier TEXT`,
			`ALTER TABLE payment_metadata ADD COLUMN conversion_status TEXT`,
		)},
	}
}

func postgresMigrations() []migrate.Step[*sql.Tx] {
	return []migrate.Step[*sql.Tx]{
		{Name: "create_payment_tables", Up: migrate.Statements(
			`CREATE TABLE IF NOT EXISTS payments (
				id TEXT PRIMARY KEY,
				payment_type TEXT NOT NULL,
				status TEXT NOT NULL,
				amount TEXT NOT NULL,
				fees TEXT NOT NULL,
				timestamp BIGINT NOT NULL,
				method TEXT,
				withdraw_tx_id TEXT,
				deposit_tx_id TEXT,
				spark BOOLEAN
			)`,
			`CREATE TABLE IF NOT EXISTS payment_details_lightning (
				payment_id TEXT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
				invoice TEXT NOT NULL,
				payment_hash TEXT NOT NULL,
				destination_pubkey TEXT NOT NULL,
				description TEXT,
				preimage TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS payment_details_spark (
				payment_id TEXT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
				invoice_details TEXT,
				htlc_details TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS payment_details_token (
				payment_id TEXT PRIMARY KEY REFERENCES payments(id) ON DELETE CASCADE,
				metadata TEXT NOT NULL,
				tx_hash TEXT NOT NULL,
				invoice_details TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS payment_metadata (
				payment_id TEXT PRIMARY KEY,
				parent_payment_id TEXT,
				lnurl_pay_info TEXT,
				lnurl_withdraw_info TEXT,
				lnurl_description TEXT,
				conversion_info TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS lnurl_receive_metadata (
				payment_hash TEXT PRIMARY KEY,
				nostr_zap_request TEXT,
				nostr_zap_receipt TEXT,
				sender_comment TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS unclaimed_deposits (
				txid TEXT NOT NULL,
				vout INTEGER NOT NULL,
				amount_sats BIGINT,
				claim_error TEXT,
				refund_tx TEXT,
				refund_tx_id TEXT,
				PRIMARY KEY (txid, vout)
			)`,
			`CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		)},
		{Name: "create_sync_tables", Up: migrate.Statements(
			`CREATE TABLE IF NOT EXISTS sync_revision (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				revision BIGINT NOT NULL
			)`,
			`INSERT INTO sync_revision (id, revision) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
			`CREATE TABLE IF NOT EXISTS sync_outgoing_counter (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				revision BIGINT NOT NULL
			)`,
			`INSERT INTO sync_outgoing_counter (id, revision) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
			`CREATE TABLE IF NOT EXISTS sync_outgoing (
				record_type TEXT NOT NULL,
				data_id TEXT NOT NULL,
				schema_version TEXT NOT NULL,
				commit_time BIGINT NOT NULL,
				updated_fields TEXT NOT NULL,
				revision BIGINT NOT NULL UNIQUE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_outgoing_record ON sync_outgoing(record_type, data_id)`,
			`CREATE TABLE IF NOT EXISTS sync_state (
				record_type TEXT NOT NULL,
				data_id TEXT NOT NULL,
				schema_version TEXT NOT NULL,
				commit_time BIGINT NOT NULL,
				data TEXT NOT NULL,
				revision BIGINT NOT NULL,
				PRIMARY KEY (record_type, data_id)
			)`,
			`CREATE TABLE IF NOT EXISTS sync_incoming (
				record_type TEXT NOT NULL,
				data_id TEXT NOT NULL,
				schema_version TEXT NOT NULL,
				commit_time BIGINT NOT NULL,
				data TEXT NOT NULL,
				revision BIGINT NOT NULL,
				PRIMARY KEY (record_type, data_id, revision)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_incoming_revision ON sync_incoming(revision)`,
		)},
		{Name: "index_payment_lookups", Up: migrate.Statements(indexStatements...)},
		{Name: "add_token_tx_type", Up: migrate.Statements(
			`ALTER TABLE payment_details_token ADD COLUMN IF NOT EXISTS tx_type TEXT NOT NULL DEFAULT 'transfer'`,
		)},
		{Name: "add_typed_filter_columns", Up: typedFilterColumns(postgresDialect,
			`ALTER TABLE payments ADD COLUMN IF NOT EXISTS details_type TEXT`,
			`ALTER TABLE payment_details_spark ADD COLUMN IF NOT EXISTS htlc_status TEXT`,
			`ALTER TABLE payment_details_token ADD COLUMN IF NOT EXISTS token_identifier TEXT`,
			`ALTER TABLE payment_metadata ADD COLUMN IF NOT EXISTS conversion_status TEXT`,
		)},
	}
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_payments_timestamp ON payments(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_payment_type ON payments(payment_type)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
	`CREATE INDEX IF NOT EXISTS idx_details_lightning_invoice ON payment_details_lightning(invoice)`,
	`CREATE INDEX IF NOT EXISTS idx_details_lightning_payment_hash ON payment_details_lightning(payment_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_metadata_parent ON payment_metadata(parent_payment_id)`,
}

// typedFilterColumns adds the discriminator and filter columns, indexes
// them, and backfills existing rows.
func typedFilterColumns(d dialect, alters ...string) func(ctx context.Context, tx *sql.Tx) error {
	stmts := append(alters,
		`CREATE INDEX IF NOT EXISTS idx_payments_details_type ON payments(details_type)`,
		`CREATE INDEX IF NOT EXISTS idx_details_token_identifier ON payment_details_token(token_identifier)`,
	)
	ddl := migrate.Statements(stmts...)
	return func(ctx context.Context, tx *sql.Tx) error {
		if err := ddl(ctx, tx); err != nil {
			return err
		}
		return backfillTypedColumns(ctx, tx, d)
	}
}

// backfillTypedColumns populates the columns added by migration 5 from the
// data already present. Rows whose JSON cannot be decoded keep NULL.
func backfillTypedColumns(ctx context.Context, tx *sql.Tx, d dialect) error {
	// Discriminator from side tables, in the historical precedence order.
	_, err := tx.ExecContext(ctx, d.rebind(`
		UPDATE payments SET details_type = CASE
			WHEN EXISTS (SELECT 1 FROM payment_details_lightning l WHERE l.payment_id = payments.id) THEN 'lightning'
			WHEN withdraw_tx_id IS NOT NULL THEN 'withdraw'
			WHEN deposit_tx_id IS NOT NULL THEN 'deposit'
			WHEN spark = ? OR EXISTS (SELECT 1 FROM payment_details_spark s WHERE s.payment_id = payments.id) THEN 'spark'
			WHEN EXISTS (SELECT 1 FROM payment_details_token t WHERE t.payment_id = payments.id) THEN 'token'
			ELSE NULL
		END
		WHERE details_type IS NULL
	`), true)
	if err != nil {
		return fmt.Errorf("backfill details_type: %w", err)
	}

	jobs := []struct {
		table, key, src, dst string
		extract              func([]byte) (string, bool)
	}{
		{"payment_details_spark", "payment_id", "htlc_details", "htlc_status", extractHTLCStatus},
		{"payment_details_token", "payment_id", "metadata", "token_identifier", extractTokenIdentifier},
		{"payment_metadata", "payment_id", "conversion_info", "conversion_status", extractConversionStatus},
	}
	for _, j := range jobs {
		if err := backfillJSONColumn(ctx, tx, d, j.table, j.key, j.src, j.dst, j.extract); err != nil {
			return err
		}
	}
	return nil
}

// backfillJSONColumn derives dst from the JSON in src for rows where dst is
// NULL. Rows are collected before updating because some drivers cannot
// interleave statements on one connection.
func backfillJSONColumn(ctx context.Context, tx *sql.Tx, d dialect, table, key, src, dst string, extract func([]byte) (string, bool)) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s IS NOT NULL AND %s IS NULL`, key, src, table, src, dst))
	if err != nil {
		return fmt.Errorf("backfill %s.%s: %w", table, dst, err)
	}

	updates := map[string]string{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("backfill %s.%s: scan: %w", table, dst, err)
		}
		if v, ok := extract([]byte(raw)); ok {
			updates[id] = v
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("backfill %s.%s: iterate: %w", table, dst, err)
	}
	rows.Close()

	update := d.rebind(fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`, table, dst, key))
	for id, v := range updates {
		if _, err := tx.ExecContext(ctx, update, v, id); err != nil {
			return fmt.Errorf("backfill %s.%s for %s: %w", table, dst, id, err)
		}
	}
	return nil
}

func extractHTLCStatus(raw []byte) (string, bool) {
	var v struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	s := model.SparkHTLCStatus(snakeCase(v.Status))
	return string(s), s.Valid()
}

func extractTokenIdentifier(raw []byte) (string, bool) {
	var v struct {
		Identifier string `json:"identifier"`
	}
	if json.Unmarshal(raw, &v) != nil || v.Identifier == "" {
		return "", false
	}
	return v.Identifier, true
}

func extractConversionStatus(raw []byte) (string, bool) {
	var v struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	s := model.ConversionStatus(snakeCase(v.Status))
	return string(s), s.Valid()
}

// snakeCase converts legacy "RefundNeeded" style enum values to
// "refund_needed". Values already in snake case pass through.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schemaBackend stores the schema version apart from application tables.
type schemaBackend = migrate.Backend[*sql.Tx]

type txRunner struct {
	db *sql.DB
}

func (r txRunner) Update(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// sqliteSchema keeps the version in PRAGMA user_version.
type sqliteSchema struct {
	txRunner
}

func (sqliteSchema) Version(ctx context.Context, tx *sql.Tx) (int, error) {
	var v int
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return v, nil
}

func (sqliteSchema) SetVersion(ctx context.Context, tx *sql.Tx, v int) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrationLockID is the advisory lock key held while Postgres migrates.
const migrationLockID int64 = 0x6c656467 // "ledg"

// postgresSchema keeps the version in a single-row table and serializes
// concurrent migrations with a transaction-scoped advisory lock.
type postgresSchema struct {
	txRunner
}

func (postgresSchema) Version(ctx context.Context, tx *sql.Tx) (int, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return 0, fmt.Errorf("acquire migration lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledgersync_schema_version (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL
		)`); err != nil {
		return 0, fmt.Errorf("create version table: %w", err)
	}

	var v int
	err := tx.QueryRowContext(ctx, `SELECT version FROM ledgersync_schema_version WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return v, nil
}

func (postgresSchema) SetVersion(ctx context.Context, tx *sql.Tx, v int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledgersync_schema_version (id, version) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version
	`, v)
	if err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}
