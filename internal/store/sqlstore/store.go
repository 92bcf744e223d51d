package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/ledgersync/internal/migrate"
	"github.com/roach88/ledgersync/internal/store"
)

// Store implements store.Storage over database/sql.
type Store struct {
	db     *sql.DB
	d      dialect
	schema schemaBackend
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the source of sync commit times. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// PostgresConfig selects a Postgres database.
type PostgresConfig struct {
	DSN string

	// Schema, if set, is created when missing and used as search_path.
	Schema string

	// MaxOpenConns limits the pool. Zero means 10.
	MaxOpenConns int
}

// OpenSQLite creates or opens a SQLite database at path and migrates it.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// A single connection is used, so transactions serialize.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, classify("open", path, fmt.Errorf("open database: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &store.Error{Code: store.ErrCodeConnection, Op: "open", Key: path, Err: err}
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, classify("open", path, fmt.Errorf("apply pragmas: %w", err))
	}

	s := newStore(db, sqliteDialect, sqliteSchema{txRunner{db}}, opts)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to Postgres through pgx and migrates the schema.
// Concurrent openers serialize on an advisory lock during migration.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, opts ...Option) (*Store, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, &store.Error{Code: store.ErrCodeValidation, Op: "open", Message: "invalid postgres dsn", Err: err}
	}
	if cfg.Schema != "" {
		connCfg.RuntimeParams["search_path"] = cfg.Schema
	}

	db := stdlib.OpenDB(*connCfg)
	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &store.Error{Code: store.ErrCodeConnection, Op: "open", Key: connCfg.Host, Err: err}
	}
	if cfg.Schema != "" {
		stmt := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{cfg.Schema}.Sanitize()
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, classify("open", cfg.Schema, fmt.Errorf("create schema: %w", err))
		}
	}

	s := newStore(db, postgresDialect, postgresSchema{txRunner{db}}, opts)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newStore(db *sql.DB, d dialect, schema schemaBackend, opts []Option) *Store {
	s := &Store{
		db:     db,
		d:      d,
		schema: schema,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sqlstore", "dialect", d.name)
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns "sqlite" or "postgres".
func (s *Store) Dialect() string {
	return s.d.name
}

// SchemaVersion returns the stored schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.schema.Update(ctx, func(tx *sql.Tx) error {
		var err error
		v, err = s.schema.Version(ctx, tx)
		return err
	})
	if err != nil {
		return 0, classify("schema version", "", err)
	}
	return v, nil
}

func (s *Store) migrate(ctx context.Context) error {
	res, err := migrate.Run[*sql.Tx](ctx, s.schema, migrations(s.d), s.logger)
	if err != nil {
		return store.NewMigration(err)
	}
	s.logger.Debug("schema ready", "version", res.To)
	return nil
}

// q rebinds a query for the store's dialect.
func (s *Store) q(query string) string {
	return s.d.rebind(query)
}

// withTx runs fn in a transaction. Any error rolls back and is classified
// against op and key.
func (s *Store) withTx(ctx context.Context, op, key string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, key, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return classify(op, key, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, key, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
