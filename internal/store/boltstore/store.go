// Package boltstore implements store.Storage on an embedded bolt key/value
// file.
//
// Each entity lives in its own bucket as a JSON document. Keys are chosen so
// that bolt's byte ordering is the order the store API promises (deposits by
// txid then vout, the outbox by local revision, the inbox by revision), which
// keeps range reads to a single cursor walk. Filtering that a relational
// backend would push into SQL happens in Go against assembled payments.
//
// bolt serializes writers itself; every mutating operation is a single
// read-write transaction.
package boltstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boltdb/bolt"

	"github.com/roach88/ledgersync/internal/migrate"
	"github.com/roach88/ledgersync/internal/store"
)

// Store implements store.Storage over bolt.
type Store struct {
	db     *bolt.DB
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

// Open creates or opens the bolt file at path and migrates it. A file held
// by another process fails after one second.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, classify("open", path, err)
	}

	s := &Store{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "boltstore")

	res, err := migrate.Run[*bolt.Tx](ctx, schema{db}, migrations(), s.logger)
	if err != nil {
		db.Close()
		return nil, store.NewMigration(err)
	}
	s.logger.Debug("schema ready", "version", res.To)
	return s, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion returns the stored schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		v, err = readVersion(tx)
		return err
	})
	if err != nil {
		return 0, classify("schema version", "", err)
	}
	return v, nil
}

// update runs fn in a read-write transaction. The context is checked before
// starting and again before commit, so a canceled caller leaves no effect.
func (s *Store) update(ctx context.Context, op, key string, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return classify(op, key, err)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return ctx.Err()
	})
	return classify(op, key, err)
}

// view runs fn in a read-only transaction.
func (s *Store) view(ctx context.Context, op, key string, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return classify(op, key, err)
	}
	return classify(op, key, s.db.View(fn))
}

// classify wraps bolt errors as *store.Error.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *store.Error
	if errors.As(err, &se) {
		return err
	}
	e := &store.Error{Code: store.ErrCodeStorage, Op: op, Key: key, Err: err}
	switch {
	case errors.Is(err, bolt.ErrTimeout):
		e.Code = store.ErrCodeConnection
		e.Retryable = true
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		e.Code = store.ErrCodeConnection
	}
	return e
}

func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %q missing", name)
	}
	return b, nil
}
