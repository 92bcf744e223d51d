package sqlstore

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/store"
)

func TestRebind(t *testing.T) {
	query := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"

	assert.Equal(t, query, sqliteDialect.rebind(query))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", postgresDialect.rebind(query))
	assert.Equal(t, "SELECT 1", postgresDialect.rebind("SELECT 1"))
}

func TestBytewise(t *testing.T) {
	assert.Equal(t, "p.id", sqliteDialect.bytewise("p.id"))
	assert.Equal(t, `p.id COLLATE "C"`, postgresDialect.bytewise("p.id"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      store.ErrorCode
		retryable bool
	}{
		{"plain", errors.New("boom"), store.ErrCodeStorage, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, store.ErrCodeStorage, true},
		{"sqlite locked", fmt.Errorf("write: %w", sqlite3.Error{Code: sqlite3.ErrLocked}), store.ErrCodeStorage, true},
		{"sqlite cantopen", sqlite3.Error{Code: sqlite3.ErrCantOpen}, store.ErrCodeConnection, false},
		{"postgres connection", &pgconn.PgError{Code: "08006"}, store.ErrCodeConnection, false},
		{"postgres serialization", &pgconn.PgError{Code: "40001"}, store.ErrCodeStorage, true},
		{"postgres deadlock", &pgconn.PgError{Code: "40P01"}, store.ErrCodeStorage, true},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, store.ErrCodeStorage, false},
		{"bad conn", driver.ErrBadConn, store.ErrCodeConnection, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", "key", tt.err)
			var se *store.Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.retryable, se.Retryable)
			assert.Equal(t, "op", se.Op)
			assert.Equal(t, "key", se.Key)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_PassesThroughStoreErrors(t *testing.T) {
	orig := store.NewNotFound("get payment", "p1")
	assert.Same(t, orig, classify("other", "x", orig))
	assert.NoError(t, classify("op", "key", nil))
}
