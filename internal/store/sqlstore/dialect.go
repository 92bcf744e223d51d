package sqlstore

import (
	"database/sql/driver"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/ledgersync/internal/store"
)

// dialect captures the few places where SQLite and Postgres SQL differ.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name      string
	numbered  bool   // $1, $2, ... placeholders
	greatest  string // scalar max of two values
	collation string // appended to text sort keys for byte order
}

var (
	sqliteDialect   = dialect{name: "sqlite", greatest: "MAX"}
	postgresDialect = dialect{name: "postgres", numbered: true, greatest: "GREATEST", collation: ` COLLATE "C"`}
)

// bytewise orders a text column by bytes, the order the keyed backend uses.
func (d dialect) bytewise(col string) string {
	return col + d.collation
}

// rebind rewrites ? placeholders for the dialect. Queries never contain a
// literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// classify wraps a driver error as a *store.Error, marking connection and
// transient failures.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *store.Error
	if errors.As(err, &se) {
		return err
	}

	e := &store.Error{Code: store.ErrCodeStorage, Op: op, Key: key, Err: err}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			e.Retryable = true
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			e.Code = store.ErrCodeConnection
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			e.Code = store.ErrCodeConnection
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			e.Retryable = true
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		e.Code = store.ErrCodeConnection
	}
	if pgconn.SafeToRetry(err) {
		e.Retryable = true
	}
	return e
}
