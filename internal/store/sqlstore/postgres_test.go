package sqlstore

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/store/storetest"
	"github.com/roach88/ledgersync/internal/testutil"
)

const postgresDSNEnv = "LEDGERSYNC_TEST_POSTGRES_DSN"

// openPostgres opens a store in a fresh schema and drops it afterwards.
// Tests are skipped unless a DSN is configured.
func openPostgres(t *testing.T, schema string) *Store {
	t.Helper()
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, PostgresConfig{DSN: dsn, Schema: schema, MaxOpenConns: 4}, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		s.Close()
	})
	return s
}

func testSchemaName() string {
	return "ledgersync_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func TestConformance_Postgres(t *testing.T) {
	if os.Getenv(postgresDSNEnv) == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}
	storetest.Run(t, func(t *testing.T) store.Storage {
		return openPostgres(t, testSchemaName())
	})
}

func TestPostgres_ConcurrentOpenersMigrateOnce(t *testing.T) {
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}
	schema := testSchemaName()
	first := openPostgres(t, schema)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := OpenPostgres(context.Background(), PostgresConfig{DSN: dsn, Schema: schema}, WithLogger(quietLogger()))
			if err == nil {
				s.Close()
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	v, err := first.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations(postgresDialect)), v)
}

func TestPostgres_OutboxCounterUnderConcurrency(t *testing.T) {
	s := openPostgres(t, testSchemaName())
	ctx := context.Background()

	const n = 20
	revs := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rev, err := s.EnqueueOutgoingChange(ctx, testutil.Change("contact", "c1", map[string]string{"n": "1"}))
			assert.NoError(t, err)
			revs <- rev
		}()
	}
	wg.Wait()
	close(revs)

	seen := map[uint64]bool{}
	for r := range revs {
		assert.False(t, seen[r], "revision %d handed out twice", r)
		seen[r] = true
	}
	assert.Len(t, seen, n)
}
