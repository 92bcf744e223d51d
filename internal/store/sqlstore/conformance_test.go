package sqlstore

import (
	"testing"

	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/store/storetest"
)

func TestConformance_SQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Storage {
		return createTestStore(t)
	})
}
