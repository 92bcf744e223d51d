// Package storetest is a conformance suite for store.Storage backends.
//
// Every backend runs the same cases so behavior stays identical whichever
// engine a wallet is built on:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Storage {
//	        return openTestStore(t)
//	    })
//	}
//
// The factory must return an empty, migrated store and arrange for it to be
// closed when the test ends.
package storetest

import (
	"testing"

	"github.com/roach88/ledgersync/internal/store"
)

// Factory opens a fresh store for one test case.
type Factory func(t *testing.T) store.Storage

// Run executes the whole suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("Payments", func(t *testing.T) { runPayments(t, open) })
	t.Run("ListPayments", func(t *testing.T) { runListPayments(t, open) })
	t.Run("Metadata", func(t *testing.T) { runMetadata(t, open) })
	t.Run("Deposits", func(t *testing.T) { runDeposits(t, open) })
	t.Run("Cache", func(t *testing.T) { runCache(t, open) })
	t.Run("Sync", func(t *testing.T) { runSync(t, open) })
}
