package store

import (
	"context"

	"github.com/roach88/ledgersync/internal/model"
)

// PaymentStore persists the payment ledger and its annotations.
type PaymentStore interface {
	// UpsertPayment validates p and writes it with its details sub-record.
	// The same call serves inserts and later status updates.
	UpsertPayment(ctx context.Context, p model.Payment) error

	// GetPaymentByID returns a NotFound error when id is unknown.
	GetPaymentByID(ctx context.Context, id string) (model.Payment, error)

	// GetPaymentByInvoice returns nil without error when no Lightning
	// payment carries the invoice.
	GetPaymentByInvoice(ctx context.Context, invoice string) (*model.Payment, error)

	ListPayments(ctx context.Context, req model.ListPaymentsRequest) ([]model.Payment, error)

	// GetPaymentsByParentIDs groups child payments by parent id, each group
	// ordered by timestamp ascending. Parents without children are absent.
	GetPaymentsByParentIDs(ctx context.Context, parentIDs []string) (map[string][]model.Payment, error)

	// UpsertPaymentMetadata merges md field by field; nil fields keep the
	// stored value.
	UpsertPaymentMetadata(ctx context.Context, paymentID string, md model.PaymentMetadata) error

	// SetLnurlReceiveMetadata replaces each payment hash's row wholesale.
	SetLnurlReceiveMetadata(ctx context.Context, items []model.LnurlReceiveMetadata) error
}

// DepositStore tracks on-chain outputs awaiting claim.
type DepositStore interface {
	// AddDeposit inserts the deposit if absent.
	AddDeposit(ctx context.Context, txid string, vout uint32, amountSats uint64) error
	UpdateDeposit(ctx context.Context, txid string, vout uint32, update model.DepositUpdate) error
	DeleteDeposit(ctx context.Context, txid string, vout uint32) error
	ListDeposits(ctx context.Context) ([]model.DepositInfo, error)
}

// CacheStore is an opaque string key/value store.
type CacheStore interface {
	GetCachedItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetCachedItem(ctx context.Context, key, value string) error
	DeleteCachedItem(ctx context.Context, key string) error
}

// SyncStore holds the outbox, inbox, confirmed snapshots and revision cursor.
type SyncStore interface {
	// EnqueueOutgoingChange appends a local edit and returns its local revision.
	EnqueueOutgoingChange(ctx context.Context, change model.UnversionedRecordChange) (uint64, error)

	// ListPendingOutgoingChanges returns up to limit changes in ascending
	// local revision order, each with the record's confirmed state.
	ListPendingOutgoingChanges(ctx context.Context, limit uint32) ([]model.OutgoingChange, error)

	// CompleteOutgoingChange removes the acknowledged outbox row, stores the
	// confirmed snapshot and advances the cursor. When no row matches the
	// call is a no-op.
	CompleteOutgoingChange(ctx context.Context, record model.Record, localRevision uint64) error

	// PeekLatestOutgoingChange returns the most recently enqueued change, or nil.
	PeekLatestOutgoingChange(ctx context.Context) (*model.OutgoingChange, error)

	StageIncomingRecords(ctx context.Context, records []model.Record) error

	// ListIncomingRecords returns up to limit staged records in ascending
	// revision order, each with the record's current state.
	ListIncomingRecords(ctx context.Context, limit uint32) ([]model.IncomingChange, error)

	// ApplyIncomingRecord stores the snapshot and advances the cursor.
	ApplyIncomingRecord(ctx context.Context, record model.Record) error

	// DeleteIncomingRecord removes the staged row with record's exact revision.
	DeleteIncomingRecord(ctx context.Context, record model.Record) error

	GetLastRevision(ctx context.Context) (uint64, error)

	GetRecordSyncStatus(ctx context.Context, id model.RecordID) (model.RecordSyncStatus, error)
}

// Storage is the full surface a backend implements.
type Storage interface {
	PaymentStore
	DepositStore
	CacheStore
	SyncStore
	Close() error
}
