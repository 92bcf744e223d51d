package metrics

import (
	"context"
	"time"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// Instrument wraps s so every call is counted and timed. Close is passed
// through unobserved.
func Instrument(s store.Storage, c *Collectors) store.Storage {
	return &instrumented{next: s, c: c}
}

type instrumented struct {
	next store.Storage
	c    *Collectors
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.c.StoreOperations.WithLabelValues(op, resultCode(err)).Inc()
	i.c.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) UpsertPayment(ctx context.Context, p model.Payment) error {
	start := time.Now()
	err := i.next.UpsertPayment(ctx, p)
	i.observe("upsert_payment", start, err)
	return err
}

func (i *instrumented) GetPaymentByID(ctx context.Context, id string) (model.Payment, error) {
	start := time.Now()
	p, err := i.next.GetPaymentByID(ctx, id)
	i.observe("get_payment_by_id", start, err)
	return p, err
}

func (i *instrumented) GetPaymentByInvoice(ctx context.Context, invoice string) (*model.Payment, error) {
	start := time.Now()
	p, err := i.next.GetPaymentByInvoice(ctx, invoice)
	i.observe("get_payment_by_invoice", start, err)
	return p, err
}

func (i *instrumented) ListPayments(ctx context.Context, req model.ListPaymentsRequest) ([]model.Payment, error) {
	start := time.Now()
	ps, err := i.next.ListPayments(ctx, req)
	i.observe("list_payments", start, err)
	return ps, err
}

func (i *instrumented) GetPaymentsByParentIDs(ctx context.Context, parentIDs []string) (map[string][]model.Payment, error) {
	start := time.Now()
	m, err := i.next.GetPaymentsByParentIDs(ctx, parentIDs)
	i.observe("get_payments_by_parent_ids", start, err)
	return m, err
}

func (i *instrumented) UpsertPaymentMetadata(ctx context.Context, paymentID string, md model.PaymentMetadata) error {
	start := time.Now()
	err := i.next.UpsertPaymentMetadata(ctx, paymentID, md)
	i.observe("upsert_payment_metadata", start, err)
	return err
}

func (i *instrumented) SetLnurlReceiveMetadata(ctx context.Context, items []model.LnurlReceiveMetadata) error {
	start := time.Now()
	err := i.next.SetLnurlReceiveMetadata(ctx, items)
	i.observe("set_lnurl_receive_metadata", start, err)
	return err
}

func (i *instrumented) AddDeposit(ctx context.Context, txid string, vout uint32, amountSats uint64) error {
	start := time.Now()
	err := i.next.AddDeposit(ctx, txid, vout, amountSats)
	i.observe("add_deposit", start, err)
	return err
}

func (i *instrumented) UpdateDeposit(ctx context.Context, txid string, vout uint32, update model.DepositUpdate) error {
	start := time.Now()
	err := i.next.UpdateDeposit(ctx, txid, vout, update)
	i.observe("update_deposit", start, err)
	return err
}

func (i *instrumented) DeleteDeposit(ctx context.Context, txid string, vout uint32) error {
	start := time.Now()
	err := i.next.DeleteDeposit(ctx, txid, vout)
	i.observe("delete_deposit", start, err)
	return err
}

func (i *instrumented) ListDeposits(ctx context.Context) ([]model.DepositInfo, error) {
	start := time.Now()
	ds, err := i.next.ListDeposits(ctx)
	i.observe("list_deposits", start, err)
	return ds, err
}

func (i *instrumented) GetCachedItem(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	v, ok, err := i.next.GetCachedItem(ctx, key)
	i.observe("get_cached_item", start, err)
	return v, ok, err
}

func (i *instrumented) SetCachedItem(ctx context.Context, key, value string) error {
	start := time.Now()
	err := i.next.SetCachedItem(ctx, key, value)
	i.observe("set_cached_item", start, err)
	return err
}

func (i *instrumented) DeleteCachedItem(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.DeleteCachedItem(ctx, key)
	i.observe("delete_cached_item", start, err)
	return err
}

func (i *instrumented) EnqueueOutgoingChange(ctx context.Context, change model.UnversionedRecordChange) (uint64, error) {
	start := time.Now()
	rev, err := i.next.EnqueueOutgoingChange(ctx, change)
	i.observe("enqueue_outgoing_change", start, err)
	return rev, err
}

func (i *instrumented) ListPendingOutgoingChanges(ctx context.Context, limit uint32) ([]model.OutgoingChange, error) {
	start := time.Now()
	cs, err := i.next.ListPendingOutgoingChanges(ctx, limit)
	i.observe("list_pending_outgoing_changes", start, err)
	return cs, err
}

func (i *instrumented) CompleteOutgoingChange(ctx context.Context, record model.Record, localRevision uint64) error {
	start := time.Now()
	err := i.next.CompleteOutgoingChange(ctx, record, localRevision)
	i.observe("complete_outgoing_change", start, err)
	return err
}

func (i *instrumented) PeekLatestOutgoingChange(ctx context.Context) (*model.OutgoingChange, error) {
	start := time.Now()
	c, err := i.next.PeekLatestOutgoingChange(ctx)
	i.observe("peek_latest_outgoing_change", start, err)
	return c, err
}

func (i *instrumented) StageIncomingRecords(ctx context.Context, records []model.Record) error {
	start := time.Now()
	err := i.next.StageIncomingRecords(ctx, records)
	i.observe("stage_incoming_records", start, err)
	return err
}

func (i *instrumented) ListIncomingRecords(ctx context.Context, limit uint32) ([]model.IncomingChange, error) {
	start := time.Now()
	cs, err := i.next.ListIncomingRecords(ctx, limit)
	i.observe("list_incoming_records", start, err)
	return cs, err
}

func (i *instrumented) ApplyIncomingRecord(ctx context.Context, record model.Record) error {
	start := time.Now()
	err := i.next.ApplyIncomingRecord(ctx, record)
	i.observe("apply_incoming_record", start, err)
	return err
}

func (i *instrumented) DeleteIncomingRecord(ctx context.Context, record model.Record) error {
	start := time.Now()
	err := i.next.DeleteIncomingRecord(ctx, record)
	i.observe("delete_incoming_record", start, err)
	return err
}

func (i *instrumented) GetLastRevision(ctx context.Context) (uint64, error) {
	start := time.Now()
	rev, err := i.next.GetLastRevision(ctx)
	i.observe("get_last_revision", start, err)
	return rev, err
}

func (i *instrumented) GetRecordSyncStatus(ctx context.Context, id model.RecordID) (model.RecordSyncStatus, error) {
	start := time.Now()
	st, err := i.next.GetRecordSyncStatus(ctx, id)
	i.observe("get_record_sync_status", start, err)
	return st, err
}

func (i *instrumented) Close() error {
	return i.next.Close()
}
