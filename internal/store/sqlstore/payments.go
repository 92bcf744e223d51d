package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// detailTables maps each variant with a side table to that table.
var detailTables = map[model.DetailsKind]string{
	model.DetailsLightning: "payment_details_lightning",
	model.DetailsSpark:     "payment_details_spark",
	model.DetailsToken:     "payment_details_token",
}

// UpsertPayment writes the base row, the discriminator and the details
// sub-record in one transaction. Side rows of other variants are removed
// so exactly one variant is ever stored.
//
// Optional detail fields that arrive later (preimage, HTLC and invoice
// details) keep their stored value when the update omits them.
func (s *Store) UpsertPayment(ctx context.Context, p model.Payment) error {
	const op = "upsert payment"
	if err := p.Validate(); err != nil {
		return store.NewValidation(op, p.ID, err)
	}
	kind := p.Details.Kind()

	var withdrawTxID, depositTxID sql.NullString
	if p.Details.Withdraw != nil {
		withdrawTxID = nullIfEmpty(p.Details.Withdraw.TxID)
	}
	if p.Details.Deposit != nil {
		depositTxID = nullIfEmpty(p.Details.Deposit.TxID)
	}

	return s.withTx(ctx, op, p.ID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO payments
			(id, payment_type, status, amount, fees, timestamp, method, withdraw_tx_id, deposit_tx_id, spark, details_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				payment_type = excluded.payment_type,
				status = excluded.status,
				amount = excluded.amount,
				fees = excluded.fees,
				timestamp = excluded.timestamp,
				method = excluded.method,
				withdraw_tx_id = excluded.withdraw_tx_id,
				deposit_tx_id = excluded.deposit_tx_id,
				spark = excluded.spark,
				details_type = excluded.details_type
		`),
			p.ID,
			string(p.PaymentType),
			string(p.Status),
			string(p.Amount),
			string(p.Fees),
			int64(p.Timestamp),
			nullIfEmpty(string(p.Method)),
			withdrawTxID,
			depositTxID,
			kind == model.DetailsSpark,
			string(kind),
		)
		if err != nil {
			return fmt.Errorf("write payment: %w", err)
		}

		for k, table := range detailTables {
			if k == kind {
				continue
			}
			if _, err := tx.ExecContext(ctx, s.q(fmt.Sprintf(`DELETE FROM %s WHERE payment_id = ?`, table)), p.ID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		switch kind {
		case model.DetailsLightning:
			return s.writeLightningDetails(ctx, tx, p.ID, p.Details.Lightning)
		case model.DetailsSpark:
			return s.writeSparkDetails(ctx, tx, p.ID, p.Details.Spark)
		case model.DetailsToken:
			return s.writeTokenDetails(ctx, tx, p.ID, p.Details.Token)
		}
		return nil
	})
}

func (s *Store) writeLightningDetails(ctx context.Context, tx *sql.Tx, id string, l *model.LightningDetails) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO payment_details_lightning
		(payment_id, invoice, payment_hash, destination_pubkey, description, preimage)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_id) DO UPDATE SET
			invoice = excluded.invoice,
			payment_hash = excluded.payment_hash,
			destination_pubkey = excluded.destination_pubkey,
			description = excluded.description,
			preimage = COALESCE(excluded.preimage, payment_details_lightning.preimage)
	`),
		id,
		l.Invoice,
		l.PaymentHash,
		l.DestinationPubkey,
		nullString(l.Description),
		nullString(l.Preimage),
	)
	if err != nil {
		return fmt.Errorf("write lightning details: %w", err)
	}
	return nil
}

func (s *Store) writeSparkDetails(ctx context.Context, tx *sql.Tx, id string, d *model.SparkDetails) error {
	invoiceJSON, err := marshalOptional(d.InvoiceDetails)
	if err != nil {
		return err
	}
	htlcJSON, err := marshalOptional(d.HTLCDetails)
	if err != nil {
		return err
	}
	var htlcStatus sql.NullString
	if d.HTLCDetails != nil {
		htlcStatus = nullIfEmpty(string(d.HTLCDetails.Status))
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO payment_details_spark
		(payment_id, invoice_details, htlc_details, htlc_status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(payment_id) DO UPDATE SET
			invoice_details = COALESCE(excluded.invoice_details, payment_details_spark.invoice_details),
			htlc_details = COALESCE(excluded.htlc_details, payment_details_spark.htlc_details),
			htlc_status = COALESCE(excluded.htlc_status, payment_details_spark.htlc_status)
	`), id, invoiceJSON, htlcJSON, htlcStatus)
	if err != nil {
		return fmt.Errorf("write spark details: %w", err)
	}
	return nil
}

func (s *Store) writeTokenDetails(ctx context.Context, tx *sql.Tx, id string, d *model.TokenDetails) error {
	metadataJSON, err := marshalOptional(&d.Metadata)
	if err != nil {
		return err
	}
	invoiceJSON, err := marshalOptional(d.InvoiceDetails)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO payment_details_token
		(payment_id, metadata, tx_hash, tx_type, invoice_details, token_identifier)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(payment_id) DO UPDATE SET
			metadata = excluded.metadata,
			tx_hash = excluded.tx_hash,
			tx_type = excluded.tx_type,
			invoice_details = COALESCE(excluded.invoice_details, payment_details_token.invoice_details),
			token_identifier = excluded.token_identifier
	`), id, metadataJSON, d.TxHash, string(d.TxType), invoiceJSON, d.Metadata.Identifier)
	if err != nil {
		return fmt.Errorf("write token details: %w", err)
	}
	return nil
}

// GetPaymentByID returns the payment with all side tables joined.
func (s *Store) GetPaymentByID(ctx context.Context, id string) (model.Payment, error) {
	const op = "get payment"
	row := s.db.QueryRowContext(ctx, s.q(selectPaymentSQL+` WHERE p.id = ?`), id)
	p, _, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, store.NewNotFound(op, id)
	}
	if err != nil {
		return model.Payment{}, classify(op, id, err)
	}
	return p, nil
}

// GetPaymentByInvoice returns nil when no Lightning payment has the invoice.
func (s *Store) GetPaymentByInvoice(ctx context.Context, invoice string) (*model.Payment, error) {
	const op = "get payment by invoice"
	row := s.db.QueryRowContext(ctx, s.q(selectPaymentSQL+` WHERE l.invoice = ? ORDER BY p.timestamp DESC, `+s.d.bytewise("p.id")+` DESC LIMIT 1`), invoice)
	p, _, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, invoice, err)
	}
	return &p, nil
}

// ListPayments returns top-level payments matching req.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListPayments(ctx context.Context, req model.ListPaymentsRequest) ([]model.Payment, error) {
	const op = "list payments"
	if err := req.Validate(); err != nil {
		return nil, store.NewValidation(op, "", err)
	}

	query, args := compileListPayments(s.d, req)
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, classify(op, "", fmt.Errorf("query payments: %w", err))
	}
	defer rows.Close()

	payments := []model.Payment{}
	for rows.Next() {
		p, _, err := scanPayment(rows)
		if err != nil {
			return nil, classify(op, "", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, "", fmt.Errorf("iterate payments: %w", err))
	}
	return payments, nil
}

// GetPaymentsByParentIDs checks for any child link first; most wallets
// have none and skip the join entirely.
func (s *Store) GetPaymentsByParentIDs(ctx context.Context, parentIDs []string) (map[string][]model.Payment, error) {
	const op = "get payments by parent ids"
	result := map[string][]model.Payment{}
	if len(parentIDs) == 0 {
		return result, nil
	}

	var hasChildren bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_metadata WHERE parent_payment_id IS NOT NULL)`,
	).Scan(&hasChildren)
	if err != nil {
		return nil, classify(op, "", fmt.Errorf("check children: %w", err))
	}
	if !hasChildren {
		return result, nil
	}

	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		args[i] = id
	}
	query := fmt.Sprintf("%s WHERE pm.parent_payment_id IN (%s) ORDER BY p.timestamp ASC, %s ASC",
		selectPaymentSQL, placeholders(len(parentIDs)), s.d.bytewise("p.id"))

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, classify(op, "", fmt.Errorf("query children: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		p, parentID, err := scanPayment(rows)
		if err != nil {
			return nil, classify(op, "", err)
		}
		if parentID == nil {
			continue
		}
		result[*parentID] = append(result[*parentID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, "", fmt.Errorf("iterate children: %w", err))
	}
	return result, nil
}

// UpsertPaymentMetadata merges md into the stored row field by field.
func (s *Store) UpsertPaymentMetadata(ctx context.Context, paymentID string, md model.PaymentMetadata) error {
	const op = "upsert payment metadata"
	if paymentID == "" {
		return store.NewValidation(op, paymentID, &model.ValidationError{Field: "payment_id", Reason: "must not be empty"})
	}
	if err := md.Validate(); err != nil {
		return store.NewValidation(op, paymentID, err)
	}

	payInfo, err := marshalOptional(md.LnurlPayInfo)
	if err != nil {
		return store.NewValidation(op, paymentID, err)
	}
	withdrawInfo, err := marshalOptional(md.LnurlWithdrawInfo)
	if err != nil {
		return store.NewValidation(op, paymentID, err)
	}
	conversion, err := marshalOptional(md.ConversionInfo)
	if err != nil {
		return store.NewValidation(op, paymentID, err)
	}
	var conversionStatus sql.NullString
	if md.ConversionInfo != nil {
		conversionStatus = nullIfEmpty(string(md.ConversionInfo.Status))
	}

	return s.withTx(ctx, op, paymentID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO payment_metadata
			(payment_id, parent_payment_id, lnurl_pay_info, lnurl_withdraw_info, lnurl_description, conversion_info, conversion_status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(payment_id) DO UPDATE SET
				parent_payment_id = COALESCE(excluded.parent_payment_id, payment_metadata.parent_payment_id),
				lnurl_pay_info = COALESCE(excluded.lnurl_pay_info, payment_metadata.lnurl_pay_info),
				lnurl_withdraw_info = COALESCE(excluded.lnurl_withdraw_info, payment_metadata.lnurl_withdraw_info),
				lnurl_description = COALESCE(excluded.lnurl_description, payment_metadata.lnurl_description),
				conversion_info = COALESCE(excluded.conversion_info, payment_metadata.conversion_info),
				conversion_status = COALESCE(excluded.conversion_status, payment_metadata.conversion_status)
		`),
			paymentID,
			nullString(md.ParentPaymentID),
			payInfo,
			withdrawInfo,
			nullString(md.LnurlDescription),
			conversion,
			conversionStatus,
		)
		if err != nil {
			return fmt.Errorf("write payment metadata: %w", err)
		}
		return nil
	})
}

// SetLnurlReceiveMetadata replaces the row for each payment hash.
func (s *Store) SetLnurlReceiveMetadata(ctx context.Context, items []model.LnurlReceiveMetadata) error {
	const op = "set lnurl receive metadata"
	for _, item := range items {
		if item.PaymentHash == "" {
			return store.NewValidation(op, "", &model.ValidationError{Field: "payment_hash", Reason: "must not be empty"})
		}
	}
	if len(items) == 0 {
		return nil
	}

	return s.withTx(ctx, op, items[0].PaymentHash, func(tx *sql.Tx) error {
		for _, item := range items {
			_, err := tx.ExecContext(ctx, s.q(`
				INSERT INTO lnurl_receive_metadata
				(payment_hash, nostr_zap_request, nostr_zap_receipt, sender_comment)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(payment_hash) DO UPDATE SET
					nostr_zap_request = excluded.nostr_zap_request,
					nostr_zap_receipt = excluded.nostr_zap_receipt,
					sender_comment = excluded.sender_comment
			`),
				item.PaymentHash,
				nullString(item.NostrZapRequest),
				nullString(item.NostrZapReceipt),
				nullString(item.SenderComment),
			)
			if err != nil {
				return fmt.Errorf("write %s: %w", item.PaymentHash, err)
			}
		}
		return nil
	})
}
