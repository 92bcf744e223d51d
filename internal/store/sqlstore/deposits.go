package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

func depositKey(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

// AddDeposit records an unclaimed output. An existing row is left as is.
func (s *Store) AddDeposit(ctx context.Context, txid string, vout uint32, amountSats uint64) error {
	const op = "add deposit"
	key := depositKey(txid, vout)
	if err := model.ValidateNewDeposit(txid, amountSats); err != nil {
		return store.NewValidation(op, key, err)
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO unclaimed_deposits (txid, vout, amount_sats)
		VALUES (?, ?, ?)
		ON CONFLICT(txid, vout) DO NOTHING
	`), txid, int64(vout), int64(amountSats))
	if err != nil {
		return classify(op, key, fmt.Errorf("insert deposit: %w", err))
	}
	return nil
}

// UpdateDeposit stores the outcome of a claim or refund attempt. The two
// outcomes replace each other. A missing row is created without an amount.
func (s *Store) UpdateDeposit(ctx context.Context, txid string, vout uint32, update model.DepositUpdate) error {
	const op = "update deposit"
	key := depositKey(txid, vout)
	if txid == "" {
		return store.NewValidation(op, key, &model.ValidationError{Field: "txid", Reason: "must not be empty"})
	}
	if err := update.Validate(); err != nil {
		return store.NewValidation(op, key, err)
	}

	claimJSON, err := marshalOptional(update.ClaimError)
	if err != nil {
		return store.NewValidation(op, key, err)
	}
	var refundTx, refundTxID sql.NullString
	if update.Refund != nil {
		refundTx = nullIfEmpty(update.Refund.Tx)
		refundTxID = nullIfEmpty(update.Refund.TxID)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO unclaimed_deposits (txid, vout, amount_sats, claim_error, refund_tx, refund_tx_id)
		VALUES (?, ?, NULL, ?, ?, ?)
		ON CONFLICT(txid, vout) DO UPDATE SET
			claim_error = excluded.claim_error,
			refund_tx = excluded.refund_tx,
			refund_tx_id = excluded.refund_tx_id
	`), txid, int64(vout), claimJSON, refundTx, refundTxID)
	if err != nil {
		return classify(op, key, fmt.Errorf("update deposit: %w", err))
	}
	return nil
}

// DeleteDeposit removes a deposit. Deleting a missing deposit succeeds.
func (s *Store) DeleteDeposit(ctx context.Context, txid string, vout uint32) error {
	const op = "delete deposit"
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM unclaimed_deposits WHERE txid = ? AND vout = ?`), txid, int64(vout))
	if err != nil {
		return classify(op, depositKey(txid, vout), fmt.Errorf("delete deposit: %w", err))
	}
	return nil
}

// ListDeposits returns every unclaimed deposit ordered by txid and vout.
func (s *Store) ListDeposits(ctx context.Context) ([]model.DepositInfo, error) {
	const op = "list deposits"
	rows, err := s.db.QueryContext(ctx, `
		SELECT txid, vout, amount_sats, claim_error, refund_tx, refund_tx_id
		FROM unclaimed_deposits
		ORDER BY `+s.d.bytewise("txid")+` ASC, vout ASC
	`)
	if err != nil {
		return nil, classify(op, "", fmt.Errorf("query deposits: %w", err))
	}
	defer rows.Close()

	deposits := []model.DepositInfo{}
	for rows.Next() {
		var (
			d                  model.DepositInfo
			vout               int64
			amount             sql.NullInt64
			claim, tx, txIDCol sql.NullString
		)
		if err := rows.Scan(&d.TxID, &vout, &amount, &claim, &tx, &txIDCol); err != nil {
			return nil, classify(op, "", fmt.Errorf("scan deposit: %w", err))
		}
		d.Vout = uint32(vout)
		if amount.Valid {
			v := uint64(amount.Int64)
			d.AmountSats = &v
		}
		d.ClaimError, err = unmarshalOptional[model.DepositClaimError](claim)
		if err != nil {
			return nil, classify(op, depositKey(d.TxID, d.Vout), err)
		}
		d.RefundTx = stringPtr(tx)
		d.RefundTxID = stringPtr(txIDCol)
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, "", fmt.Errorf("iterate deposits: %w", err))
	}
	return deposits, nil
}
