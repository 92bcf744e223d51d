package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

func depositLabel(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

// AddDeposit records an unclaimed output unless it is already known.
func (s *Store) AddDeposit(ctx context.Context, txid string, vout uint32, amountSats uint64) error {
	const op = "add deposit"
	label := depositLabel(txid, vout)
	if err := model.ValidateNewDeposit(txid, amountSats); err != nil {
		return store.NewValidation(op, label, err)
	}
	return s.update(ctx, op, label, func(tx *bolt.Tx) error {
		b, err := bucket(tx, depositsBucket)
		if err != nil {
			return err
		}
		key := depositKey(txid, vout)
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(model.DepositInfo{TxID: txid, Vout: vout, AmountSats: &amountSats})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// UpdateDeposit stores a claim error or a refund, clearing the other. A
// missing deposit is created without an amount.
func (s *Store) UpdateDeposit(ctx context.Context, txid string, vout uint32, update model.DepositUpdate) error {
	const op = "update deposit"
	label := depositLabel(txid, vout)
	if txid == "" {
		return store.NewValidation(op, label, &model.ValidationError{Field: "txid", Reason: "must not be empty"})
	}
	if err := update.Validate(); err != nil {
		return store.NewValidation(op, label, err)
	}

	return s.update(ctx, op, label, func(tx *bolt.Tx) error {
		b, err := bucket(tx, depositsBucket)
		if err != nil {
			return err
		}
		key := depositKey(txid, vout)
		d := model.DepositInfo{TxID: txid, Vout: vout}
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("decode deposit: %w", err)
			}
		}
		d.ClaimError, d.RefundTx, d.RefundTxID = nil, nil, nil
		if update.ClaimError != nil {
			d.ClaimError = update.ClaimError
		} else {
			d.RefundTx = &update.Refund.Tx
			d.RefundTxID = &update.Refund.TxID
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// DeleteDeposit removes a deposit. Deleting a missing deposit succeeds.
func (s *Store) DeleteDeposit(ctx context.Context, txid string, vout uint32) error {
	return s.update(ctx, "delete deposit", depositLabel(txid, vout), func(tx *bolt.Tx) error {
		b, err := bucket(tx, depositsBucket)
		if err != nil {
			return err
		}
		return b.Delete(depositKey(txid, vout))
	})
}

// ListDeposits returns every deposit ordered by txid and vout.
func (s *Store) ListDeposits(ctx context.Context) ([]model.DepositInfo, error) {
	deposits := []model.DepositInfo{}
	err := s.view(ctx, "list deposits", "", func(tx *bolt.Tx) error {
		return tx.Bucket(depositsBucket).ForEach(func(k, v []byte) error {
			var d model.DepositInfo
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("decode deposit %q: %w", k, err)
			}
			deposits = append(deposits, d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return deposits, nil
}
