package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
)

// paymentDoc is the stored form of a payment. Metadata-derived detail
// fields are never stored here.
type paymentDoc struct {
	DetailsType model.DetailsKind `json:"details_type"`
	Payment     model.Payment     `json:"payment"`
}

// keepLateFields carries over detail fields that arrive after the first
// write when next leaves them unset and the variant is unchanged.
func keepLateFields(prev, next *model.Payment) {
	switch next.Details.Kind() {
	case model.DetailsLightning:
		if prev.Details.Lightning == nil {
			return
		}
		l := *next.Details.Lightning
		if l.Preimage == nil {
			l.Preimage = prev.Details.Lightning.Preimage
		}
		next.Details.Lightning = &l
	case model.DetailsSpark:
		if prev.Details.Spark == nil {
			return
		}
		sp := *next.Details.Spark
		if sp.InvoiceDetails == nil {
			sp.InvoiceDetails = prev.Details.Spark.InvoiceDetails
		}
		if sp.HTLCDetails == nil {
			sp.HTLCDetails = prev.Details.Spark.HTLCDetails
		}
		next.Details.Spark = &sp
	case model.DetailsToken:
		if prev.Details.Token == nil {
			return
		}
		tk := *next.Details.Token
		if tk.InvoiceDetails == nil {
			tk.InvoiceDetails = prev.Details.Token.InvoiceDetails
		}
		next.Details.Token = &tk
	}
}

// UpsertPayment replaces the stored payment. Late-arriving detail fields
// (preimage, HTLC and invoice details) survive updates that omit them.
func (s *Store) UpsertPayment(ctx context.Context, p model.Payment) error {
	const op = "upsert payment"
	if err := p.Validate(); err != nil {
		return store.NewValidation(op, p.ID, err)
	}
	next := p.WithoutDerived()

	return s.update(ctx, op, p.ID, func(tx *bolt.Tx) error {
		b, err := bucket(tx, paymentsBucket)
		if err != nil {
			return err
		}
		if raw := b.Get([]byte(p.ID)); raw != nil {
			var prev paymentDoc
			if err := json.Unmarshal(raw, &prev); err != nil {
				return fmt.Errorf("decode stored payment: %w", err)
			}
			keepLateFields(&prev.Payment, &next)
		}
		data, err := json.Marshal(paymentDoc{DetailsType: next.Details.Kind(), Payment: next})
		if err != nil {
			return fmt.Errorf("encode payment: %w", err)
		}
		return b.Put([]byte(p.ID), data)
	})
}

// GetPaymentByID returns the payment with metadata attached.
func (s *Store) GetPaymentByID(ctx context.Context, id string) (model.Payment, error) {
	const op = "get payment"
	var (
		p     model.Payment
		found bool
	)
	err := s.view(ctx, op, id, func(tx *bolt.Tx) error {
		raw := tx.Bucket(paymentsBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var err error
		p, _, err = assemble(tx, raw)
		found = err == nil
		return err
	})
	if err != nil {
		return model.Payment{}, err
	}
	if !found {
		return model.Payment{}, store.NewNotFound(op, id)
	}
	return p, nil
}

// GetPaymentByInvoice returns the newest Lightning payment with the
// invoice, or nil.
func (s *Store) GetPaymentByInvoice(ctx context.Context, invoice string) (*model.Payment, error) {
	var match *model.Payment
	err := s.scanPayments(ctx, "get payment by invoice", func(p model.Payment, _ *string) {
		l := p.Details.Lightning
		if l == nil || l.Invoice != invoice {
			return
		}
		if match == nil || later(p, *match) {
			cp := p
			match = &cp
		}
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

func later(a, b model.Payment) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ID > b.ID
}

// ListPayments evaluates req against every top-level payment.
func (s *Store) ListPayments(ctx context.Context, req model.ListPaymentsRequest) ([]model.Payment, error) {
	const op = "list payments"
	if err := req.Validate(); err != nil {
		return nil, store.NewValidation(op, "", err)
	}

	var matched []model.Payment
	err := s.scanPayments(ctx, op, func(p model.Payment, parentID *string) {
		if req.Matches(p, parentID) {
			matched = append(matched, p)
		}
	})
	if err != nil {
		return nil, err
	}
	model.SortPayments(matched, req.SortAscending)
	return model.Page(matched, req.OffsetOrZero(), req.LimitOrMax()), nil
}

// GetPaymentsByParentIDs groups children under their parents, oldest first.
func (s *Store) GetPaymentsByParentIDs(ctx context.Context, parentIDs []string) (map[string][]model.Payment, error) {
	const op = "get payments by parent ids"
	result := map[string][]model.Payment{}
	if len(parentIDs) == 0 {
		return result, nil
	}
	wanted := make(map[string]bool, len(parentIDs))
	for _, id := range parentIDs {
		wanted[id] = true
	}

	err := s.view(ctx, op, "", func(tx *bolt.Tx) error {
		payments := tx.Bucket(paymentsBucket)
		return tx.Bucket(metadataBucket).ForEach(func(k, v []byte) error {
			var md model.PaymentMetadata
			if err := json.Unmarshal(v, &md); err != nil {
				return fmt.Errorf("decode metadata %s: %w", k, err)
			}
			if md.ParentPaymentID == nil || !wanted[*md.ParentPaymentID] {
				return nil
			}
			raw := payments.Get(k)
			if raw == nil {
				return nil
			}
			p, _, err := assemble(tx, raw)
			if err != nil {
				return err
			}
			result[*md.ParentPaymentID] = append(result[*md.ParentPaymentID], p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for parent := range result {
		model.SortPayments(result[parent], true)
	}
	return result, nil
}

// UpsertPaymentMetadata merges md into the stored metadata.
func (s *Store) UpsertPaymentMetadata(ctx context.Context, paymentID string, md model.PaymentMetadata) error {
	const op = "upsert payment metadata"
	if paymentID == "" {
		return store.NewValidation(op, paymentID, &model.ValidationError{Field: "payment_id", Reason: "must not be empty"})
	}
	if err := md.Validate(); err != nil {
		return store.NewValidation(op, paymentID, err)
	}

	return s.update(ctx, op, paymentID, func(tx *bolt.Tx) error {
		b, err := bucket(tx, metadataBucket)
		if err != nil {
			return err
		}
		var stored model.PaymentMetadata
		if raw := b.Get([]byte(paymentID)); raw != nil {
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("decode stored metadata: %w", err)
			}
		}
		data, err := json.Marshal(stored.Merge(md))
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		return b.Put([]byte(paymentID), data)
	})
}

// SetLnurlReceiveMetadata replaces the entry for each payment hash.
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
	return s.update(ctx, op, items[0].PaymentHash, func(tx *bolt.Tx) error {
		b, err := bucket(tx, lnurlReceiveBucket)
		if err != nil {
			return err
		}
		for _, item := range items {
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("encode %s: %w", item.PaymentHash, err)
			}
			if err := b.Put([]byte(item.PaymentHash), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// scanPayments calls fn with every assembled payment and its parent link.
func (s *Store) scanPayments(ctx context.Context, op string, fn func(p model.Payment, parentID *string)) error {
	return s.view(ctx, op, "", func(tx *bolt.Tx) error {
		return tx.Bucket(paymentsBucket).ForEach(func(_, v []byte) error {
			p, parentID, err := assemble(tx, v)
			if err != nil {
				return err
			}
			fn(p, parentID)
			return nil
		})
	})
}

// assemble decodes a stored payment and attaches its metadata. It also
// returns the parent link, if any.
func assemble(tx *bolt.Tx, raw []byte) (model.Payment, *string, error) {
	var doc paymentDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return model.Payment{}, nil, fmt.Errorf("decode payment: %w", err)
	}
	p := doc.Payment

	var md *model.PaymentMetadata
	if v := tx.Bucket(metadataBucket).Get([]byte(p.ID)); v != nil {
		md = &model.PaymentMetadata{}
		if err := json.Unmarshal(v, md); err != nil {
			return model.Payment{}, nil, fmt.Errorf("decode metadata %s: %w", p.ID, err)
		}
	}

	var recv *model.LnurlReceiveMetadata
	if l := p.Details.Lightning; l != nil {
		if v := tx.Bucket(lnurlReceiveBucket).Get([]byte(l.PaymentHash)); v != nil {
			recv = &model.LnurlReceiveMetadata{}
			if err := json.Unmarshal(v, recv); err != nil {
				return model.Payment{}, nil, fmt.Errorf("decode lnurl receive metadata %s: %w", p.ID, err)
			}
		}
	}

	model.AttachMetadata(&p, md, recv)
	var parentID *string
	if md != nil {
		parentID = md.ParentPaymentID
	}
	return p, parentID, nil
}
