package model

import (
	"encoding/json"
	"fmt"
)

// ConversionStatus tracks a swap between bitcoin and a token.
type ConversionStatus string

const (
	ConversionPending      ConversionStatus = "pending"
	ConversionCompleted    ConversionStatus = "completed"
	ConversionRefundNeeded ConversionStatus = "refund_needed"
	ConversionRefunded     ConversionStatus = "refunded"
)

// Valid reports whether s is a known conversion status.
func (s ConversionStatus) Valid() bool {
	switch s {
	case ConversionPending, ConversionCompleted, ConversionRefundNeeded, ConversionRefunded:
		return true
	}
	return false
}

type ConversionInfo struct {
	PoolID       string           `json:"pool_id"`
	ConversionID string           `json:"conversion_id"`
	Status       ConversionStatus `json:"status"`
	Fee          *Amount          `json:"fee,omitempty"`
	Purpose      *string          `json:"purpose,omitempty"`
}

// LnurlPayInfo is the LNURL-pay context of an outgoing Lightning payment.
// Success actions are kept opaque.
type LnurlPayInfo struct {
	LnAddress              *string         `json:"ln_address,omitempty"`
	Comment                *string         `json:"comment,omitempty"`
	Domain                 *string         `json:"domain,omitempty"`
	Metadata               *string         `json:"metadata,omitempty"`
	ProcessedSuccessAction json.RawMessage `json:"processed_success_action,omitempty"`
	RawSuccessAction       json.RawMessage `json:"raw_success_action,omitempty"`
}

type LnurlWithdrawInfo struct {
	WithdrawURL string `json:"withdraw_url"`
}

// LnurlReceiveMetadata is keyed by Lightning payment hash and replaced wholesale.
type LnurlReceiveMetadata struct {
	PaymentHash     string  `json:"payment_hash"`
	NostrZapRequest *string `json:"nostr_zap_request,omitempty"`
	NostrZapReceipt *string `json:"nostr_zap_receipt,omitempty"`
	SenderComment   *string `json:"sender_comment,omitempty"`
}

// PaymentMetadata annotates a payment. Every field is optional and writes
// merge field by field: a nil field keeps the stored value.
type PaymentMetadata struct {
	ParentPaymentID   *string            `json:"parent_payment_id,omitempty"`
	LnurlPayInfo      *LnurlPayInfo      `json:"lnurl_pay_info,omitempty"`
	LnurlWithdrawInfo *LnurlWithdrawInfo `json:"lnurl_withdraw_info,omitempty"`
	LnurlDescription  *string            `json:"lnurl_description,omitempty"`
	ConversionInfo    *ConversionInfo    `json:"conversion_info,omitempty"`
}

// Validate checks the conversion fields when present.
func (m PaymentMetadata) Validate() error {
	if m.ParentPaymentID != nil && *m.ParentPaymentID == "" {
		return &ValidationError{Field: "parent_payment_id", Reason: "must not be empty"}
	}
	if c := m.ConversionInfo; c != nil {
		if !c.Status.Valid() {
			return &ValidationError{Field: "conversion_info.status", Reason: fmt.Sprintf("unknown value %q", c.Status)}
		}
		if c.Fee != nil {
			if err := c.Fee.Validate(); err != nil {
				return &ValidationError{Field: "conversion_info.fee", Reason: err.Error()}
			}
		}
	}
	return nil
}

// Merge overlays the non-nil fields of update on m.
func (m PaymentMetadata) Merge(update PaymentMetadata) PaymentMetadata {
	out := m
	if update.ParentPaymentID != nil {
		out.ParentPaymentID = update.ParentPaymentID
	}
	if update.LnurlPayInfo != nil {
		out.LnurlPayInfo = update.LnurlPayInfo
	}
	if update.LnurlWithdrawInfo != nil {
		out.LnurlWithdrawInfo = update.LnurlWithdrawInfo
	}
	if update.LnurlDescription != nil {
		out.LnurlDescription = update.LnurlDescription
	}
	if update.ConversionInfo != nil {
		out.ConversionInfo = update.ConversionInfo
	}
	return out
}

// AttachMetadata fills the metadata-derived fields of p's details.
// md and recv may be nil.
func AttachMetadata(p *Payment, md *PaymentMetadata, recv *LnurlReceiveMetadata) {
	switch {
	case p.Details.Lightning != nil:
		l := p.Details.Lightning
		if md != nil {
			if l.Description == nil {
				l.Description = md.LnurlDescription
			}
			l.LnurlPayInfo = md.LnurlPayInfo
			l.LnurlWithdrawInfo = md.LnurlWithdrawInfo
		}
		if recv != nil && (recv.NostrZapRequest != nil || recv.SenderComment != nil) {
			r := *recv
			l.LnurlReceiveMetadata = &r
		}
	case p.Details.Spark != nil:
		if md != nil {
			p.Details.Spark.ConversionInfo = md.ConversionInfo
		}
	case p.Details.Token != nil:
		if md != nil {
			p.Details.Token.ConversionInfo = md.ConversionInfo
		}
	}
}
