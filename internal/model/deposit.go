package model

import (
	"fmt"
	"math"
)

// DepositInfo is an on-chain output awaiting claim, keyed by (TxID, Vout).
// At most one of ClaimError or the refund pair is set.
type DepositInfo struct {
	TxID       string             `json:"txid"`
	Vout       uint32             `json:"vout"`
	AmountSats *uint64            `json:"amount_sats,omitempty"`
	ClaimError *DepositClaimError `json:"claim_error,omitempty"`
	RefundTx   *string            `json:"refund_tx,omitempty"`
	RefundTxID *string            `json:"refund_tx_id,omitempty"`
}

// ValidateNewDeposit checks the arguments of AddDeposit. Amounts are stored
// in signed 64-bit columns.
func ValidateNewDeposit(txid string, amountSats uint64) error {
	if txid == "" {
		return &ValidationError{Field: "txid", Reason: "must not be empty"}
	}
	if amountSats > math.MaxInt64 {
		return &ValidationError{Field: "amount_sats", Reason: "exceeds int64 range"}
	}
	return nil
}

// Fee is either a fixed amount or a rate; exactly one is set.
type Fee struct {
	FixedSats       *uint64 `json:"fixed_sats,omitempty"`
	RateSatPerVbyte *uint64 `json:"rate_sat_per_vbyte,omitempty"`
}

type MaxFeeExceededError struct {
	Tx                         string `json:"tx"`
	Vout                       uint32 `json:"vout"`
	MaxFee                     *Fee   `json:"max_fee,omitempty"`
	RequiredFeeSats            uint64 `json:"required_fee_sats"`
	RequiredFeeRateSatPerVbyte uint64 `json:"required_fee_rate_sat_per_vbyte"`
}

type MissingUTXOError struct {
	Tx   string `json:"tx"`
	Vout uint32 `json:"vout"`
}

type GenericClaimError struct {
	Message string `json:"message"`
}

// DepositClaimError records why the last claim attempt failed.
// Exactly one field is set.
type DepositClaimError struct {
	MaxFeeExceeded *MaxFeeExceededError `json:"max_deposit_claim_fee_exceeded,omitempty"`
	MissingUTXO    *MissingUTXOError    `json:"missing_utxo,omitempty"`
	Generic        *GenericClaimError   `json:"generic,omitempty"`
}

// Validate checks that exactly one variant is set.
func (e DepositClaimError) Validate() error {
	n := 0
	if e.MaxFeeExceeded != nil {
		n++
	}
	if e.MissingUTXO != nil {
		n++
	}
	if e.Generic != nil {
		n++
	}
	if n != 1 {
		return &ValidationError{Field: "claim_error", Reason: fmt.Sprintf("exactly one variant must be set, got %d", n)}
	}
	return nil
}

// Message returns a human readable summary.
func (e DepositClaimError) Message() string {
	switch {
	case e.MaxFeeExceeded != nil:
		return fmt.Sprintf("claim fee for %s:%d exceeds maximum (required %d sats)",
			e.MaxFeeExceeded.Tx, e.MaxFeeExceeded.Vout, e.MaxFeeExceeded.RequiredFeeSats)
	case e.MissingUTXO != nil:
		return fmt.Sprintf("utxo %s:%d not found", e.MissingUTXO.Tx, e.MissingUTXO.Vout)
	case e.Generic != nil:
		return e.Generic.Message
	}
	return "unknown claim error"
}

type DepositRefund struct {
	Tx   string `json:"tx"`
	TxID string `json:"tx_id"`
}

// DepositUpdate is the outcome of a claim or refund attempt. Exactly one
// field is set; applying it clears the other outcome.
type DepositUpdate struct {
	ClaimError *DepositClaimError `json:"claim_error,omitempty"`
	Refund     *DepositRefund     `json:"refund,omitempty"`
}

// Validate checks the single-outcome invariant.
func (u DepositUpdate) Validate() error {
	switch {
	case u.ClaimError != nil && u.Refund != nil:
		return &ValidationError{Field: "deposit_update", Reason: "claim error and refund are mutually exclusive"}
	case u.ClaimError != nil:
		return u.ClaimError.Validate()
	case u.Refund != nil:
		if u.Refund.Tx == "" || u.Refund.TxID == "" {
			return &ValidationError{Field: "deposit_update.refund", Reason: "tx and tx_id must not be empty"}
		}
		return nil
	}
	return &ValidationError{Field: "deposit_update", Reason: "no outcome set"}
}
