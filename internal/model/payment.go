package model

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// PaymentType is the direction of a payment.
type PaymentType string

const (
	PaymentTypeSend    PaymentType = "send"
	PaymentTypeReceive PaymentType = "receive"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	return t == PaymentTypeSend || t == PaymentTypeReceive
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed:
		return true
	}
	return false
}

// PaymentMethod describes the payment request used to initiate a payment.
// The empty value is treated as unknown.
type PaymentMethod string

const (
	PaymentMethodLightning PaymentMethod = "lightning"
	PaymentMethodSpark     PaymentMethod = "spark"
	PaymentMethodToken     PaymentMethod = "token"
	PaymentMethodDeposit   PaymentMethod = "deposit"
	PaymentMethodWithdraw  PaymentMethod = "withdraw"
	PaymentMethodUnknown   PaymentMethod = "unknown"
)

// Valid reports whether m is empty or a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case "", PaymentMethodLightning, PaymentMethodSpark, PaymentMethodToken,
		PaymentMethodDeposit, PaymentMethodWithdraw, PaymentMethodUnknown:
		return true
	}
	return false
}

// maxAmount is the largest value representable as an unsigned 128-bit integer.
var maxAmount = decimal.RequireFromString("340282366920938463463374607431768211455")

// Amount is a non-negative integer in the smallest currency unit, carried as
// a decimal string so values up to 2^128-1 survive every storage engine.
type Amount string

// NewAmount converts a uint64 to an Amount.
func NewAmount(v uint64) Amount {
	return Amount(strconv.FormatUint(v, 10))
}

// ParseAmount parses s and returns it in canonical form ("0010" becomes "10").
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("parse amount %q: %w", s, err)
	}
	if !d.IsInteger() {
		return "", fmt.Errorf("amount %q is not an integer", s)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("amount %q is negative", s)
	}
	if d.GreaterThan(maxAmount) {
		return "", fmt.Errorf("amount %q exceeds u128", s)
	}
	return Amount(d.String()), nil
}

// Validate checks that a is a canonical u128 decimal string.
func (a Amount) Validate() error {
	canonical, err := ParseAmount(string(a))
	if err != nil {
		return err
	}
	if canonical != a {
		return fmt.Errorf("amount %q is not canonical (want %q)", string(a), string(canonical))
	}
	return nil
}

// Payment is a single entry of the append-only payment ledger.
type Payment struct {
	ID          string         `json:"id"`
	PaymentType PaymentType    `json:"payment_type"`
	Status      PaymentStatus  `json:"status"`
	Amount      Amount         `json:"amount"`
	Fees        Amount         `json:"fees"`
	Timestamp   uint64         `json:"timestamp"` // unix seconds
	Method      PaymentMethod  `json:"method,omitempty"`
	Details     PaymentDetails `json:"details"`
}

// Validate checks field formats and the single-variant invariant.
func (p Payment) Validate() error {
	if p.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if !p.PaymentType.Valid() {
		return &ValidationError{Field: "payment_type", Reason: fmt.Sprintf("unknown value %q", p.PaymentType)}
	}
	if !p.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", p.Status)}
	}
	if err := p.Amount.Validate(); err != nil {
		return &ValidationError{Field: "amount", Reason: err.Error()}
	}
	if err := p.Fees.Validate(); err != nil {
		return &ValidationError{Field: "fees", Reason: err.Error()}
	}
	if p.Timestamp > math.MaxInt64 {
		return &ValidationError{Field: "timestamp", Reason: "exceeds int64 range"}
	}
	if !p.Method.Valid() {
		return &ValidationError{Field: "method", Reason: fmt.Sprintf("unknown value %q", p.Method)}
	}
	return p.Details.Validate()
}

// DetailsKind discriminates the populated PaymentDetails variant.
type DetailsKind string

const (
	DetailsLightning DetailsKind = "lightning"
	DetailsSpark     DetailsKind = "spark"
	DetailsToken     DetailsKind = "token"
	DetailsWithdraw  DetailsKind = "withdraw"
	DetailsDeposit   DetailsKind = "deposit"
)

// PaymentDetails is a tagged union. Exactly one field must be non-nil.
type PaymentDetails struct {
	Lightning *LightningDetails `json:"lightning,omitempty"`
	Spark     *SparkDetails     `json:"spark,omitempty"`
	Token     *TokenDetails     `json:"token,omitempty"`
	Withdraw  *WithdrawDetails  `json:"withdraw,omitempty"`
	Deposit   *DepositDetails   `json:"deposit,omitempty"`
}

// Kind returns the populated variant in precedence order
// Lightning > Withdraw > Deposit > Spark > Token, or "" if none is set.
func (d PaymentDetails) Kind() DetailsKind {
	switch {
	case d.Lightning != nil:
		return DetailsLightning
	case d.Withdraw != nil:
		return DetailsWithdraw
	case d.Deposit != nil:
		return DetailsDeposit
	case d.Spark != nil:
		return DetailsSpark
	case d.Token != nil:
		return DetailsToken
	}
	return ""
}

func (d PaymentDetails) populated() int {
	n := 0
	for _, set := range []bool{d.Lightning != nil, d.Spark != nil, d.Token != nil, d.Withdraw != nil, d.Deposit != nil} {
		if set {
			n++
		}
	}
	return n
}

// Validate enforces exactly one populated variant and checks that variant.
func (d PaymentDetails) Validate() error {
	if n := d.populated(); n != 1 {
		return &ValidationError{Field: "details", Reason: fmt.Sprintf("exactly one variant must be set, got %d", n)}
	}
	switch d.Kind() {
	case DetailsLightning:
		if d.Lightning.Invoice == "" {
			return &ValidationError{Field: "details.lightning.invoice", Reason: "must not be empty"}
		}
		if d.Lightning.PaymentHash == "" {
			return &ValidationError{Field: "details.lightning.payment_hash", Reason: "must not be empty"}
		}
	case DetailsWithdraw:
		if d.Withdraw.TxID == "" {
			return &ValidationError{Field: "details.withdraw.tx_id", Reason: "must not be empty"}
		}
	case DetailsDeposit:
		if d.Deposit.TxID == "" {
			return &ValidationError{Field: "details.deposit.tx_id", Reason: "must not be empty"}
		}
	case DetailsSpark:
		if h := d.Spark.HTLCDetails; h != nil && !h.Status.Valid() {
			return &ValidationError{Field: "details.spark.htlc_details.status", Reason: fmt.Sprintf("unknown value %q", h.Status)}
		}
	case DetailsToken:
		if d.Token.Metadata.Identifier == "" {
			return &ValidationError{Field: "details.token.metadata.identifier", Reason: "must not be empty"}
		}
		if d.Token.TxHash == "" {
			return &ValidationError{Field: "details.token.tx_hash", Reason: "must not be empty"}
		}
		if !d.Token.TxType.Valid() {
			return &ValidationError{Field: "details.token.tx_type", Reason: fmt.Sprintf("unknown value %q", d.Token.TxType)}
		}
		if d.Token.Metadata.MaxSupply != "" {
			if err := d.Token.Metadata.MaxSupply.Validate(); err != nil {
				return &ValidationError{Field: "details.token.metadata.max_supply", Reason: err.Error()}
			}
		}
	}
	return nil
}

// LightningDetails describes a Lightning payment. The LNURL fields are
// populated on read from payment metadata and are ignored on write.
type LightningDetails struct {
	Invoice              string                `json:"invoice"`
	PaymentHash          string                `json:"payment_hash"`
	DestinationPubkey    string                `json:"destination_pubkey"`
	Description          *string               `json:"description,omitempty"`
	Preimage             *string               `json:"preimage,omitempty"`
	LnurlPayInfo         *LnurlPayInfo         `json:"lnurl_pay_info,omitempty"`
	LnurlWithdrawInfo    *LnurlWithdrawInfo    `json:"lnurl_withdraw_info,omitempty"`
	LnurlReceiveMetadata *LnurlReceiveMetadata `json:"lnurl_receive_metadata,omitempty"`
}

// SparkHTLCStatus is the state of a Spark hash time-locked transfer.
type SparkHTLCStatus string

const (
	HTLCWaitingForPreimage SparkHTLCStatus = "waiting_for_preimage"
	HTLCPreimageShared     SparkHTLCStatus = "preimage_shared"
	HTLCReturned           SparkHTLCStatus = "returned"
)

// Valid reports whether s is a known HTLC status.
func (s SparkHTLCStatus) Valid() bool {
	switch s {
	case HTLCWaitingForPreimage, HTLCPreimageShared, HTLCReturned:
		return true
	}
	return false
}

// SparkDetails describes a Spark transfer. ConversionInfo is populated on
// read from payment metadata.
type SparkDetails struct {
	InvoiceDetails *SparkInvoiceDetails `json:"invoice_details,omitempty"`
	HTLCDetails    *SparkHTLCDetails    `json:"htlc_details,omitempty"`
	ConversionInfo *ConversionInfo      `json:"conversion_info,omitempty"`
}

type SparkInvoiceDetails struct {
	Description *string `json:"description,omitempty"`
	Invoice     string  `json:"invoice"`
}

type SparkHTLCDetails struct {
	PaymentHash string          `json:"payment_hash"`
	Preimage    *string         `json:"preimage,omitempty"`
	ExpiryTime  uint64          `json:"expiry_time"`
	Status      SparkHTLCStatus `json:"status"`
}

// TokenTransactionType classifies a token transaction.
type TokenTransactionType string

const (
	TokenTransfer TokenTransactionType = "transfer"
	TokenMint     TokenTransactionType = "mint"
	TokenBurn     TokenTransactionType = "burn"
)

// Valid reports whether t is a known token transaction type.
func (t TokenTransactionType) Valid() bool {
	switch t {
	case TokenTransfer, TokenMint, TokenBurn:
		return true
	}
	return false
}

// TokenDetails describes a token transfer. ConversionInfo is populated on
// read from payment metadata.
type TokenDetails struct {
	Metadata       TokenMetadata        `json:"metadata"`
	TxHash         string               `json:"tx_hash"`
	TxType         TokenTransactionType `json:"tx_type"`
	InvoiceDetails *SparkInvoiceDetails `json:"invoice_details,omitempty"`
	ConversionInfo *ConversionInfo      `json:"conversion_info,omitempty"`
}

type TokenMetadata struct {
	Identifier      string `json:"identifier"`
	IssuerPublicKey string `json:"issuer_public_key"`
	Name            string `json:"name"`
	Ticker          string `json:"ticker"`
	Decimals        uint32 `json:"decimals"`
	MaxSupply       Amount `json:"max_supply"`
	IsFreezable     bool   `json:"is_freezable"`
}

type WithdrawDetails struct {
	TxID string `json:"tx_id"`
}

type DepositDetails struct {
	TxID string `json:"tx_id"`
}

// WithoutDerived returns a copy of p with the fields that are sourced from
// payment metadata cleared. Backends store this form.
func (p Payment) WithoutDerived() Payment {
	out := p
	switch {
	case p.Details.Lightning != nil:
		l := *p.Details.Lightning
		l.LnurlPayInfo = nil
		l.LnurlWithdrawInfo = nil
		l.LnurlReceiveMetadata = nil
		out.Details.Lightning = &l
	case p.Details.Spark != nil:
		s := *p.Details.Spark
		s.ConversionInfo = nil
		out.Details.Spark = &s
	case p.Details.Token != nil:
		t := *p.Details.Token
		t.ConversionInfo = nil
		out.Details.Token = &t
	}
	return out
}
