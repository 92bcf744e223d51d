package model

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
)

// AssetKind selects bitcoin-denominated or token payments.
type AssetKind string

const (
	AssetBitcoin AssetKind = "bitcoin"
	AssetToken   AssetKind = "token"
)

// AssetFilter restricts payments by asset. TokenIdentifier is only
// meaningful with AssetToken; nil matches any token.
type AssetFilter struct {
	Kind            AssetKind `json:"kind"`
	TokenIdentifier *string   `json:"token_identifier,omitempty"`
}

// SparkDetailsFilter is a conjunction of Spark-specific conditions.
type SparkDetailsFilter struct {
	HTLCStatus             []SparkHTLCStatus `json:"htlc_status,omitempty"`
	ConversionRefundNeeded *bool             `json:"conversion_refund_needed,omitempty"`
}

// TokenDetailsFilter is a conjunction of token-specific conditions.
type TokenDetailsFilter struct {
	ConversionRefundNeeded *bool                 `json:"conversion_refund_needed,omitempty"`
	TxHash                 *string               `json:"tx_hash,omitempty"`
	TxType                 *TokenTransactionType `json:"tx_type,omitempty"`
}

// PaymentDetailsFilter holds one conjunction. A request's filters are OR-ed;
// filters without any condition are ignored.
type PaymentDetailsFilter struct {
	Spark *SparkDetailsFilter `json:"spark,omitempty"`
	Token *TokenDetailsFilter `json:"token,omitempty"`
}

// ListPaymentsRequest selects a page of top-level payments.
//
// Payments that have a parent are never listed; they are reachable through
// the parent batch lookup. Results are ordered by timestamp, then id, both
// descending unless SortAscending is set.
type ListPaymentsRequest struct {
	TypeFilter           []PaymentType          `json:"type_filter,omitempty"`
	StatusFilter         []PaymentStatus        `json:"status_filter,omitempty"`
	AssetFilter          *AssetFilter           `json:"asset_filter,omitempty"`
	PaymentDetailsFilter []PaymentDetailsFilter `json:"payment_details_filter,omitempty"`
	FromTimestamp        *uint64                `json:"from_timestamp,omitempty"` // inclusive
	ToTimestamp          *uint64                `json:"to_timestamp,omitempty"`   // exclusive
	Offset               *uint32                `json:"offset,omitempty"`
	Limit                *uint32                `json:"limit,omitempty"`
	SortAscending        bool                   `json:"sort_ascending,omitempty"`
}

// Validate rejects unknown enum values and malformed ranges.
func (r ListPaymentsRequest) Validate() error {
	for _, t := range r.TypeFilter {
		if !t.Valid() {
			return &ValidationError{Field: "type_filter", Reason: fmt.Sprintf("unknown value %q", t)}
		}
	}
	for _, s := range r.StatusFilter {
		if !s.Valid() {
			return &ValidationError{Field: "status_filter", Reason: fmt.Sprintf("unknown value %q", s)}
		}
	}
	if a := r.AssetFilter; a != nil {
		if a.Kind != AssetBitcoin && a.Kind != AssetToken {
			return &ValidationError{Field: "asset_filter.kind", Reason: fmt.Sprintf("unknown value %q", a.Kind)}
		}
		if a.Kind == AssetBitcoin && a.TokenIdentifier != nil {
			return &ValidationError{Field: "asset_filter.token_identifier", Reason: "not allowed for bitcoin"}
		}
	}
	for _, f := range r.PaymentDetailsFilter {
		if f.Spark != nil && f.Token != nil {
			return &ValidationError{Field: "payment_details_filter", Reason: "set either spark or token, not both"}
		}
		if f.Spark != nil {
			for _, s := range f.Spark.HTLCStatus {
				if !s.Valid() {
					return &ValidationError{Field: "payment_details_filter.spark.htlc_status", Reason: fmt.Sprintf("unknown value %q", s)}
				}
			}
		}
		if f.Token != nil && f.Token.TxType != nil && !f.Token.TxType.Valid() {
			return &ValidationError{Field: "payment_details_filter.token.tx_type", Reason: fmt.Sprintf("unknown value %q", *f.Token.TxType)}
		}
	}
	for _, ts := range []*uint64{r.FromTimestamp, r.ToTimestamp} {
		if ts != nil && *ts > math.MaxInt64 {
			return &ValidationError{Field: "timestamp", Reason: "exceeds int64 range"}
		}
	}
	return nil
}

// OffsetOrZero returns the requested offset.
func (r ListPaymentsRequest) OffsetOrZero() uint32 {
	if r.Offset == nil {
		return 0
	}
	return *r.Offset
}

// LimitOrMax returns the requested limit; no limit means unbounded.
func (r ListPaymentsRequest) LimitOrMax() uint32 {
	if r.Limit == nil {
		return math.MaxUint32
	}
	return *r.Limit
}

// HasConditions reports whether f constrains anything.
func (f PaymentDetailsFilter) HasConditions() bool {
	if s := f.Spark; s != nil && (len(s.HTLCStatus) > 0 || s.ConversionRefundNeeded != nil) {
		return true
	}
	if t := f.Token; t != nil && (t.ConversionRefundNeeded != nil || t.TxHash != nil || t.TxType != nil) {
		return true
	}
	return false
}

// Matches evaluates r against a fully assembled payment. parentID is the
// payment's parent link from metadata, if any. Backends without a query
// language use this directly; relational backends compile the same rules.
func (r ListPaymentsRequest) Matches(p Payment, parentID *string) bool {
	if parentID != nil {
		return false
	}
	if len(r.TypeFilter) > 0 && !slices.Contains(r.TypeFilter, p.PaymentType) {
		return false
	}
	if len(r.StatusFilter) > 0 && !slices.Contains(r.StatusFilter, p.Status) {
		return false
	}
	if r.FromTimestamp != nil && p.Timestamp < *r.FromTimestamp {
		return false
	}
	if r.ToTimestamp != nil && p.Timestamp >= *r.ToTimestamp {
		return false
	}

	constrained, matched := false, false
	for _, f := range r.PaymentDetailsFilter {
		if !f.HasConditions() {
			continue
		}
		constrained = true
		if f.matches(p) {
			matched = true
			break
		}
	}
	if constrained && !matched {
		return false
	}

	if a := r.AssetFilter; a != nil {
		isToken := p.Details.Kind() == DetailsToken
		switch a.Kind {
		case AssetBitcoin:
			if isToken {
				return false
			}
		case AssetToken:
			if !isToken {
				return false
			}
			if a.TokenIdentifier != nil && p.Details.Token.Metadata.Identifier != *a.TokenIdentifier {
				return false
			}
		}
	}
	return true
}

func (f PaymentDetailsFilter) matches(p Payment) bool {
	kind := p.Details.Kind()
	if s := f.Spark; s != nil {
		if kind != DetailsSpark {
			return false
		}
		spark := p.Details.Spark
		if len(s.HTLCStatus) > 0 {
			if spark.HTLCDetails == nil || !slices.Contains(s.HTLCStatus, spark.HTLCDetails.Status) {
				return false
			}
		}
		if s.ConversionRefundNeeded != nil && !conversionMatches(spark.ConversionInfo, *s.ConversionRefundNeeded) {
			return false
		}
		return true
	}
	if t := f.Token; t != nil {
		if kind != DetailsToken {
			return false
		}
		token := p.Details.Token
		if t.ConversionRefundNeeded != nil && !conversionMatches(token.ConversionInfo, *t.ConversionRefundNeeded) {
			return false
		}
		if t.TxHash != nil && token.TxHash != *t.TxHash {
			return false
		}
		if t.TxType != nil && token.TxType != *t.TxType {
			return false
		}
		return true
	}
	return false
}

// conversionMatches requires conversion info to be present in both cases.
func conversionMatches(c *ConversionInfo, refundNeeded bool) bool {
	if c == nil {
		return false
	}
	return (c.Status == ConversionRefundNeeded) == refundNeeded
}

// SortPayments orders ps by timestamp, then id.
func SortPayments(ps []Payment, ascending bool) {
	slices.SortFunc(ps, func(a, b Payment) int {
		c := cmp.Compare(a.Timestamp, b.Timestamp)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		if !ascending {
			c = -c
		}
		return c
	})
}

// Page applies offset and limit to an already ordered slice.
func Page[T any](items []T, offset, limit uint32) []T {
	if uint64(offset) >= uint64(len(items)) {
		return []T{}
	}
	items = items[offset:]
	if uint64(limit) < uint64(len(items)) {
		items = items[:limit]
	}
	return items
}
