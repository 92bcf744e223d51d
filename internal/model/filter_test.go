package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func tokenPayment(id, identifier string, txType TokenTransactionType) Payment {
	p := sparkPayment(id)
	p.Details = PaymentDetails{Token: &TokenDetails{
		Metadata: TokenMetadata{Identifier: identifier},
		TxHash:   "hash-" + id,
		TxType:   txType,
	}}
	return p
}

func TestMatches_BasicFilters(t *testing.T) {
	p := sparkPayment("p1")

	assert.True(t, ListPaymentsRequest{}.Matches(p, nil))
	assert.False(t, ListPaymentsRequest{}.Matches(p, ptr("parent")), "children are never listed")

	assert.True(t, ListPaymentsRequest{TypeFilter: []PaymentType{PaymentTypeSend}}.Matches(p, nil))
	assert.False(t, ListPaymentsRequest{TypeFilter: []PaymentType{PaymentTypeReceive}}.Matches(p, nil))
	assert.False(t, ListPaymentsRequest{StatusFilter: []PaymentStatus{PaymentStatusCompleted}}.Matches(p, nil))

	// [from, to)
	assert.True(t, ListPaymentsRequest{FromTimestamp: ptr(uint64(1700000000))}.Matches(p, nil))
	assert.False(t, ListPaymentsRequest{ToTimestamp: ptr(uint64(1700000000))}.Matches(p, nil))
	assert.True(t, ListPaymentsRequest{ToTimestamp: ptr(uint64(1700000001))}.Matches(p, nil))
}

func TestMatches_AssetFilter(t *testing.T) {
	spark := sparkPayment("p1")
	token := tokenPayment("p2", "btkn1", TokenTransfer)

	bitcoin := ListPaymentsRequest{AssetFilter: &AssetFilter{Kind: AssetBitcoin}}
	assert.True(t, bitcoin.Matches(spark, nil))
	assert.False(t, bitcoin.Matches(token, nil))

	anyToken := ListPaymentsRequest{AssetFilter: &AssetFilter{Kind: AssetToken}}
	assert.False(t, anyToken.Matches(spark, nil))
	assert.True(t, anyToken.Matches(token, nil))

	other := ListPaymentsRequest{AssetFilter: &AssetFilter{Kind: AssetToken, TokenIdentifier: ptr("btkn2")}}
	assert.False(t, other.Matches(token, nil))
}

func TestMatches_DetailsFilterIsOrOfAnd(t *testing.T) {
	htlc := sparkPayment("p1")
	htlc.Details.Spark.HTLCDetails = &SparkHTLCDetails{PaymentHash: "h", Status: HTLCWaitingForPreimage}

	refund := sparkPayment("p2")
	refund.Details.Spark.ConversionInfo = &ConversionInfo{Status: ConversionRefundNeeded}

	mint := tokenPayment("p3", "btkn1", TokenMint)
	plain := sparkPayment("p4")

	req := ListPaymentsRequest{PaymentDetailsFilter: []PaymentDetailsFilter{
		{Spark: &SparkDetailsFilter{HTLCStatus: []SparkHTLCStatus{HTLCWaitingForPreimage}}},
		{Spark: &SparkDetailsFilter{ConversionRefundNeeded: ptr(true)}},
		{Token: &TokenDetailsFilter{TxType: ptr(TokenMint)}},
	}}

	assert.True(t, req.Matches(htlc, nil))
	assert.True(t, req.Matches(refund, nil))
	assert.True(t, req.Matches(mint, nil))
	assert.False(t, req.Matches(plain, nil))

	// Conditions inside one filter are AND-ed.
	and := ListPaymentsRequest{PaymentDetailsFilter: []PaymentDetailsFilter{
		{Token: &TokenDetailsFilter{TxType: ptr(TokenMint), TxHash: ptr("other")}},
	}}
	assert.False(t, and.Matches(mint, nil))

	// A refund-needed=false filter still requires conversion info.
	notRefund := ListPaymentsRequest{PaymentDetailsFilter: []PaymentDetailsFilter{
		{Spark: &SparkDetailsFilter{ConversionRefundNeeded: ptr(false)}},
	}}
	assert.False(t, notRefund.Matches(plain, nil))
	assert.False(t, notRefund.Matches(refund, nil))
}

func TestMatches_EmptyDetailsFiltersAreIgnored(t *testing.T) {
	req := ListPaymentsRequest{PaymentDetailsFilter: []PaymentDetailsFilter{{Spark: &SparkDetailsFilter{}}, {}}}
	assert.True(t, req.Matches(tokenPayment("p1", "btkn1", TokenTransfer), nil))
}

func TestListPaymentsRequestValidate(t *testing.T) {
	require.NoError(t, ListPaymentsRequest{}.Validate())

	bad := []ListPaymentsRequest{
		{TypeFilter: []PaymentType{"x"}},
		{StatusFilter: []PaymentStatus{"x"}},
		{AssetFilter: &AssetFilter{Kind: "gold"}},
		{AssetFilter: &AssetFilter{Kind: AssetBitcoin, TokenIdentifier: ptr("t")}},
		{PaymentDetailsFilter: []PaymentDetailsFilter{{Spark: &SparkDetailsFilter{}, Token: &TokenDetailsFilter{}}}},
		{FromTimestamp: ptr(uint64(1) << 63)},
	}
	for i, req := range bad {
		assert.Error(t, req.Validate(), "case %d", i)
	}
}

func TestSortPayments_TieBreaksOnID(t *testing.T) {
	a := sparkPayment("a")
	b := sparkPayment("b")
	c := sparkPayment("c")
	c.Timestamp = 1600000000

	ps := []Payment{b, c, a}
	SortPayments(ps, false)
	assert.Equal(t, []string{"b", "a", "c"}, ids(ps))

	SortPayments(ps, true)
	assert.Equal(t, []string{"c", "a", "b"}, ids(ps))
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{2, 3}, Page(items, 1, 2))
	assert.Equal(t, []int{4, 5}, Page(items, 3, 100))
	assert.Equal(t, []int{}, Page(items, 5, 1))
	assert.Equal(t, []int{}, Page([]int(nil), 0, 10))
}

func ids(ps []Payment) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
