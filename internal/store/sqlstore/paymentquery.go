package sqlstore

import (
	"fmt"
	"strings"

	"github.com/roach88/ledgersync/internal/model"
)

// selectPaymentSQL joins a payment with every side table. Each row carries
// enough to rebuild the details variant and the metadata-derived fields.
const selectPaymentSQL = `
	SELECT p.id, p.payment_type, p.status, p.amount, p.fees, p.timestamp, p.method,
		p.withdraw_tx_id, p.deposit_tx_id, p.spark, p.details_type,
		l.invoice, l.payment_hash, l.destination_pubkey, l.description, l.preimage,
		s.payment_id, s.invoice_details, s.htlc_details,
		t.metadata, t.tx_hash, t.tx_type, t.invoice_details,
		pm.parent_payment_id, pm.lnurl_pay_info, pm.lnurl_withdraw_info, pm.lnurl_description, pm.conversion_info,
		lrm.nostr_zap_request, lrm.nostr_zap_receipt, lrm.sender_comment
	FROM payments p
	LEFT JOIN payment_details_lightning l ON l.payment_id = p.id
	LEFT JOIN payment_details_spark s ON s.payment_id = p.id
	LEFT JOIN payment_details_token t ON t.payment_id = p.id
	LEFT JOIN payment_metadata pm ON pm.payment_id = p.id
	LEFT JOIN lnurl_receive_metadata lrm ON lrm.payment_hash = l.payment_hash`

// compileListPayments turns a request into parameterized SQL with ?
// placeholders.
//
// Every value is bound, never interpolated. Every query is ordered by
// timestamp with id as the tie-breaker so pages are stable.
func compileListPayments(d dialect, req model.ListPaymentsRequest) (string, []any) {
	var c predicateBuilder

	// Children are only reachable through their parent.
	c.add("pm.parent_payment_id IS NULL")

	if len(req.TypeFilter) > 0 {
		addIn(&c, "p.payment_type", req.TypeFilter)
	}
	if len(req.StatusFilter) > 0 {
		addIn(&c, "p.status", req.StatusFilter)
	}
	if req.FromTimestamp != nil {
		c.add("p.timestamp >= ?", int64(*req.FromTimestamp))
	}
	if req.ToTimestamp != nil {
		c.add("p.timestamp < ?", int64(*req.ToTimestamp))
	}

	var groups []string
	var groupArgs []any
	for _, f := range req.PaymentDetailsFilter {
		if !f.HasConditions() {
			continue
		}
		sql, args := compileDetailsFilter(f)
		groups = append(groups, "("+sql+")")
		groupArgs = append(groupArgs, args...)
	}
	if len(groups) > 0 {
		c.add("("+strings.Join(groups, " OR ")+")", groupArgs...)
	}

	if a := req.AssetFilter; a != nil {
		switch a.Kind {
		case model.AssetBitcoin:
			c.add("p.details_type <> ?", string(model.DetailsToken))
		case model.AssetToken:
			c.add("p.details_type = ?", string(model.DetailsToken))
			if a.TokenIdentifier != nil {
				c.add("t.token_identifier = ?", *a.TokenIdentifier)
			}
		}
	}

	dir := "DESC"
	if req.SortAscending {
		dir = "ASC"
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY p.timestamp %s, %s %s LIMIT ? OFFSET ?",
		selectPaymentSQL, c.where(), dir, d.bytewise("p.id"), dir)
	args := append(c.args, int64(req.LimitOrMax()), int64(req.OffsetOrZero()))
	return query, args
}

// compileDetailsFilter compiles one AND group. Callers skip filters
// without conditions.
func compileDetailsFilter(f model.PaymentDetailsFilter) (string, []any) {
	var c predicateBuilder
	if s := f.Spark; s != nil {
		c.add("p.details_type = ?", string(model.DetailsSpark))
		if len(s.HTLCStatus) > 0 {
			addIn(&c, "s.htlc_status", s.HTLCStatus)
		}
		if s.ConversionRefundNeeded != nil {
			c.addConversion(*s.ConversionRefundNeeded)
		}
	}
	if t := f.Token; t != nil {
		c.add("p.details_type = ?", string(model.DetailsToken))
		if t.ConversionRefundNeeded != nil {
			c.addConversion(*t.ConversionRefundNeeded)
		}
		if t.TxHash != nil {
			c.add("t.tx_hash = ?", *t.TxHash)
		}
		if t.TxType != nil {
			c.add("t.tx_type = ?", string(*t.TxType))
		}
	}
	return c.where(), c.args
}

// predicateBuilder accumulates AND-ed SQL fragments and their arguments.
type predicateBuilder struct {
	parts []string
	args  []any
}

func (b *predicateBuilder) add(sql string, args ...any) {
	b.parts = append(b.parts, sql)
	b.args = append(b.args, args...)
}

// addIn adds "column IN (...)" for a non-empty set of enum values.
func addIn[T ~string](b *predicateBuilder, column string, values []T) {
	b.parts = append(b.parts, fmt.Sprintf("%s IN (%s)", column, placeholders(len(values))))
	for _, v := range values {
		b.args = append(b.args, string(v))
	}
}

// addConversion requires conversion info to exist whichever way the flag
// points.
func (b *predicateBuilder) addConversion(refundNeeded bool) {
	op := "<>"
	if refundNeeded {
		op = "="
	}
	b.add(fmt.Sprintf("pm.conversion_status IS NOT NULL AND pm.conversion_status %s ?", op),
		string(model.ConversionRefundNeeded))
}

func (b *predicateBuilder) where() string {
	if len(b.parts) == 0 {
		return "1 = 1"
	}
	return strings.Join(b.parts, " AND ")
}
