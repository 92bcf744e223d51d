package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/roach88/ledgersync/internal/model"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// paymentRow holds the raw columns of selectPaymentSQL.
type paymentRow struct {
	id, paymentType, status, amount, fees string
	timestamp                             int64
	method, withdrawTxID, depositTxID     sql.NullString
	spark                                 sql.NullBool
	detailsType                           sql.NullString

	lInvoice, lPaymentHash, lDestination, lDescription, lPreimage sql.NullString

	sPaymentID, sInvoiceDetails, sHTLCDetails sql.NullString

	tMetadata, tTxHash, tTxType, tInvoiceDetails sql.NullString

	parentID, payInfo, withdrawInfo, lnurlDescription, conversionInfo sql.NullString

	zapRequest, zapReceipt, senderComment sql.NullString
}

// scanPayment decodes one row of selectPaymentSQL. It also returns the
// parent payment id from metadata, if any.
func scanPayment(sc rowScanner) (model.Payment, *string, error) {
	var r paymentRow
	err := sc.Scan(
		&r.id, &r.paymentType, &r.status, &r.amount, &r.fees, &r.timestamp, &r.method,
		&r.withdrawTxID, &r.depositTxID, &r.spark, &r.detailsType,
		&r.lInvoice, &r.lPaymentHash, &r.lDestination, &r.lDescription, &r.lPreimage,
		&r.sPaymentID, &r.sInvoiceDetails, &r.sHTLCDetails,
		&r.tMetadata, &r.tTxHash, &r.tTxType, &r.tInvoiceDetails,
		&r.parentID, &r.payInfo, &r.withdrawInfo, &r.lnurlDescription, &r.conversionInfo,
		&r.zapRequest, &r.zapReceipt, &r.senderComment,
	)
	if err != nil {
		return model.Payment{}, nil, err
	}

	p := model.Payment{
		ID:          r.id,
		PaymentType: model.PaymentType(r.paymentType),
		Status:      model.PaymentStatus(r.status),
		Amount:      model.Amount(r.amount),
		Fees:        model.Amount(r.fees),
		Timestamp:   uint64(r.timestamp),
		Method:      model.PaymentMethod(r.method.String),
	}

	details, err := r.details()
	if err != nil {
		return model.Payment{}, nil, fmt.Errorf("decode payment %s: %w", r.id, err)
	}
	p.Details = details

	md, err := r.metadata()
	if err != nil {
		return model.Payment{}, nil, fmt.Errorf("decode metadata %s: %w", r.id, err)
	}
	var recv *model.LnurlReceiveMetadata
	if r.lPaymentHash.Valid {
		recv = &model.LnurlReceiveMetadata{
			PaymentHash:     r.lPaymentHash.String,
			NostrZapRequest: stringPtr(r.zapRequest),
			NostrZapReceipt: stringPtr(r.zapReceipt),
			SenderComment:   stringPtr(r.senderComment),
		}
	}
	model.AttachMetadata(&p, md, recv)

	var parentID *string
	if md != nil {
		parentID = md.ParentPaymentID
	}
	return p, parentID, nil
}

// kind reads the discriminator column. Rows written before the column
// existed fall back to the populated sources in variant precedence order.
func (r *paymentRow) kind() model.DetailsKind {
	if r.detailsType.Valid && r.detailsType.String != "" {
		return model.DetailsKind(r.detailsType.String)
	}
	switch {
	case r.lInvoice.Valid:
		return model.DetailsLightning
	case r.withdrawTxID.Valid:
		return model.DetailsWithdraw
	case r.depositTxID.Valid:
		return model.DetailsDeposit
	case r.spark.Valid && r.spark.Bool, r.sPaymentID.Valid:
		return model.DetailsSpark
	case r.tMetadata.Valid:
		return model.DetailsToken
	}
	return ""
}

func (r *paymentRow) details() (model.PaymentDetails, error) {
	switch r.kind() {
	case model.DetailsLightning:
		return model.PaymentDetails{Lightning: &model.LightningDetails{
			Invoice:           r.lInvoice.String,
			PaymentHash:       r.lPaymentHash.String,
			DestinationPubkey: r.lDestination.String,
			Description:       stringPtr(r.lDescription),
			Preimage:          stringPtr(r.lPreimage),
		}}, nil

	case model.DetailsWithdraw:
		return model.PaymentDetails{Withdraw: &model.WithdrawDetails{TxID: r.withdrawTxID.String}}, nil

	case model.DetailsDeposit:
		return model.PaymentDetails{Deposit: &model.DepositDetails{TxID: r.depositTxID.String}}, nil

	case model.DetailsSpark:
		invoice, err := unmarshalOptional[model.SparkInvoiceDetails](r.sInvoiceDetails)
		if err != nil {
			return model.PaymentDetails{}, err
		}
		htlc, err := unmarshalOptional[model.SparkHTLCDetails](r.sHTLCDetails)
		if err != nil {
			return model.PaymentDetails{}, err
		}
		return model.PaymentDetails{Spark: &model.SparkDetails{
			InvoiceDetails: invoice,
			HTLCDetails:    htlc,
		}}, nil

	case model.DetailsToken:
		meta, err := unmarshalOptional[model.TokenMetadata](r.tMetadata)
		if err != nil {
			return model.PaymentDetails{}, err
		}
		if meta == nil {
			meta = &model.TokenMetadata{}
		}
		invoice, err := unmarshalOptional[model.SparkInvoiceDetails](r.tInvoiceDetails)
		if err != nil {
			return model.PaymentDetails{}, err
		}
		txType := model.TokenTransactionType(r.tTxType.String)
		if txType == "" {
			txType = model.TokenTransfer
		}
		return model.PaymentDetails{Token: &model.TokenDetails{
			Metadata:       *meta,
			TxHash:         r.tTxHash.String,
			TxType:         txType,
			InvoiceDetails: invoice,
		}}, nil
	}
	return model.PaymentDetails{}, fmt.Errorf("no details recorded")
}

// metadata returns nil when the payment has no metadata row.
func (r *paymentRow) metadata() (*model.PaymentMetadata, error) {
	if !r.parentID.Valid && !r.payInfo.Valid && !r.withdrawInfo.Valid &&
		!r.lnurlDescription.Valid && !r.conversionInfo.Valid {
		return nil, nil
	}
	payInfo, err := unmarshalOptional[model.LnurlPayInfo](r.payInfo)
	if err != nil {
		return nil, err
	}
	withdrawInfo, err := unmarshalOptional[model.LnurlWithdrawInfo](r.withdrawInfo)
	if err != nil {
		return nil, err
	}
	conversion, err := unmarshalOptional[model.ConversionInfo](r.conversionInfo)
	if err != nil {
		return nil, err
	}
	return &model.PaymentMetadata{
		ParentPaymentID:   stringPtr(r.parentID),
		LnurlPayInfo:      payInfo,
		LnurlWithdrawInfo: withdrawInfo,
		LnurlDescription:  stringPtr(r.lnurlDescription),
		ConversionInfo:    conversion,
	}, nil
}
