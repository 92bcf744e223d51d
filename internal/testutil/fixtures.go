package testutil

import (
	"fmt"

	"github.com/roach88/ledgersync/internal/model"
)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// base fills the fields every payment fixture shares.
func base(id string, ts uint64) model.Payment {
	return model.Payment{
		ID:          id,
		PaymentType: model.PaymentTypeReceive,
		Status:      model.PaymentStatusCompleted,
		Amount:      model.NewAmount(1000),
		Fees:        model.NewAmount(0),
		Timestamp:   ts,
	}
}

// LightningPayment returns a Lightning payment whose invoice and hash are
// derived from id.
func LightningPayment(id string, ts uint64) model.Payment {
	p := base(id, ts)
	p.Method = model.PaymentMethodLightning
	p.Details.Lightning = &model.LightningDetails{
		Invoice:           "lnbc-" + id,
		PaymentHash:       "hash-" + id,
		DestinationPubkey: "02" + id,
	}
	return p
}

// SparkPayment returns a Spark payment without HTLC or invoice details.
func SparkPayment(id string, ts uint64) model.Payment {
	p := base(id, ts)
	p.Method = model.PaymentMethodSpark
	p.Details.Spark = &model.SparkDetails{}
	return p
}

// SparkHTLCPayment returns a Spark payment with an HTLC in the given state.
func SparkHTLCPayment(id string, ts uint64, status model.SparkHTLCStatus) model.Payment {
	p := SparkPayment(id, ts)
	p.Details.Spark.HTLCDetails = &model.SparkHTLCDetails{
		PaymentHash: "htlc-" + id,
		ExpiryTime:  ts + 3600,
		Status:      status,
	}
	return p
}

// TokenPayment returns a token transfer of the given token.
func TokenPayment(id string, ts uint64, identifier string) model.Payment {
	p := base(id, ts)
	p.Method = model.PaymentMethodToken
	p.Details.Token = &model.TokenDetails{
		Metadata: model.TokenMetadata{
			Identifier:      identifier,
			IssuerPublicKey: "03issuer",
			Name:            "Token " + identifier,
			Ticker:          "TKN",
			Decimals:        8,
			MaxSupply:       model.NewAmount(21_000_000),
		},
		TxHash: "tx-" + id,
		TxType: model.TokenTransfer,
	}
	return p
}

// DepositPayment returns an on-chain deposit.
func DepositPayment(id string, ts uint64) model.Payment {
	p := base(id, ts)
	p.Method = model.PaymentMethodDeposit
	p.Details.Deposit = &model.DepositDetails{TxID: "deposit-" + id}
	return p
}

// WithdrawPayment returns an on-chain withdrawal.
func WithdrawPayment(id string, ts uint64) model.Payment {
	p := base(id, ts)
	p.PaymentType = model.PaymentTypeSend
	p.Method = model.PaymentMethodWithdraw
	p.Details.Withdraw = &model.WithdrawDetails{TxID: "withdraw-" + id}
	return p
}

// Record returns a sync record with a single "n" field.
func Record(typ, id string, revision uint64, n int) model.Record {
	return model.Record{
		ID:            model.RecordID{Type: typ, DataID: id},
		Revision:      revision,
		SchemaVersion: "1.0.0",
		Data:          map[string]string{"n": fmt.Sprint(n)},
	}
}

// Change returns an outbox entry that sets fields on a record.
func Change(typ, id string, fields map[string]string) model.UnversionedRecordChange {
	return model.UnversionedRecordChange{
		ID:            model.RecordID{Type: typ, DataID: id},
		SchemaVersion: "1.0.0",
		UpdatedFields: fields,
	}
}
