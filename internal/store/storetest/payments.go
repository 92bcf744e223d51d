package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/testutil"
)

func runPayments(t *testing.T, open Factory) {
	ctx := context.Background()

	t.Run("round trip preserves every variant", func(t *testing.T) {
		s := open(t)

		lightning := testutil.LightningPayment("ln1", 100)
		lightning.Details.Lightning.Description = testutil.Ptr("coffee")
		lightning.Details.Lightning.Preimage = testutil.Ptr("preimage-ln1")

		spark := testutil.SparkHTLCPayment("sp1", 200, model.HTLCWaitingForPreimage)
		spark.Details.Spark.InvoiceDetails = &model.SparkInvoiceDetails{
			Description: testutil.Ptr("invoice memo"),
			Invoice:     "spark1invoice",
		}

		token := testutil.TokenPayment("tk1", 300, "btkn1")
		token.Amount = model.Amount("340282366920938463463374607431768211455")
		token.Details.Token.TxType = model.TokenMint
		token.Details.Token.InvoiceDetails = &model.SparkInvoiceDetails{Invoice: "spark1token"}

		payments := []model.Payment{
			lightning,
			spark,
			token,
			testutil.DepositPayment("dp1", 400),
			testutil.WithdrawPayment("wd1", 500),
		}
		for _, p := range payments {
			require.NoError(t, s.UpsertPayment(ctx, p))
		}
		for _, want := range payments {
			got, err := s.GetPaymentByID(ctx, want.ID)
			require.NoError(t, err)
			assert.Equal(t, want, got, "payment %s", want.ID)
		}
	})

	t.Run("get missing payment is not found", func(t *testing.T) {
		s := open(t)

		_, err := s.GetPaymentByID(ctx, "missing")
		require.Error(t, err)
		assert.True(t, store.IsNotFound(err), "expected NOT_FOUND, got %v", err)
	})

	t.Run("invalid payment is rejected", func(t *testing.T) {
		s := open(t)

		p := testutil.SparkPayment("bad", 1)
		p.Details.Deposit = &model.DepositDetails{TxID: "tx"}
		err := s.UpsertPayment(ctx, p)
		require.Error(t, err)
		assert.True(t, store.IsValidation(err))

		p = testutil.SparkPayment("bad", 1)
		p.Amount = "-5"
		assert.True(t, store.IsValidation(s.UpsertPayment(ctx, p)))

		_, err = s.GetPaymentByID(ctx, "bad")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("canceled context leaves no effect", func(t *testing.T) {
		s := open(t)

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		require.Error(t, s.UpsertPayment(canceled, testutil.SparkPayment("p1", 1)))

		_, err := s.GetPaymentByID(ctx, "p1")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("repeated upserts keep one row", func(t *testing.T) {
		s := open(t)

		p := testutil.SparkPayment("p1", 1_700_000_000)
		p.PaymentType = model.PaymentTypeSend
		p.Status = model.PaymentStatusPending
		p.Fees = model.NewAmount(10)
		require.NoError(t, s.UpsertPayment(ctx, p))

		list, err := s.ListPayments(ctx, model.ListPaymentsRequest{
			TypeFilter: []model.PaymentType{model.PaymentTypeSend},
		})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "p1", list[0].ID)

		p.Status = model.PaymentStatusCompleted
		require.NoError(t, s.UpsertPayment(ctx, p))
		require.NoError(t, s.UpsertPayment(ctx, p))

		list, err = s.ListPayments(ctx, model.ListPaymentsRequest{
			StatusFilter: []model.PaymentStatus{model.PaymentStatusCompleted},
		})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "p1", list[0].ID)
		assert.Equal(t, model.Amount("10"), list[0].Fees)

		all, err := s.ListPayments(ctx, model.ListPaymentsRequest{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("changing variant drops the old details", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertPayment(ctx, testutil.LightningPayment("p1", 1)))
		require.NoError(t, s.UpsertPayment(ctx, testutil.SparkPayment("p1", 1)))

		got, err := s.GetPaymentByID(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, model.DetailsSpark, got.Details.Kind())
		assert.Nil(t, got.Details.Lightning)

		byInvoice, err := s.GetPaymentByInvoice(ctx, "lnbc-p1")
		require.NoError(t, err)
		assert.Nil(t, byInvoice)
	})

	t.Run("late fields survive updates that omit them", func(t *testing.T) {
		s := open(t)

		ln := testutil.LightningPayment("ln1", 1)
		ln.Details.Lightning.Preimage = testutil.Ptr("secret")
		require.NoError(t, s.UpsertPayment(ctx, ln))

		ln.Details.Lightning.Preimage = nil
		ln.Status = model.PaymentStatusFailed
		require.NoError(t, s.UpsertPayment(ctx, ln))

		got, err := s.GetPaymentByID(ctx, "ln1")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusFailed, got.Status)
		require.NotNil(t, got.Details.Lightning.Preimage)
		assert.Equal(t, "secret", *got.Details.Lightning.Preimage)

		sp := testutil.SparkHTLCPayment("sp1", 1, model.HTLCPreimageShared)
		require.NoError(t, s.UpsertPayment(ctx, sp))
		require.NoError(t, s.UpsertPayment(ctx, testutil.SparkPayment("sp1", 1)))

		got, err = s.GetPaymentByID(ctx, "sp1")
		require.NoError(t, err)
		require.NotNil(t, got.Details.Spark.HTLCDetails)
		assert.Equal(t, model.HTLCPreimageShared, got.Details.Spark.HTLCDetails.Status)
	})

	t.Run("get by invoice", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpsertPayment(ctx, testutil.LightningPayment("ln1", 1)))
		require.NoError(t, s.UpsertPayment(ctx, testutil.LightningPayment("ln2", 2)))

		got, err := s.GetPaymentByInvoice(ctx, "lnbc-ln2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "ln2", got.ID)

		missing, err := s.GetPaymentByInvoice(ctx, "lnbc-nope")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func runListPayments(t *testing.T, open Factory) {
	ctx := context.Background()

	ids := func(ps []model.Payment) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.ID
		}
		return out
	}
	list := func(t *testing.T, s store.Storage, req model.ListPaymentsRequest) []string {
		t.Helper()
		ps, err := s.ListPayments(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, ps)
		return ids(ps)
	}

	t.Run("empty store returns empty slice", func(t *testing.T) {
		s := open(t)
		assert.Equal(t, []string{}, list(t, s, model.ListPaymentsRequest{}))
	})

	t.Run("orders by timestamp then id", func(t *testing.T) {
		s := open(t)
		for _, p := range []model.Payment{
			testutil.SparkPayment("b", 10),
			testutil.SparkPayment("a", 10),
			testutil.SparkPayment("c", 5),
			testutil.SparkPayment("d", 20),
		} {
			require.NoError(t, s.UpsertPayment(ctx, p))
		}

		assert.Equal(t, []string{"d", "b", "a", "c"}, list(t, s, model.ListPaymentsRequest{}))
		assert.Equal(t, []string{"c", "a", "b", "d"}, list(t, s, model.ListPaymentsRequest{SortAscending: true}))
	})

	t.Run("timestamp ties break on id bytes", func(t *testing.T) {
		s := open(t)
		for _, id := range []string{"a", "B", "_x"} {
			require.NoError(t, s.UpsertPayment(ctx, testutil.SparkPayment(id, 100)))
		}
		asc := model.ListPaymentsRequest{SortAscending: true}
		assert.Equal(t, []string{"B", "_x", "a"}, list(t, s, asc))
		assert.Equal(t, []string{"a", "_x", "B"}, list(t, s, model.ListPaymentsRequest{}))
	})

	t.Run("pages are stable", func(t *testing.T) {
		s := open(t)
		for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
			require.NoError(t, s.UpsertPayment(ctx, testutil.SparkPayment(id, 100)))
		}

		var seen []string
		for offset := uint32(0); offset < 6; offset += 2 {
			seen = append(seen, list(t, s, model.ListPaymentsRequest{
				Offset:        testutil.Ptr(offset),
				Limit:         testutil.Ptr(uint32(2)),
				SortAscending: true,
			})...)
		}
		assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, seen)
		assert.Equal(t, []string{}, list(t, s, model.ListPaymentsRequest{Offset: testutil.Ptr(uint32(10))}))
	})

	t.Run("timestamp range is half open", func(t *testing.T) {
		s := open(t)
		for i, id := range []string{"t100", "t200", "t300"} {
			require.NoError(t, s.UpsertPayment(ctx, testutil.SparkPayment(id, uint64(100*(i+1)))))
		}

		got := list(t, s, model.ListPaymentsRequest{
			FromTimestamp: testutil.Ptr(uint64(100)),
			ToTimestamp:   testutil.Ptr(uint64(300)),
			SortAscending: true,
		})
		assert.Equal(t, []string{"t100", "t200"}, got)
	})

	t.Run("type and status filters", func(t *testing.T) {
		s := open(t)
		send := testutil.SparkPayment("send", 1)
		send.PaymentType = model.PaymentTypeSend
		failed := testutil.SparkPayment("failed", 2)
		failed.Status = model.PaymentStatusFailed
		for _, p := range []model.Payment{send, failed, testutil.SparkPayment("recv", 3)} {
			require.NoError(t, s.UpsertPayment(ctx, p))
		}

		assert.Equal(t, []string{"send"}, list(t, s, model.ListPaymentsRequest{
			TypeFilter: []model.PaymentType{model.PaymentTypeSend},
		}))
		assert.Equal(t, []string{"recv", "send"}, list(t, s, model.ListPaymentsRequest{
			StatusFilter: []model.PaymentStatus{model.PaymentStatusCompleted, model.PaymentStatusPending},
		}))
	})

	t.Run("asset filter", func(t *testing.T) {
		s := open(t)
		for _, p := range []model.Payment{
			testutil.LightningPayment("ln", 1),
			testutil.SparkPayment("sp", 2),
			testutil.TokenPayment("tk-a", 3, "token-a"),
			testutil.TokenPayment("tk-b", 4, "token-b"),
			testutil.DepositPayment("dp", 5),
		} {
			require.NoError(t, s.UpsertPayment(ctx, p))
		}

		assert.Equal(t, []string{"ln", "sp", "dp"}, list(t, s, model.ListPaymentsRequest{
			AssetFilter:   &model.AssetFilter{Kind: model.AssetBitcoin},
			SortAscending: true,
		}))
		assert.Equal(t, []string{"tk-a", "tk-b"}, list(t, s, model.ListPaymentsRequest{
			AssetFilter:   &model.AssetFilter{Kind: model.AssetToken},
			SortAscending: true,
		}))
		assert.Equal(t, []string{"tk-b"}, list(t, s, model.ListPaymentsRequest{
			AssetFilter: &model.AssetFilter{Kind: model.AssetToken, TokenIdentifier: testutil.Ptr("token-b")},
		}))
	})

	t.Run("details filters", func(t *testing.T) {
		s := open(t)
		for _, p := range []model.Payment{
			testutil.SparkHTLCPayment("waiting", 1, model.HTLCWaitingForPreimage),
			testutil.SparkHTLCPayment("shared", 2, model.HTLCPreimageShared),
			testutil.SparkPayment("plain", 3),
			testutil.TokenPayment("tk1", 4, "token-a"),
			testutil.TokenPayment("tk2", 5, "token-a"),
		} {
			require.NoError(t, s.UpsertPayment(ctx, p))
		}
		require.NoError(t, s.UpsertPaymentMetadata(ctx, "plain", model.PaymentMetadata{
			ConversionInfo: &model.ConversionInfo{PoolID: "pool", ConversionID: "c1", Status: model.ConversionRefundNeeded},
		}))
		require.NoError(t, s.UpsertPaymentMetadata(ctx, "tk2", model.PaymentMetadata{
			ConversionInfo: &model.ConversionInfo{PoolID: "pool", ConversionID: "c2", Status: model.ConversionCompleted},
		}))

		htlc := func(statuses ...model.SparkHTLCStatus) model.PaymentDetailsFilter {
			return model.PaymentDetailsFilter{Spark: &model.SparkDetailsFilter{HTLCStatus: statuses}}
		}

		assert.Equal(t, []string{"waiting"}, list(t, s, model.ListPaymentsRequest{
			PaymentDetailsFilter: []model.PaymentDetailsFilter{htlc(model.HTLCWaitingForPreimage)},
		}))

		// Groups are OR-ed.
		assert.Equal(t, []string{"waiting", "tk1"}, list(t, s, model.ListPaymentsRequest{
			PaymentDetailsFilter: []model.PaymentDetailsFilter{
				htlc(model.HTLCWaitingForPreimage),
				{Token: &model.TokenDetailsFilter{TxHash: testutil.Ptr("tx-tk1")}},
			},
			SortAscending: true,
		}))

		assert.Equal(t, []string{"plain"}, list(t, s, model.ListPaymentsRequest{
			PaymentDetailsFilter: []model.PaymentDetailsFilter{
				{Spark: &model.SparkDetailsFilter{ConversionRefundNeeded: testutil.Ptr(true)}},
			},
		}))

		// A false flag still requires conversion info.
		assert.Equal(t, []string{"tk2"}, list(t, s, model.ListPaymentsRequest{
			PaymentDetailsFilter: []model.PaymentDetailsFilter{
				{Token: &model.TokenDetailsFilter{ConversionRefundNeeded: testutil.Ptr(false)}},
			},
		}))

		assert.Empty(t, list(t, s, model.ListPaymentsRequest{
			PaymentDetailsFilter: []model.PaymentDetailsFilter{
				{Token: &model.TokenDetailsFilter{TxType: testutil.Ptr(model.TokenBurn)}},
			},
		}))

		// Filters without conditions are ignored.
		assert.Len(t, list(t, s, model.ListPaymentsRequest{
			PaymentDetailsFilter: []model.PaymentDetailsFilter{{Spark: &model.SparkDetailsFilter{}}},
		}), 5)
	})

	t.Run("children are hidden from listing", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertPayment(ctx, testutil.SparkPayment("parent", 1)))
		require.NoError(t, s.UpsertPayment(ctx, testutil.TokenPayment("child", 2, "token-a")))
		require.NoError(t, s.UpsertPaymentMetadata(ctx, "child", model.PaymentMetadata{
			ParentPaymentID: testutil.Ptr("parent"),
		}))

		assert.Equal(t, []string{"parent"}, list(t, s, model.ListPaymentsRequest{}))
	})

	t.Run("invalid request is rejected", func(t *testing.T) {
		s := open(t)
		_, err := s.ListPayments(ctx, model.ListPaymentsRequest{
			TypeFilter: []model.PaymentType{"sideways"},
		})
		assert.True(t, store.IsValidation(err))
	})

	t.Run("children by parent", func(t *testing.T) {
		s := open(t)

		empty, err := s.GetPaymentsByParentIDs(ctx, []string{"parent"})
		require.NoError(t, err)
		assert.Empty(t, empty)

		for _, p := range []model.Payment{
			testutil.SparkPayment("parent-a", 1),
			testutil.SparkPayment("parent-b", 1),
			testutil.TokenPayment("a2", 30, "token-a"),
			testutil.TokenPayment("a1", 20, "token-a"),
			testutil.TokenPayment("b1", 10, "token-a"),
			testutil.TokenPayment("orphan", 5, "token-a"),
		} {
			require.NoError(t, s.UpsertPayment(ctx, p))
		}
		link := func(child, parent string) {
			require.NoError(t, s.UpsertPaymentMetadata(ctx, child, model.PaymentMetadata{ParentPaymentID: testutil.Ptr(parent)}))
		}
		link("a2", "parent-a")
		link("a1", "parent-a")
		link("b1", "parent-b")
		link("orphan", "parent-x")

		got, err := s.GetPaymentsByParentIDs(ctx, []string{"parent-a", "parent-b", "parent-c"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, []string{"a1", "a2"}, ids(got["parent-a"]))
		assert.Equal(t, []string{"b1"}, ids(got["parent-b"]))

		none, err := s.GetPaymentsByParentIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func runMetadata(t *testing.T, open Factory) {
	ctx := context.Background()

	t.Run("updates merge field by field", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertPayment(ctx, testutil.LightningPayment("ln1", 1)))

		require.NoError(t, s.UpsertPaymentMetadata(ctx, "ln1", model.PaymentMetadata{
			LnurlDescription: testutil.Ptr("from lnurl"),
		}))
		require.NoError(t, s.UpsertPaymentMetadata(ctx, "ln1", model.PaymentMetadata{
			LnurlPayInfo: &model.LnurlPayInfo{LnAddress: testutil.Ptr("alice@example.com")},
		}))

		got, err := s.GetPaymentByID(ctx, "ln1")
		require.NoError(t, err)
		ln := got.Details.Lightning
		require.NotNil(t, ln.Description)
		assert.Equal(t, "from lnurl", *ln.Description)
		require.NotNil(t, ln.LnurlPayInfo)
		assert.Equal(t, "alice@example.com", *ln.LnurlPayInfo.LnAddress)
	})

	t.Run("stored description wins over lnurl description", func(t *testing.T) {
		s := open(t)
		p := testutil.LightningPayment("ln1", 1)
		p.Details.Lightning.Description = testutil.Ptr("invoice memo")
		require.NoError(t, s.UpsertPayment(ctx, p))
		require.NoError(t, s.UpsertPaymentMetadata(ctx, "ln1", model.PaymentMetadata{
			LnurlDescription: testutil.Ptr("from lnurl"),
		}))

		got, err := s.GetPaymentByID(ctx, "ln1")
		require.NoError(t, err)
		assert.Equal(t, "invoice memo", *got.Details.Lightning.Description)
	})

	t.Run("metadata written before the payment is kept", func(t *testing.T) {
		s := open(t)
		conv := &model.ConversionInfo{PoolID: "pool", ConversionID: "c1", Status: model.ConversionPending, Fee: testutil.Ptr(model.NewAmount(3))}
		require.NoError(t, s.UpsertPaymentMetadata(ctx, "sp1", model.PaymentMetadata{ConversionInfo: conv}))
		require.NoError(t, s.UpsertPayment(ctx, testutil.SparkPayment("sp1", 1)))

		got, err := s.GetPaymentByID(ctx, "sp1")
		require.NoError(t, err)
		assert.Equal(t, conv, got.Details.Spark.ConversionInfo)
	})

	t.Run("invalid metadata is rejected", func(t *testing.T) {
		s := open(t)
		err := s.UpsertPaymentMetadata(ctx, "p1", model.PaymentMetadata{
			ConversionInfo: &model.ConversionInfo{Status: "lost"},
		})
		assert.True(t, store.IsValidation(err))
	})

	t.Run("lnurl receive metadata", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertPayment(ctx, testutil.LightningPayment("ln1", 1)))
		require.NoError(t, s.UpsertPayment(ctx, testutil.LightningPayment("ln2", 2)))

		require.NoError(t, s.SetLnurlReceiveMetadata(ctx, []model.LnurlReceiveMetadata{
			{PaymentHash: "hash-ln1", NostrZapRequest: testutil.Ptr("{zap}"), SenderComment: testutil.Ptr("gm")},
			{PaymentHash: "hash-ln2", NostrZapReceipt: testutil.Ptr("{receipt}")},
		}))

		got, err := s.GetPaymentByID(ctx, "ln1")
		require.NoError(t, err)
		recv := got.Details.Lightning.LnurlReceiveMetadata
		require.NotNil(t, recv)
		assert.Equal(t, "{zap}", *recv.NostrZapRequest)
		assert.Equal(t, "gm", *recv.SenderComment)

		// A receipt alone is not surfaced.
		got, err = s.GetPaymentByID(ctx, "ln2")
		require.NoError(t, err)
		assert.Nil(t, got.Details.Lightning.LnurlReceiveMetadata)

		// Rows are replaced wholesale.
		require.NoError(t, s.SetLnurlReceiveMetadata(ctx, []model.LnurlReceiveMetadata{
			{PaymentHash: "hash-ln1", SenderComment: testutil.Ptr("gn")},
		}))
		got, err = s.GetPaymentByID(ctx, "ln1")
		require.NoError(t, err)
		recv = got.Details.Lightning.LnurlReceiveMetadata
		require.NotNil(t, recv)
		assert.Nil(t, recv.NostrZapRequest)
		assert.Equal(t, "gn", *recv.SenderComment)
	})
}
