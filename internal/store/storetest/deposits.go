package storetest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgersync/internal/model"
	"github.com/roach88/ledgersync/internal/store"
	"github.com/roach88/ledgersync/internal/testutil"
)

func runDeposits(t *testing.T, open Factory) {
	ctx := context.Background()

	claimErr := model.DepositUpdate{ClaimError: &model.DepositClaimError{
		MaxFeeExceeded: &model.MaxFeeExceededError{
			Tx:              "tx-a",
			Vout:            0,
			MaxFee:          &model.Fee{FixedSats: testutil.Ptr(uint64(100))},
			RequiredFeeSats: 250,
		},
	}}
	refund := model.DepositUpdate{Refund: &model.DepositRefund{Tx: "0200deadbeef", TxID: "refund-a"}}

	t.Run("add is insert only and list is ordered", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.AddDeposit(ctx, "tx-b", 0, 500))
		require.NoError(t, s.AddDeposit(ctx, "tx-a", 1, 200))
		require.NoError(t, s.AddDeposit(ctx, "tx-a", 0, 100))
		require.NoError(t, s.AddDeposit(ctx, "tx-a", 0, 999))

		got, err := s.ListDeposits(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "tx-a", got[0].TxID)
		assert.Equal(t, uint32(0), got[0].Vout)
		assert.Equal(t, uint64(100), *got[0].AmountSats)
		assert.Equal(t, uint32(1), got[1].Vout)
		assert.Equal(t, "tx-b", got[2].TxID)
	})

	t.Run("add rejects amounts beyond int64", func(t *testing.T) {
		s := open(t)

		assert.True(t, store.IsValidation(s.AddDeposit(ctx, "tx-big", 0, math.MaxInt64+1)))
		assert.True(t, store.IsValidation(s.AddDeposit(ctx, "", 0, 1)))
		require.NoError(t, s.AddDeposit(ctx, "tx-max", 0, math.MaxInt64))

		got, err := s.ListDeposits(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].AmountSats)
		assert.Equal(t, uint64(math.MaxInt64), *got[0].AmountSats)
	})

	t.Run("claim error and refund replace each other", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AddDeposit(ctx, "tx-a", 0, 100))

		require.NoError(t, s.UpdateDeposit(ctx, "tx-a", 0, claimErr))
		got, err := s.ListDeposits(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, claimErr.ClaimError, got[0].ClaimError)
		assert.Nil(t, got[0].RefundTx)
		assert.Nil(t, got[0].RefundTxID)

		require.NoError(t, s.UpdateDeposit(ctx, "tx-a", 0, refund))
		got, err = s.ListDeposits(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].ClaimError)
		assert.Equal(t, "0200deadbeef", *got[0].RefundTx)
		assert.Equal(t, "refund-a", *got[0].RefundTxID)
		assert.Equal(t, uint64(100), *got[0].AmountSats)

		require.NoError(t, s.UpdateDeposit(ctx, "tx-a", 0, claimErr))
		got, err = s.ListDeposits(ctx)
		require.NoError(t, err)
		assert.NotNil(t, got[0].ClaimError)
		assert.Nil(t, got[0].RefundTx)
	})

	t.Run("update creates a missing deposit without amount", func(t *testing.T) {
		s := open(t)

		require.NoError(t, s.UpdateDeposit(ctx, "tx-new", 3, model.DepositUpdate{
			ClaimError: &model.DepositClaimError{MissingUTXO: &model.MissingUTXOError{Tx: "tx-new", Vout: 3}},
		}))
		got, err := s.ListDeposits(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Nil(t, got[0].AmountSats)
		assert.Equal(t, uint32(3), got[0].Vout)
		require.NotNil(t, got[0].ClaimError)
		assert.NotNil(t, got[0].ClaimError.MissingUTXO)
	})

	t.Run("update with both outcomes is rejected", func(t *testing.T) {
		s := open(t)
		both := model.DepositUpdate{ClaimError: claimErr.ClaimError, Refund: refund.Refund}
		err := s.UpdateDeposit(ctx, "tx-a", 0, both)
		assert.True(t, store.IsValidation(err))

		got, err := s.ListDeposits(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AddDeposit(ctx, "tx-a", 0, 100))

		require.NoError(t, s.DeleteDeposit(ctx, "tx-a", 0))
		require.NoError(t, s.DeleteDeposit(ctx, "tx-a", 0))

		got, err := s.ListDeposits(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func runCache(t *testing.T, open Factory) {
	ctx := context.Background()

	t.Run("get set delete", func(t *testing.T) {
		s := open(t)

		_, ok, err := s.GetCachedItem(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetCachedItem(ctx, "k", "v1"))
		require.NoError(t, s.SetCachedItem(ctx, "k", "v2"))
		v, ok, err := s.GetCachedItem(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v2", v)

		require.NoError(t, s.DeleteCachedItem(ctx, "k"))
		require.NoError(t, s.DeleteCachedItem(ctx, "k"))
		_, ok, err = s.GetCachedItem(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("empty value is distinct from missing", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SetCachedItem(ctx, "blank", ""))

		v, ok, err := s.GetCachedItem(ctx, "blank")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "", v)
	})

	t.Run("typed objects", func(t *testing.T) {
		s := open(t)
		objects := store.NewObjectCache(s)

		info := store.AccountInfo{BalanceSats: 42, TokenBalances: map[string]string{"btkn1": "7"}}
		require.NoError(t, objects.SaveAccountInfo(ctx, info))
		got, err := objects.FetchAccountInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, &info, got)

		addr := &store.LightningAddress{Address: "alice@example.com", Username: "alice"}
		require.NoError(t, objects.SaveLightningAddress(ctx, addr))
		require.NoError(t, objects.SaveLightningAddress(ctx, nil))
		fetched, err := objects.FetchLightningAddress(ctx)
		require.NoError(t, err)
		assert.Nil(t, fetched)
	})
}
