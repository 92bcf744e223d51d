package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache map[string]string

func (m mapCache) GetCachedItem(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapCache) SetCachedItem(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m mapCache) DeleteCachedItem(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func TestObjectCache_RoundTrips(t *testing.T) {
	ctx := context.Background()
	raw := mapCache{}
	oc := NewObjectCache(raw)

	info, err := oc.FetchAccountInfo(ctx)
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, oc.SaveAccountInfo(ctx, AccountInfo{BalanceSats: 21, TokenBalances: map[string]string{"btkn1": "5"}}))
	info, err = oc.FetchAccountInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, &AccountInfo{BalanceSats: 21, TokenBalances: map[string]string{"btkn1": "5"}}, info)
	assert.JSONEq(t, `{"balance_sats":21,"token_balances":{"btkn1":"5"}}`, raw["account_info"])

	require.NoError(t, oc.SaveSyncInfo(ctx, SyncInfo{Offset: 42}))
	si, err := oc.FetchSyncInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), si.Offset)

	require.NoError(t, oc.SaveTx(ctx, "abc", "0200"))
	tx, ok, err := oc.FetchTx(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0200", tx)
	assert.Contains(t, raw, "tx_cache-abc")
}

func TestObjectCache_SaveNilLightningAddressDeletes(t *testing.T) {
	ctx := context.Background()
	oc := NewObjectCache(mapCache{})

	require.NoError(t, oc.SaveLightningAddress(ctx, &LightningAddress{Address: "a@b.c", Username: "a"}))
	got, err := oc.FetchLightningAddress(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@b.c", got.Address)

	require.NoError(t, oc.SaveLightningAddress(ctx, nil))
	got, err = oc.FetchLightningAddress(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestObjectCache_CorruptValue(t *testing.T) {
	oc := NewObjectCache(mapCache{"static_deposit_address": "{"})
	_, err := oc.FetchStaticDepositAddress(context.Background())
	assert.Error(t, err)
}
