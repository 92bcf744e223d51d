package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Well-known cache keys.
const (
	accountInfoKey          = "account_info"
	syncOffsetKey           = "sync_offset"
	staticDepositAddressKey = "static_deposit_address"
	lightningAddressKey     = "lightning_address"
	txCacheKeyPrefix        = "tx_cache-"
)

// AccountInfo is the last known wallet balance.
type AccountInfo struct {
	BalanceSats   uint64            `json:"balance_sats"`
	TokenBalances map[string]string `json:"token_balances,omitempty"` // identifier -> amount
}

// SyncInfo is the payment history sync offset.
type SyncInfo struct {
	Offset uint64 `json:"offset"`
}

type StaticDepositAddress struct {
	Address string `json:"address"`
}

type LightningAddress struct {
	Address     string `json:"lightning_address"`
	Username    string `json:"username"`
	Description string `json:"description"`
	Lnurl       string `json:"lnurl"`
}

// ObjectCache layers typed JSON values over a CacheStore.
type ObjectCache struct {
	cache CacheStore
}

// NewObjectCache wraps c.
func NewObjectCache(c CacheStore) *ObjectCache {
	return &ObjectCache{cache: c}
}

func (o *ObjectCache) SaveAccountInfo(ctx context.Context, info AccountInfo) error {
	return setJSON(ctx, o.cache, accountInfoKey, info)
}

// FetchAccountInfo returns nil when nothing is cached.
func (o *ObjectCache) FetchAccountInfo(ctx context.Context) (*AccountInfo, error) {
	return getJSON[AccountInfo](ctx, o.cache, accountInfoKey)
}

func (o *ObjectCache) SaveSyncInfo(ctx context.Context, info SyncInfo) error {
	return setJSON(ctx, o.cache, syncOffsetKey, info)
}

func (o *ObjectCache) FetchSyncInfo(ctx context.Context) (*SyncInfo, error) {
	return getJSON[SyncInfo](ctx, o.cache, syncOffsetKey)
}

func (o *ObjectCache) SaveStaticDepositAddress(ctx context.Context, addr StaticDepositAddress) error {
	return setJSON(ctx, o.cache, staticDepositAddressKey, addr)
}

func (o *ObjectCache) FetchStaticDepositAddress(ctx context.Context) (*StaticDepositAddress, error) {
	return getJSON[StaticDepositAddress](ctx, o.cache, staticDepositAddressKey)
}

// SaveLightningAddress stores addr, or deletes the entry when addr is nil.
func (o *ObjectCache) SaveLightningAddress(ctx context.Context, addr *LightningAddress) error {
	if addr == nil {
		return o.cache.DeleteCachedItem(ctx, lightningAddressKey)
	}
	return setJSON(ctx, o.cache, lightningAddressKey, addr)
}

func (o *ObjectCache) FetchLightningAddress(ctx context.Context) (*LightningAddress, error) {
	return getJSON[LightningAddress](ctx, o.cache, lightningAddressKey)
}

// SaveTx caches a raw transaction by id.
func (o *ObjectCache) SaveTx(ctx context.Context, txid, rawTx string) error {
	return o.cache.SetCachedItem(ctx, txCacheKeyPrefix+txid, rawTx)
}

func (o *ObjectCache) FetchTx(ctx context.Context, txid string) (string, bool, error) {
	return o.cache.GetCachedItem(ctx, txCacheKeyPrefix+txid)
}

func setJSON(ctx context.Context, c CacheStore, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache %s: marshal: %w", key, err)
	}
	return c.SetCachedItem(ctx, key, string(data))
}

func getJSON[T any](ctx context.Context, c CacheStore, key string) (*T, error) {
	raw, ok, err := c.GetCachedItem(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("cache %s: unmarshal: %w", key, err)
	}
	return &v, nil
}
