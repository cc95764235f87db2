package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const listCacheVersionKey = "ledger:accounts:version"

// ListCache keeps merchant listings in redis for a short TTL. Balances are
// never cached here; the account row is the authoritative fast path.
// Invalidation bumps a version counter so stale keys simply expire.
type ListCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewListCache(client *redis.Client, ttl time.Duration) *ListCache {
	return &ListCache{client: client, ttl: ttl}
}

type cachedListing struct {
	Accounts []Account `json:"accounts"`
	Total    int       `json:"total"`
}

func (c *ListCache) key(ctx context.Context, req ListAccountsRequest) (string, error) {
	version, err := c.client.Get(ctx, listCacheVersionKey).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return fmt.Sprintf("ledger:accounts:v%d:%d:%d", version, req.Limit, req.Offset), nil
}

func (c *ListCache) Get(ctx context.Context, req ListAccountsRequest) ([]Account, int, bool) {
	key, err := c.key(ctx, req)
	if err != nil {
		return nil, 0, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, 0, false
	}
	var listing cachedListing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, 0, false
	}
	return listing.Accounts, listing.Total, true
}

func (c *ListCache) Set(ctx context.Context, req ListAccountsRequest, accounts []Account, total int) {
	key, err := c.key(ctx, req)
	if err != nil {
		return
	}
	raw, err := json.Marshal(cachedListing{Accounts: accounts, Total: total})
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate drops all cached listings by moving to a fresh version.
func (c *ListCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, listCacheVersionKey).Err()
}
