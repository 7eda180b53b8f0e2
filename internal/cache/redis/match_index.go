package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// matchIndexTTL bounds how long a memoized match set survives without reads.
// The matcher re-derives from the registry scan, so expiry only costs a
// re-scan.
const matchIndexTTL = 30 * time.Minute

// MatchIndexCache implements domain.MatchIndexCache using Redis hashes.
//
// Key schema:
//
//	match:{termsHash} - hash with "ids" (comma-joined) and "nonce" fields
type MatchIndexCache struct {
	rdb *redis.Client
}

// NewMatchIndexCache creates a MatchIndexCache backed by the given Client.
func NewMatchIndexCache(c *Client) *MatchIndexCache {
	return &MatchIndexCache{rdb: c.Underlying()}
}

func matchKey(termsHash string) string {
	return "match:" + termsHash
}

// Get returns the memoized match set and the nonce it is valid up to.
// A miss returns an empty set with nonce zero and no error.
func (mc *MatchIndexCache) Get(ctx context.Context, termsHash string) ([]uint64, uint64, error) {
	fields, err := mc.rdb.HGetAll(ctx, matchKey(termsHash)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis: match index get %s: %w", termsHash, err)
	}
	if len(fields) == 0 {
		return nil, 0, nil
	}

	nonce, err := strconv.ParseUint(fields["nonce"], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("redis: match index nonce %s: %w", termsHash, err)
	}

	var ids []uint64
	if raw := fields["ids"]; raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(part, 10, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("redis: match index ids %s: %w", termsHash, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nonce, nil
}

// Put stores the match set together with the nonce the scan covered.
func (mc *MatchIndexCache) Put(ctx context.Context, termsHash string, ids []uint64, upToNonce uint64) error {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}

	key := matchKey(termsHash)
	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"ids", strings.Join(parts, ","),
		"nonce", strconv.FormatUint(upToNonce, 10),
	)
	pipe.Expire(ctx, key, matchIndexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: match index put %s: %w", termsHash, err)
	}
	return nil
}

// Invalidate drops the memoized set for a terms hash.
func (mc *MatchIndexCache) Invalidate(ctx context.Context, termsHash string) error {
	if err := mc.rdb.Del(ctx, matchKey(termsHash)).Err(); err != nil {
		return fmt.Errorf("redis: match index invalidate %s: %w", termsHash, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MatchIndexCache = (*MatchIndexCache)(nil)
