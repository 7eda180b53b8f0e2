package domain

import (
	"context"
	"time"
)

// MatchIndexCache memoizes FindMatches results keyed by the terms hash and
// the id range the scan covered. A cached entry is only valid for reads up to
// its nonce; the matcher re-scans the tail beyond it.
type MatchIndexCache interface {
	Get(ctx context.Context, termsHash string) (ids []uint64, upToNonce uint64, err error)
	Put(ctx context.Context, termsHash string, ids []uint64, upToNonce uint64) error
	Invalidate(ctx context.Context, termsHash string) error
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for protocol events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter provides distributed rate limiting for the API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking, used to keep a single archiver
// run active across replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
