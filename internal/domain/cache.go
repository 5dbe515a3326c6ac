package domain

import (
	"context"
	"time"
)

// LockManager provides distributed mutual exclusion, used to keep settlement
// single-flight per market across processes.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function. Returns ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds how often a key may perform an action.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// EventsChannel carries every core event (trades, settlements, market
// lifecycle). Payloads are JSON and identify their market.
const EventsChannel = "events"

// SignalBus publishes core events (trades, settlements) for push delivery to
// subscribers. The core never depends on anyone listening.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// BlobWriter stores named blobs in object storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
