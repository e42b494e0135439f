package domain

import (
	"context"
	"time"
)

// Notification channels published on the signal bus. Each event carries the
// identifiers and amounts needed to reconstruct system state from the log.
const (
	ChannelAuction    = "ch:auction"
	ChannelBid        = "ch:bid"
	ChannelSettlement = "ch:settlement"
	ChannelReward     = "ch:reward"
	ChannelSlash      = "ch:slash"
)

// StreamMessage is a single durable message read from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub messaging between components and out to API
// WebSocket clients. Notifications are observability, not correctness: a
// failed publish is logged, never propagated into settlement.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter limits request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Locker provides a distributed mutual-exclusion primitive used to serialize
// per-pool mutations when more than one auctiond instance runs against the
// same engine.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(ctx context.Context) error, err error)
}
