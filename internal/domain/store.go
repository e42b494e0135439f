package domain

import (
	"context"
	"math/big"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuctionStore persists auction records and their state transitions.
type AuctionStore interface {
	Insert(ctx context.Context, a Auction) error
	Update(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	ListRecent(ctx context.Context, limit int) ([]Auction, error)
	ListByPool(ctx context.Context, poolKey string, opts ListOpts) ([]Auction, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Auction, error)
}

// BidStore persists accepted bids for the audit trail.
type BidStore interface {
	Insert(ctx context.Context, b BidRecord) error
	ListByAuction(ctx context.Context, auctionID string) ([]BidRecord, error)
}

// RewardStore snapshots the per-pool pending reward ledger.
type RewardStore interface {
	Set(ctx context.Context, poolKey string, pending *big.Int) error
	Get(ctx context.Context, poolKey string) (*big.Int, error)
	All(ctx context.Context) (map[string]*big.Int, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of privileged operations and
// settlement outcomes.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
