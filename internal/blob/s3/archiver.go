package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mevflow/auctiond/internal/domain"
)

// AuctionArchiveStore is the narrow read surface the archiver needs from the
// auction store: settled auctions past the retention cutoff.
type AuctionArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Auction, error)
}

// BidArchiveStore provides each auction's bid trail.
type BidArchiveStore interface {
	ListByAuction(ctx context.Context, auctionID string) ([]domain.BidRecord, error)
}

// Archiver uploads settled auctions, with their accepted bids, to blob
// storage as one JSON document per auction.
//
// Deletion of archived records from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type Archiver struct {
	writer domain.BlobWriter
	store  AuctionArchiveStore
	bids   BidArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, store AuctionArchiveStore, bids BidArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		bids:   bids,
		audit:  audit,
	}
}

// archiveRecord is the document uploaded per settled auction.
type archiveRecord struct {
	Auction domain.Auction     `json:"auction"`
	Bids    []domain.BidRecord `json:"bids,omitempty"`
}

// ArchiveSettled uploads every auction settled before the cutoff to
// auctions/YYYY/MM/DD/<id>.json, keyed by settlement date, and records the
// run in the audit log. It returns the number of auctions archived.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	auctions, err := a.store.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled query: %w", err)
	}
	if len(auctions) == 0 {
		return 0, nil
	}

	var count int64
	for _, auction := range auctions {
		bids, err := a.bids.ListByAuction(ctx, auction.ID)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive bids for %s: %w", auction.ID, err)
		}

		doc, err := json.Marshal(archiveRecord{Auction: auction, Bids: bids})
		if err != nil {
			return count, fmt.Errorf("s3blob: archive marshal %s: %w", auction.ID, err)
		}

		path := archivePath(auction)
		if err := a.writer.Put(ctx, path, doc, "application/json"); err != nil {
			return count, fmt.Errorf("s3blob: archive upload %s: %w", auction.ID, err)
		}
		count++
	}

	if err := a.audit.Log(ctx, "archive.auctions", map[string]any{
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the object key for one settled auction, partitioned by
// settlement date:
//
//	auctions/2026/08/31/0b5c….json
func archivePath(a domain.Auction) string {
	settled := a.CreatedAt
	if a.SettledAt != nil {
		settled = *a.SettledAt
	}
	return fmt.Sprintf("auctions/%s/%s.json", settled.UTC().Format("2006/01/02"), a.ID)
}
