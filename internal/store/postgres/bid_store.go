package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mevflow/auctiond/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// Insert appends an accepted bid. Confidential bids carry a handle and NULL
// bidder/amount; nothing plaintext from a confidential bid reaches this table.
func (s *BidStore) Insert(ctx context.Context, b domain.BidRecord) error {
	const query = `
		INSERT INTO bids (auction_id, bidder, amount, handle, epoch, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		b.AuctionID, addrText(b.Bidder), numericPtrText(b.Amount),
		string(b.Handle), b.Epoch, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bid for auction %s: %w", b.AuctionID, err)
	}
	return nil
}

// ListByAuction returns an auction's accepted bids in arrival order.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.BidRecord, error) {
	const query = `
		SELECT auction_id, bidder, amount::text, handle, epoch, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []domain.BidRecord
	for rows.Next() {
		var (
			b              domain.BidRecord
			bidder, amount *string
		)
		if err := rows.Scan(&b.AuctionID, &bidder, &amount, &b.Handle, &b.Epoch, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		if bidder != nil {
			addr := common.HexToAddress(*bidder)
			b.Bidder = &addr
		}
		if amount != nil {
			v, ok := new(big.Int).SetString(*amount, 10)
			if !ok {
				return nil, fmt.Errorf("postgres: bad bid amount %q", *amount)
			}
			b.Amount = v
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return bids, nil
}
