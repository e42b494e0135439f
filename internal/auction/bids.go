package auction

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevflow/auctiond/internal/domain"
)

// SubmitBid records a competitive bid on an open-mode auction. When a
// previous bidder exists their bid value is refunded before the new bid is
// accepted; if the refund fails the new bid is rejected so the displaced
// bidder's funds are never dropped.
func (r *Registry) SubmitBid(ctx context.Context, auctionID string, bidder common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Mode != domain.ModeOpen {
		return domain.ErrWrongMode
	}
	return r.acceptBidLocked(ctx, a, bidder, amount)
}

// acceptBidLocked runs the shared validate → refund → record sequence used by
// the open and stake-backed paths. Caller holds r.mu.
func (r *Registry) acceptBidLocked(ctx context.Context, a *domain.Auction, bidder common.Address, amount *big.Int) error {
	if err := r.validateBidLocked(a, amount); err != nil {
		return err
	}

	// Refund-then-accept: never hold more than one bidder's funds at risk.
	if a.HighestBidder != nil {
		if err := r.treasury.Transfer(ctx, *a.HighestBidder, a.HighestBid); err != nil {
			r.logger.Error("bid refund failed",
				slog.String("auction_id", a.ID),
				slog.String("previous_bidder", a.HighestBidder.Hex()),
				slog.String("amount", a.HighestBid.String()),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %s", domain.ErrRefundFailed, err)
		}
	}

	b := bidder
	a.HighestBid = new(big.Int).Set(amount)
	a.HighestBidder = &b

	rec := domain.BidRecord{
		AuctionID: a.ID,
		Bidder:    &b,
		Amount:    new(big.Int).Set(amount),
		Epoch:     r.epoch,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.bidLog.Insert(ctx, rec); err != nil {
		r.logger.Warn("bid log insert failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}

	r.persistUpdate(ctx, a)
	r.publish(ctx, domain.ChannelBid, map[string]any{
		"event":      "bid_accepted",
		"auction_id": a.ID,
		"pool":       a.PoolKey,
		"bidder":     b.Hex(),
		"amount":     amount.String(),
		"epoch":      r.epoch,
	})

	r.logger.Info("bid accepted",
		slog.String("auction_id", a.ID),
		slog.String("bidder", b.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}
