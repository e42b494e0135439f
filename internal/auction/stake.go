package auction

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevflow/auctiond/internal/domain"
)

// SubmitStakeBid is the stake-backed bidding path: the caller must hold
// registered stake, then the bid behaves exactly like an open-mode bid.
func (r *Registry) SubmitStakeBid(ctx context.Context, auctionID string, bidder common.Address, amount *big.Int) error {
	registered, err := r.stakeReg.IsRegistered(ctx, bidder)
	if err != nil {
		return fmt.Errorf("registry: stake registry lookup for %s: %w", bidder.Hex(), err)
	}
	if !registered {
		return domain.ErrNotStaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Mode != domain.ModeStakeBacked {
		return domain.ErrWrongMode
	}
	return r.acceptBidLocked(ctx, a, bidder, amount)
}

// Slash marks the auction's winning bidder as slashed and forwards the
// penalty signal to the external stake registry. The core never moves staked
// funds itself. Controller operation.
func (r *Registry) Slash(ctx context.Context, auctionID string, bidder common.Address) error {
	r.mu.Lock()
	a, ok := r.auctions[auctionID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	if a.Mode != domain.ModeStakeBacked {
		r.mu.Unlock()
		return domain.ErrWrongMode
	}
	if a.HighestBidder == nil || *a.HighestBidder != bidder {
		r.mu.Unlock()
		return fmt.Errorf("registry: slash target %s is not the highest bidder: %w", bidder.Hex(), domain.ErrNotFound)
	}
	if a.IsSlashed {
		r.mu.Unlock()
		return domain.ErrAlreadySlashed
	}

	a.IsSlashed = true
	slashAmount := new(big.Int).Set(a.SlashAmount)
	r.persistUpdate(ctx, a)
	r.publish(ctx, domain.ChannelSlash, map[string]any{
		"event":        "slashing_applied",
		"auction_id":   a.ID,
		"pool":         a.PoolKey,
		"bidder":       bidder.Hex(),
		"slash_amount": slashAmount.String(),
	})
	r.mu.Unlock()

	if err := r.stakeReg.ReportSlash(ctx, bidder, slashAmount, auctionID); err != nil {
		// The local mark stands; the registry's enforcement path is the
		// external system's responsibility and is not retried here.
		r.logger.Error("slash report to stake registry failed",
			slog.String("auction_id", auctionID),
			slog.String("bidder", bidder.Hex()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("registry: report slash: %w", err)
	}

	r.logger.Info("bidder slashed",
		slog.String("auction_id", auctionID),
		slog.String("bidder", bidder.Hex()),
		slog.String("slash_amount", slashAmount.String()),
	)
	return nil
}
