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

// SubmitConfidentialBid commits a bid on a confidential-mode auction. The
// amount and bidder identity are encrypted by the confidential-computation
// service before anything is stored; the running maximum is maintained by
// homomorphic compare-and-select, so no plaintext amount is ever stored or
// logged on this path.
func (r *Registry) SubmitConfidentialBid(ctx context.Context, auctionID string, bidder common.Address, amount *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Mode != domain.ModeConfidential {
		return domain.ErrWrongMode
	}
	if r.epoch >= a.DeadlineEpoch {
		return domain.ErrExpired
	}
	if a.State == domain.AuctionSettled {
		return domain.ErrAlreadySettled
	}

	encAmt, err := r.conf.EncryptAmount(ctx, amount)
	if err != nil {
		return fmt.Errorf("registry: encrypt bid: %w", err)
	}
	encOwner, err := r.conf.EncryptAddress(ctx, bidder)
	if err != nil {
		return fmt.Errorf("registry: encrypt bidder: %w", err)
	}

	if a.EncryptedBid != "" {
		maxAmt, maxOwner, err := r.conf.SelectMax(ctx, a.EncryptedBid, a.EncryptedBidder, encAmt, encOwner)
		if err != nil {
			return fmt.Errorf("registry: homomorphic select: %w", err)
		}
		a.EncryptedBid = maxAmt
		a.EncryptedBidder = maxOwner
	} else {
		a.EncryptedBid = encAmt
		a.EncryptedBidder = encOwner
	}

	rec := domain.BidRecord{
		AuctionID: a.ID,
		Handle:    encAmt,
		Epoch:     r.epoch,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.bidLog.Insert(ctx, rec); err != nil {
		r.logger.Warn("confidential bid log insert failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}

	r.persistUpdate(ctx, a)
	r.publish(ctx, domain.ChannelBid, map[string]any{
		"event":      "bid_accepted",
		"auction_id": a.ID,
		"pool":       a.PoolKey,
		"handle":     string(encAmt),
		"epoch":      r.epoch,
	})
	return nil
}

// RequestReveal triggers asynchronous decryption of the committed maximum
// bid, exactly once per auction. Controller operation.
func (r *Registry) RequestReveal(ctx context.Context, auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Mode != domain.ModeConfidential {
		return domain.ErrWrongMode
	}
	if a.State == domain.AuctionSettled {
		return domain.ErrAlreadySettled
	}
	if a.RevealRequested {
		return domain.ErrAlreadyRequested
	}
	if a.EncryptedBid == "" {
		return fmt.Errorf("registry: no confidential bid committed: %w", domain.ErrNotFound)
	}

	if err := r.conf.RequestDecrypt(ctx, a.EncryptedBid, a.EncryptedBidder); err != nil {
		return fmt.Errorf("registry: request decrypt: %w", err)
	}

	a.RevealRequested = true
	a.RevealEpoch = r.epoch
	r.persistUpdate(ctx, a)
	r.publish(ctx, domain.ChannelAuction, map[string]any{
		"event":      "reveal_requested",
		"auction_id": a.ID,
		"pool":       a.PoolKey,
		"epoch":      r.epoch,
	})
	return nil
}

// RevealWinner polls the decryption result. Until both the winning amount and
// the winner's identity are available it fails with ErrNotReady and changes
// nothing; once both are ready it atomically writes the plaintext highest
// bid/bidder pair and marks the auction settled.
func (r *Registry) RevealWinner(ctx context.Context, auctionID string) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if a.Mode != domain.ModeConfidential {
		return nil, domain.ErrWrongMode
	}
	if a.State == domain.AuctionSettled {
		return nil, domain.ErrAlreadySettled
	}
	if !a.RevealRequested {
		return nil, domain.ErrNotReady
	}

	amount, ready, err := r.conf.DecryptedAmount(ctx, a.EncryptedBid)
	if err != nil {
		return nil, fmt.Errorf("registry: poll decrypted amount: %w", err)
	}
	if !ready {
		return nil, domain.ErrNotReady
	}
	winner, ready, err := r.conf.DecryptedAddress(ctx, a.EncryptedBidder)
	if err != nil {
		return nil, fmt.Errorf("registry: poll decrypted bidder: %w", err)
	}
	if !ready {
		return nil, domain.ErrNotReady
	}

	a.HighestBid = amount
	a.HighestBidder = &winner
	r.markSettledLocked(ctx, a)

	r.publish(ctx, domain.ChannelSettlement, map[string]any{
		"event":      "auction_won",
		"auction_id": a.ID,
		"pool":       a.PoolKey,
		"winner":     winner.Hex(),
		"bid":        amount.String(),
	})

	r.logger.Info("confidential winner revealed",
		slog.String("auction_id", a.ID),
		slog.String("winner", winner.Hex()),
		slog.String("bid", amount.String()),
	)
	return copyAuction(a), nil
}

// ExpireReveal forfeits a confidential auction whose decryption has been
// pending longer than the configured timeout. With the timeout disabled
// (zero) it never fires and the registry waits on the service indefinitely.
func (r *Registry) ExpireReveal(ctx context.Context, auctionID string) (bool, error) {
	if r.cfg.RevealTimeoutEpochs == 0 {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if a.Mode != domain.ModeConfidential || a.State == domain.AuctionSettled || !a.RevealRequested {
		return false, nil
	}
	if r.epoch <= a.RevealEpoch+r.cfg.RevealTimeoutEpochs {
		return false, nil
	}

	// Forfeit: settle with no winner. The committed ciphertext is abandoned.
	r.markSettledLocked(ctx, a)
	r.logger.Warn("confidential auction forfeited on reveal timeout",
		slog.String("auction_id", a.ID),
		slog.Uint64("reveal_epoch", a.RevealEpoch),
		slog.Uint64("epoch", r.epoch),
	)
	return true, nil
}
