// Package auction owns the auction lifecycle: opportunity-gated creation,
// competitive bidding across the three modes, settlement, and value
// redistribution. All auction state is owned here and reached only through
// the Registry's API; external collaborators receive copies or explicit
// mutation requests, never live references.
package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mevflow/auctiond/internal/domain"
)

// Config holds the registry's tunable parameters.
type Config struct {
	// CreationThresholdWei is the minimum absolute expected value for an
	// auction to open. Defaults to 1e15 (0.001 native units).
	CreationThresholdWei *big.Int

	// DefaultMode is used for pools without an explicit mode override.
	DefaultMode domain.AuctionMode

	// RevealTimeoutEpochs forfeits a confidential auction whose decryption
	// has been pending for more than this many epochs. Zero disables the
	// timeout and waits on the service indefinitely.
	RevealTimeoutEpochs uint64

	// SettledRetention caps how many settled auctions stay queryable in
	// memory; older settled records are evicted after persistence and remain
	// available from the store. Zero means the default of 512.
	SettledRetention int
}

// Registry is the auction state machine. It enforces the at-most-one-active-
// auction-per-pool invariant and the monotonic highest-bid invariant, and
// serializes all mutations behind one mutex per registry; one instance owns
// a pool at a time.
type Registry struct {
	cfg      Config
	store    domain.AuctionStore
	bidLog   domain.BidStore
	bus      domain.SignalBus
	treasury domain.Treasury
	stakeReg domain.StakeRegistry
	conf     domain.ConfidentialService
	logger   *slog.Logger

	mu           sync.Mutex
	auctions     map[string]*domain.Auction
	activeByPool map[string]string
	modeByPool   map[string]domain.AuctionMode
	settled      []string // settle-order queue of retained settled IDs
	epoch        uint64
}

// NewRegistry creates a Registry. store, bidLog and bus may not be nil;
// treasury, stakeReg and conf are required by the corresponding bid paths.
func NewRegistry(
	cfg Config,
	store domain.AuctionStore,
	bidLog domain.BidStore,
	bus domain.SignalBus,
	treasury domain.Treasury,
	stakeReg domain.StakeRegistry,
	conf domain.ConfidentialService,
	logger *slog.Logger,
) *Registry {
	if cfg.CreationThresholdWei == nil || cfg.CreationThresholdWei.Sign() <= 0 {
		cfg.CreationThresholdWei = big.NewInt(1e15)
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = domain.ModeOpen
	}
	if cfg.SettledRetention <= 0 {
		cfg.SettledRetention = 512
	}
	return &Registry{
		cfg:          cfg,
		store:        store,
		bidLog:       bidLog,
		bus:          bus,
		treasury:     treasury,
		stakeReg:     stakeReg,
		conf:         conf,
		logger:       logger.With(slog.String("component", "auction_registry")),
		auctions:     make(map[string]*domain.Auction),
		activeByPool: make(map[string]string),
		modeByPool:   make(map[string]domain.AuctionMode),
	}
}

// AdvanceEpoch moves the registry's epoch clock forward. Epochs only advance.
func (r *Registry) AdvanceEpoch(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if epoch > r.epoch {
		r.epoch = epoch
	}
}

// CurrentEpoch returns the registry's epoch clock.
func (r *Registry) CurrentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

// SetPoolMode overrides the auction mode for a pool (controller operation).
func (r *Registry) SetPoolMode(poolKey string, mode domain.AuctionMode) error {
	switch mode {
	case domain.ModeOpen, domain.ModeConfidential, domain.ModeStakeBacked:
	default:
		return fmt.Errorf("registry: unknown auction mode %q", mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modeByPool[poolKey] = mode
	return nil
}

// Open creates an auction for the opportunity left by swap if the expected
// value clears the creation threshold and no auction is active on the pool.
// It returns (nil, false, nil) when no auction should open; that is the
// common case and not an error.
func (r *Registry) Open(ctx context.Context, swap domain.SwapContext, expectedValue *big.Int) (*domain.Auction, bool, error) {
	if expectedValue == nil || new(big.Int).Abs(expectedValue).Cmp(r.cfg.CreationThresholdWei) < 0 {
		return nil, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.activeByPool[swap.PoolKey]; ok {
		if a, exists := r.auctions[id]; exists && a.State == domain.AuctionActive {
			r.logger.Debug("auction already active for pool",
				slog.String("pool", swap.PoolKey),
				slog.String("auction_id", id),
			)
			return nil, false, nil
		}
	}

	mode, ok := r.modeByPool[swap.PoolKey]
	if !ok {
		mode = r.cfg.DefaultMode
	}

	minBid := new(big.Int).Div(new(big.Int).Abs(expectedValue), big.NewInt(10))
	a := &domain.Auction{
		ID:            uuid.New().String(),
		Pool:          swap.Pool,
		PoolKey:       swap.PoolKey,
		Mode:          mode,
		State:         domain.AuctionActive,
		ExpectedValue: new(big.Int).Set(expectedValue),
		MinBid:        minBid,
		HighestBid:    new(big.Int),
		CreatedEpoch:  r.epoch,
		DeadlineEpoch: r.epoch + 1,
		CreatedAt:     time.Now().UTC(),
	}
	if mode == domain.ModeStakeBacked {
		a.RequiresStake = true
		a.SlashAmount = new(big.Int).Mul(minBid, big.NewInt(2))
	}

	r.auctions[a.ID] = a
	r.activeByPool[a.PoolKey] = a.ID

	r.persistInsert(ctx, a)
	r.publish(ctx, domain.ChannelAuction, map[string]any{
		"event":          "auction_opened",
		"auction_id":     a.ID,
		"pool":           a.PoolKey,
		"mode":           string(a.Mode),
		"expected_value": a.ExpectedValue.String(),
		"min_bid":        a.MinBid.String(),
		"deadline_epoch": a.DeadlineEpoch,
	})

	r.logger.Info("auction opened",
		slog.String("auction_id", a.ID),
		slog.String("pool", a.PoolKey),
		slog.String("mode", string(a.Mode)),
		slog.String("expected_value", a.ExpectedValue.String()),
	)

	return copyAuction(a), true, nil
}

// Get returns a copy of the auction with the given ID.
func (r *Registry) Get(id string) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyAuction(a), nil
}

// ListRecent returns copies of up to limit auctions, newest first.
func (r *Registry) ListRecent(limit int) []*domain.Auction {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*domain.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		out = append(out, copyAuction(a))
	}
	// Newest first by creation time.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DueForSettlement returns copies of active auctions whose bidding window has
// closed as of closedEpoch. Confidential auctions with a committed encrypted
// bid are excluded; they settle through the reveal flow.
func (r *Registry) DueForSettlement(closedEpoch uint64) []*domain.Auction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*domain.Auction
	for _, a := range r.auctions {
		if a.State != domain.AuctionActive || a.DeadlineEpoch > closedEpoch+1 {
			continue
		}
		if a.Mode == domain.ModeConfidential && a.EncryptedBid != "" {
			continue
		}
		due = append(due, copyAuction(a))
	}
	return due
}

// RevealPending returns copies of confidential auctions waiting on the
// decryption service.
func (r *Registry) RevealPending() []*domain.Auction {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*domain.Auction
	for _, a := range r.auctions {
		if a.State == domain.AuctionActive && a.Mode == domain.ModeConfidential && a.EncryptedBid != "" {
			pending = append(pending, copyAuction(a))
		}
	}
	return pending
}

// Settle transitions an auction to SETTLED exactly once and returns the
// settled record. A settled auction with no winner expired worthless: no win
// event is emitted and no redistribution follows.
func (r *Registry) Settle(ctx context.Context, id string) (*domain.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if a.State == domain.AuctionSettled {
		return nil, domain.ErrAlreadySettled
	}

	r.markSettledLocked(ctx, a)

	if a.HighestBidder != nil {
		r.publish(ctx, domain.ChannelSettlement, map[string]any{
			"event":      "auction_won",
			"auction_id": a.ID,
			"pool":       a.PoolKey,
			"winner":     a.HighestBidder.Hex(),
			"bid":        a.HighestBid.String(),
		})
	}

	r.logger.Info("auction settled",
		slog.String("auction_id", a.ID),
		slog.String("pool", a.PoolKey),
		slog.Bool("has_winner", a.HighestBidder != nil),
	)

	return copyAuction(a), nil
}

// markSettledLocked flips the state, frees the pool's active slot, persists
// and emits the settlement notification. Caller holds r.mu.
func (r *Registry) markSettledLocked(ctx context.Context, a *domain.Auction) {
	now := time.Now().UTC()
	a.State = domain.AuctionSettled
	a.SettledAt = &now
	if r.activeByPool[a.PoolKey] == a.ID {
		delete(r.activeByPool, a.PoolKey)
	}

	r.persistUpdate(ctx, a)
	r.publish(ctx, domain.ChannelSettlement, map[string]any{
		"event":      "auction_settled",
		"auction_id": a.ID,
		"pool":       a.PoolKey,
		"epoch":      r.epoch,
	})

	// Bound the in-memory history; the store keeps the durable record.
	r.settled = append(r.settled, a.ID)
	for len(r.settled) > r.cfg.SettledRetention {
		delete(r.auctions, r.settled[0])
		r.settled = r.settled[1:]
	}
}

// validateBidLocked applies the shared temporal and price checks for a new
// bid. Caller holds r.mu.
func (r *Registry) validateBidLocked(a *domain.Auction, amount *big.Int) error {
	if r.epoch >= a.DeadlineEpoch {
		return domain.ErrExpired
	}
	if a.State == domain.AuctionSettled {
		return domain.ErrAlreadySettled
	}
	if amount == nil || amount.Cmp(a.MinBid) < 0 || amount.Cmp(a.HighestBid) <= 0 {
		return domain.ErrBidTooLow
	}
	return nil
}

// persistInsert and persistUpdate write through to the auction store. The
// in-memory record is authoritative; a store failure is surfaced in the log
// and does not block the lifecycle.
func (r *Registry) persistInsert(ctx context.Context, a *domain.Auction) {
	if err := r.store.Insert(ctx, *copyAuction(a)); err != nil {
		r.logger.Warn("registry: persist auction insert failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) persistUpdate(ctx context.Context, a *domain.Auction) {
	if err := r.store.Update(ctx, *copyAuction(a)); err != nil {
		r.logger.Warn("registry: persist auction update failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Registry) publish(ctx context.Context, channel string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("registry: marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Publish(ctx, channel, data); err != nil {
		r.logger.Warn("registry: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func copyAuction(a *domain.Auction) *domain.Auction {
	c := *a
	if a.ExpectedValue != nil {
		c.ExpectedValue = new(big.Int).Set(a.ExpectedValue)
	}
	if a.MinBid != nil {
		c.MinBid = new(big.Int).Set(a.MinBid)
	}
	if a.HighestBid != nil {
		c.HighestBid = new(big.Int).Set(a.HighestBid)
	}
	if a.HighestBidder != nil {
		addr := *a.HighestBidder
		c.HighestBidder = &addr
	}
	if a.SlashAmount != nil {
		c.SlashAmount = new(big.Int).Set(a.SlashAmount)
	}
	if a.SettledAt != nil {
		t := *a.SettledAt
		c.SettledAt = &t
	}
	return &c
}
