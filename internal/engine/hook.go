// Package engine drives the auction lifecycle from the exchange engine's
// hook feed: pre-trade events open swap contexts, post-trade events score
// opportunities and open auctions, and epoch-close events settle everything
// whose bidding window has ended.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/mevflow/auctiond/internal/auction"
	"github.com/mevflow/auctiond/internal/detector"
	"github.com/mevflow/auctiond/internal/domain"
	"github.com/mevflow/auctiond/internal/executor"
)

// Config holds hook parameters.
type Config struct {
	// AutoReveal requests decryption of committed confidential bids when
	// their bidding window closes, instead of waiting for the controller.
	AutoReveal bool
	// RevealPollInterval is how often pending reveals are polled.
	RevealPollInterval time.Duration
}

// Hook consumes engine events and orchestrates detection, auction creation
// and settlement. Swap contexts are held only from pre-trade to final
// settlement of the auction they produced; they never outlive that.
type Hook struct {
	cfg      Config
	det      *detector.Detector
	reg      *auction.Registry
	exec     *executor.Executor
	redist   *auction.Redistributor
	audit    domain.AuditStore
	notifier domain.Notifier
	bus      domain.SignalBus
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]domain.SwapContext // pool key → swap in the current epoch
	pending  map[string]domain.SwapContext // auction ID → swap awaiting settlement
}

// New creates a Hook. notifier may be nil.
func New(
	cfg Config,
	det *detector.Detector,
	reg *auction.Registry,
	exec *executor.Executor,
	redist *auction.Redistributor,
	audit domain.AuditStore,
	notifier domain.Notifier,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Hook {
	if cfg.RevealPollInterval <= 0 {
		cfg.RevealPollInterval = 500 * time.Millisecond
	}
	return &Hook{
		cfg:      cfg,
		det:      det,
		reg:      reg,
		exec:     exec,
		redist:   redist,
		audit:    audit,
		notifier: notifier,
		bus:      bus,
		logger:   logger.With(slog.String("component", "engine_hook")),
		inFlight: make(map[string]domain.SwapContext),
		pending:  make(map[string]domain.SwapContext),
	}
}

// Run consumes events until ctx is cancelled or the channel closes, polling
// pending confidential reveals in between.
func (h *Hook) Run(ctx context.Context, events <-chan domain.EngineEvent) error {
	h.logger.Info("engine hook started")
	defer h.logger.Info("engine hook stopped")

	ticker := time.NewTicker(h.cfg.RevealPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.pollReveals(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := h.Handle(ctx, ev); err != nil {
				h.logger.Warn("engine event handling failed",
					slog.String("type", string(ev.Type)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Handle dispatches a single engine event.
func (h *Hook) Handle(ctx context.Context, ev domain.EngineEvent) error {
	switch ev.Type {
	case domain.EventEpochOpen:
		h.reg.AdvanceEpoch(ev.Epoch)
		return nil
	case domain.EventPreTrade:
		h.BeforeSwap(ev)
		return nil
	case domain.EventPostTrade:
		return h.AfterSwap(ctx, ev)
	case domain.EventEpochClose:
		return h.OnEpochClose(ctx, ev.Epoch)
	default:
		return fmt.Errorf("engine: unknown event type %q", ev.Type)
	}
}

// BeforeSwap records the swap context for the in-flight trade.
func (h *Hook) BeforeSwap(ev domain.EngineEvent) {
	swap := swapFromEvent(ev)
	h.mu.Lock()
	h.inFlight[swap.PoolKey] = swap
	h.mu.Unlock()
}

// AfterSwap scores the completed trade and opens an auction when the
// opportunity clears the threshold.
func (h *Hook) AfterSwap(ctx context.Context, ev domain.EngineEvent) error {
	poolKey := ev.Pool.Key()

	h.mu.Lock()
	swap, ok := h.inFlight[poolKey]
	delete(h.inFlight, poolKey)
	h.mu.Unlock()
	if !ok {
		// Post-trade without pre-trade: build the context from the event.
		swap = swapFromEvent(ev)
	}

	impactBps, expectedValue := h.det.Evaluate(swap)
	a, created, err := h.reg.Open(ctx, swap, expectedValue)
	if err != nil {
		return fmt.Errorf("engine: open auction: %w", err)
	}
	if !created {
		return nil
	}

	h.mu.Lock()
	h.pending[a.ID] = swap
	h.mu.Unlock()

	h.logger.Info("opportunity auctioned",
		slog.String("auction_id", a.ID),
		slog.String("pool", poolKey),
		slog.Int64("impact_bps", impactBps),
	)
	return nil
}

// OnEpochClose settles every auction whose bidding window ended with the
// given epoch. Confidential auctions holding a committed bid go through the
// reveal path instead; with AutoReveal set the decryption request is issued
// here.
func (h *Hook) OnEpochClose(ctx context.Context, epoch uint64) error {
	h.reg.AdvanceEpoch(epoch + 1)

	for _, a := range h.reg.DueForSettlement(epoch) {
		settled, err := h.reg.Settle(ctx, a.ID)
		if err != nil {
			h.logger.Warn("settlement failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		h.finalize(ctx, settled)
	}

	if h.cfg.AutoReveal {
		for _, a := range h.reg.RevealPending() {
			if a.RevealRequested || a.DeadlineEpoch > epoch+1 {
				continue
			}
			if err := h.reg.RequestReveal(ctx, a.ID); err != nil {
				h.logger.Warn("auto reveal request failed",
					slog.String("auction_id", a.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

// Reveal completes a pending confidential reveal on demand: the winner is
// installed through the registry and the settled auction immediately runs
// back-run execution and redistribution, the same path a poll pass takes.
func (h *Hook) Reveal(ctx context.Context, id string) (*domain.Auction, error) {
	settled, err := h.reg.RevealWinner(ctx, id)
	if err != nil {
		return nil, err
	}
	h.finalize(ctx, settled)
	return settled, nil
}

// pollReveals completes confidential settlements whose decryption results
// have arrived, and forfeits the ones past the reveal timeout.
func (h *Hook) pollReveals(ctx context.Context) {
	for _, a := range h.reg.RevealPending() {
		if !a.RevealRequested {
			continue
		}
		settled, err := h.reg.RevealWinner(ctx, a.ID)
		switch {
		case err == nil:
			h.finalize(ctx, settled)
		case errors.Is(err, domain.ErrNotReady):
			if _, expErr := h.reg.ExpireReveal(ctx, a.ID); expErr != nil {
				h.logger.Warn("reveal expiry check failed",
					slog.String("auction_id", a.ID),
					slog.String("error", expErr.Error()),
				)
			}
		default:
			h.logger.Warn("reveal poll failed",
				slog.String("auction_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// finalize runs the post-settlement path for one settled auction: back-run
// execution for a winner, then value redistribution. A back-run failure is
// reported and redistribution is skipped; the settlement itself stands.
func (h *Hook) finalize(ctx context.Context, a *domain.Auction) {
	h.mu.Lock()
	swap, hadSwap := h.pending[a.ID]
	delete(h.pending, a.ID)
	h.mu.Unlock()

	if a.HighestBidder == nil {
		// Expired worthless.
		h.auditLog(ctx, "auction.expired_worthless", map[string]any{
			"auction_id": a.ID,
			"pool":       a.PoolKey,
		})
		return
	}
	if !hadSwap {
		h.logger.Error("settled auction has no swap context, skipping back-run",
			slog.String("auction_id", a.ID),
		)
		return
	}

	out := h.exec.ExecuteBackRun(ctx, a, swap)
	h.publishOutcome(ctx, a, out)

	if !out.Executed {
		h.notify(ctx, "Back-run failed",
			fmt.Sprintf("auction %s on pool %s: %s", a.ID, a.PoolKey, out.FailureReason))
		h.auditLog(ctx, "backrun.failed", map[string]any{
			"auction_id": a.ID,
			"pool":       a.PoolKey,
			"reason":     out.FailureReason,
		})
		return
	}

	// Captured value: the winner's payment plus any realized execution gain.
	captured := new(big.Int).Set(a.HighestBid)
	if out.CapturedValue != nil {
		captured.Add(captured, out.CapturedValue)
	}

	rebate, reward, err := h.redist.Redistribute(ctx, captured, a.PoolKey, swap.OriginalTrader)
	if err != nil {
		h.logger.Error("redistribution failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.auditLog(ctx, "auction.finalized", map[string]any{
		"auction_id": a.ID,
		"pool":       a.PoolKey,
		"winner":     a.HighestBidder.Hex(),
		"bid":        a.HighestBid.String(),
		"captured":   captured.String(),
		"rebate":     rebate.String(),
		"reward":     reward.String(),
	})
	h.notify(ctx, "Auction won",
		fmt.Sprintf("auction %s won by %s for %s", a.ID, a.HighestBidder.Hex(), a.HighestBid.String()))
}

func (h *Hook) publishOutcome(ctx context.Context, a *domain.Auction, out domain.BackRunOutcome) {
	name := "back_run_executed"
	if !out.Executed {
		name = "back_run_failed"
	}
	payload := map[string]any{
		"event":      name,
		"auction_id": a.ID,
		"pool":       a.PoolKey,
	}
	if out.Size != nil {
		payload["size"] = out.Size.String()
	}
	if out.Executed && out.CapturedValue != nil {
		payload["captured"] = out.CapturedValue.String()
	}
	if out.FailureReason != "" {
		payload["reason"] = out.FailureReason
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, domain.ChannelSettlement, data); err != nil {
		h.logger.Warn("publish back-run outcome failed", slog.String("error", err.Error()))
	}
}

func (h *Hook) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := h.audit.Log(ctx, event, detail); err != nil {
		h.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Hook) notify(ctx context.Context, title, message string) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Send(ctx, title, message); err != nil {
		h.logger.Warn("notification failed",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
	}
}

func swapFromEvent(ev domain.EngineEvent) domain.SwapContext {
	swap := domain.SwapContext{
		Pool:           ev.Pool,
		PoolKey:        ev.Pool.Key(),
		OriginalTrader: ev.Trader,
		ZeroForOne:     ev.ZeroForOne,
		AuxiliaryData:  ev.AuxData,
		Epoch:          ev.Epoch,
	}
	if ev.Amount != nil {
		swap.AmountRequested = new(big.Int).Set(ev.Amount)
	}
	if ev.PriceLimit != nil {
		swap.PriceLimit = new(big.Int).Set(ev.PriceLimit)
	}
	return swap
}
