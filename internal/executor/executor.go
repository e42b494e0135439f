// Package executor sizes and submits the counter-trade for a settled
// auction's winner. Submission failures are reported as outcomes, never as
// errors: settlement must proceed to redistribute whatever value exists.
package executor

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/mevflow/auctiond/internal/domain"
)

const (
	referenceFeePPM = 3000
	referenceTick   = 60
)

// Config holds the sizing parameters.
type Config struct {
	// MaxSizeCeiling caps the back-run size on a reference pool. Defaults
	// to 1000 native units.
	MaxSizeCeiling *big.Int
	// MinViableSize is the gas/cost floor under which no trade is worth
	// submitting. Defaults to 0.01 native units.
	MinViableSize *big.Int
}

// Executor submits back-runs through the exchange engine boundary.
type Executor struct {
	cfg    Config
	engine domain.ExchangeEngine
	logger *slog.Logger
}

// New creates an Executor.
func New(cfg Config, engine domain.ExchangeEngine, logger *slog.Logger) *Executor {
	if cfg.MaxSizeCeiling == nil || cfg.MaxSizeCeiling.Sign() <= 0 {
		cfg.MaxSizeCeiling = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	}
	if cfg.MinViableSize == nil || cfg.MinViableSize.Sign() <= 0 {
		cfg.MinViableSize = big.NewInt(1e16)
	}
	return &Executor{
		cfg:    cfg,
		engine: engine,
		logger: logger.With(slog.String("component", "executor")),
	}
}

// BackRunSize computes the trade size for an auction: two thirds of the
// expected value, capped by what the market tolerates. The market cap is the
// inverse of the detector's impact adjustment, so tighter-fee and finer
// markets tolerate larger back-runs.
func (e *Executor) BackRunSize(a *domain.Auction) *big.Int {
	if a.ExpectedValue == nil || a.ExpectedValue.Sign() <= 0 {
		return new(big.Int)
	}

	size := new(big.Int).Abs(a.ExpectedValue)
	size.Mul(size, big.NewInt(2))
	size.Div(size, big.NewInt(3))

	maxSize := e.maxSizeForMarket(a.Pool)
	if size.Cmp(maxSize) > 0 {
		size = maxSize
	}
	return size
}

func (e *Executor) maxSizeForMarket(pool domain.Pool) *big.Int {
	feePPM := pool.FeeRatePPM
	if feePPM <= 0 {
		feePPM = referenceFeePPM
	}
	tick := pool.TickGranularity
	if tick <= 0 {
		tick = referenceTick
	}

	maxSize := new(big.Int).Mul(e.cfg.MaxSizeCeiling, big.NewInt(referenceFeePPM))
	maxSize.Mul(maxSize, big.NewInt(referenceTick))
	maxSize.Div(maxSize, big.NewInt(feePPM))
	maxSize.Div(maxSize, big.NewInt(tick))
	return maxSize
}

// ExecuteBackRun submits the counter-trade in the opposite direction of the
// original swap. An undersized opportunity returns a skipped outcome without
// touching the engine; a submission failure returns a failed outcome with the
// reason attached. Neither is an error to the caller.
func (e *Executor) ExecuteBackRun(ctx context.Context, a *domain.Auction, swap domain.SwapContext) domain.BackRunOutcome {
	size := e.BackRunSize(a)
	if size.Cmp(e.cfg.MinViableSize) < 0 {
		e.logger.Debug("back-run below minimum viable size",
			slog.String("auction_id", a.ID),
			slog.String("size", size.String()),
		)
		return domain.BackRunOutcome{Executed: false, Size: size, FailureReason: "below minimum viable size"}
	}

	// Conservative bound: the original trade's own limit is the worst price
	// the counter-trade can be asked to accept.
	var priceLimit *big.Int
	if swap.PriceLimit != nil {
		priceLimit = new(big.Int).Set(swap.PriceLimit)
	}

	delta, err := e.engine.SubmitBackRun(ctx, a.Pool, !swap.ZeroForOne, size, priceLimit)
	if err != nil {
		e.logger.Warn("back-run submission failed",
			slog.String("auction_id", a.ID),
			slog.String("pool", a.PoolKey),
			slog.String("size", size.String()),
			slog.String("error", err.Error()),
		)
		return domain.BackRunOutcome{Executed: false, Size: size, FailureReason: err.Error()}
	}

	captured := new(big.Int)
	if delta != nil && delta.Sign() > 0 {
		captured.Set(delta)
	}

	e.logger.Info("back-run executed",
		slog.String("auction_id", a.ID),
		slog.String("pool", a.PoolKey),
		slog.String("size", size.String()),
		slog.String("captured", captured.String()),
	)
	return domain.BackRunOutcome{Executed: true, Size: size, CapturedValue: captured}
}
