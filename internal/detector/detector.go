// Package detector scores a pending trade's price impact and estimates the
// value extractable by an immediate counter-trade. All functions are pure and
// total: any input, including nil or extreme amounts, produces a result
// rather than a panic.
package detector

import (
	"log/slog"
	"math/big"

	"github.com/mevflow/auctiond/internal/domain"
)

const (
	// impactCapBps caps the impact estimate at 10%.
	impactCapBps = 1000

	// referenceFeePPM and referenceTick anchor the fee and granularity
	// adjustments; a pool at the reference values carries no adjustment.
	referenceFeePPM = 3000
	referenceTick   = 60
)

var (
	// sizeNormalization relates trade size to impact: a trade of this size
	// on a reference pool scores 10000 bps before capping.
	sizeNormalization = new(big.Int).Mul(big.NewInt(100_000), big.NewInt(1e18))

	bps10000 = big.NewInt(10000)

	// conservatism discounts the raw estimate by 20% to approximate
	// execution and slippage costs.
	conservatismNum = big.NewInt(4)
	conservatismDen = big.NewInt(5)
)

// Config holds the tunable detection parameters.
type Config struct {
	// MinImpactBps is the floor below which no opportunity is reported.
	MinImpactBps int64
}

// Detector estimates impact and extractable value for in-flight trades.
type Detector struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Detector. A zero MinImpactBps falls back to the 50 bps default.
func New(cfg Config, logger *slog.Logger) *Detector {
	if cfg.MinImpactBps <= 0 {
		cfg.MinImpactBps = 50
	}
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// EstimateImpact scores the price impact of a trade of the given size on the
// given pool, in basis points capped at 1000. The estimate scales linearly
// with trade size, directly with the pool's fee rate, and directly with tick
// granularity (finer grids absorb size with less displacement).
func (d *Detector) EstimateImpact(pool domain.Pool, tradeSize *big.Int) int64 {
	size := absBig(tradeSize)
	if size.Sign() == 0 {
		return 0
	}

	feePPM := pool.FeeRatePPM
	if feePPM <= 0 {
		feePPM = referenceFeePPM
	}
	tick := pool.TickGranularity
	if tick <= 0 {
		tick = referenceTick
	}

	// size/norm * 10000 * fee/refFee * tick/refTick, all in one big ratio
	// so intermediate truncation cannot zero out small trades.
	num := new(big.Int).Mul(size, bps10000)
	num.Mul(num, big.NewInt(feePPM))
	num.Mul(num, big.NewInt(tick))

	den := new(big.Int).Mul(sizeNormalization, big.NewInt(referenceFeePPM))
	den.Mul(den, big.NewInt(referenceTick))

	impact := num.Div(num, den)
	if impact.Cmp(big.NewInt(impactCapBps)) > 0 {
		return impactCapBps
	}
	return impact.Int64()
}

// EstimateArbitrage converts an impact score into an expected extractable
// value. It returns zero when the impact is below the configured floor;
// otherwise tradeSize * impactBps / 10000, discounted by the conservatism
// factor. The result is never negative.
func (d *Detector) EstimateArbitrage(impactBps int64, tradeSize *big.Int) *big.Int {
	if impactBps < d.cfg.MinImpactBps {
		return new(big.Int)
	}

	value := absBig(tradeSize)
	value.Mul(value, big.NewInt(impactBps))
	value.Div(value, bps10000)
	value.Mul(value, conservatismNum)
	value.Div(value, conservatismDen)
	return value
}

// Evaluate runs both estimates for a completed swap and returns the impact
// score alongside the expected value.
func (d *Detector) Evaluate(swap domain.SwapContext) (impactBps int64, expectedValue *big.Int) {
	impactBps = d.EstimateImpact(swap.Pool, swap.AmountRequested)
	expectedValue = d.EstimateArbitrage(impactBps, swap.AmountRequested)

	if expectedValue.Sign() > 0 {
		d.logger.Debug("opportunity scored",
			slog.String("pool", swap.PoolKey),
			slog.Int64("impact_bps", impactBps),
			slog.String("expected_value", expectedValue.String()),
		)
	}
	return impactBps, expectedValue
}

// absBig returns a fresh |v|. A nil input is treated as zero. big.Int has no
// most-negative overflow case, so negation is always exact.
func absBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Abs(v)
}
