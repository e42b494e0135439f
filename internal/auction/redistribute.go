package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevflow/auctiond/internal/domain"
)

// RedistributorConfig holds the value-split parameters.
type RedistributorConfig struct {
	// RebateBps is the original trader's share in basis points. Defaults to
	// 5000 (parity split).
	RebateBps int64
}

// Redistributor splits captured value into a trader rebate and a liquidity-
// provider reward, and owns the per-pool pending-reward ledger.
type Redistributor struct {
	cfg      RedistributorConfig
	treasury domain.Treasury
	store    domain.RewardStore
	bus      domain.SignalBus
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*big.Int
}

// NewRedistributor creates a Redistributor with an empty ledger.
func NewRedistributor(
	cfg RedistributorConfig,
	treasury domain.Treasury,
	store domain.RewardStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Redistributor {
	if cfg.RebateBps <= 0 || cfg.RebateBps > 10000 {
		cfg.RebateBps = 5000
	}
	return &Redistributor{
		cfg:      cfg,
		treasury: treasury,
		store:    store,
		bus:      bus,
		logger:   logger.With(slog.String("component", "redistributor")),
		pending:  make(map[string]*big.Int),
	}
}

// Restore seeds the in-memory ledger from a persisted snapshot, used at
// startup to carry pending rewards across restarts.
func (v *Redistributor) Restore(balances map[string]*big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, amt := range balances {
		if amt != nil && amt.Sign() > 0 {
			v.pending[key] = new(big.Int).Set(amt)
		}
	}
}

// Redistribute splits totalValue between the original trader and the pool's
// reward ledger. The rebate is paid immediately; if that payment fails the
// rebate folds into the reward rather than being lost. rebate+reward always
// equals totalValue.
func (v *Redistributor) Redistribute(ctx context.Context, totalValue *big.Int, poolKey string, originalTrader common.Address) (rebate, reward *big.Int, err error) {
	if totalValue == nil || totalValue.Sign() <= 0 {
		return new(big.Int), new(big.Int), nil
	}

	rebate = new(big.Int).Mul(totalValue, big.NewInt(v.cfg.RebateBps))
	rebate.Div(rebate, big.NewInt(10000))
	reward = new(big.Int).Sub(totalValue, rebate)

	rebateFolded := false
	if rebate.Sign() > 0 {
		if payErr := v.treasury.Transfer(ctx, originalTrader, rebate); payErr != nil {
			v.logger.Warn("rebate payment failed, folding into reward",
				slog.String("pool", poolKey),
				slog.String("trader", originalTrader.Hex()),
				slog.String("rebate", rebate.String()),
				slog.String("error", payErr.Error()),
			)
			reward = new(big.Int).Set(totalValue)
			rebate = new(big.Int)
			rebateFolded = true
		}
	}

	v.mu.Lock()
	bal, ok := v.pending[poolKey]
	if !ok {
		bal = new(big.Int)
		v.pending[poolKey] = bal
	}
	bal.Add(bal, reward)
	snapshot := new(big.Int).Set(bal)
	v.mu.Unlock()

	v.persist(ctx, poolKey, snapshot)
	v.publish(ctx, map[string]any{
		"event":         "value_redistributed",
		"pool":          poolKey,
		"trader":        originalTrader.Hex(),
		"total":         totalValue.String(),
		"rebate":        rebate.String(),
		"reward":        reward.String(),
		"rebate_folded": rebateFolded,
	})

	return rebate, reward, nil
}

// Claim pays out the pool's accumulated reward to the claimant. The balance
// is cleared before the transfer is attempted; a failed payout forfeits the
// cleared balance rather than restoring it for retry, and is surfaced as
// ErrTransferFailed for operator reconciliation.
func (v *Redistributor) Claim(ctx context.Context, poolKey string, claimant common.Address) (*big.Int, error) {
	v.mu.Lock()
	bal, ok := v.pending[poolKey]
	if !ok || bal.Sign() == 0 {
		v.mu.Unlock()
		return nil, domain.ErrNothingToClaim
	}
	amount := new(big.Int).Set(bal)
	delete(v.pending, poolKey)
	v.mu.Unlock()

	v.persist(ctx, poolKey, new(big.Int))

	if err := v.treasury.Transfer(ctx, claimant, amount); err != nil {
		v.logger.Error("reward claim payout failed, balance forfeited",
			slog.String("pool", poolKey),
			slog.String("claimant", claimant.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s", domain.ErrTransferFailed, err)
	}

	v.publish(ctx, map[string]any{
		"event":    "reward_claimed",
		"pool":     poolKey,
		"claimant": claimant.Hex(),
		"amount":   amount.String(),
	})
	return amount, nil
}

// RecoverFunds sweeps every pool's pending reward balance to the given
// address. This is the emergency escape hatch for a controller migrating or
// winding the system down; normal payouts go through Claim. The ledger is
// cleared before the transfer, with the same forfeit-on-failure policy as
// Claim.
func (v *Redistributor) RecoverFunds(ctx context.Context, to common.Address) (*big.Int, error) {
	v.mu.Lock()
	total := new(big.Int)
	cleared := make([]string, 0, len(v.pending))
	for key, bal := range v.pending {
		total.Add(total, bal)
		cleared = append(cleared, key)
	}
	v.pending = make(map[string]*big.Int)
	v.mu.Unlock()

	if total.Sign() == 0 {
		return nil, domain.ErrNothingToClaim
	}

	for _, key := range cleared {
		v.persist(ctx, key, new(big.Int))
	}

	if err := v.treasury.Transfer(ctx, to, total); err != nil {
		v.logger.Error("fund recovery payout failed, balance forfeited",
			slog.String("to", to.Hex()),
			slog.String("amount", total.String()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s", domain.ErrTransferFailed, err)
	}

	v.publish(ctx, map[string]any{
		"event":  "funds_recovered",
		"to":     to.Hex(),
		"amount": total.String(),
		"pools":  len(cleared),
	})
	return total, nil
}

// Pending returns the pool's unclaimed reward balance.
func (v *Redistributor) Pending(poolKey string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bal, ok := v.pending[poolKey]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (v *Redistributor) persist(ctx context.Context, poolKey string, balance *big.Int) {
	if err := v.store.Set(ctx, poolKey, balance); err != nil {
		v.logger.Warn("reward ledger snapshot failed",
			slog.String("pool", poolKey),
			slog.String("error", err.Error()),
		)
	}
}

func (v *Redistributor) publish(ctx context.Context, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := v.bus.Publish(ctx, domain.ChannelReward, data); err != nil {
		v.logger.Warn("redistributor: publish event failed", slog.String("error", err.Error()))
	}
}
