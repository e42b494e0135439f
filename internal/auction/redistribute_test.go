package auction

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevflow/auctiond/internal/domain"
)

func newRedistributor(t *testing.T, cfg RedistributorConfig) (*Redistributor, *fakeTreasury, *memBus, *memRewardStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	treasury := &fakeTreasury{}
	bus := &memBus{}
	store := newMemRewardStore()
	return NewRedistributor(cfg, treasury, store, bus, logger), treasury, bus, store
}

func TestRedistributeSplitsAtParity(t *testing.T) {
	v, treasury, bus, _ := newRedistributor(t, RedistributorConfig{})
	poolKey := testPool.Key()

	rebate, reward, err := v.Redistribute(context.Background(), eth(4), poolKey, trader)
	require.NoError(t, err)

	assert.Zero(t, rebate.Cmp(eth(2)))
	assert.Zero(t, reward.Cmp(eth(2)))
	assert.Zero(t, new(big.Int).Add(rebate, reward).Cmp(eth(4)))
	assert.Zero(t, treasury.sentTo(trader).Cmp(eth(2)))
	assert.Zero(t, v.Pending(poolKey).Cmp(eth(2)))
	assert.Len(t, bus.byEvent("value_redistributed"), 1)
}

func TestRedistributeOddAmountConservesTotal(t *testing.T) {
	v, _, _, _ := newRedistributor(t, RedistributorConfig{})
	poolKey := testPool.Key()

	rebate, reward, err := v.Redistribute(context.Background(), wei(7), poolKey, trader)
	require.NoError(t, err)
	assert.Zero(t, new(big.Int).Add(rebate, reward).Cmp(wei(7)))
}

func TestRebateFailureFoldsIntoReward(t *testing.T) {
	v, treasury, _, _ := newRedistributor(t, RedistributorConfig{})
	poolKey := testPool.Key()
	treasury.failFor = map[common.Address]bool{trader: true}

	rebate, reward, err := v.Redistribute(context.Background(), eth(4), poolKey, trader)
	require.NoError(t, err)

	assert.Zero(t, rebate.Sign())
	assert.Zero(t, reward.Cmp(eth(4)))
	assert.Zero(t, v.Pending(poolKey).Cmp(eth(4)))
}

func TestClaimClearsBeforePaying(t *testing.T) {
	v, treasury, bus, store := newRedistributor(t, RedistributorConfig{})
	poolKey := testPool.Key()
	ctx := context.Background()

	_, _, err := v.Redistribute(ctx, eth(4), poolKey, trader)
	require.NoError(t, err)

	paid, err := v.Claim(ctx, poolKey, lpAddr)
	require.NoError(t, err)
	assert.Zero(t, paid.Cmp(eth(2)))
	assert.Zero(t, treasury.sentTo(lpAddr).Cmp(eth(2)))
	assert.Len(t, bus.byEvent("reward_claimed"), 1)

	// Snapshot reflects the cleared balance.
	snap, err := store.Get(ctx, poolKey)
	require.NoError(t, err)
	assert.Zero(t, snap.Sign())

	// Second claim finds nothing.
	_, err = v.Claim(ctx, poolKey, lpAddr)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaimNothingToClaim(t *testing.T) {
	v, _, _, _ := newRedistributor(t, RedistributorConfig{})
	_, err := v.Claim(context.Background(), testPool.Key(), lpAddr)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaimPayoutFailureForfeits(t *testing.T) {
	v, treasury, _, _ := newRedistributor(t, RedistributorConfig{})
	poolKey := testPool.Key()
	ctx := context.Background()

	_, _, err := v.Redistribute(ctx, eth(4), poolKey, trader)
	require.NoError(t, err)

	treasury.failNext = 1
	_, err = v.Claim(ctx, poolKey, lpAddr)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	// Forfeited, not restored.
	_, err = v.Claim(ctx, poolKey, lpAddr)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestConfigurableRebateRatio(t *testing.T) {
	v, _, _, _ := newRedistributor(t, RedistributorConfig{RebateBps: 2500})
	rebate, reward, err := v.Redistribute(context.Background(), eth(4), testPool.Key(), trader)
	require.NoError(t, err)
	assert.Zero(t, rebate.Cmp(eth(1)))
	assert.Zero(t, reward.Cmp(eth(3)))
}

func TestRestoreSeedsLedger(t *testing.T) {
	v, _, _, _ := newRedistributor(t, RedistributorConfig{})
	v.Restore(map[string]*big.Int{"pool-a": eth(2), "pool-b": new(big.Int)})
	assert.Zero(t, v.Pending("pool-a").Cmp(eth(2)))
	assert.Zero(t, v.Pending("pool-b").Sign())
}

func TestZeroValueRedistributionIsNoop(t *testing.T) {
	v, treasury, bus, _ := newRedistributor(t, RedistributorConfig{})
	rebate, reward, err := v.Redistribute(context.Background(), new(big.Int), testPool.Key(), trader)
	require.NoError(t, err)
	assert.Zero(t, rebate.Sign())
	assert.Zero(t, reward.Sign())
	assert.Empty(t, treasury.transfers)
	assert.Empty(t, bus.byEvent("value_redistributed"))
}

func TestRecoverFundsSweepsAllPools(t *testing.T) {
	v, treasury, bus, store := newRedistributor(t, RedistributorConfig{})
	v.Restore(map[string]*big.Int{"pool-a": eth(2), "pool-b": eth(3)})

	total, err := v.RecoverFunds(context.Background(), carol)
	require.NoError(t, err)
	assert.Zero(t, total.Cmp(eth(5)))
	assert.Zero(t, treasury.sentTo(carol).Cmp(eth(5)))

	// Ledger emptied in memory and in the snapshot store.
	assert.Zero(t, v.Pending("pool-a").Sign())
	assert.Zero(t, v.Pending("pool-b").Sign())
	snapA, err := store.Get(context.Background(), "pool-a")
	require.NoError(t, err)
	assert.Zero(t, snapA.Sign())

	require.Len(t, bus.byEvent("funds_recovered"), 1)
}

func TestRecoverFundsEmptyLedger(t *testing.T) {
	v, treasury, _, _ := newRedistributor(t, RedistributorConfig{})
	_, err := v.RecoverFunds(context.Background(), carol)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
	assert.Empty(t, treasury.transfers)
}

func TestRecoverFundsTransferFailureForfeits(t *testing.T) {
	v, treasury, _, _ := newRedistributor(t, RedistributorConfig{})
	v.Restore(map[string]*big.Int{"pool-a": eth(2)})

	treasury.failNext = 1
	_, err := v.RecoverFunds(context.Background(), carol)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	// Cleared before the transfer; not restored after failure.
	_, err = v.RecoverFunds(context.Background(), carol)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}
