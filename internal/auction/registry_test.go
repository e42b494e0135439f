package auction

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevflow/auctiond/internal/domain"
)

func TestOpenBelowThresholdIsSkipped(t *testing.T) {
	h := newHarness(t, Config{})
	swap := domain.SwapContext{Pool: testPool, PoolKey: testPool.Key(), OriginalTrader: trader}

	a, created, err := h.reg.Open(context.Background(), swap, wei(1e15-1))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, a)

	_, created, err = h.reg.Open(context.Background(), swap, nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestOpenSetsMinBidAndDeadline(t *testing.T) {
	h := newHarness(t, Config{})
	h.reg.AdvanceEpoch(7)

	a := h.openAuction(t, domain.ModeOpen, eth(5))

	wantMin := new(big.Int).Div(eth(5), big.NewInt(10))
	assert.Zero(t, a.MinBid.Cmp(wantMin))
	assert.Equal(t, uint64(8), a.DeadlineEpoch)
	assert.Equal(t, domain.AuctionActive, a.State)
	assert.Len(t, h.bus.byEvent("auction_opened"), 1)
}

func TestAtMostOneActiveAuctionPerPool(t *testing.T) {
	h := newHarness(t, Config{})
	h.openAuction(t, domain.ModeOpen, eth(5))

	swap := domain.SwapContext{Pool: testPool, PoolKey: testPool.Key(), OriginalTrader: trader}
	a, created, err := h.reg.Open(context.Background(), swap, eth(9))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, a)
	assert.Len(t, h.bus.byEvent("auction_opened"), 1)
}

func TestSettleIsExactlyOnce(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeOpen, eth(5))

	settled, err := h.reg.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionSettled, settled.State)
	require.NotNil(t, settled.SettledAt)

	_, err = h.reg.Settle(context.Background(), a.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestSettleUnknownAuction(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.reg.Settle(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnbidAuctionExpiresWorthless(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeOpen, eth(5))

	settled, err := h.reg.Settle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, settled.HighestBidder)
	assert.Empty(t, h.bus.byEvent("auction_won"))
	assert.Len(t, h.bus.byEvent("auction_settled"), 1)
}

func TestSettleFreesActiveSlot(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeOpen, eth(5))

	_, err := h.reg.Settle(context.Background(), a.ID)
	require.NoError(t, err)

	// A new opportunity on the same pool can open an auction again.
	swap := domain.SwapContext{Pool: testPool, PoolKey: testPool.Key(), OriginalTrader: trader}
	_, created, err := h.reg.Open(context.Background(), swap, eth(3))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDueForSettlement(t *testing.T) {
	h := newHarness(t, Config{})
	h.reg.AdvanceEpoch(10)
	a := h.openAuction(t, domain.ModeOpen, eth(5)) // deadline 11

	assert.Empty(t, h.reg.DueForSettlement(9))

	due := h.reg.DueForSettlement(10)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)
}

func TestDueForSettlementExcludesCommittedConfidential(t *testing.T) {
	h := newHarness(t, Config{})
	h.reg.AdvanceEpoch(10)
	a := h.openAuction(t, domain.ModeConfidential, eth(5))

	require.NoError(t, h.reg.SubmitConfidentialBid(context.Background(), a.ID, alice, eth(1)))

	assert.Empty(t, h.reg.DueForSettlement(10))

	pending := h.reg.RevealPending()
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}

func TestSetPoolModeRejectsUnknownMode(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Error(t, h.reg.SetPoolMode(testPool.Key(), "dutch"))
}

func TestStakeBackedCreationRecordsSlashAmount(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeStakeBacked, eth(5))

	require.True(t, a.RequiresStake)
	wantSlash := new(big.Int).Mul(a.MinBid, big.NewInt(2))
	assert.Zero(t, a.SlashAmount.Cmp(wantSlash))
}

func TestSettledRetentionEvictsOldest(t *testing.T) {
	h := newHarness(t, Config{SettledRetention: 2})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		a := h.openAuction(t, "", eth(1))
		_, err := h.reg.Settle(ctx, a.ID)
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	// The oldest settled record left memory; the newer two are still served.
	_, err := h.reg.Get(ids[0])
	assert.ErrorIs(t, err, domain.ErrNotFound)
	for _, id := range ids[1:] {
		_, err := h.reg.Get(id)
		assert.NoError(t, err)
	}

	// The durable copy survives eviction.
	stored, err := h.store.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionSettled, stored.State)
}

func TestEpochOnlyAdvances(t *testing.T) {
	h := newHarness(t, Config{})
	h.reg.AdvanceEpoch(5)
	h.reg.AdvanceEpoch(3)
	assert.Equal(t, uint64(5), h.reg.CurrentEpoch())
}
