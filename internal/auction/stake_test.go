package auction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevflow/auctiond/internal/domain"
)

func TestSubmitStakeBidRequiresRegistration(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeStakeBacked, eth(5))

	err := h.reg.SubmitStakeBid(context.Background(), a.ID, carol, eth(1))
	assert.ErrorIs(t, err, domain.ErrNotStaker)
}

func TestSubmitStakeBidBehavesLikeOpenBid(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeStakeBacked, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitStakeBid(ctx, a.ID, alice, wei(6e17)))

	err := h.reg.SubmitStakeBid(ctx, a.ID, bob, wei(6e17))
	assert.ErrorIs(t, err, domain.ErrBidTooLow)

	require.NoError(t, h.reg.SubmitStakeBid(ctx, a.ID, bob, wei(8e17)))
	assert.Zero(t, h.treasury.sentTo(alice).Cmp(wei(6e17)))
}

func TestSubmitStakeBidWrongMode(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeOpen, eth(5))

	err := h.reg.SubmitStakeBid(context.Background(), a.ID, alice, eth(1))
	assert.ErrorIs(t, err, domain.ErrWrongMode)
}

func TestSlash(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeStakeBacked, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitStakeBid(ctx, a.ID, alice, eth(1)))

	t.Run("wrong target", func(t *testing.T) {
		err := h.reg.Slash(ctx, a.ID, bob)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("slashes highest bidder", func(t *testing.T) {
		require.NoError(t, h.reg.Slash(ctx, a.ID, alice))

		got, err := h.reg.Get(a.ID)
		require.NoError(t, err)
		assert.True(t, got.IsSlashed)

		require.Len(t, h.stake.slashes, 1)
		assert.Equal(t, alice, h.stake.slashes[0].Account)
		assert.Zero(t, h.stake.slashes[0].Amount.Cmp(got.SlashAmount))
		assert.Len(t, h.bus.byEvent("slashing_applied"), 1)
	})

	t.Run("double slash rejected", func(t *testing.T) {
		err := h.reg.Slash(ctx, a.ID, alice)
		assert.ErrorIs(t, err, domain.ErrAlreadySlashed)
	})
}

func TestSlashWrongMode(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeOpen, eth(5))

	err := h.reg.Slash(context.Background(), a.ID, alice)
	assert.ErrorIs(t, err, domain.ErrWrongMode)
}
