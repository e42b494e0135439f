package auction

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevflow/auctiond/internal/domain"
)

func TestConfidentialBidNeverExposesPlaintext(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeConfidential, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, wei(123456789)))

	got, err := h.reg.Get(a.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.EncryptedBid)
	assert.NotEmpty(t, got.EncryptedBidder)
	assert.Nil(t, got.HighestBidder)
	assert.Zero(t, got.HighestBid.Sign())

	// Emitted notifications carry the handle, never the amount.
	for _, ev := range h.bus.byEvent("bid_accepted") {
		var payload map[string]any
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		_, hasAmount := payload["amount"]
		assert.False(t, hasAmount)
	}
}

func TestConfidentialBidKeepsEncryptedMaximum(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeConfidential, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, eth(1)))
	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, bob, eth(3)))
	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, carol, eth(2)))

	require.NoError(t, h.reg.RequestReveal(ctx, a.ID))

	settled, err := h.reg.RevealWinner(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionSettled, settled.State)
	require.NotNil(t, settled.HighestBidder)
	assert.Equal(t, bob, *settled.HighestBidder)
	assert.Zero(t, settled.HighestBid.Cmp(eth(3)))
	assert.Len(t, h.bus.byEvent("auction_won"), 1)
}

func TestRequestRevealExactlyOnce(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeConfidential, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, eth(1)))
	require.NoError(t, h.reg.RequestReveal(ctx, a.ID))

	err := h.reg.RequestReveal(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRequested)
}

func TestRequestRevealWithoutBid(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeConfidential, eth(5))

	err := h.reg.RequestReveal(context.Background(), a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevealWinnerBeforeRequest(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeConfidential, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, eth(1)))

	_, err := h.reg.RevealWinner(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestRevealWinnerOnSettledAuction(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeConfidential, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, eth(1)))
	require.NoError(t, h.reg.RequestReveal(ctx, a.ID))
	_, err := h.reg.RevealWinner(ctx, a.ID)
	require.NoError(t, err)

	_, err = h.reg.RevealWinner(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestConfidentialBidOnWrongMode(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeOpen, eth(5))

	err := h.reg.SubmitConfidentialBid(context.Background(), a.ID, alice, eth(1))
	assert.ErrorIs(t, err, domain.ErrWrongMode)
}

func TestExpireRevealDisabledByDefault(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.openAuction(t, domain.ModeConfidential, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, eth(1)))
	require.NoError(t, h.reg.RequestReveal(ctx, a.ID))

	h.reg.AdvanceEpoch(100)
	expired, err := h.reg.ExpireReveal(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestExpireRevealForfeitsAfterTimeout(t *testing.T) {
	h := newHarness(t, Config{RevealTimeoutEpochs: 2})
	a := h.openAuction(t, domain.ModeConfidential, eth(5))
	ctx := context.Background()

	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, eth(1)))
	require.NoError(t, h.reg.RequestReveal(ctx, a.ID))

	h.reg.AdvanceEpoch(2)
	expired, err := h.reg.ExpireReveal(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, expired, "still within the timeout window")

	h.reg.AdvanceEpoch(3)
	expired, err = h.reg.ExpireReveal(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	got, err := h.reg.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionSettled, got.State)
	assert.Nil(t, got.HighestBidder)
}
