package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevflow/auctiond/internal/auction"
	"github.com/mevflow/auctiond/internal/confidential"
	"github.com/mevflow/auctiond/internal/detector"
	"github.com/mevflow/auctiond/internal/domain"
	"github.com/mevflow/auctiond/internal/executor"
)

var (
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	trader = common.HexToAddress("0x000000000000000000000000000000000007a0de")

	hookPool = domain.Pool{
		Asset0:          common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Asset1:          common.HexToAddress("0x1000000000000000000000000000000000000002"),
		FeeRatePPM:      1800,
		TickGranularity: 60,
	}
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// nopStore satisfies the persistence interfaces; the hook path treats store
// failures as non-fatal so tests run against in-memory registry state only.
type nopStore struct{}

func (nopStore) Insert(context.Context, domain.Auction) error         { return nil }
func (nopStore) Update(context.Context, domain.Auction) error         { return nil }
func (nopStore) GetByID(context.Context, string) (domain.Auction, error) {
	return domain.Auction{}, domain.ErrNotFound
}
func (nopStore) ListRecent(context.Context, int) ([]domain.Auction, error) { return nil, nil }
func (nopStore) ListByPool(context.Context, string, domain.ListOpts) ([]domain.Auction, error) {
	return nil, nil
}
func (nopStore) ListSettledBefore(context.Context, time.Time) ([]domain.Auction, error) {
	return nil, nil
}

type nopBidStore struct{}

func (nopBidStore) Insert(context.Context, domain.BidRecord) error { return nil }
func (nopBidStore) ListByAuction(context.Context, string) ([]domain.BidRecord, error) {
	return nil, nil
}

type nopRewardStore struct{}

func (nopRewardStore) Set(context.Context, string, *big.Int) error { return nil }
func (nopRewardStore) Get(context.Context, string) (*big.Int, error) {
	return new(big.Int), nil
}
func (nopRewardStore) All(context.Context) (map[string]*big.Int, error) { return nil, nil }

type nopBus struct{}

func (nopBus) Publish(context.Context, string, []byte) error { return nil }
func (nopBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}
func (nopBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (nopBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *recordingAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (a *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *recordingAudit) byEvent(event string) []domain.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Send(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

type fakeTreasury struct {
	mu        sync.Mutex
	transfers map[common.Address]*big.Int
}

func (f *fakeTreasury) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transfers == nil {
		f.transfers = make(map[common.Address]*big.Int)
	}
	bal, ok := f.transfers[to]
	if !ok {
		bal = new(big.Int)
		f.transfers[to] = bal
	}
	bal.Add(bal, amount)
	return nil
}

func (f *fakeTreasury) sentTo(addr common.Address) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bal, ok := f.transfers[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

type fakeStakeRegistry struct{}

func (fakeStakeRegistry) IsRegistered(context.Context, common.Address) (bool, error) {
	return true, nil
}
func (fakeStakeRegistry) ReportSlash(context.Context, common.Address, *big.Int, string) error {
	return nil
}

type fakeEngine struct {
	mu    sync.Mutex
	err   error
	delta *big.Int
	calls int
}

func (f *fakeEngine) SubmitBackRun(_ context.Context, _ domain.Pool, _ bool, _, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.delta, nil
}

type hookHarness struct {
	hook     *Hook
	reg      *auction.Registry
	redist   *auction.Redistributor
	engine   *fakeEngine
	treasury *fakeTreasury
	audit    *recordingAudit
	notifier *recordingNotifier
}

func newHookHarness(t *testing.T, cfg Config) *hookHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	conf, err := confidential.New(confidential.Config{Secret: "test-secret"})
	require.NoError(t, err)

	treasury := &fakeTreasury{}
	bus := nopBus{}
	reg := auction.NewRegistry(auction.Config{}, nopStore{}, nopBidStore{}, bus, treasury, fakeStakeRegistry{}, conf, logger)
	redist := auction.NewRedistributor(auction.RedistributorConfig{}, treasury, nopRewardStore{}, bus, logger)
	engine := &fakeEngine{delta: new(big.Int)}
	exec := executor.New(executor.Config{}, engine, logger)
	det := detector.New(detector.Config{}, logger)
	audit := &recordingAudit{}
	notifier := &recordingNotifier{}

	return &hookHarness{
		hook:     New(cfg, det, reg, exec, redist, audit, notifier, bus, logger),
		reg:      reg,
		redist:   redist,
		engine:   engine,
		treasury: treasury,
		audit:    audit,
		notifier: notifier,
	}
}

func tradeEvent(typ domain.EngineEventType, epoch uint64, amount *big.Int) domain.EngineEvent {
	return domain.EngineEvent{
		Type:       typ,
		Epoch:      epoch,
		Pool:       hookPool,
		Trader:     trader,
		ZeroForOne: true,
		Amount:     amount,
	}
}

// openAuctionThroughHook drives pre- and post-trade events for a 1000-unit
// trade on the 1800 PPM pool: 60 bps of impact, 4.8 expected value.
func openAuctionThroughHook(t *testing.T, h *hookHarness) *domain.Auction {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, h.hook.Handle(ctx, domain.EngineEvent{Type: domain.EventEpochOpen, Epoch: 1}))
	require.NoError(t, h.hook.Handle(ctx, tradeEvent(domain.EventPreTrade, 1, eth(1000))))
	require.NoError(t, h.hook.Handle(ctx, tradeEvent(domain.EventPostTrade, 1, eth(1000))))

	auctions := h.reg.ListRecent(1)
	require.Len(t, auctions, 1)
	return auctions[0]
}

func TestPostTradeOpensAuction(t *testing.T) {
	h := newHookHarness(t, Config{})
	a := openAuctionThroughHook(t, h)

	assert.Equal(t, domain.AuctionActive, a.State)
	assert.Equal(t, hookPool.Key(), a.PoolKey)
	assert.Zero(t, a.ExpectedValue.Cmp(new(big.Int).Mul(big.NewInt(48), big.NewInt(1e17))))
	assert.Equal(t, uint64(2), a.DeadlineEpoch)
}

func TestSmallTradeOpensNothing(t *testing.T) {
	h := newHookHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.hook.Handle(ctx, tradeEvent(domain.EventPreTrade, 1, big.NewInt(1))))
	require.NoError(t, h.hook.Handle(ctx, tradeEvent(domain.EventPostTrade, 1, big.NewInt(1))))
	assert.Empty(t, h.reg.ListRecent(0))
}

func TestEpochCloseSettlesAndRedistributes(t *testing.T) {
	h := newHookHarness(t, Config{})
	ctx := context.Background()
	a := openAuctionThroughHook(t, h)

	require.NoError(t, h.reg.SubmitBid(ctx, a.ID, alice, eth(1)))
	require.NoError(t, h.hook.Handle(ctx, domain.EngineEvent{Type: domain.EventEpochClose, Epoch: 1}))

	settled, err := h.reg.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionSettled, settled.State)
	assert.Equal(t, 1, h.engine.calls)

	// Parity split of the 1-unit winning bid.
	half := new(big.Int).Div(eth(1), big.NewInt(2))
	assert.Zero(t, h.treasury.sentTo(trader).Cmp(half))
	assert.Zero(t, h.redist.Pending(a.PoolKey).Cmp(half))
	assert.Len(t, h.audit.byEvent("auction.finalized"), 1)
	assert.Contains(t, h.notifier.titles, "Auction won")
}

func TestEpochCloseIncludesBackRunDelta(t *testing.T) {
	h := newHookHarness(t, Config{})
	h.engine.delta = eth(1)
	ctx := context.Background()
	a := openAuctionThroughHook(t, h)

	require.NoError(t, h.reg.SubmitBid(ctx, a.ID, alice, eth(1)))
	require.NoError(t, h.hook.Handle(ctx, domain.EngineEvent{Type: domain.EventEpochClose, Epoch: 1}))

	// Captured = 1 bid + 1 delta, split at parity.
	assert.Zero(t, h.treasury.sentTo(trader).Cmp(eth(1)))
	assert.Zero(t, h.redist.Pending(a.PoolKey).Cmp(eth(1)))
}

func TestWorthlessExpiryAuditsAndSkipsExecution(t *testing.T) {
	h := newHookHarness(t, Config{})
	ctx := context.Background()
	a := openAuctionThroughHook(t, h)

	require.NoError(t, h.hook.Handle(ctx, domain.EngineEvent{Type: domain.EventEpochClose, Epoch: 1}))

	settled, err := h.reg.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionSettled, settled.State)
	assert.Zero(t, h.engine.calls, "no winner, no back-run")
	assert.Len(t, h.audit.byEvent("auction.expired_worthless"), 1)
	assert.Zero(t, h.treasury.sentTo(trader).Sign())
}

func TestBackRunFailureSkipsRedistribution(t *testing.T) {
	h := newHookHarness(t, Config{})
	h.engine.err = errors.New("engine rejected trade")
	ctx := context.Background()
	a := openAuctionThroughHook(t, h)

	require.NoError(t, h.reg.SubmitBid(ctx, a.ID, alice, eth(1)))
	require.NoError(t, h.hook.Handle(ctx, domain.EngineEvent{Type: domain.EventEpochClose, Epoch: 1}))

	settled, err := h.reg.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionSettled, settled.State, "settlement stands despite the failed back-run")

	assert.Zero(t, h.treasury.sentTo(trader).Sign())
	assert.Zero(t, h.redist.Pending(a.PoolKey).Sign())
	assert.Len(t, h.audit.byEvent("backrun.failed"), 1)
	assert.Contains(t, h.notifier.titles, "Back-run failed")
}

func TestPostTradeWithoutPreTradeStillScores(t *testing.T) {
	h := newHookHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.hook.Handle(ctx, tradeEvent(domain.EventPostTrade, 1, eth(1000))))
	assert.Len(t, h.reg.ListRecent(0), 1)
}

func TestUnknownEventTypeIsRejected(t *testing.T) {
	h := newHookHarness(t, Config{})
	err := h.hook.Handle(context.Background(), domain.EngineEvent{Type: "mystery"})
	assert.Error(t, err)
}

func TestAutoRevealCompletesConfidentialAuction(t *testing.T) {
	h := newHookHarness(t, Config{AutoReveal: true})
	ctx := context.Background()

	require.NoError(t, h.reg.SetPoolMode(hookPool.Key(), domain.ModeConfidential))
	a := openAuctionThroughHook(t, h)
	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, eth(2)))

	// Epoch close triggers the decryption request instead of direct settlement.
	require.NoError(t, h.hook.Handle(ctx, domain.EngineEvent{Type: domain.EventEpochClose, Epoch: 1}))
	mid, err := h.reg.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionActive, mid.State)
	assert.True(t, mid.RevealRequested)

	// The poll pass finds the decryption result and finalizes.
	h.hook.pollReveals(ctx)

	settled, err := h.reg.Get(a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionSettled, settled.State)
	require.NotNil(t, settled.HighestBidder)
	assert.Equal(t, alice, *settled.HighestBidder)
	assert.Zero(t, settled.HighestBid.Cmp(eth(2)))
	assert.Equal(t, 1, h.engine.calls)
	assert.Zero(t, h.treasury.sentTo(trader).Cmp(eth(1)))
}

func TestManualRevealRunsExecutionAndRedistribution(t *testing.T) {
	h := newHookHarness(t, Config{})
	ctx := context.Background()

	require.NoError(t, h.reg.SetPoolMode(hookPool.Key(), domain.ModeConfidential))
	a := openAuctionThroughHook(t, h)
	require.NoError(t, h.reg.SubmitConfidentialBid(ctx, a.ID, alice, eth(2)))
	require.NoError(t, h.reg.RequestReveal(ctx, a.ID))

	settled, err := h.hook.Reveal(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AuctionSettled, settled.State)
	require.NotNil(t, settled.HighestBidder)
	assert.Equal(t, alice, *settled.HighestBidder)

	// The on-demand reveal ran the full post-settlement path.
	assert.Equal(t, 1, h.engine.calls)
	assert.Zero(t, h.treasury.sentTo(trader).Cmp(eth(1)))
	assert.Zero(t, h.redist.Pending(a.PoolKey).Cmp(eth(1)))
	assert.Len(t, h.audit.byEvent("auction.finalized"), 1)

	// The swap context is consumed and a later poll pass has nothing to do.
	h.hook.mu.Lock()
	assert.Empty(t, h.hook.pending)
	h.hook.mu.Unlock()
	h.hook.pollReveals(ctx)
	assert.Equal(t, 1, h.engine.calls)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHookHarness(t, Config{RevealPollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	events := make(chan domain.EngineEvent)
	go func() { done <- h.hook.Run(ctx, events) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hook did not stop on cancel")
	}
}

func TestRunStopsWhenFeedCloses(t *testing.T) {
	h := newHookHarness(t, Config{RevealPollInterval: time.Hour})

	done := make(chan error, 1)
	events := make(chan domain.EngineEvent)
	go func() { done <- h.hook.Run(context.Background(), events) }()

	close(events)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hook did not stop on feed close")
	}
}
