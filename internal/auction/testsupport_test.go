package auction

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

	"github.com/mevflow/auctiond/internal/confidential"
	"github.com/mevflow/auctiond/internal/domain"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	trader   = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	lpAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	testPool = domain.Pool{
		Asset0:          common.HexToAddress("0x0000000000000000000000000000000000000101"),
		Asset1:          common.HexToAddress("0x0000000000000000000000000000000000000102"),
		FeeRatePPM:      3000,
		TickGranularity: 60,
	}
)

func wei(n int64) *big.Int { return big.NewInt(n) }

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// --- in-memory stores ---

type memAuctionStore struct {
	mu   sync.Mutex
	rows map[string]domain.Auction
}

func newMemAuctionStore() *memAuctionStore {
	return &memAuctionStore{rows: make(map[string]domain.Auction)}
}

func (s *memAuctionStore) Insert(_ context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.ID] = a
	return nil
}

func (s *memAuctionStore) Update(_ context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.ID] = a
	return nil
}

func (s *memAuctionStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *memAuctionStore) ListRecent(_ context.Context, limit int) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Auction, 0, len(s.rows))
	for _, a := range s.rows {
		out = append(out, a)
	}
	return out, nil
}

func (s *memAuctionStore) ListByPool(_ context.Context, poolKey string, _ domain.ListOpts) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Auction
	for _, a := range s.rows {
		if a.PoolKey == poolKey {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memAuctionStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Auction
	for _, a := range s.rows {
		if a.SettledAt != nil && a.SettledAt.Before(before) {
			out = append(out, a)
		}
	}
	return out, nil
}

type memBidLog struct {
	mu   sync.Mutex
	rows []domain.BidRecord
}

func (s *memBidLog) Insert(_ context.Context, b domain.BidRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, b)
	return nil
}

func (s *memBidLog) ListByAuction(_ context.Context, auctionID string) ([]domain.BidRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BidRecord
	for _, b := range s.rows {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	return out, nil
}

type memRewardStore struct {
	mu   sync.Mutex
	rows map[string]*big.Int
}

func newMemRewardStore() *memRewardStore {
	return &memRewardStore{rows: make(map[string]*big.Int)}
}

func (s *memRewardStore) Set(_ context.Context, poolKey string, pending *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[poolKey] = new(big.Int).Set(pending)
	return nil
}

func (s *memRewardStore) Get(_ context.Context, poolKey string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.rows[poolKey]; ok {
		return new(big.Int).Set(v), nil
	}
	return nil, domain.ErrNotFound
}

func (s *memRewardStore) All(_ context.Context) (map[string]*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*big.Int, len(s.rows))
	for k, v := range s.rows {
		out[k] = new(big.Int).Set(v)
	}
	return out, nil
}

// --- fake bus ---

type publishedEvent struct {
	Channel string
	Payload []byte
}

type memBus struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{Channel: channel, Payload: payload})
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, _ []byte) error { return nil }

func (b *memBus) StreamRead(_ context.Context, _, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) byEvent(name string) []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedEvent
	for _, ev := range b.events {
		if containsEvent(ev.Payload, name) {
			out = append(out, ev)
		}
	}
	return out
}

func containsEvent(payload []byte, name string) bool {
	return string(payload) != "" && stringContains(string(payload), `"event":"`+name+`"`)
}

func stringContains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// --- fake treasury ---

type transferCall struct {
	To     common.Address
	Amount *big.Int
}

type fakeTreasury struct {
	mu        sync.Mutex
	transfers []transferCall
	failNext  int
	failFor   map[common.Address]bool
}

func (t *fakeTreasury) Transfer(_ context.Context, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext > 0 {
		t.failNext--
		return errors.New("treasury unavailable")
	}
	if t.failFor != nil && t.failFor[to] {
		return errors.New("recipient rejected transfer")
	}
	t.transfers = append(t.transfers, transferCall{To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (t *fakeTreasury) sentTo(addr common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := new(big.Int)
	for _, tr := range t.transfers {
		if tr.To == addr {
			total.Add(total, tr.Amount)
		}
	}
	return total
}

// --- fake stake registry ---

type slashReport struct {
	Account   common.Address
	Amount    *big.Int
	AuctionID string
}

type fakeStakeRegistry struct {
	mu         sync.Mutex
	registered map[common.Address]bool
	slashes    []slashReport
}

func (f *fakeStakeRegistry) IsRegistered(_ context.Context, account common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[account], nil
}

func (f *fakeStakeRegistry) ReportSlash(_ context.Context, account common.Address, amount *big.Int, auctionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slashes = append(f.slashes, slashReport{Account: account, Amount: new(big.Int).Set(amount), AuctionID: auctionID})
	return nil
}

// --- harness ---

type registryHarness struct {
	reg      *Registry
	store    *memAuctionStore
	bids     *memBidLog
	bus      *memBus
	treasury *fakeTreasury
	stake    *fakeStakeRegistry
	conf     *confidential.Service
}

func newHarness(t *testing.T, cfg Config) *registryHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conf, err := confidential.New(confidential.Config{Secret: "test"})
	if err != nil {
		t.Fatalf("confidential service: %v", err)
	}
	h := &registryHarness{
		store:    newMemAuctionStore(),
		bids:     &memBidLog{},
		bus:      &memBus{},
		treasury: &fakeTreasury{},
		stake:    &fakeStakeRegistry{registered: map[common.Address]bool{alice: true, bob: true}},
		conf:     conf,
	}
	h.reg = NewRegistry(cfg, h.store, h.bids, h.bus, h.treasury, h.stake, h.conf, logger)
	return h
}

func (h *registryHarness) openAuction(t *testing.T, mode domain.AuctionMode, expectedValue *big.Int) *domain.Auction {
	t.Helper()
	swap := domain.SwapContext{
		Pool:            testPool,
		PoolKey:         testPool.Key(),
		OriginalTrader:  trader,
		AmountRequested: eth(1000),
		Epoch:           h.reg.CurrentEpoch(),
	}
	if mode != "" {
		if err := h.reg.SetPoolMode(swap.PoolKey, mode); err != nil {
			t.Fatalf("set pool mode: %v", err)
		}
	}
	a, created, err := h.reg.Open(context.Background(), swap, expectedValue)
	if err != nil {
		t.Fatalf("open auction: %v", err)
	}
	if !created {
		t.Fatalf("auction not created for expected value %s", expectedValue)
	}
	return a
}
