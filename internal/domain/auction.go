package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AuctionMode selects the bidding path for an auction.
type AuctionMode string

const (
	ModeOpen         AuctionMode = "open"
	ModeConfidential AuctionMode = "confidential"
	ModeStakeBacked  AuctionMode = "stake_backed"
)

// AuctionState is the lifecycle state of an auction record.
type AuctionState string

const (
	AuctionActive  AuctionState = "active"
	AuctionSettled AuctionState = "settled"
)

// Pool identifies a market on the exchange engine: a traded pair plus the
// parameters that shape its price curve.
type Pool struct {
	Asset0          common.Address `json:"asset0"`
	Asset1          common.Address `json:"asset1"`
	FeeRatePPM      int64          `json:"fee_rate_ppm"`     // swap fee in parts per million
	TickGranularity int64          `json:"tick_granularity"` // price grid spacing; finer = smaller
}

// Key returns the deterministic identifier of the pool, a keccak256 hash of
// its defining parameters. This matches the key the engine uses in swap events.
func (p Pool) Key() string {
	h := ethcrypto.NewKeccakState()
	h.Write(p.Asset0.Bytes())
	h.Write(p.Asset1.Bytes())
	h.Write(big.NewInt(p.FeeRatePPM).FillBytes(make([]byte, 32)))
	h.Write(big.NewInt(p.TickGranularity).FillBytes(make([]byte, 32)))
	var sum [32]byte
	h.Read(sum[:])
	return common.BytesToHash(sum[:]).Hex()
}

// CipherHandle is an opaque reference to a value held encrypted by the
// confidential-computation service. The core never sees the plaintext behind
// a handle until a reveal has been requested and confirmed ready.
type CipherHandle string

// Auction is one single-round back-run auction, created when a trade opens an
// extractable opportunity and settled at the close of the same ordering epoch.
type Auction struct {
	ID            string          `json:"id"`
	Pool          Pool            `json:"pool"`
	PoolKey       string          `json:"pool_key"`
	Mode          AuctionMode     `json:"mode"`
	State         AuctionState    `json:"state"`
	ExpectedValue *big.Int        `json:"expected_value"` // signed estimate at creation
	MinBid        *big.Int        `json:"min_bid"`
	HighestBid    *big.Int        `json:"highest_bid"`
	HighestBidder *common.Address `json:"highest_bidder,omitempty"`
	CreatedEpoch  uint64          `json:"created_epoch"`
	DeadlineEpoch uint64          `json:"deadline_epoch"`

	// Confidential mode only.
	EncryptedBid    CipherHandle `json:"encrypted_bid,omitempty"`
	EncryptedBidder CipherHandle `json:"encrypted_bidder,omitempty"`
	RevealRequested bool         `json:"reveal_requested,omitempty"`
	RevealEpoch     uint64       `json:"reveal_epoch,omitempty"`

	// Stake-backed mode only.
	RequiresStake bool     `json:"requires_stake,omitempty"`
	SlashAmount   *big.Int `json:"slash_amount,omitempty"`
	IsSlashed     bool     `json:"is_slashed,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// HasBid reports whether any bid has been accepted on the auction.
func (a *Auction) HasBid() bool {
	return a.HighestBidder != nil || a.EncryptedBid != ""
}

// SwapContext is the ephemeral record of one in-flight trade. It is created
// by the pre-trade hook, consumed at settlement, and never retained across
// epochs.
type SwapContext struct {
	Pool            Pool
	PoolKey         string
	OriginalTrader  common.Address
	ZeroForOne      bool // true when selling asset0 for asset1
	AmountRequested *big.Int
	PriceLimit      *big.Int
	AuxiliaryData   []byte
	Epoch           uint64
}

// BidRecord is an accepted bid, kept for the audit trail. Confidential bids
// are recorded with handles only; no plaintext amount is ever written.
type BidRecord struct {
	AuctionID string          `json:"auction_id"`
	Bidder    *common.Address `json:"bidder,omitempty"`
	Amount    *big.Int        `json:"amount,omitempty"`
	Handle    CipherHandle    `json:"handle,omitempty"`
	Epoch     uint64          `json:"epoch"`
	CreatedAt time.Time       `json:"created_at"`
}

// BackRunOutcome reports what the executor did for a settled auction.
type BackRunOutcome struct {
	Executed      bool     `json:"executed"`
	Size          *big.Int `json:"size,omitempty"`
	CapturedValue *big.Int `json:"captured_value,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
}
