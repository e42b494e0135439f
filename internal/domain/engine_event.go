package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EngineEventType tags messages from the exchange engine's hook feed.
type EngineEventType string

const (
	EventEpochOpen  EngineEventType = "epoch_open"
	EventPreTrade   EngineEventType = "pre_trade"
	EventPostTrade  EngineEventType = "post_trade"
	EventEpochClose EngineEventType = "epoch_close"
)

// EngineEvent is one callback invocation from the exchange engine. Pre- and
// post-trade events carry the trade parameters; epoch events carry only the
// epoch number.
type EngineEvent struct {
	Type       EngineEventType
	Epoch      uint64
	Pool       Pool
	Trader     common.Address
	ZeroForOne bool
	Amount     *big.Int
	PriceLimit *big.Int
	AuxData    []byte
}
