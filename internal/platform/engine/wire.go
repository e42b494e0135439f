package engineclient

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mevflow/auctiond/internal/domain"
)

// WSCommand is an outbound message to the engine gateway. Amounts travel as
// decimal strings; the engine side rejects anything it cannot parse exactly.
type WSCommand struct {
	Type      string   `json:"type"`
	Channel   string   `json:"channel,omitempty"`
	Pools     []string `json:"pools,omitempty"`
	RequestID string   `json:"request_id,omitempty"`

	// Back-run submission.
	Pool       *PoolMessage `json:"pool,omitempty"`
	ZeroForOne *bool        `json:"zero_for_one,omitempty"`
	Amount     string       `json:"amount,omitempty"`
	PriceLimit string       `json:"price_limit,omitempty"`

	// Treasury transfer.
	To string `json:"to,omitempty"`
}

// PoolMessage is the wire form of a pool identifier.
type PoolMessage struct {
	Asset0          string `json:"asset0"`
	Asset1          string `json:"asset1"`
	FeeRatePPM      int64  `json:"fee_rate_ppm"`
	TickGranularity int64  `json:"tick_granularity"`
}

// HookMessage is an inbound hook-feed message: one engine callback.
type HookMessage struct {
	MsgType    string       `json:"msg_type"`
	Epoch      uint64       `json:"epoch"`
	Pool       *PoolMessage `json:"pool,omitempty"`
	Trader     string       `json:"trader,omitempty"`
	ZeroForOne bool         `json:"zero_for_one,omitempty"`
	Amount     string       `json:"amount,omitempty"`
	PriceLimit string       `json:"price_limit,omitempty"`
	AuxData    []byte       `json:"aux_data,omitempty"`
}

// ResultMessage is an inbound response to a WSCommand carrying a request ID.
type ResultMessage struct {
	MsgType   string `json:"msg_type"`
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Delta     string `json:"delta,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PoolToMessage converts a domain pool to its wire form.
func PoolToMessage(p domain.Pool) *PoolMessage {
	return &PoolMessage{
		Asset0:          p.Asset0.Hex(),
		Asset1:          p.Asset1.Hex(),
		FeeRatePPM:      p.FeeRatePPM,
		TickGranularity: p.TickGranularity,
	}
}

// MessageToPool converts a wire pool to its domain form.
func MessageToPool(m *PoolMessage) domain.Pool {
	if m == nil {
		return domain.Pool{}
	}
	return domain.Pool{
		Asset0:          common.HexToAddress(m.Asset0),
		Asset1:          common.HexToAddress(m.Asset1),
		FeeRatePPM:      m.FeeRatePPM,
		TickGranularity: m.TickGranularity,
	}
}

// HookToDomainEvent converts a hook-feed message to a domain engine event.
func HookToDomainEvent(m *HookMessage) (domain.EngineEvent, error) {
	ev := domain.EngineEvent{
		Type:       domain.EngineEventType(m.MsgType),
		Epoch:      m.Epoch,
		Pool:       MessageToPool(m.Pool),
		ZeroForOne: m.ZeroForOne,
		AuxData:    m.AuxData,
	}
	if m.Trader != "" {
		ev.Trader = common.HexToAddress(m.Trader)
	}
	if m.Amount != "" {
		amt, ok := new(big.Int).SetString(m.Amount, 10)
		if !ok {
			return domain.EngineEvent{}, fmt.Errorf("engineclient: bad amount %q", m.Amount)
		}
		ev.Amount = amt
	}
	if m.PriceLimit != "" {
		limit, ok := new(big.Int).SetString(m.PriceLimit, 10)
		if !ok {
			return domain.EngineEvent{}, fmt.Errorf("engineclient: bad price limit %q", m.PriceLimit)
		}
		ev.PriceLimit = limit
	}
	return ev, nil
}
