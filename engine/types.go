package engine

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolID identifies a pool by its immutable parameters.
type PoolID string

// NewPoolID derives the identifier for a (token pair, fee) pool. Token
// order does not matter.
func NewPoolID(tokenA, tokenB common.Address, fee uint64) PoolID {
	t0, t1 := tokenA, tokenB
	if bytes.Compare(t0[:], t1[:]) > 0 {
		t0, t1 = t1, t0
	}
	return PoolID(fmt.Sprintf("%s/%s/%d", t0.Hex(), t1.Hex(), fee))
}

// EventType discriminates the payload of an Event.
type EventType string

const (
	EventPoolInitialized EventType = "poolInitialized"
	EventSwapExecuted    EventType = "swapExecuted"
	EventLiquidityMinted EventType = "liquidityMinted"
	EventLiquidityBurned EventType = "liquidityBurned"
	EventFeesCollected   EventType = "feesCollected"
	EventFeeAdjusted     EventType = "feeAdjusted"
)

// Event is one state change broadcast to subscribers. Amounts follow the
// pool's perspective: positive into the pool, negative out of it.
type Event struct {
	Type      EventType      `json:"type"`
	Pool      PoolID         `json:"pool"`
	Timestamp uint64         `json:"timestamp"`
	Owner     common.Address `json:"owner,omitempty"`

	Amount0 *big.Int `json:"amount0,omitempty"`
	Amount1 *big.Int `json:"amount1,omitempty"`

	SqrtPriceX96 *big.Int `json:"sqrtPriceX96,omitempty"`
	Tick         int64    `json:"tick,omitempty"`
	Liquidity    *big.Int `json:"liquidity,omitempty"`

	TickLower int64 `json:"tickLower,omitempty"`
	TickUpper int64 `json:"tickUpper,omitempty"`

	// FeePips carries the new fee on feeAdjusted events.
	FeePips uint64 `json:"feePips,omitempty"`
}
