// Package pool holds the per-pool state of the concentrated liquidity
// engine and executes swaps and position changes against it. One Pool is a
// single-writer structure: the unlocked guard serializes every mutating
// call and is released on all exit paths.
package pool

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/clmm-engine-go/oracle"
	"github.com/defistate/clmm-engine-go/tickmath"
	"github.com/defistate/clmm-engine-go/ticks"
)

var (
	ErrInvalidTickRange      = errors.New("invalid tick range")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidPriceLimit     = errors.New("invalid price limit")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrPriceImpactTooHigh    = errors.New("price impact exceeds tolerance")
	ErrDeadlineExceeded      = errors.New("deadline exceeded")
	ErrPositionNotFound      = errors.New("position not found")
	ErrReentrancy            = errors.New("pool is locked")
)

// tickSpacings maps the canonical fee tiers (pips) to their tick spacing.
var tickSpacings = map[uint64]int64{
	100:   1,
	500:   10,
	3000:  60,
	10000: 200,
}

// DefaultTickSpacing returns the canonical tick spacing for a fee tier, or
// zero if the fee is not a canonical tier.
func DefaultTickSpacing(fee uint64) int64 {
	return tickSpacings[fee]
}

// Config are the immutable parameters of a pool.
type Config struct {
	Token0, Token1 common.Address
	// Fee in pips of 1_000_000 (3000 = 0.30%).
	Fee uint64
	// TickSpacing every position boundary must align to. Zero selects the
	// canonical spacing for the fee tier.
	TickSpacing int64
	// FeeProtocol diverts 1/FeeProtocol of every fee to the protocol.
	// Zero disables the protocol cut.
	FeeProtocol uint64
	// SqrtPriceX96 is the initial price.
	SqrtPriceX96 *big.Int
	// ObservationCardinality sizes the oracle ring buffer. Values below 1
	// mean 1; GrowObservations can raise it later.
	ObservationCardinality int
}

func (c *Config) validate() error {
	if c.Token0 == c.Token1 {
		return fmt.Errorf("%w: identical tokens", ErrInvalidAmount)
	}
	if c.Fee >= 1_000_000 {
		return fmt.Errorf("%w: fee %d out of range", ErrInvalidAmount, c.Fee)
	}
	if c.TickSpacing == 0 && tickSpacings[c.Fee] == 0 {
		return fmt.Errorf("%w: no tick spacing for fee %d", ErrInvalidAmount, c.Fee)
	}
	if c.TickSpacing < 0 {
		return fmt.Errorf("%w: negative tick spacing", ErrInvalidAmount)
	}
	if c.SqrtPriceX96 == nil || c.SqrtPriceX96.Sign() <= 0 {
		return fmt.Errorf("%w: missing initial sqrt price", ErrInvalidAmount)
	}
	return nil
}

// Pool is all mutable state of one (token pair, fee, tick spacing) pool.
type Pool struct {
	token0, token1 common.Address
	fee            uint64
	tickSpacing    int64
	feeProtocol    uint64

	sqrtPriceX96 *big.Int
	tick         int64
	liquidity    *big.Int

	feeGrowthGlobal0X128 *big.Int
	feeGrowthGlobal1X128 *big.Int
	protocolFees0        *big.Int
	protocolFees1        *big.Int

	ticks        *ticks.Registry
	positions    map[PositionKey]*Position
	observations *oracle.Oracle

	unlocked bool
}

// New creates a pool at the configured initial price and records the first
// oracle observation. Tokens are stored in canonical (ascending) order.
func New(cfg Config, now uint64) (*Pool, error) {
	if cfg.TickSpacing == 0 {
		cfg.TickSpacing = tickSpacings[cfg.Fee]
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	token0, token1 := cfg.Token0, cfg.Token1
	if bytes.Compare(token0[:], token1[:]) > 0 {
		token0, token1 = token1, token0
	}

	tick, err := tickmath.GetTickAtSqrtRatio(cfg.SqrtPriceX96)
	if err != nil {
		return nil, err
	}

	observations := oracle.New(now)
	if cfg.ObservationCardinality > 1 {
		observations.Grow(cfg.ObservationCardinality)
	}

	return &Pool{
		token0:               token0,
		token1:               token1,
		fee:                  cfg.Fee,
		tickSpacing:          cfg.TickSpacing,
		feeProtocol:          cfg.FeeProtocol,
		sqrtPriceX96:         new(big.Int).Set(cfg.SqrtPriceX96),
		tick:                 tick,
		liquidity:            new(big.Int),
		feeGrowthGlobal0X128: new(big.Int),
		feeGrowthGlobal1X128: new(big.Int),
		protocolFees0:        new(big.Int),
		protocolFees1:        new(big.Int),
		ticks:                ticks.NewRegistry(),
		positions:            make(map[PositionKey]*Position),
		observations:         observations,
		unlocked:             true,
	}, nil
}

// lock acquires the reentrancy guard. Every mutating operation takes it at
// entry and releases it via defer, so a failure anywhere leaves the pool
// usable for the next call.
func (p *Pool) lock() error {
	if !p.unlocked {
		return ErrReentrancy
	}
	p.unlocked = false
	return nil
}

func (p *Pool) unlock() {
	p.unlocked = true
}

// MinTick returns the lowest usable tick for this pool's spacing.
func (p *Pool) MinTick() int64 {
	return (tickmath.MIN_TICK / p.tickSpacing) * p.tickSpacing
}

// MaxTick returns the highest usable tick for this pool's spacing.
func (p *Pool) MaxTick() int64 {
	return (tickmath.MAX_TICK / p.tickSpacing) * p.tickSpacing
}

func (p *Pool) Token0() common.Address { return p.token0 }
func (p *Pool) Token1() common.Address { return p.token1 }
func (p *Pool) Fee() uint64            { return p.fee }
func (p *Pool) TickSpacing() int64     { return p.tickSpacing }
func (p *Pool) Tick() int64            { return p.tick }

func (p *Pool) SqrtPriceX96() *big.Int { return new(big.Int).Set(p.sqrtPriceX96) }
func (p *Pool) Liquidity() *big.Int    { return new(big.Int).Set(p.liquidity) }

func (p *Pool) FeeGrowthGlobal0X128() *big.Int { return new(big.Int).Set(p.feeGrowthGlobal0X128) }
func (p *Pool) FeeGrowthGlobal1X128() *big.Int { return new(big.Int).Set(p.feeGrowthGlobal1X128) }
func (p *Pool) ProtocolFees() (*big.Int, *big.Int) {
	return new(big.Int).Set(p.protocolFees0), new(big.Int).Set(p.protocolFees1)
}

// InitializedTickCount reports how many ticks currently carry liquidity.
func (p *Pool) InitializedTickCount() int { return p.ticks.Count() }

// Observe exposes the oracle: cumulative tick and seconds-per-liquidity at
// each (now - secondsAgo).
func (p *Pool) Observe(secondsAgos []uint64, now uint64) ([]int64, []*big.Int, error) {
	return p.observations.Observe(now, secondsAgos, p.tick, p.liquidity)
}

// ObserveCardinality returns the live observation count.
func (p *Pool) ObserveCardinality() int { return p.observations.Cardinality() }

// GrowObservations raises the oracle's target cardinality.
func (p *Pool) GrowObservations(next int) int { return p.observations.Grow(next) }

// TimeWeightedAverageTick integrates the recorded tick history over the
// trailing window and returns the average tick.
func (p *Pool) TimeWeightedAverageTick(secondsAgo uint64, now uint64) (int64, error) {
	if secondsAgo == 0 {
		return 0, fmt.Errorf("%w: zero window", ErrInvalidAmount)
	}
	cums, _, err := p.observations.Observe(now, []uint64{secondsAgo, 0}, p.tick, p.liquidity)
	if err != nil {
		return 0, err
	}
	return (cums[1] - cums[0]) / int64(secondsAgo), nil
}

// TimeWeightedAverageSqrtPriceX96 converts the average tick of the trailing
// window back to a sqrt price.
func (p *Pool) TimeWeightedAverageSqrtPriceX96(secondsAgo uint64, now uint64) (*big.Int, error) {
	avgTick, err := p.TimeWeightedAverageTick(secondsAgo, now)
	if err != nil {
		return nil, err
	}
	sqrtPrice := new(big.Int)
	if err := tickmath.GetSqrtRatioAtTick(sqrtPrice, avgTick); err != nil {
		return nil, err
	}
	return sqrtPrice, nil
}

// AdjustFee retunes the swap fee in place. Tick spacing is fixed at
// construction and does not follow the fee, so existing positions keep
// their alignment.
func (p *Pool) AdjustFee(fee uint64) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if fee == 0 || fee >= 1_000_000 {
		return fmt.Errorf("%w: fee %d out of range", ErrInvalidAmount, fee)
	}
	p.fee = fee
	return nil
}

// CollectProtocol drains accumulated protocol fees up to the requested
// amounts.
func (p *Pool) CollectProtocol(amount0Requested, amount1Requested *big.Int) (*big.Int, *big.Int, error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	amount0 := bigMin(p.protocolFees0, amount0Requested)
	amount1 := bigMin(p.protocolFees1, amount1Requested)
	p.protocolFees0.Sub(p.protocolFees0, amount0)
	p.protocolFees1.Sub(p.protocolFees1, amount1)
	return amount0, amount1, nil
}

func bigMin(a, b *big.Int) *big.Int {
	if b == nil || a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// checkTicks validates a position range against spacing and bounds.
func (p *Pool) checkTicks(lower, upper int64) error {
	if lower >= upper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidTickRange, lower, upper)
	}
	if lower%p.tickSpacing != 0 || upper%p.tickSpacing != 0 {
		return fmt.Errorf("%w: ticks not aligned to spacing %d", ErrInvalidTickRange, p.tickSpacing)
	}
	if lower < p.MinTick() || upper > p.MaxTick() {
		return fmt.Errorf("%w: outside [%d, %d]", ErrInvalidTickRange, p.MinTick(), p.MaxTick())
	}
	return nil
}
