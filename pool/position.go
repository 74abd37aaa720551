package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/clmm-engine-go/fixedpoint"
	"github.com/defistate/clmm-engine-go/liquiditymath"
	"github.com/defistate/clmm-engine-go/sqrtpricemath"
	"github.com/defistate/clmm-engine-go/tickmath"
)

// PositionKey identifies a position: one position per (owner, range).
type PositionKey struct {
	Owner     common.Address
	TickLower int64
	TickUpper int64
}

// Position tracks the liquidity of one range and the fees it has earned.
// FeeGrowthInsideLast snapshots make fee accrual independent of how many
// other positions the pool carries.
type Position struct {
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
	TokensOwed0              *big.Int
	TokensOwed1              *big.Int
}

func newPosition() *Position {
	return &Position{
		Liquidity:                new(big.Int),
		FeeGrowthInside0LastX128: new(big.Int),
		FeeGrowthInside1LastX128: new(big.Int),
		TokensOwed0:              new(big.Int),
		TokensOwed1:              new(big.Int),
	}
}

// Position returns a copy of the position stored under key, if any.
func (p *Pool) Position(key PositionKey) (Position, bool) {
	pos, ok := p.positions[key]
	if !ok {
		return Position{}, false
	}
	return Position{
		Liquidity:                new(big.Int).Set(pos.Liquidity),
		FeeGrowthInside0LastX128: new(big.Int).Set(pos.FeeGrowthInside0LastX128),
		FeeGrowthInside1LastX128: new(big.Int).Set(pos.FeeGrowthInside1LastX128),
		TokensOwed0:              new(big.Int).Set(pos.TokensOwed0),
		TokensOwed1:              new(big.Int).Set(pos.TokensOwed1),
	}, true
}

// PositionCount reports how many positions the pool currently tracks.
func (p *Pool) PositionCount() int { return len(p.positions) }

// Mint adds liquidity to the (owner, range) position and returns the token
// amounts the provider owes the pool, rounded up.
func (p *Pool) Mint(owner common.Address, tickLower, tickUpper int64, liquidityDelta *big.Int, deadline, now uint64) (amount0, amount1 *big.Int, err error) {
	if liquidityDelta == nil || liquidityDelta.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: mint requires positive liquidity", ErrInvalidAmount)
	}
	if deadline != 0 && now > deadline {
		return nil, nil, fmt.Errorf("%w: deadline %d, now %d", ErrDeadlineExceeded, deadline, now)
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	_, amount0, amount1, err = p.modifyPosition(owner, tickLower, tickUpper, liquidityDelta, now)
	return amount0, amount1, err
}

// Burn removes liquidity from the position and credits the withdrawn token
// amounts, rounded down, to its tokensOwed balances. Collect pays them out.
func (p *Pool) Burn(owner common.Address, tickLower, tickUpper int64, liquidityDelta *big.Int, now uint64) (amount0, amount1 *big.Int, err error) {
	if liquidityDelta == nil || liquidityDelta.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: burn requires positive liquidity", ErrInvalidAmount)
	}
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	neg := new(big.Int).Neg(liquidityDelta)
	pos, amount0, amount1, err := p.modifyPosition(owner, tickLower, tickUpper, neg, now)
	if err != nil {
		return nil, nil, err
	}
	pos.TokensOwed0.Add(pos.TokensOwed0, amount0)
	pos.TokensOwed1.Add(pos.TokensOwed1, amount1)
	return amount0, amount1, nil
}

// Collect pays out accrued fees and burned principal from a position, up to
// the requested amounts. A nil request collects everything owed. Positions
// with no liquidity and nothing owed are forgotten afterwards.
func (p *Pool) Collect(owner common.Address, tickLower, tickUpper int64, amount0Requested, amount1Requested *big.Int) (amount0, amount1 *big.Int, err error) {
	if err := p.lock(); err != nil {
		return nil, nil, err
	}
	defer p.unlock()

	key := PositionKey{Owner: owner, TickLower: tickLower, TickUpper: tickUpper}
	pos, ok := p.positions[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s [%d, %d]", ErrPositionNotFound, owner, tickLower, tickUpper)
	}

	amount0 = bigMin(pos.TokensOwed0, amount0Requested)
	amount1 = bigMin(pos.TokensOwed1, amount1Requested)
	pos.TokensOwed0.Sub(pos.TokensOwed0, amount0)
	pos.TokensOwed1.Sub(pos.TokensOwed1, amount1)

	if pos.Liquidity.Sign() == 0 && pos.TokensOwed0.Sign() == 0 && pos.TokensOwed1.Sign() == 0 {
		delete(p.positions, key)
	}
	return amount0, amount1, nil
}

// modifyPosition is the core of mint and burn: it updates the boundary
// ticks, settles fees into the position via the fee growth inside snapshot,
// applies the liquidity delta, and computes the token amounts the change
// moves at the current price. Callers hold the pool lock.
func (p *Pool) modifyPosition(owner common.Address, tickLower, tickUpper int64, liquidityDelta *big.Int, now uint64) (pos *Position, amount0, amount1 *big.Int, err error) {
	if err := p.checkTicks(tickLower, tickUpper); err != nil {
		return nil, nil, nil, err
	}

	key := PositionKey{Owner: owner, TickLower: tickLower, TickUpper: tickUpper}
	pos, ok := p.positions[key]
	if !ok {
		if liquidityDelta.Sign() < 0 {
			return nil, nil, nil, fmt.Errorf("%w: %s [%d, %d]", ErrPositionNotFound, owner, tickLower, tickUpper)
		}
		pos = newPosition()
	}
	if liquidityDelta.Sign() < 0 {
		withdraw := new(big.Int).Neg(liquidityDelta)
		if pos.Liquidity.Cmp(withdraw) < 0 {
			return nil, nil, nil, fmt.Errorf("%w: position holds %s, burning %s",
				ErrInsufficientLiquidity, pos.Liquidity, withdraw)
		}
	}

	// Range-check every liquidity sum before touching anything: both
	// boundary grosses, the position, and the in-range pool liquidity.
	// The mutations below repeat the same arithmetic and cannot fail.
	sum, zero := new(big.Int), new(big.Int)
	for _, boundary := range [2]int64{tickLower, tickUpper} {
		gross := zero
		if info, initialized := p.ticks.Get(boundary); initialized {
			gross = info.LiquidityGross
		}
		if err := liquiditymath.AddDelta(sum, gross, liquidityDelta); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := liquiditymath.AddDelta(sum, pos.Liquidity, liquidityDelta); err != nil {
		return nil, nil, nil, err
	}
	if tickLower <= p.tick && p.tick < tickUpper {
		if err := liquiditymath.AddDelta(sum, p.liquidity, liquidityDelta); err != nil {
			return nil, nil, nil, err
		}
	}

	tickCum, splCum := p.observations.Snapshot(now, p.tick, p.liquidity)
	p.observations.Write(now, p.tick, p.liquidity)

	flippedLower, err := p.ticks.Update(tickLower, p.tick, liquidityDelta,
		p.feeGrowthGlobal0X128, p.feeGrowthGlobal1X128, splCum, tickCum, false)
	if err != nil {
		return nil, nil, nil, err
	}
	flippedUpper, err := p.ticks.Update(tickUpper, p.tick, liquidityDelta,
		p.feeGrowthGlobal0X128, p.feeGrowthGlobal1X128, splCum, tickCum, true)
	if err != nil {
		return nil, nil, nil, err
	}

	inside0, inside1 := p.ticks.FeeGrowthInside(tickLower, tickUpper, p.tick,
		p.feeGrowthGlobal0X128, p.feeGrowthGlobal1X128)
	if err := p.accrueFees(pos, inside0, inside1); err != nil {
		return nil, nil, nil, err
	}

	if liquidityDelta.Sign() != 0 {
		if err := liquiditymath.AddDelta(pos.Liquidity, pos.Liquidity, liquidityDelta); err != nil {
			return nil, nil, nil, err
		}
	}
	if flippedLower && liquidityDelta.Sign() < 0 {
		p.ticks.Clear(tickLower)
	}
	if flippedUpper && liquidityDelta.Sign() < 0 {
		p.ticks.Clear(tickUpper)
	}

	amount0, amount1, err = p.amountsForDelta(tickLower, tickUpper, liquidityDelta)
	if err != nil {
		return nil, nil, nil, err
	}

	if !ok {
		p.positions[key] = pos
	}
	return pos, amount0, amount1, nil
}

// accrueFees settles pending fees into tokensOwed and refreshes the
// snapshots. Growth deltas are clamped at zero so a rounding regression in
// the inside accumulator can never subtract fees already owed.
func (p *Pool) accrueFees(pos *Position, inside0, inside1 *big.Int) error {
	if pos.Liquidity.Sign() > 0 {
		delta0 := new(big.Int).Sub(inside0, pos.FeeGrowthInside0LastX128)
		delta1 := new(big.Int).Sub(inside1, pos.FeeGrowthInside1LastX128)
		if delta0.Sign() > 0 {
			owed0, err := fixedpoint.MulDiv(delta0, pos.Liquidity, fixedpoint.Q128)
			if err != nil {
				return err
			}
			pos.TokensOwed0.Add(pos.TokensOwed0, owed0)
		}
		if delta1.Sign() > 0 {
			owed1, err := fixedpoint.MulDiv(delta1, pos.Liquidity, fixedpoint.Q128)
			if err != nil {
				return err
			}
			pos.TokensOwed1.Add(pos.TokensOwed1, owed1)
		}
	}
	pos.FeeGrowthInside0LastX128.Set(inside0)
	pos.FeeGrowthInside1LastX128.Set(inside1)
	return nil
}

// amountsForDelta converts a liquidity delta on [tickLower, tickUpper] into
// token amounts at the current price. Mints round up, burns round down, so
// the pool can never be short. It also keeps the in-range liquidity
// accumulator in sync when the range straddles the current tick.
func (p *Pool) amountsForDelta(tickLower, tickUpper int64, liquidityDelta *big.Int) (amount0, amount1 *big.Int, err error) {
	amount0, amount1 = new(big.Int), new(big.Int)
	if liquidityDelta.Sign() == 0 {
		return amount0, amount1, nil
	}

	roundUp := liquidityDelta.Sign() > 0
	magnitude := new(big.Int).Abs(liquidityDelta)

	sqrtLower, sqrtUpper := new(big.Int), new(big.Int)
	if err := tickmath.GetSqrtRatioAtTick(sqrtLower, tickLower); err != nil {
		return nil, nil, err
	}
	if err := tickmath.GetSqrtRatioAtTick(sqrtUpper, tickUpper); err != nil {
		return nil, nil, err
	}

	switch {
	case p.tick < tickLower:
		// Entirely above the current price: the range holds only token0.
		if err := sqrtpricemath.GetAmount0Delta(amount0, sqrtLower, sqrtUpper, magnitude, roundUp); err != nil {
			return nil, nil, err
		}
	case p.tick < tickUpper:
		// Straddles the current price: both tokens, and the delta is live.
		if err := sqrtpricemath.GetAmount0Delta(amount0, p.sqrtPriceX96, sqrtUpper, magnitude, roundUp); err != nil {
			return nil, nil, err
		}
		sqrtpricemath.GetAmount1Delta(amount1, sqrtLower, p.sqrtPriceX96, magnitude, roundUp)
		if err := liquiditymath.AddDelta(p.liquidity, p.liquidity, liquidityDelta); err != nil {
			return nil, nil, err
		}
	default:
		// Entirely below the current price: only token1.
		sqrtpricemath.GetAmount1Delta(amount1, sqrtLower, sqrtUpper, magnitude, roundUp)
	}
	return amount0, amount1, nil
}
