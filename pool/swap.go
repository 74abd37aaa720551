package pool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/clmm-engine-go/fixedpoint"
	"github.com/defistate/clmm-engine-go/liquiditymath"
	"github.com/defistate/clmm-engine-go/swapmath"
	"github.com/defistate/clmm-engine-go/tickmath"
)

// SwapParams configures one swap.
type SwapParams struct {
	// ZeroForOne swaps token0 in for token1 out when true.
	ZeroForOne bool
	// AmountSpecified is the swap size: positive is exact input, negative
	// is exact output.
	AmountSpecified *big.Int
	// SqrtPriceLimitX96 stops the swap at this price. Nil defaults to the
	// extreme ratio in the swap direction.
	SqrtPriceLimitX96 *big.Int
	// Deadline rejects the swap when now is past it. Zero disables.
	Deadline uint64
	// MaxPriceImpactPips rejects the swap when the sqrt price moves by more
	// than this fraction of 1_000_000. Zero disables.
	MaxPriceImpactPips uint64
}

// SwapResult reports what a completed swap did.
type SwapResult struct {
	// Amount0 and Amount1 follow the pool's perspective: positive amounts
	// flow into the pool, negative amounts flow out to the swapper.
	Amount0, Amount1 *big.Int
	SqrtPriceX96     *big.Int
	Tick             int64
	Liquidity        *big.Int
	// TicksCrossed counts initialized boundaries the price moved past.
	TicksCrossed int
	FeeAmount    *big.Int
}

// crossing records an initialized tick the simulation moved past, with the
// input-token fee growth accumulator as of that moment. The registry flips
// are applied only when the whole swap commits.
type crossing struct {
	tick          int64
	feeGrowthX128 *big.Int
}

// swapState is scratch space for one swap simulation. Pooled and reused so
// the hot loop allocates nothing per step.
type swapState struct {
	amountSpecifiedRemaining *big.Int
	amountCalculated         *big.Int
	sqrtPriceX96             *big.Int
	tick                     int64
	liquidity                *big.Int
	feeGrowthGlobalX128      *big.Int
	protocolFee              *big.Int
	totalFee                 *big.Int

	sqrtPriceStartX96 *big.Int
	sqrtPriceNextX96  *big.Int
	targetPrice       *big.Int
	stepAmountIn      *big.Int
	stepAmountOut     *big.Int
	stepFeeAmount     *big.Int
	tempAmount        *big.Int
	liquidityNet      *big.Int

	crossings []crossing
}

var swapStatePool = sync.Pool{
	New: func() any {
		return &swapState{
			amountSpecifiedRemaining: new(big.Int),
			amountCalculated:         new(big.Int),
			sqrtPriceX96:             new(big.Int),
			liquidity:                new(big.Int),
			feeGrowthGlobalX128:      new(big.Int),
			protocolFee:              new(big.Int),
			totalFee:                 new(big.Int),
			sqrtPriceStartX96:        new(big.Int),
			sqrtPriceNextX96:         new(big.Int),
			targetPrice:              new(big.Int),
			stepAmountIn:             new(big.Int),
			stepAmountOut:            new(big.Int),
			stepFeeAmount:            new(big.Int),
			tempAmount:               new(big.Int),
			liquidityNet:             new(big.Int),
		}
	},
}

// Swap trades against the pool's liquidity, walking tick by tick until the
// specified amount is exhausted or the price limit is hit. The simulation
// runs on scratch state and the pool is only mutated after every check has
// passed, so a failed swap leaves the pool untouched.
func (p *Pool) Swap(params SwapParams, now uint64) (*SwapResult, error) {
	if params.AmountSpecified == nil || params.AmountSpecified.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero amount specified", ErrInvalidAmount)
	}
	if params.Deadline != 0 && now > params.Deadline {
		return nil, fmt.Errorf("%w: deadline %d, now %d", ErrDeadlineExceeded, params.Deadline, now)
	}
	if err := p.lock(); err != nil {
		return nil, err
	}
	defer p.unlock()

	limit := params.SqrtPriceLimitX96
	if limit == nil {
		if params.ZeroForOne {
			limit = new(big.Int).Add(tickmath.MIN_SQRT_RATIO, big.NewInt(1))
		} else {
			limit = new(big.Int).Sub(tickmath.MAX_SQRT_RATIO, big.NewInt(1))
		}
	}
	if params.ZeroForOne {
		if limit.Cmp(p.sqrtPriceX96) >= 0 || limit.Cmp(tickmath.MIN_SQRT_RATIO) <= 0 {
			return nil, fmt.Errorf("%w: limit %s for zeroForOne at price %s", ErrInvalidPriceLimit, limit, p.sqrtPriceX96)
		}
	} else {
		if limit.Cmp(p.sqrtPriceX96) <= 0 || limit.Cmp(tickmath.MAX_SQRT_RATIO) >= 0 {
			return nil, fmt.Errorf("%w: limit %s for oneForZero at price %s", ErrInvalidPriceLimit, limit, p.sqrtPriceX96)
		}
	}

	state := swapStatePool.Get().(*swapState)
	defer swapStatePool.Put(state)

	state.amountSpecifiedRemaining.Set(params.AmountSpecified)
	state.amountCalculated.SetUint64(0)
	state.sqrtPriceX96.Set(p.sqrtPriceX96)
	state.tick = p.tick
	state.liquidity.Set(p.liquidity)
	if params.ZeroForOne {
		state.feeGrowthGlobalX128.Set(p.feeGrowthGlobal0X128)
	} else {
		state.feeGrowthGlobalX128.Set(p.feeGrowthGlobal1X128)
	}
	state.protocolFee.SetUint64(0)
	state.totalFee.SetUint64(0)
	state.crossings = state.crossings[:0]

	tickCum, splCum := p.observations.Snapshot(now, p.tick, p.liquidity)

	if err := p.simulate(state, limit, params.ZeroForOne); err != nil {
		return nil, err
	}

	if params.MaxPriceImpactPips > 0 {
		if err := p.checkPriceImpact(state.sqrtPriceX96, params.MaxPriceImpactPips); err != nil {
			return nil, err
		}
	}

	// Commit. The observation records the pre-swap tick and liquidity, which
	// prevailed from the previous write until now.
	p.observations.Write(now, p.tick, p.liquidity)
	for _, c := range state.crossings {
		if params.ZeroForOne {
			p.ticks.Cross(c.tick, c.feeGrowthX128, p.feeGrowthGlobal1X128, splCum, tickCum)
		} else {
			p.ticks.Cross(c.tick, p.feeGrowthGlobal0X128, c.feeGrowthX128, splCum, tickCum)
		}
	}
	p.sqrtPriceX96.Set(state.sqrtPriceX96)
	p.tick = state.tick
	p.liquidity.Set(state.liquidity)
	if params.ZeroForOne {
		p.feeGrowthGlobal0X128.Set(state.feeGrowthGlobalX128)
		p.protocolFees0.Add(p.protocolFees0, state.protocolFee)
	} else {
		p.feeGrowthGlobal1X128.Set(state.feeGrowthGlobalX128)
		p.protocolFees1.Add(p.protocolFees1, state.protocolFee)
	}

	exactInput := params.AmountSpecified.Sign() > 0
	consumed := new(big.Int).Sub(params.AmountSpecified, state.amountSpecifiedRemaining)
	calculated := new(big.Int).Set(state.amountCalculated)
	if exactInput {
		calculated.Neg(calculated)
	}

	res := &SwapResult{
		SqrtPriceX96: new(big.Int).Set(p.sqrtPriceX96),
		Tick:         p.tick,
		Liquidity:    new(big.Int).Set(p.liquidity),
		TicksCrossed: len(state.crossings),
		FeeAmount:    new(big.Int).Set(state.totalFee),
	}
	if params.ZeroForOne == exactInput {
		res.Amount0, res.Amount1 = consumed, calculated
	} else {
		res.Amount0, res.Amount1 = calculated, consumed
	}
	return res, nil
}

// simulate walks the swap on scratch state: one swapmath step per tick
// range, fees accrued into the running growth accumulator, initialized
// boundaries recorded for the later registry flip.
func (p *Pool) simulate(state *swapState, sqrtPriceLimitX96 *big.Int, zeroForOne bool) error {
	exactInput := state.amountSpecifiedRemaining.Sign() > 0

	for state.amountSpecifiedRemaining.Sign() != 0 && state.sqrtPriceX96.Cmp(sqrtPriceLimitX96) != 0 {
		if state.liquidity.Sign() == 0 {
			return fmt.Errorf("%w: no liquidity at tick %d", ErrInsufficientLiquidity, state.tick)
		}
		state.sqrtPriceStartX96.Set(state.sqrtPriceX96)

		tickNext, initialized := p.ticks.NextInitialized(state.tick, zeroForOne)
		if !initialized {
			break
		}
		if tickNext < tickmath.MIN_TICK {
			tickNext = tickmath.MIN_TICK
		} else if tickNext > tickmath.MAX_TICK {
			tickNext = tickmath.MAX_TICK
		}

		if err := tickmath.GetSqrtRatioAtTick(state.sqrtPriceNextX96, tickNext); err != nil {
			return err
		}

		if (zeroForOne && state.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) < 0) ||
			(!zeroForOne && state.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) > 0) {
			state.targetPrice.Set(sqrtPriceLimitX96)
		} else {
			state.targetPrice.Set(state.sqrtPriceNextX96)
		}

		err := swapmath.ComputeSwapStep(
			state.sqrtPriceX96, state.stepAmountIn, state.stepAmountOut, state.stepFeeAmount,
			state.sqrtPriceStartX96,
			state.targetPrice,
			state.liquidity,
			state.amountSpecifiedRemaining,
			state.tempAmount.SetUint64(p.fee),
		)
		if err != nil {
			return err
		}

		if exactInput {
			state.amountSpecifiedRemaining.Sub(state.amountSpecifiedRemaining, state.tempAmount.Add(state.stepAmountIn, state.stepFeeAmount))
			state.amountCalculated.Add(state.amountCalculated, state.stepAmountOut)
		} else {
			state.amountSpecifiedRemaining.Add(state.amountSpecifiedRemaining, state.stepAmountOut)
			state.amountCalculated.Add(state.amountCalculated, state.tempAmount.Add(state.stepAmountIn, state.stepFeeAmount))
		}
		state.totalFee.Add(state.totalFee, state.stepFeeAmount)

		if p.feeProtocol > 0 {
			delta := state.tempAmount.SetUint64(p.feeProtocol)
			delta.Div(state.stepFeeAmount, delta)
			state.stepFeeAmount.Sub(state.stepFeeAmount, delta)
			state.protocolFee.Add(state.protocolFee, delta)
		}
		if state.stepFeeAmount.Sign() > 0 {
			growth, err := fixedpoint.MulDiv(state.stepFeeAmount, fixedpoint.Q128, state.liquidity)
			if err != nil {
				return err
			}
			state.feeGrowthGlobalX128.Add(state.feeGrowthGlobalX128, growth)
		}

		if state.sqrtPriceX96.Cmp(state.sqrtPriceNextX96) == 0 {
			// Reached an initialized boundary: record the crossing with
			// the growth accumulated so far and step the liquidity.
			state.crossings = append(state.crossings, crossing{
				tick:          tickNext,
				feeGrowthX128: new(big.Int).Set(state.feeGrowthGlobalX128),
			})

			info, ok := p.ticks.Get(tickNext)
			if ok {
				state.liquidityNet.Set(info.LiquidityNet)
				if zeroForOne {
					state.liquidityNet.Neg(state.liquidityNet)
				}
				if err := liquiditymath.AddDelta(state.liquidity, state.liquidity, state.liquidityNet); err != nil {
					return err
				}
			}

			if zeroForOne {
				state.tick = tickNext - 1
			} else {
				state.tick = tickNext
			}
		} else if state.sqrtPriceX96.Cmp(state.sqrtPriceStartX96) != 0 {
			state.tick, err = tickmath.GetTickAtSqrtRatio(state.sqrtPriceX96)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// checkPriceImpact compares the post-swap sqrt price against the starting
// price in pips of 1_000_000.
func (p *Pool) checkPriceImpact(sqrtPriceAfter *big.Int, maxPips uint64) error {
	diff := new(big.Int).Sub(sqrtPriceAfter, p.sqrtPriceX96)
	diff.Abs(diff)
	impact, err := fixedpoint.MulDiv(diff, big.NewInt(1_000_000), p.sqrtPriceX96)
	if err != nil {
		return err
	}
	if impact.Cmp(new(big.Int).SetUint64(maxPips)) > 0 {
		return fmt.Errorf("%w: impact %s pips exceeds %d", ErrPriceImpactTooHigh, impact, maxPips)
	}
	return nil
}
