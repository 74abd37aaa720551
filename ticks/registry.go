// Package ticks is the sparse per-tick bookkeeping layer: liquidity at each
// initialized price boundary and the "outside" fee-growth trackers that make
// per-range fee accounting O(1). Entries exist only while at least one
// position references the boundary.
package ticks

import (
	"math/big"
	"sort"

	"github.com/defistate/clmm-engine-go/liquiditymath"
)

// Info is the state carried by one initialized tick.
type Info struct {
	// LiquidityGross is the total position liquidity referencing this
	// boundary; it decides initialization and removal.
	LiquidityGross *big.Int
	// LiquidityNet is the signed delta applied to pool liquidity when the
	// price crosses this boundary moving up.
	LiquidityNet *big.Int

	// Outside trackers: accumulated on the far side of this tick relative
	// to the current price. Only meaningful while the tick is initialized.
	FeeGrowthOutside0X128          *big.Int
	FeeGrowthOutside1X128          *big.Int
	TickCumulativeOutside          int64
	SecondsPerLiquidityOutsideX128 *big.Int
}

func newInfo() *Info {
	return &Info{
		LiquidityGross:                 new(big.Int),
		LiquidityNet:                   new(big.Int),
		FeeGrowthOutside0X128:          new(big.Int),
		FeeGrowthOutside1X128:          new(big.Int),
		SecondsPerLiquidityOutsideX128: new(big.Int),
	}
}

// Registry holds all initialized ticks of one pool, plus a sorted index for
// directional next-tick queries during swaps.
type Registry struct {
	ticks  map[int64]*Info
	sorted []int64 // ascending tick indices, kept in lockstep with the map
}

func NewRegistry() *Registry {
	return &Registry{ticks: make(map[int64]*Info)}
}

// Get returns the tick entry and whether it is initialized.
func (r *Registry) Get(tick int64) (*Info, bool) {
	info, ok := r.ticks[tick]
	return info, ok
}

// Count returns the number of initialized ticks.
func (r *Registry) Count() int {
	return len(r.ticks)
}

// Update applies a signed liquidity delta to a boundary tick.
// currentTick and the feeGrowthGlobal / oracle cumulative arguments seed the
// outside trackers when the tick transitions to initialized: everything
// accumulated so far is assigned to the side below the tick, which is only
// consistent when the tick is at or below the current price, otherwise the
// outside values start at zero. Returns whether the tick flipped between
// initialized and uninitialized.
func (r *Registry) Update(
	tick, currentTick int64,
	liquidityDelta *big.Int,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *big.Int,
	secondsPerLiquidityCumulativeX128 *big.Int,
	tickCumulative int64,
	upper bool,
) (flipped bool, err error) {
	info, ok := r.ticks[tick]
	if !ok {
		info = newInfo()
	}

	initializedBefore := info.LiquidityGross.Sign() != 0
	grossAfter := new(big.Int)
	if err := liquiditymath.AddDelta(grossAfter, info.LiquidityGross, liquidityDelta); err != nil {
		return false, err
	}
	flipped = (grossAfter.Sign() != 0) != initializedBefore

	if !initializedBefore {
		if tick <= currentTick {
			info.FeeGrowthOutside0X128.Set(feeGrowthGlobal0X128)
			info.FeeGrowthOutside1X128.Set(feeGrowthGlobal1X128)
			info.SecondsPerLiquidityOutsideX128.Set(secondsPerLiquidityCumulativeX128)
			info.TickCumulativeOutside = tickCumulative
		}
	}

	info.LiquidityGross.Set(grossAfter)
	if upper {
		info.LiquidityNet.Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet.Add(info.LiquidityNet, liquidityDelta)
	}

	if !ok {
		r.insert(tick, info)
	}
	return flipped, nil
}

// Cross flips the outside trackers of a tick the price just moved past and
// returns its LiquidityNet. The returned value is owned by the registry.
func (r *Registry) Cross(
	tick int64,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *big.Int,
	secondsPerLiquidityCumulativeX128 *big.Int,
	tickCumulative int64,
) *big.Int {
	info, ok := r.ticks[tick]
	if !ok {
		return new(big.Int)
	}
	info.FeeGrowthOutside0X128.Sub(feeGrowthGlobal0X128, info.FeeGrowthOutside0X128)
	info.FeeGrowthOutside1X128.Sub(feeGrowthGlobal1X128, info.FeeGrowthOutside1X128)
	info.SecondsPerLiquidityOutsideX128.Sub(secondsPerLiquidityCumulativeX128, info.SecondsPerLiquidityOutsideX128)
	info.TickCumulativeOutside = tickCumulative - info.TickCumulativeOutside
	return info.LiquidityNet
}

// Clear removes a tick whose liquidityGross has returned to zero.
func (r *Registry) Clear(tick int64) {
	if _, ok := r.ticks[tick]; !ok {
		return
	}
	delete(r.ticks, tick)
	i := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= tick })
	if i < len(r.sorted) && r.sorted[i] == tick {
		r.sorted = append(r.sorted[:i], r.sorted[i+1:]...)
	}
}

// NextInitialized finds the nearest initialized tick in the swap direction:
// the largest tick <= the input when lte is set, else the smallest tick
// strictly greater. Binary search over the sorted index.
func (r *Registry) NextInitialized(tick int64, lte bool) (next int64, found bool) {
	if len(r.sorted) == 0 {
		return 0, false
	}

	if lte {
		i := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= tick })
		if i < len(r.sorted) && r.sorted[i] == tick {
			return tick, true
		}
		if i == 0 {
			return 0, false
		}
		return r.sorted[i-1], true
	}

	i := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] > tick })
	if i >= len(r.sorted) {
		return 0, false
	}
	return r.sorted[i], true
}

// FeeGrowthInside computes the fee growth per unit liquidity accumulated
// inside [lower, upper], using whichever side of each boundary is currently
// "outside" the range. Missing boundary ticks contribute zero.
func (r *Registry) FeeGrowthInside(
	lower, upper, currentTick int64,
	feeGrowthGlobal0X128, feeGrowthGlobal1X128 *big.Int,
) (inside0, inside1 *big.Int) {
	var lower0, lower1, upper0, upper1 *big.Int
	zero := new(big.Int)

	if info, ok := r.ticks[lower]; ok {
		lower0, lower1 = info.FeeGrowthOutside0X128, info.FeeGrowthOutside1X128
	} else {
		lower0, lower1 = zero, zero
	}
	if info, ok := r.ticks[upper]; ok {
		upper0, upper1 = info.FeeGrowthOutside0X128, info.FeeGrowthOutside1X128
	} else {
		upper0, upper1 = zero, zero
	}

	below0, below1 := new(big.Int), new(big.Int)
	if currentTick >= lower {
		below0.Set(lower0)
		below1.Set(lower1)
	} else {
		below0.Sub(feeGrowthGlobal0X128, lower0)
		below1.Sub(feeGrowthGlobal1X128, lower1)
	}

	above0, above1 := new(big.Int), new(big.Int)
	if currentTick < upper {
		above0.Set(upper0)
		above1.Set(upper1)
	} else {
		above0.Sub(feeGrowthGlobal0X128, upper0)
		above1.Sub(feeGrowthGlobal1X128, upper1)
	}

	inside0 = new(big.Int).Sub(feeGrowthGlobal0X128, below0)
	inside0.Sub(inside0, above0)
	inside1 = new(big.Int).Sub(feeGrowthGlobal1X128, below1)
	inside1.Sub(inside1, above1)
	return inside0, inside1
}

func (r *Registry) insert(tick int64, info *Info) {
	r.ticks[tick] = info
	i := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= tick })
	r.sorted = append(r.sorted, 0)
	copy(r.sorted[i+1:], r.sorted[i:])
	r.sorted[i] = tick
}
