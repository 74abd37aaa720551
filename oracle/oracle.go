// Package oracle records cumulative tick and seconds-per-liquidity
// observations in a ring buffer and answers time-weighted average queries
// over the retained window.
package oracle

import (
	"errors"
	"math/big"
)

var (
	// ErrUninitialized is returned when a query reaches back before the
	// oldest retained observation.
	ErrUninitialized = errors.New("oracle: target predates oldest observation")
)

// Observation is one ring buffer entry.
type Observation struct {
	BlockTimestamp uint64
	// TickCumulative is the running integral of tick over time since pool
	// creation. Never reset.
	TickCumulative int64
	// SecondsPerLiquidityCumulativeX128 integrates 1/liquidity over time.
	SecondsPerLiquidityCumulativeX128 *big.Int
	Initialized                       bool
}

// Oracle is the per-pool observation buffer. cardinality entries are live;
// writes grow the buffer up to cardinalityNext before wrapping.
type Oracle struct {
	obs             []Observation
	index           int
	cardinality     int
	cardinalityNext int
}

// New creates the buffer with a single observation at time.
func New(time uint64) *Oracle {
	o := &Oracle{
		obs:             make([]Observation, 1),
		cardinality:     1,
		cardinalityNext: 1,
	}
	o.obs[0] = Observation{
		BlockTimestamp:                    time,
		SecondsPerLiquidityCumulativeX128: new(big.Int),
		Initialized:                       true,
	}
	return o
}

// Cardinality returns the number of live observations.
func (o *Oracle) Cardinality() int { return o.cardinality }

// Grow raises the target cardinality. Growth happens lazily as writes reach
// the new slots; shrinking is not supported.
func (o *Oracle) Grow(next int) int {
	if next <= o.cardinalityNext {
		return o.cardinalityNext
	}
	for len(o.obs) < next {
		o.obs = append(o.obs, Observation{
			SecondsPerLiquidityCumulativeX128: new(big.Int),
		})
	}
	o.cardinalityNext = next
	return next
}

// Write records the tick and liquidity that prevailed since the previous
// observation. A write at the last observation's timestamp is a no-op:
// timestamps are strictly increasing along the buffer.
func (o *Oracle) Write(time uint64, tick int64, liquidity *big.Int) {
	last := &o.obs[o.index]
	if time <= last.BlockTimestamp {
		return
	}

	next := (o.index + 1) % o.cardinalityNext
	if next >= o.cardinality {
		o.cardinality = next + 1
	}
	o.obs[next] = transform(last, time, tick, liquidity)
	o.index = next
}

// Observe returns the cumulative values at (time - secondsAgo) for each
// entry, interpolating between surrounding observations where the exact
// timestamp was not recorded. secondsAgo of zero reads the current state.
func (o *Oracle) Observe(time uint64, secondsAgos []uint64, tick int64, liquidity *big.Int) ([]int64, []*big.Int, error) {
	tickCumulatives := make([]int64, len(secondsAgos))
	secondsPerLiquidity := make([]*big.Int, len(secondsAgos))
	for i, ago := range secondsAgos {
		tc, spl, err := o.ObserveSingle(time, ago, tick, liquidity)
		if err != nil {
			return nil, nil, err
		}
		tickCumulatives[i] = tc
		secondsPerLiquidity[i] = spl
	}
	return tickCumulatives, secondsPerLiquidity, nil
}

// ObserveSingle resolves one secondsAgo query.
func (o *Oracle) ObserveSingle(time uint64, secondsAgo uint64, tick int64, liquidity *big.Int) (int64, *big.Int, error) {
	if secondsAgo == 0 {
		last := &o.obs[o.index]
		if last.BlockTimestamp == time {
			return last.TickCumulative, new(big.Int).Set(last.SecondsPerLiquidityCumulativeX128), nil
		}
		now := transform(last, time, tick, liquidity)
		return now.TickCumulative, now.SecondsPerLiquidityCumulativeX128, nil
	}

	if secondsAgo > time {
		return 0, nil, ErrUninitialized
	}
	target := time - secondsAgo

	before, after, err := o.surrounding(target, time, tick, liquidity)
	if err != nil {
		return 0, nil, err
	}

	if before.BlockTimestamp == target {
		return before.TickCumulative, new(big.Int).Set(before.SecondsPerLiquidityCumulativeX128), nil
	}
	if after.BlockTimestamp == target {
		return after.TickCumulative, new(big.Int).Set(after.SecondsPerLiquidityCumulativeX128), nil
	}

	// Linear interpolation at the exact boundary timestamp.
	span := int64(after.BlockTimestamp - before.BlockTimestamp)
	elapsed := int64(target - before.BlockTimestamp)

	tc := before.TickCumulative + (after.TickCumulative-before.TickCumulative)/span*elapsed

	splDelta := new(big.Int).Sub(after.SecondsPerLiquidityCumulativeX128, before.SecondsPerLiquidityCumulativeX128)
	splDelta.Mul(splDelta, big.NewInt(elapsed))
	splDelta.Quo(splDelta, big.NewInt(span))
	spl := new(big.Int).Add(before.SecondsPerLiquidityCumulativeX128, splDelta)
	return tc, spl, nil
}

// Snapshot projects the cumulative values to time without writing.
func (o *Oracle) Snapshot(time uint64, tick int64, liquidity *big.Int) (int64, *big.Int) {
	last := &o.obs[o.index]
	if last.BlockTimestamp == time {
		return last.TickCumulative, new(big.Int).Set(last.SecondsPerLiquidityCumulativeX128)
	}
	now := transform(last, time, tick, liquidity)
	return now.TickCumulative, now.SecondsPerLiquidityCumulativeX128
}

// surrounding finds the observations bracketing target, extending the last
// observation to "now" when target is newer than everything recorded.
func (o *Oracle) surrounding(target, time uint64, tick int64, liquidity *big.Int) (before, after Observation, err error) {
	last := o.obs[o.index]
	if last.BlockTimestamp <= target {
		if last.BlockTimestamp == target {
			return last, last, nil
		}
		return last, transform(&last, time, tick, liquidity), nil
	}

	oldest := o.obs[(o.index+1)%o.cardinality]
	if target < oldest.BlockTimestamp {
		return Observation{}, Observation{}, ErrUninitialized
	}

	// Binary search over the ring: logical order starts at the slot after
	// index (the oldest) and ends at index (the newest).
	lo, hi := 0, o.cardinality-1
	for lo <= hi {
		mid := (lo + hi) / 2
		cand := o.at(mid)
		if cand.BlockTimestamp > target {
			hi = mid - 1
			continue
		}
		next := o.at(mid + 1)
		if target < next.BlockTimestamp {
			return cand, next, nil
		}
		lo = mid + 1
	}
	return Observation{}, Observation{}, ErrUninitialized
}

// at returns the i-th observation in logical (oldest-first) order.
func (o *Oracle) at(i int) Observation {
	return o.obs[(o.index+1+i)%o.cardinality]
}

// transform rolls an observation forward: the given tick and liquidity are
// assumed to have prevailed for the whole interval.
func transform(last *Observation, time uint64, tick int64, liquidity *big.Int) Observation {
	delta := int64(time - last.BlockTimestamp)

	spl := new(big.Int).Lsh(big.NewInt(delta), 128)
	if liquidity != nil && liquidity.Sign() > 0 {
		spl.Quo(spl, liquidity)
	}
	spl.Add(spl, last.SecondsPerLiquidityCumulativeX128)

	return Observation{
		BlockTimestamp:                    time,
		TickCumulative:                    last.TickCumulative + tick*delta,
		SecondsPerLiquidityCumulativeX128: spl,
		Initialized:                       true,
	}
}
