// Package liquiditymath applies signed liquidity deltas to unsigned
// liquidity values with uint128 range checks.
package liquiditymath

import (
	"errors"
	"math/big"
)

var (
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta writes x + y into dest, where x is unsigned liquidity and y a
// signed delta. The result must stay within [0, 2^128-1]; dest is written
// only when it does, so an out-of-range delta leaves dest as it was.
func AddDelta(dest, x, y *big.Int) error {
	sum := new(big.Int).Add(x, y)
	if sum.Sign() < 0 {
		return ErrLiquidityUnderflow
	}
	if sum.Cmp(maxUint128) > 0 {
		return ErrLiquidityOverflow
	}
	dest.Set(sum)
	return nil
}
