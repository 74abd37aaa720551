// Package fixedpoint provides the full-width multiply-divide, integer square
// root, and liquidity<->amount conversions that the rest of the math stack is
// built on. All values are Q64.96 sqrt prices or raw token/liquidity units
// unless a name says otherwise.
package fixedpoint

import (
	"errors"
	"math/big"
)

// Resolution is the number of fractional bits in the Q96 format.
const Resolution = uint(96)

var (
	// Q96 is the UQ64.96 fixed-point number representing 1.
	Q96 = new(big.Int).Lsh(big.NewInt(1), 96)
	// Q128 is the scaling factor for fee-growth accumulators.
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	// MaxUint256 bounds every representable result.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	ErrOverflow = errors.New("fixed point overflow")

	one = big.NewInt(1)
)

// MulDiv computes floor(x*y/denominator) with full-width intermediate
// precision. It fails with ErrOverflow if denominator is zero or the result
// does not fit in 256 bits.
func MulDiv(x, y, denominator *big.Int) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, ErrOverflow
	}
	result := new(big.Int).Mul(x, y)
	result.Quo(result, denominator)
	if result.Cmp(MaxUint256) > 0 {
		return nil, ErrOverflow
	}
	return result, nil
}

// MulDivRoundingUp computes ceil(x*y/denominator) under the same overflow
// contract as MulDiv.
func MulDivRoundingUp(x, y, denominator *big.Int) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, ErrOverflow
	}
	product := new(big.Int).Mul(x, y)
	result, rem := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if rem.Sign() > 0 {
		result.Add(result, one)
	}
	if result.Cmp(MaxUint256) > 0 {
		return nil, ErrOverflow
	}
	return result, nil
}

// DivRoundingUp computes ceil(numerator/denominator).
func DivRoundingUp(numerator, denominator *big.Int) (*big.Int, error) {
	if denominator.Sign() == 0 {
		return nil, ErrOverflow
	}
	result, rem := new(big.Int).QuoRem(numerator, denominator, new(big.Int))
	if rem.Sign() > 0 {
		result.Add(result, one)
	}
	return result, nil
}

// Sqrt returns floor(sqrt(x)) via Newton iteration seeded at (x+1)/2.
// The sequence is strictly decreasing once it passes the root, so the loop
// terminates for every non-negative input.
func Sqrt(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	z := new(big.Int).Set(x)
	y := new(big.Int).Add(x, one)
	y.Rsh(y, 1)
	t := new(big.Int)
	for y.Cmp(z) < 0 {
		z.Set(y)
		t.Quo(x, y)
		y.Add(y, t).Rsh(y, 1)
	}
	return z
}

// GetAmount0ForLiquidity returns the amount of token0 a range [sqrtA, sqrtB]
// holds for the given liquidity, rounded down. Rounding down is what a
// provider receives back; the pool never pays out the rounding dust.
func GetAmount0ForLiquidity(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int) (*big.Int, error) {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	if sqrtRatioAX96.Sign() <= 0 {
		return nil, ErrOverflow
	}
	numerator := new(big.Int).Lsh(liquidity, 96)
	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	term, err := MulDiv(numerator, diff, sqrtRatioBX96)
	if err != nil {
		return nil, err
	}
	return term.Quo(term, sqrtRatioAX96), nil
}

// GetAmount1ForLiquidity returns the amount of token1 a range [sqrtA, sqrtB]
// holds for the given liquidity, rounded down.
func GetAmount1ForLiquidity(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int) (*big.Int, error) {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	return MulDiv(liquidity, diff, Q96)
}

// GetLiquidityForAmounts computes the maximum liquidity the given token
// amounts can fund over [sqrtA, sqrtB] at the current price. The result is
// the smaller of the two single-sided liquidity values, so a provider can
// never mint depth their deposit does not cover.
func GetLiquidityForAmounts(sqrtRatioX96, sqrtRatioAX96, sqrtRatioBX96, amount0, amount1 *big.Int) (*big.Int, error) {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	switch {
	case sqrtRatioX96.Cmp(sqrtRatioAX96) <= 0:
		return liquidityForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0)
	case sqrtRatioX96.Cmp(sqrtRatioBX96) < 0:
		l0, err := liquidityForAmount0(sqrtRatioX96, sqrtRatioBX96, amount0)
		if err != nil {
			return nil, err
		}
		l1, err := liquidityForAmount1(sqrtRatioAX96, sqrtRatioX96, amount1)
		if err != nil {
			return nil, err
		}
		if l0.Cmp(l1) < 0 {
			return l0, nil
		}
		return l1, nil
	default:
		return liquidityForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1)
	}
}

// GetAmountsForLiquidity is the inverse of GetLiquidityForAmounts: the token
// amounts a liquidity value represents over [sqrtA, sqrtB] at the current
// price, both rounded down.
func GetAmountsForLiquidity(sqrtRatioX96, sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int) (amount0, amount1 *big.Int, err error) {
	if sqrtRatioAX96.Cmp(sqrtRatioBX96) > 0 {
		sqrtRatioAX96, sqrtRatioBX96 = sqrtRatioBX96, sqrtRatioAX96
	}
	amount0, amount1 = new(big.Int), new(big.Int)
	switch {
	case sqrtRatioX96.Cmp(sqrtRatioAX96) <= 0:
		amount0, err = GetAmount0ForLiquidity(sqrtRatioAX96, sqrtRatioBX96, liquidity)
	case sqrtRatioX96.Cmp(sqrtRatioBX96) < 0:
		amount0, err = GetAmount0ForLiquidity(sqrtRatioX96, sqrtRatioBX96, liquidity)
		if err != nil {
			return nil, nil, err
		}
		amount1, err = GetAmount1ForLiquidity(sqrtRatioAX96, sqrtRatioX96, liquidity)
	default:
		amount1, err = GetAmount1ForLiquidity(sqrtRatioAX96, sqrtRatioBX96, liquidity)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func liquidityForAmount0(sqrtRatioAX96, sqrtRatioBX96, amount0 *big.Int) (*big.Int, error) {
	intermediate, err := MulDiv(sqrtRatioAX96, sqrtRatioBX96, Q96)
	if err != nil {
		return nil, err
	}
	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	return MulDiv(amount0, intermediate, diff)
}

func liquidityForAmount1(sqrtRatioAX96, sqrtRatioBX96, amount1 *big.Int) (*big.Int, error) {
	diff := new(big.Int).Sub(sqrtRatioBX96, sqrtRatioAX96)
	return MulDiv(amount1, Q96, diff)
}
