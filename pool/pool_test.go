package pool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/clmm-engine-go/fixedpoint"
	"github.com/defistate/clmm-engine-go/liquiditymath"
	"github.com/defistate/clmm-engine-go/oracle"
	"github.com/defistate/clmm-engine-go/tickmath"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

func sqrtAtTick(t *testing.T, tick int64) *big.Int {
	t.Helper()
	sqrtP := new(big.Int)
	require.NoError(t, tickmath.GetSqrtRatioAtTick(sqrtP, tick))
	return sqrtP
}

// newTestPool creates a 0.30% pool at tick 0 with a deep oracle buffer.
func newTestPool(t *testing.T, feeProtocol uint64) *Pool {
	t.Helper()
	p, err := New(Config{
		Token0:                 tokenA,
		Token1:                 tokenB,
		Fee:                    3000,
		FeeProtocol:            feeProtocol,
		SqrtPriceX96:           sqrtAtTick(t, 0),
		ObservationCardinality: 64,
	}, 1000)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	t.Run("sorts tokens", func(t *testing.T) {
		p, err := New(Config{
			Token0:       tokenB,
			Token1:       tokenA,
			Fee:          3000,
			SqrtPriceX96: sqrtAtTick(t, 0),
		}, 1000)
		require.NoError(t, err)
		assert.Equal(t, tokenA, p.Token0())
		assert.Equal(t, tokenB, p.Token1())
	})

	t.Run("fee tier selects spacing", func(t *testing.T) {
		p := newTestPool(t, 0)
		assert.Equal(t, int64(60), p.TickSpacing())
		assert.Equal(t, int64(0), p.Tick())
		assert.Zero(t, p.Liquidity().Sign())
	})

	t.Run("rejects identical tokens", func(t *testing.T) {
		_, err := New(Config{Token0: tokenA, Token1: tokenA, Fee: 3000, SqrtPriceX96: sqrtAtTick(t, 0)}, 1000)
		require.Error(t, err)
	})

	t.Run("rejects unknown fee without spacing", func(t *testing.T) {
		_, err := New(Config{Token0: tokenA, Token1: tokenB, Fee: 1234, SqrtPriceX96: sqrtAtTick(t, 0)}, 1000)
		require.Error(t, err)
	})

	t.Run("rejects missing price", func(t *testing.T) {
		_, err := New(Config{Token0: tokenA, Token1: tokenB, Fee: 3000}, 1000)
		require.Error(t, err)
	})

	t.Run("derives tick from price", func(t *testing.T) {
		p, err := New(Config{
			Token0: tokenA, Token1: tokenB, Fee: 3000,
			SqrtPriceX96: sqrtAtTick(t, 6932),
		}, 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(6932), p.Tick())
	})
}

func TestMint(t *testing.T) {
	liquidity := fromString("1000000000000000000")

	t.Run("straddling range takes both tokens", func(t *testing.T) {
		p := newTestPool(t, 0)
		amount0, amount1, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)
		assert.Positive(t, amount0.Sign())
		assert.Positive(t, amount1.Sign())
		assert.Zero(t, liquidity.Cmp(p.Liquidity()), "range includes the current tick")
		assert.Equal(t, 2, p.InitializedTickCount())
		assert.Equal(t, 1, p.PositionCount())
	})

	t.Run("range above the price takes only token0", func(t *testing.T) {
		p := newTestPool(t, 0)
		amount0, amount1, err := p.Mint(alice, 60, 120, liquidity, 0, 1001)
		require.NoError(t, err)
		assert.Positive(t, amount0.Sign())
		assert.Zero(t, amount1.Sign())
		assert.Zero(t, p.Liquidity().Sign())
	})

	t.Run("range below the price takes only token1", func(t *testing.T) {
		p := newTestPool(t, 0)
		amount0, amount1, err := p.Mint(alice, -120, -60, liquidity, 0, 1001)
		require.NoError(t, err)
		assert.Zero(t, amount0.Sign())
		assert.Positive(t, amount1.Sign())
		assert.Zero(t, p.Liquidity().Sign())
	})

	t.Run("rejects reversed and unaligned ranges", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, 600, -600, liquidity, 0, 1001)
		assert.ErrorIs(t, err, ErrInvalidTickRange)

		_, _, err = p.Mint(alice, -601, 600, liquidity, 0, 1001)
		assert.ErrorIs(t, err, ErrInvalidTickRange)

		_, _, err = p.Mint(alice, -600, p.MaxTick()+60, liquidity, 0, 1001)
		assert.ErrorIs(t, err, ErrInvalidTickRange)
	})

	t.Run("rejects non-positive liquidity", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, big.NewInt(0), 0, 1001)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects past deadline", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 1000, 1001)
		assert.ErrorIs(t, err, ErrDeadlineExceeded)
	})

	t.Run("overflowing mint leaves no trace", func(t *testing.T) {
		p := newTestPool(t, 0)
		half := new(big.Int).Lsh(big.NewInt(1), 127)
		_, _, err := p.Mint(alice, -60, 60, half, 0, 1001)
		require.NoError(t, err)

		// A second in-range mint of 2^127 would push pool liquidity to
		// 2^128, past the uint128 ceiling.
		_, _, err = p.Mint(alice, -120, 120, half, 0, 1002)
		require.ErrorIs(t, err, liquiditymath.ErrLiquidityOverflow)

		assert.Zero(t, half.Cmp(p.Liquidity()), "pool liquidity unchanged")
		assert.Equal(t, 2, p.InitializedTickCount(), "failed mint's boundary ticks not initialized")
		_, ok := p.Position(PositionKey{Owner: alice, TickLower: -120, TickUpper: 120})
		assert.False(t, ok)
		assert.Equal(t, 1, p.PositionCount())

		_, _, err = p.Mint(alice, -60, 60, big.NewInt(1000), 0, 1003)
		require.NoError(t, err, "pool stays usable")
	})

	t.Run("second mint on the same range accumulates", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)
		_, _, err = p.Mint(alice, -600, 600, liquidity, 0, 1002)
		require.NoError(t, err)

		pos, ok := p.Position(PositionKey{Owner: alice, TickLower: -600, TickUpper: 600})
		require.True(t, ok)
		want := new(big.Int).Lsh(liquidity, 1)
		assert.Zero(t, want.Cmp(pos.Liquidity))
		assert.Equal(t, 1, p.PositionCount())
	})
}

func TestBurn(t *testing.T) {
	liquidity := fromString("1000000000000000000")

	t.Run("round trips within one unit", func(t *testing.T) {
		p := newTestPool(t, 0)
		minted0, minted1, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)

		burned0, burned1, err := p.Burn(alice, -600, 600, liquidity, 1002)
		require.NoError(t, err)

		for _, pair := range [][2]*big.Int{{minted0, burned0}, {minted1, burned1}} {
			diff := new(big.Int).Sub(pair[0], pair[1])
			assert.True(t, diff.Sign() >= 0 && diff.Cmp(big.NewInt(1)) <= 0,
				"minted %s, burned %s", pair[0], pair[1])
		}

		assert.Zero(t, p.Liquidity().Sign())
		assert.Zero(t, p.InitializedTickCount(), "drained boundary ticks are cleared")
	})

	t.Run("rejects burning more than held", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)

		double := new(big.Int).Lsh(liquidity, 1)
		_, _, err = p.Burn(alice, -600, 600, double, 1002)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})

	t.Run("rejects unknown position", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Burn(alice, -600, 600, liquidity, 1001)
		assert.ErrorIs(t, err, ErrPositionNotFound)
	})
}

func TestSwapExactInput(t *testing.T) {
	liquidity := fromString("1000000000000000000000000") // 1e24
	amountIn := fromString("1000000000000000000")        // 1e18

	p := newTestPool(t, 0)
	_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
	require.NoError(t, err)

	priceBefore := p.SqrtPriceX96()
	res, err := p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: amountIn}, 1002)
	require.NoError(t, err)

	assert.Zero(t, amountIn.Cmp(res.Amount0), "exact input is fully consumed")
	assert.Negative(t, res.Amount1.Sign(), "output flows to the swapper")
	assert.Negative(t, res.SqrtPriceX96.Cmp(priceBefore), "selling token0 moves the price down")
	assert.Zero(t, res.TicksCrossed, "stays inside the minted range")

	out := new(big.Int).Neg(res.Amount1)
	netIn := fromString("997000000000000000") // 0.997e18 after the 0.30% fee
	assert.Negative(t, out.Cmp(netIn), "output is less than the net input at a falling price")
	assert.Positive(t, out.Cmp(fromString("990000000000000000")), "price impact at this depth is tiny")

	t.Run("fee fully accrues to the growth accumulator", func(t *testing.T) {
		wantFee := fromString("3000000000000000")
		assert.Zero(t, wantFee.Cmp(res.FeeAmount))

		wantGrowth, err := fixedpoint.MulDiv(wantFee, fixedpoint.Q128, liquidity)
		require.NoError(t, err)
		assert.Zero(t, wantGrowth.Cmp(p.FeeGrowthGlobal0X128()))
		assert.Zero(t, p.FeeGrowthGlobal1X128().Sign())
	})

	t.Run("swapping back moves the price up again", func(t *testing.T) {
		res2, err := p.Swap(SwapParams{ZeroForOne: false, AmountSpecified: amountIn}, 1003)
		require.NoError(t, err)
		assert.Positive(t, res2.SqrtPriceX96.Cmp(res.SqrtPriceX96))
		assert.Negative(t, res2.Amount0.Sign())
	})
}

func TestSwapExactOutput(t *testing.T) {
	liquidity := fromString("1000000000000000000000000")
	wantOut := fromString("1000000000000000000")

	p := newTestPool(t, 0)
	_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
	require.NoError(t, err)

	res, err := p.Swap(SwapParams{
		ZeroForOne:      true,
		AmountSpecified: new(big.Int).Neg(wantOut),
	}, 1002)
	require.NoError(t, err)

	got := new(big.Int).Neg(res.Amount1)
	short := new(big.Int).Sub(wantOut, got)
	assert.True(t, short.Sign() >= 0 && short.Cmp(big.NewInt(2)) <= 0,
		"requested %s, got %s", wantOut, got)
	assert.Positive(t, res.Amount0.Cmp(got), "input exceeds output: price moved and fee is charged")
}

func TestSwapCrossesTicks(t *testing.T) {
	liquidity := fromString("1000000000000000000") // 1e18 per position

	p := newTestPool(t, 0)
	_, _, err := p.Mint(alice, -120, 120, liquidity, 0, 1001)
	require.NoError(t, err)
	_, _, err = p.Mint(bob, -60, 60, liquidity, 0, 1002)
	require.NoError(t, err)

	wantTotal := new(big.Int).Lsh(liquidity, 1)
	assert.Zero(t, wantTotal.Cmp(p.Liquidity()))

	// Large enough to push past bob's lower bound at -60, small enough to
	// stay above alice's at -120.
	res, err := p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: fromString("7000000000000000")}, 1003)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TicksCrossed)
	assert.Zero(t, liquidity.Cmp(res.Liquidity), "only the wide position remains active")
	assert.Less(t, res.Tick, int64(-60))
	assert.GreaterOrEqual(t, res.Tick, int64(-120))

	t.Run("fee growth outside flipped on the crossed tick", func(t *testing.T) {
		inside := p.FeeGrowthGlobal0X128()
		assert.Positive(t, inside.Sign())
	})

	t.Run("swap that exhausts all liquidity fails", func(t *testing.T) {
		_, err := p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: fromString("1000000000000000000")}, 1004)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}

func TestSwapValidation(t *testing.T) {
	liquidity := fromString("1000000000000000000000000")
	amountIn := fromString("1000000000000000000")

	p := newTestPool(t, 0)
	_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
	require.NoError(t, err)

	t.Run("zero amount", func(t *testing.T) {
		_, err := p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(0)}, 1002)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("past deadline", func(t *testing.T) {
		_, err := p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: amountIn, Deadline: 1001}, 1002)
		assert.ErrorIs(t, err, ErrDeadlineExceeded)
	})

	t.Run("limit on the wrong side", func(t *testing.T) {
		aboveCurrent := sqrtAtTick(t, 120)
		_, err := p.Swap(SwapParams{
			ZeroForOne:        true,
			AmountSpecified:   amountIn,
			SqrtPriceLimitX96: aboveCurrent,
		}, 1002)
		assert.ErrorIs(t, err, ErrInvalidPriceLimit)
	})

	t.Run("swap stops at the price limit", func(t *testing.T) {
		limit := sqrtAtTick(t, -30)
		res, err := p.Swap(SwapParams{
			ZeroForOne:        true,
			AmountSpecified:   fromString("100000000000000000000000"), // far more than the range holds
			SqrtPriceLimitX96: limit,
		}, 1002)
		require.NoError(t, err)
		assert.Zero(t, limit.Cmp(res.SqrtPriceX96))
		assert.Negative(t, res.Amount0.Cmp(fromString("100000000000000000000000")), "input only partially consumed")
	})

	t.Run("price impact cap", func(t *testing.T) {
		_, err := p.Swap(SwapParams{
			ZeroForOne:         false,
			AmountSpecified:    fromString("10000000000000000000000"), // ~1% of depth
			MaxPriceImpactPips: 1,
		}, 1003)
		assert.ErrorIs(t, err, ErrPriceImpactTooHigh)
	})

	t.Run("failed swap leaves state untouched", func(t *testing.T) {
		priceBefore := p.SqrtPriceX96()
		growthBefore := p.FeeGrowthGlobal0X128()
		_, err := p.Swap(SwapParams{
			ZeroForOne:         true,
			AmountSpecified:    fromString("10000000000000000000000"),
			MaxPriceImpactPips: 1,
		}, 1004)
		require.Error(t, err)
		assert.Zero(t, priceBefore.Cmp(p.SqrtPriceX96()))
		assert.Zero(t, growthBefore.Cmp(p.FeeGrowthGlobal0X128()))
	})

	t.Run("empty pool has nothing to trade", func(t *testing.T) {
		empty := newTestPool(t, 0)
		_, err := empty.Swap(SwapParams{ZeroForOne: true, AmountSpecified: amountIn}, 1002)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}

func TestFeeAccounting(t *testing.T) {
	t.Run("fees split pro rata by liquidity", func(t *testing.T) {
		p := newTestPool(t, 0)
		small := fromString("1000000000000000000")
		large := new(big.Int).Lsh(small, 1)

		_, _, err := p.Mint(alice, -600, 600, small, 0, 1001)
		require.NoError(t, err)
		_, _, err = p.Mint(bob, -600, 600, large, 0, 1002)
		require.NoError(t, err)

		_, err = p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: fromString("1000000000000000")}, 1003)
		require.NoError(t, err)

		aliceBurn0, _, err := p.Burn(alice, -600, 600, small, 1004)
		require.NoError(t, err)
		bobBurn0, _, err := p.Burn(bob, -600, 600, large, 1005)
		require.NoError(t, err)

		aliceOut0, _, err := p.Collect(alice, -600, 600, nil, nil)
		require.NoError(t, err)
		bobOut0, _, err := p.Collect(bob, -600, 600, nil, nil)
		require.NoError(t, err)

		aliceFees := new(big.Int).Sub(aliceOut0, aliceBurn0)
		bobFees := new(big.Int).Sub(bobOut0, bobBurn0)
		require.Positive(t, aliceFees.Sign())

		// Bob holds twice the liquidity, so earns twice the fees up to one
		// unit of flooring per accrual.
		twice := new(big.Int).Lsh(aliceFees, 1)
		diff := new(big.Int).Sub(bobFees, twice)
		assert.True(t, diff.Sign() >= 0 && diff.Cmp(big.NewInt(2)) <= 0,
			"alice %s, bob %s", aliceFees, bobFees)
	})

	t.Run("out of range positions earn nothing", func(t *testing.T) {
		p := newTestPool(t, 0)
		liquidity := fromString("1000000000000000000000000")

		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)
		_, _, err = p.Mint(bob, 6000, 6060, fromString("1000000000000000000"), 0, 1002)
		require.NoError(t, err)

		_, err = p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: fromString("1000000000000000000")}, 1003)
		require.NoError(t, err)

		burn0, _, err := p.Burn(bob, 6000, 6060, fromString("1000000000000000000"), 1004)
		require.NoError(t, err)
		out0, _, err := p.Collect(bob, 6000, 6060, nil, nil)
		require.NoError(t, err)
		assert.Zero(t, out0.Cmp(burn0), "no fees beyond the returned principal")
	})
}

func TestCollect(t *testing.T) {
	liquidity := fromString("1000000000000000000")

	t.Run("partial collection leaves the rest owed", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)
		burned0, _, err := p.Burn(alice, -600, 600, liquidity, 1002)
		require.NoError(t, err)
		require.Positive(t, burned0.Sign())

		half := new(big.Int).Rsh(burned0, 1)
		got0, _, err := p.Collect(alice, -600, 600, half, nil)
		require.NoError(t, err)
		assert.Zero(t, half.Cmp(got0))

		rest0, _, err := p.Collect(alice, -600, 600, nil, nil)
		require.NoError(t, err)
		want := new(big.Int).Sub(burned0, half)
		assert.Zero(t, want.Cmp(rest0))
	})

	t.Run("emptied position is forgotten", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)
		_, _, err = p.Burn(alice, -600, 600, liquidity, 1002)
		require.NoError(t, err)
		_, _, err = p.Collect(alice, -600, 600, nil, nil)
		require.NoError(t, err)

		assert.Zero(t, p.PositionCount())
		_, _, err = p.Collect(alice, -600, 600, nil, nil)
		assert.ErrorIs(t, err, ErrPositionNotFound)
	})
}

func TestProtocolFees(t *testing.T) {
	liquidity := fromString("1000000000000000000000000")
	amountIn := fromString("1000000000000000000")

	p := newTestPool(t, 4) // quarter of every fee to the protocol
	_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
	require.NoError(t, err)

	res, err := p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: amountIn}, 1002)
	require.NoError(t, err)

	fees0, fees1 := p.ProtocolFees()
	wantCut := new(big.Int).Rsh(res.FeeAmount, 2)
	assert.Zero(t, wantCut.Cmp(fees0))
	assert.Zero(t, fees1.Sign())

	t.Run("growth reflects only the remainder", func(t *testing.T) {
		rest := new(big.Int).Sub(res.FeeAmount, wantCut)
		wantGrowth, err := fixedpoint.MulDiv(rest, fixedpoint.Q128, liquidity)
		require.NoError(t, err)
		assert.Zero(t, wantGrowth.Cmp(p.FeeGrowthGlobal0X128()))
	})

	t.Run("collect protocol drains", func(t *testing.T) {
		got0, got1, err := p.CollectProtocol(nil, nil)
		require.NoError(t, err)
		assert.Zero(t, wantCut.Cmp(got0))
		assert.Zero(t, got1.Sign())

		left0, _ := p.ProtocolFees()
		assert.Zero(t, left0.Sign())
	})
}

func TestAdjustFee(t *testing.T) {
	liquidity := fromString("1000000000000000000000000")
	amountIn := fromString("1000000000000000000")

	p := newTestPool(t, 0)
	_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
	require.NoError(t, err)

	require.NoError(t, p.AdjustFee(500))
	assert.Equal(t, uint64(500), p.Fee())
	assert.Equal(t, int64(60), p.TickSpacing(), "spacing does not follow the fee")

	t.Run("swaps charge the new fee", func(t *testing.T) {
		res, err := p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: amountIn}, 1002)
		require.NoError(t, err)
		// Exact input at 500 pips: fee is amountIn * 500 / 1e6, rounded up.
		wantFee, err := fixedpoint.MulDivRoundingUp(amountIn, big.NewInt(500), big.NewInt(1_000_000))
		require.NoError(t, err)
		assert.Zero(t, wantFee.Cmp(res.FeeAmount))
	})

	t.Run("rejects out-of-range fees", func(t *testing.T) {
		assert.ErrorIs(t, p.AdjustFee(0), ErrInvalidAmount)
		assert.ErrorIs(t, p.AdjustFee(1_000_000), ErrInvalidAmount)
		assert.Equal(t, uint64(500), p.Fee())
	})

	t.Run("rejects while the pool is locked", func(t *testing.T) {
		f, err := p.BeginFlash(amountIn, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, p.AdjustFee(3000), ErrReentrancy)
		f.Cancel()
		assert.NoError(t, p.AdjustFee(3000))
	})
}

func TestFlash(t *testing.T) {
	liquidity := fromString("1000000000000000000000000")

	t.Run("locks the pool until settled", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)

		f, err := p.BeginFlash(fromString("1000000000000000000"), nil)
		require.NoError(t, err)

		_, err = p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(1000)}, 1002)
		assert.ErrorIs(t, err, ErrReentrancy)

		owed := new(big.Int).Add(fromString("1000000000000000000"), f.Fee0())
		require.NoError(t, f.Finalize(owed, nil))

		_, err = p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(100000)}, 1003)
		assert.NoError(t, err)
	})

	t.Run("fee lands in the growth accumulator", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)

		borrow := fromString("1000000000000000000")
		f, err := p.BeginFlash(borrow, nil)
		require.NoError(t, err)

		wantFee := fromString("3000000000000000") // 0.30% of 1e18
		assert.Zero(t, wantFee.Cmp(f.Fee0()))

		require.NoError(t, f.Finalize(new(big.Int).Add(borrow, f.Fee0()), nil))
		wantGrowth, err := fixedpoint.MulDiv(wantFee, fixedpoint.Q128, liquidity)
		require.NoError(t, err)
		assert.Zero(t, wantGrowth.Cmp(p.FeeGrowthGlobal0X128()))
	})

	t.Run("short repayment is rejected", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)

		borrow := fromString("1000000000000000000")
		f, err := p.BeginFlash(borrow, nil)
		require.NoError(t, err)

		err = f.Finalize(borrow, nil)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		// Still open: settle properly.
		require.NoError(t, f.Finalize(new(big.Int).Add(borrow, f.Fee0()), nil))
		require.ErrorIs(t, f.Finalize(new(big.Int).Add(borrow, f.Fee0()), nil), ErrFlashSettled)
	})

	t.Run("cancel unlocks without accrual", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)

		f, err := p.BeginFlash(big.NewInt(1000), nil)
		require.NoError(t, err)
		f.Cancel()

		assert.Zero(t, p.FeeGrowthGlobal0X128().Sign())
		_, err = p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(100000)}, 1002)
		assert.NoError(t, err)
	})

	t.Run("failing settlement applies neither side", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, _, err := p.Mint(alice, -600, 600, liquidity, 0, 1001)
		require.NoError(t, err)

		// The token1 side is sized so its growth increment exceeds 256
		// bits; the computable token0 side must not land either.
		borrow0 := fromString("1000000000000000000")
		borrow1 := new(big.Int).Lsh(big.NewInt(1), 220)
		f, err := p.BeginFlash(borrow0, borrow1)
		require.NoError(t, err)

		err = f.Finalize(new(big.Int).Add(borrow0, f.Fee0()), new(big.Int).Add(borrow1, f.Fee1()))
		require.ErrorIs(t, err, fixedpoint.ErrOverflow)

		assert.Zero(t, p.FeeGrowthGlobal0X128().Sign())
		assert.Zero(t, p.FeeGrowthGlobal1X128().Sign())

		_, err = p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(1000)}, 1002)
		assert.ErrorIs(t, err, ErrReentrancy, "flash stays open")
		f.Cancel()
		_, err = p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: big.NewInt(100000)}, 1003)
		assert.NoError(t, err)
	})

	t.Run("rejects flash against empty pool", func(t *testing.T) {
		p := newTestPool(t, 0)
		_, err := p.BeginFlash(big.NewInt(1000), nil)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}

func TestOracleIntegration(t *testing.T) {
	p, err := New(Config{
		Token0:                 tokenA,
		Token1:                 tokenB,
		Fee:                    3000,
		SqrtPriceX96:           sqrtAtTick(t, 100),
		ObservationCardinality: 16,
	}, 1000)
	require.NoError(t, err)

	liquidity := fromString("1000000000000000000000000")
	_, _, err = p.Mint(alice, -600, 600, liquidity, 0, 1010)
	require.NoError(t, err)

	t.Run("twap over a constant tick window", func(t *testing.T) {
		avg, err := p.TimeWeightedAverageTick(10, 1010)
		require.NoError(t, err)
		assert.Equal(t, int64(100), avg)
	})

	t.Run("twap follows the price after swaps", func(t *testing.T) {
		// Sell token0 to push the tick down, then measure a window that
		// spans both regimes.
		_, err := p.Swap(SwapParams{ZeroForOne: true, AmountSpecified: fromString("20000000000000000000000")}, 1020)
		require.NoError(t, err)
		require.Less(t, p.Tick(), int64(100))

		avg, err := p.TimeWeightedAverageTick(20, 1030)
		require.NoError(t, err)
		assert.Less(t, avg, int64(100), "window includes the lower tick regime")
		assert.GreaterOrEqual(t, avg, p.Tick(), "but not lower than the post-swap tick")
	})

	t.Run("window beyond retention fails", func(t *testing.T) {
		_, err := p.TimeWeightedAverageTick(10000, 1030)
		assert.ErrorIs(t, err, oracle.ErrUninitialized)
	})
}
