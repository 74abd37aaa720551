package tickmath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Helper to create a big.Int from a string for tests.
func fromString(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

// encodePriceSqrt is a Go equivalent of the ethers.js helper for testing.
func encodePriceSqrt(reserve1, reserve0 *big.Int) *big.Int {
	num := new(big.Int).Mul(reserve1, new(big.Int).Lsh(big.NewInt(1), 192))
	ratio := new(big.Int).Div(num, reserve0)
	return new(big.Int).Sqrt(ratio)
}

func TestGetSqrtRatioAtTick(t *testing.T) {
	t.Run("throws for too low", func(t *testing.T) {
		err := GetSqrtRatioAtTick(new(big.Int), MIN_TICK-1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTickOutOfBounds)
	})

	t.Run("throws for too high", func(t *testing.T) {
		err := GetSqrtRatioAtTick(new(big.Int), MAX_TICK+1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTickOutOfBounds)
	})

	t.Run("min tick", func(t *testing.T) {
		sqrtP := new(big.Int)
		require.NoError(t, GetSqrtRatioAtTick(sqrtP, MIN_TICK))
		assert.Zero(t, MIN_SQRT_RATIO.Cmp(sqrtP))
	})

	t.Run("max tick", func(t *testing.T) {
		sqrtP := new(big.Int)
		require.NoError(t, GetSqrtRatioAtTick(sqrtP, MAX_TICK))
		assert.Zero(t, MAX_SQRT_RATIO.Cmp(sqrtP))
	})

	t.Run("tick zero is exactly 2^96", func(t *testing.T) {
		sqrtP := new(big.Int)
		require.NoError(t, GetSqrtRatioAtTick(sqrtP, 0))
		assert.Zero(t, fromString("79228162514264337593543950336").Cmp(sqrtP))
	})

	// Known values from a production deployment.
	cases := []struct {
		tick int64
		want string
	}{
		{-887270, "4295343490"},
		{0, "79228162514264337593543950336"},
		{50, "79426470787362580746886972461"},
		{100, "79625275426524748796330556128"},
		{250, "80224679980005306637834519095"},
		{500, "81233731461783161732293370115"},
		{1000, "83290069058676223003182343270"},
		{2500, "89776708723587163891445672585"},
		{3000, "92049301871182272007977902845"},
		{4000, "96768528593268422080558758223"},
		{5000, "101729702841318637793976746270"},
		{50000, "965075977353221155028623082916"},
		{150000, "143194173941309278083010301478497"},
		{250000, "21246587762933397357449903968194344"},
		{500000, "5697689776495288729098254600827762987878"},
		{738203, "847134979253254120489401328389043031315994541"},
	}
	for _, tc := range cases {
		sqrtP := new(big.Int)
		require.NoError(t, GetSqrtRatioAtTick(sqrtP, tc.tick))
		assert.Zero(t, fromString(tc.want).Cmp(sqrtP), "tick %d: got %s want %s", tc.tick, sqrtP, tc.want)
	}
}

func TestGetTickAtSqrtRatio(t *testing.T) {
	t.Run("throws for too low", func(t *testing.T) {
		_, err := GetTickAtSqrtRatio(new(big.Int).Sub(MIN_SQRT_RATIO, big.NewInt(1)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
	})

	t.Run("throws for too high", func(t *testing.T) {
		_, err := GetTickAtSqrtRatio(MAX_SQRT_RATIO)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrSqrtPriceOutOfBounds)
	})

	t.Run("ratio of min tick", func(t *testing.T) {
		tick, err := GetTickAtSqrtRatio(MIN_SQRT_RATIO)
		require.NoError(t, err)
		assert.Equal(t, MIN_TICK, tick)
	})

	t.Run("ratio closest to max tick", func(t *testing.T) {
		tick, err := GetTickAtSqrtRatio(new(big.Int).Sub(MAX_SQRT_RATIO, big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, MAX_TICK-1, tick)
	})

	t.Run("price of one", func(t *testing.T) {
		tick, err := GetTickAtSqrtRatio(encodePriceSqrt(big.NewInt(1), big.NewInt(1)))
		require.NoError(t, err)
		assert.Equal(t, int64(0), tick)
	})
}

func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tick := rapid.Int64Range(MIN_TICK, MAX_TICK).Draw(t, "tick")

		sqrtP := new(big.Int)
		require.NoError(t, GetSqrtRatioAtTick(sqrtP, tick))

		if sqrtP.Cmp(MAX_SQRT_RATIO) >= 0 {
			// MAX_TICK's own ratio is excluded from the inverse domain.
			return
		}
		got, err := GetTickAtSqrtRatio(sqrtP)
		require.NoError(t, err)
		assert.Equal(t, tick, got)
	})
}

func TestMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tick := rapid.Int64Range(MIN_TICK, MAX_TICK-1).Draw(t, "tick")

		lo, hi := new(big.Int), new(big.Int)
		require.NoError(t, GetSqrtRatioAtTick(lo, tick))
		require.NoError(t, GetSqrtRatioAtTick(hi, tick+1))
		assert.Negative(t, lo.Cmp(hi), "ratio must strictly increase: tick %d", tick)
	})
}
