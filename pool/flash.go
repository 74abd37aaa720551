package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/clmm-engine-go/fixedpoint"
)

var ErrFlashSettled = errors.New("flash already settled")

// Flash is an open flash loan. The pool stays locked until Finalize or
// Cancel, so nothing else can trade against intermediate balances.
type Flash struct {
	pool             *Pool
	amount0, amount1 *big.Int
	fee0, fee1       *big.Int
	settled          bool
}

// BeginFlash opens a flash loan of the given amounts and locks the pool.
// The borrower must return principal plus fee through Finalize.
func (p *Pool) BeginFlash(amount0, amount1 *big.Int) (*Flash, error) {
	if amount0 == nil {
		amount0 = new(big.Int)
	}
	if amount1 == nil {
		amount1 = new(big.Int)
	}
	if amount0.Sign() < 0 || amount1.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative flash amount", ErrInvalidAmount)
	}
	if amount0.Sign() == 0 && amount1.Sign() == 0 {
		return nil, fmt.Errorf("%w: empty flash", ErrInvalidAmount)
	}
	if p.liquidity.Sign() == 0 {
		return nil, fmt.Errorf("%w: flash against empty pool", ErrInsufficientLiquidity)
	}
	if err := p.lock(); err != nil {
		return nil, err
	}

	feePips := new(big.Int).SetUint64(p.fee)
	denom := big.NewInt(1_000_000)
	fee0, err := fixedpoint.MulDivRoundingUp(amount0, feePips, denom)
	if err != nil {
		p.unlock()
		return nil, err
	}
	fee1, err := fixedpoint.MulDivRoundingUp(amount1, feePips, denom)
	if err != nil {
		p.unlock()
		return nil, err
	}

	return &Flash{
		pool:    p,
		amount0: new(big.Int).Set(amount0),
		amount1: new(big.Int).Set(amount1),
		fee0:    fee0,
		fee1:    fee1,
	}, nil
}

// Fee0 returns the token0 fee owed for this flash.
func (f *Flash) Fee0() *big.Int { return new(big.Int).Set(f.fee0) }

// Fee1 returns the token1 fee owed for this flash.
func (f *Flash) Fee1() *big.Int { return new(big.Int).Set(f.fee1) }

// Finalize settles the flash: paid amounts must cover principal plus fee.
// Excess over principal is distributed to in-range liquidity through the
// fee growth accumulators, minus the protocol cut. Unlocks the pool.
func (f *Flash) Finalize(paid0, paid1 *big.Int) error {
	if f.settled {
		return ErrFlashSettled
	}
	if paid0 == nil {
		paid0 = new(big.Int)
	}
	if paid1 == nil {
		paid1 = new(big.Int)
	}

	owed0 := new(big.Int).Add(f.amount0, f.fee0)
	owed1 := new(big.Int).Add(f.amount1, f.fee1)
	if paid0.Cmp(owed0) < 0 || paid1.Cmp(owed1) < 0 {
		return fmt.Errorf("%w: flash repayment short of %s / %s", ErrInvalidAmount, owed0, owed1)
	}

	// Split both surpluses before committing either, so a failing side
	// cannot leave the accumulators half updated.
	surplus0 := new(big.Int).Sub(paid0, f.amount0)
	surplus1 := new(big.Int).Sub(paid1, f.amount1)
	cut0, growth0, err := f.pool.flashFeeSplit(surplus0)
	if err != nil {
		return err
	}
	cut1, growth1, err := f.pool.flashFeeSplit(surplus1)
	if err != nil {
		return err
	}

	f.pool.protocolFees0.Add(f.pool.protocolFees0, cut0)
	f.pool.protocolFees1.Add(f.pool.protocolFees1, cut1)
	f.pool.feeGrowthGlobal0X128.Add(f.pool.feeGrowthGlobal0X128, growth0)
	f.pool.feeGrowthGlobal1X128.Add(f.pool.feeGrowthGlobal1X128, growth1)

	f.settled = true
	f.pool.unlock()
	return nil
}

// Cancel abandons an unsettled flash and unlocks the pool. State is
// untouched because nothing was committed.
func (f *Flash) Cancel() {
	if f.settled {
		return
	}
	f.settled = true
	f.pool.unlock()
}

// flashFeeSplit divides a settlement surplus into the protocol cut and the
// per-liquidity growth increment. It reads pool state but never writes it.
func (p *Pool) flashFeeSplit(fee *big.Int) (cut, growth *big.Int, err error) {
	cut, growth = new(big.Int), new(big.Int)
	if fee.Sign() == 0 {
		return cut, growth, nil
	}
	if p.feeProtocol > 0 {
		cut.Div(fee, new(big.Int).SetUint64(p.feeProtocol))
		fee = new(big.Int).Sub(fee, cut)
	}
	if p.liquidity.Sign() == 0 {
		return cut, growth, nil
	}
	growth, err = fixedpoint.MulDiv(fee, fixedpoint.Q128, p.liquidity)
	if err != nil {
		return nil, nil, err
	}
	return cut, growth, nil
}
