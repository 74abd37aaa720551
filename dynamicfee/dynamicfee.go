// Package dynamicfee recommends swap fee levels from recent market
// activity. A Tuner keeps rolling windows of trade samples and nudges
// the fee up when trading is volatile or moves the price hard, and down
// when the pool is calm and volume is deep.
package dynamicfee

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/clmm-engine-go/fixedpoint"
)

var ErrInvalidConfig = errors.New("invalid fee tuning config")

// pipsPerUnit is the fee denominator: 1_000_000 pips = 100%.
const pipsPerUnit = 1_000_000

// Adjustment thresholds and step sizes, all in pips.
const (
	highVolatilityPips = 50_000 // 5% coefficient of variation
	lowVolatilityPips  = 10_000 // 1%
	highImpactPips     = 50_000 // 5% average price move per trade
	lowImpactPips      = 10_000 // 1%

	volatilityUpStep   = 2_000 // +0.20%
	volatilityDownStep = 1_000 // -0.10%
	volumeDownStep     = 1_500 // -0.15%
	volumeUpStep       = 1_000 // +0.10%
	impactUpStep       = 2_500 // +0.25%
	impactDownStep     = 1_000 // -0.10%
)

// Config bounds and paces the tuner. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MinFee and MaxFee clamp every recommendation, in pips.
	MinFee uint64
	MaxFee uint64
	// Interval is the minimum number of seconds between adjustments.
	Interval uint64
	// Window lengths in samples.
	VolatilityWindow int
	VolumeWindow     int
	ImpactWindow     int
	// HighVolume and LowVolume are average per-trade input amounts, in raw
	// token units, above / below which the fee is eased / raised.
	HighVolume *big.Int
	LowVolume  *big.Int
}

// DefaultConfig returns the standard tuning bounds: fee kept within
// [0.01%, 1.00%], reconsidered at most once an hour.
func DefaultConfig() Config {
	return Config{
		MinFee:           100,
		MaxFee:           10_000,
		Interval:         3600,
		VolatilityWindow: 24,
		VolumeWindow:     24,
		ImpactWindow:     12,
		HighVolume:       new(big.Int).SetUint64(1_000_000_000_000),
		LowVolume:        new(big.Int).SetUint64(10_000_000_000),
	}
}

func (c *Config) validate() error {
	if c.MinFee == 0 || c.MaxFee >= pipsPerUnit || c.MinFee > c.MaxFee {
		return fmt.Errorf("%w: fee bounds [%d, %d]", ErrInvalidConfig, c.MinFee, c.MaxFee)
	}
	if c.Interval == 0 {
		return fmt.Errorf("%w: zero interval", ErrInvalidConfig)
	}
	if c.VolatilityWindow < 2 || c.VolumeWindow < 1 || c.ImpactWindow < 1 {
		return fmt.Errorf("%w: window too short", ErrInvalidConfig)
	}
	if c.HighVolume == nil || c.LowVolume == nil || c.LowVolume.Cmp(c.HighVolume) > 0 {
		return fmt.Errorf("%w: volume thresholds", ErrInvalidConfig)
	}
	return nil
}

// Sample is one executed trade.
type Sample struct {
	// SqrtPriceX96 is the post-trade price.
	SqrtPriceX96 *big.Int
	// Volume is the trade's input amount in raw token units.
	Volume *big.Int
	// ImpactPips is how far the trade moved the sqrt price, in pips of the
	// pre-trade value.
	ImpactPips uint64
}

// Tuner accumulates samples and recommends fee levels. It is not safe
// for concurrent use; the caller serializes access per pool.
type Tuner struct {
	cfg Config

	prices  []*big.Int
	volumes []*big.Int
	impacts []uint64

	lastAdjusted uint64
}

// New creates a tuner whose first adjustment becomes due one Interval
// after now.
func New(cfg Config, now uint64) (*Tuner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Tuner{cfg: cfg, lastAdjusted: now}, nil
}

// Record pushes a trade into the rolling windows, evicting the oldest
// sample of any window that is full.
func (t *Tuner) Record(s Sample) {
	t.prices = append(t.prices, new(big.Int).Set(s.SqrtPriceX96))
	if len(t.prices) > t.cfg.VolatilityWindow {
		t.prices = t.prices[1:]
	}
	t.volumes = append(t.volumes, new(big.Int).Set(s.Volume))
	if len(t.volumes) > t.cfg.VolumeWindow {
		t.volumes = t.volumes[1:]
	}
	t.impacts = append(t.impacts, s.ImpactPips)
	if len(t.impacts) > t.cfg.ImpactWindow {
		t.impacts = t.impacts[1:]
	}
}

// Volatility returns the coefficient of variation of the price window in
// pips: stddev * 1_000_000 / mean. Fewer than two samples read as zero.
func (t *Tuner) Volatility() uint64 {
	if len(t.prices) < 2 {
		return 0
	}
	n := big.NewInt(int64(len(t.prices)))
	mean := new(big.Int)
	for _, p := range t.prices {
		mean.Add(mean, p)
	}
	mean.Quo(mean, n)
	if mean.Sign() == 0 {
		return 0
	}

	variance := new(big.Int)
	diff := new(big.Int)
	for _, p := range t.prices {
		diff.Sub(p, mean)
		variance.Add(variance, diff.Mul(diff, diff))
	}
	variance.Quo(variance, n)

	cv := fixedpoint.Sqrt(variance)
	cv.Mul(cv, big.NewInt(pipsPerUnit)).Quo(cv, mean)
	if !cv.IsUint64() {
		return pipsPerUnit
	}
	return cv.Uint64()
}

// AverageVolume returns the mean input amount of the volume window, zero
// when empty.
func (t *Tuner) AverageVolume() *big.Int {
	avg := new(big.Int)
	if len(t.volumes) == 0 {
		return avg
	}
	for _, v := range t.volumes {
		avg.Add(avg, v)
	}
	return avg.Quo(avg, big.NewInt(int64(len(t.volumes))))
}

// AverageImpactPips returns the mean price move of the impact window.
func (t *Tuner) AverageImpactPips() uint64 {
	if len(t.impacts) == 0 {
		return 0
	}
	var sum uint64
	for _, i := range t.impacts {
		sum += i
	}
	return sum / uint64(len(t.impacts))
}

// ShouldAdjust reports whether an adjustment is due: at least one sample
// recorded and a full Interval elapsed since the last one.
func (t *Tuner) ShouldAdjust(now uint64) bool {
	return len(t.prices) > 0 && now >= t.lastAdjusted+t.cfg.Interval
}

// MarkAdjusted restarts the adjustment interval at now.
func (t *Tuner) MarkAdjusted(now uint64) {
	t.lastAdjusted = now
}

// Recommend maps the current windows to a fee level, starting from the
// fee in force. Volatile or high-impact trading raises the fee, deep calm
// flow lowers it; the result is clamped to [MinFee, MaxFee].
func (t *Tuner) Recommend(current uint64) uint64 {
	fee := int64(current)

	switch vol := t.Volatility(); {
	case vol > highVolatilityPips:
		fee += volatilityUpStep
	case vol < lowVolatilityPips:
		fee -= volatilityDownStep
	}

	avgVolume := t.AverageVolume()
	switch {
	case avgVolume.Cmp(t.cfg.HighVolume) > 0:
		fee -= volumeDownStep
	case avgVolume.Cmp(t.cfg.LowVolume) < 0:
		fee += volumeUpStep
	}

	switch impact := t.AverageImpactPips(); {
	case impact > highImpactPips:
		fee += impactUpStep
	case impact < lowImpactPips:
		fee -= impactDownStep
	}

	if fee < int64(t.cfg.MinFee) {
		return t.cfg.MinFee
	}
	if fee > int64(t.cfg.MaxFee) {
		return t.cfg.MaxFee
	}
	return uint64(fee)
}
