// Package engine orchestrates a set of concentrated liquidity pools behind
// one concurrency-safe facade. Pools are single-writer structures; the
// engine serializes access per pool and fans out events to subscribers.
package engine

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/clmm-engine-go/dynamicfee"
	"github.com/defistate/clmm-engine-go/pool"
)

var (
	ErrPoolNotFound  = errors.New("pool not found")
	ErrPoolExists    = errors.New("pool already exists")
	ErrInvalidConfig = errors.New("invalid engine config")
)

// Config holds the engine's dependencies.
type Config struct {
	Logger   Logger
	Registry prometheus.Registerer
	// EventBufferSize sizes each subscriber channel. Zero means 64.
	EventBufferSize uint
	// Clock supplies the current unix time. Nil means time.Now.
	Clock func() uint64
	// FeeTuning enables dynamic fee adjustment for every pool. Nil keeps
	// each pool at its configured fee tier.
	FeeTuning *dynamicfee.Config
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.Logger == nil {
		return fmt.Errorf("%w: Logger is required", ErrInvalidConfig)
	}
	if c.Registry == nil {
		return fmt.Errorf("%w: Registry is required", ErrInvalidConfig)
	}
	return nil
}

type poolEntry struct {
	mu    sync.Mutex
	p     *pool.Pool
	tuner *dynamicfee.Tuner
}

// Engine owns all pools and is safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	pools map[PoolID]*poolEntry

	logger    Logger
	metrics   *Metrics
	clock     func() uint64
	feeTuning *dynamicfee.Config

	subMu   sync.Mutex
	subs    []chan Event
	bufSize uint
}

// New constructs an engine from a configuration.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	bufSize := cfg.EventBufferSize
	if bufSize == 0 {
		bufSize = 64
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() uint64 { return uint64(time.Now().Unix()) }
	}
	return &Engine{
		pools:     make(map[PoolID]*poolEntry),
		logger:    cfg.Logger,
		metrics:   NewMetrics(cfg.Registry),
		clock:     clock,
		feeTuning: cfg.FeeTuning,
		bufSize:   bufSize,
	}, nil
}

// Subscribe returns a channel of engine events. Slow subscribers drop
// events rather than blocking the engine.
func (e *Engine) Subscribe() <-chan Event {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	ch := make(chan Event, e.bufSize)
	e.subs = append(e.subs, ch)
	return ch
}

func (e *Engine) publish(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Warn("event dropped for slow subscriber", "type", ev.Type, "pool", ev.Pool)
		}
	}
}

// Initialize creates a pool and returns its identifier.
func (e *Engine) Initialize(cfg pool.Config) (PoolID, error) {
	id := NewPoolID(cfg.Token0, cfg.Token1, cfg.Fee)

	e.mu.Lock()
	if _, ok := e.pools[id]; ok {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrPoolExists, id)
	}
	now := e.clock()
	p, err := pool.New(cfg, now)
	if err != nil {
		e.mu.Unlock()
		e.metrics.opErrors.WithLabelValues("initialize").Inc()
		return "", err
	}
	entry := &poolEntry{p: p}
	if e.feeTuning != nil {
		tuner, err := dynamicfee.New(*e.feeTuning, now)
		if err != nil {
			e.mu.Unlock()
			e.metrics.opErrors.WithLabelValues("initialize").Inc()
			return "", err
		}
		entry.tuner = tuner
	}
	e.pools[id] = entry
	e.metrics.poolsActive.Set(float64(len(e.pools)))
	e.metrics.feePips.WithLabelValues(string(id)).Set(float64(p.Fee()))
	e.mu.Unlock()

	e.logger.Info("pool initialized",
		"pool", id, "fee", cfg.Fee, "tickSpacing", p.TickSpacing(), "tick", p.Tick())
	e.publish(Event{
		Type:         EventPoolInitialized,
		Pool:         id,
		Timestamp:    now,
		SqrtPriceX96: p.SqrtPriceX96(),
		Tick:         p.Tick(),
	})
	return id, nil
}

func (e *Engine) entry(id PoolID) (*poolEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return entry, nil
}

// Swap executes a swap against a pool.
func (e *Engine) Swap(id PoolID, params pool.SwapParams) (*pool.SwapResult, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := e.clock()
	var preSqrt *big.Int
	if entry.tuner != nil {
		preSqrt = entry.p.SqrtPriceX96()
	}
	timer := prometheus.NewTimer(e.metrics.swapDuration.WithLabelValues(string(id)))
	res, err := entry.p.Swap(params, now)
	timer.ObserveDuration()
	if err != nil {
		e.metrics.opErrors.WithLabelValues("swap").Inc()
		e.logger.Debug("swap rejected", "pool", id, "err", err)
		return nil, err
	}

	direction := "oneForZero"
	if params.ZeroForOne {
		direction = "zeroForOne"
	}
	e.metrics.swapsTotal.WithLabelValues(string(id), direction).Inc()
	e.metrics.ticksCrossed.Observe(float64(res.TicksCrossed))
	e.logger.Debug("swap executed",
		"pool", id, "amount0", res.Amount0, "amount1", res.Amount1,
		"tick", res.Tick, "ticksCrossed", res.TicksCrossed)
	e.publish(Event{
		Type:         EventSwapExecuted,
		Pool:         id,
		Timestamp:    now,
		Amount0:      res.Amount0,
		Amount1:      res.Amount1,
		SqrtPriceX96: res.SqrtPriceX96,
		Tick:         res.Tick,
		Liquidity:    res.Liquidity,
	})
	if entry.tuner != nil {
		e.tuneFee(id, entry, params, res, preSqrt, now)
	}
	return res, nil
}

// tuneFee feeds a completed swap into the pool's tuner and applies the
// recommended fee once the adjustment interval has elapsed. Caller holds
// the pool entry lock.
func (e *Engine) tuneFee(id PoolID, entry *poolEntry, params pool.SwapParams, res *pool.SwapResult, preSqrt *big.Int, now uint64) {
	volume := res.Amount0
	if !params.ZeroForOne {
		volume = res.Amount1
	}
	entry.tuner.Record(dynamicfee.Sample{
		SqrtPriceX96: res.SqrtPriceX96,
		Volume:       volume,
		ImpactPips:   impactPips(preSqrt, res.SqrtPriceX96),
	})
	if !entry.tuner.ShouldAdjust(now) {
		return
	}
	entry.tuner.MarkAdjusted(now)

	next := entry.tuner.Recommend(entry.p.Fee())
	if next == entry.p.Fee() {
		return
	}
	if err := entry.p.AdjustFee(next); err != nil {
		e.metrics.opErrors.WithLabelValues("adjustFee").Inc()
		e.logger.Warn("fee adjustment rejected", "pool", id, "fee", next, "err", err)
		return
	}
	e.metrics.feePips.WithLabelValues(string(id)).Set(float64(next))
	e.logger.Info("fee adjusted", "pool", id, "fee", next)
	e.publish(Event{
		Type:      EventFeeAdjusted,
		Pool:      id,
		Timestamp: now,
		FeePips:   next,
	})
}

// impactPips measures how far a swap moved the sqrt price, in pips of
// the pre-swap value.
func impactPips(pre, post *big.Int) uint64 {
	if pre.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(post, pre)
	diff.Abs(diff).Mul(diff, big.NewInt(1_000_000)).Quo(diff, pre)
	if !diff.IsUint64() {
		return 1_000_000
	}
	return diff.Uint64()
}

// Mint adds liquidity to a position and returns the amounts owed to the
// pool.
func (e *Engine) Mint(id PoolID, owner common.Address, tickLower, tickUpper int64, liquidity *big.Int, deadline uint64) (amount0, amount1 *big.Int, err error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := e.clock()
	amount0, amount1, err = entry.p.Mint(owner, tickLower, tickUpper, liquidity, deadline, now)
	if err != nil {
		e.metrics.opErrors.WithLabelValues("mint").Inc()
		return nil, nil, err
	}
	e.metrics.positionCount.WithLabelValues(string(id)).Set(float64(entry.p.PositionCount()))
	e.logger.Debug("liquidity minted",
		"pool", id, "owner", owner, "tickLower", tickLower, "tickUpper", tickUpper, "liquidity", liquidity)
	e.publish(Event{
		Type:      EventLiquidityMinted,
		Pool:      id,
		Timestamp: now,
		Owner:     owner,
		Amount0:   amount0,
		Amount1:   amount1,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: new(big.Int).Set(liquidity),
	})
	return amount0, amount1, nil
}

// Burn removes liquidity from a position; the freed amounts become
// collectable.
func (e *Engine) Burn(id PoolID, owner common.Address, tickLower, tickUpper int64, liquidity *big.Int) (amount0, amount1 *big.Int, err error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := e.clock()
	amount0, amount1, err = entry.p.Burn(owner, tickLower, tickUpper, liquidity, now)
	if err != nil {
		e.metrics.opErrors.WithLabelValues("burn").Inc()
		return nil, nil, err
	}
	e.publish(Event{
		Type:      EventLiquidityBurned,
		Pool:      id,
		Timestamp: now,
		Owner:     owner,
		Amount0:   new(big.Int).Neg(amount0),
		Amount1:   new(big.Int).Neg(amount1),
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: new(big.Int).Set(liquidity),
	})
	return amount0, amount1, nil
}

// Collect pays out owed fees and burned principal from a position.
func (e *Engine) Collect(id PoolID, owner common.Address, tickLower, tickUpper int64, amount0Requested, amount1Requested *big.Int) (amount0, amount1 *big.Int, err error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := e.clock()
	amount0, amount1, err = entry.p.Collect(owner, tickLower, tickUpper, amount0Requested, amount1Requested)
	if err != nil {
		e.metrics.opErrors.WithLabelValues("collect").Inc()
		return nil, nil, err
	}
	e.metrics.positionCount.WithLabelValues(string(id)).Set(float64(entry.p.PositionCount()))
	e.publish(Event{
		Type:      EventFeesCollected,
		Pool:      id,
		Timestamp: now,
		Owner:     owner,
		Amount0:   new(big.Int).Neg(amount0),
		Amount1:   new(big.Int).Neg(amount1),
		TickLower: tickLower,
		TickUpper: tickUpper,
	})
	return amount0, amount1, nil
}

// CollectProtocol drains accumulated protocol fees from a pool.
func (e *Engine) CollectProtocol(id PoolID, amount0Requested, amount1Requested *big.Int) (amount0, amount1 *big.Int, err error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.p.CollectProtocol(amount0Requested, amount1Requested)
}

// Observe reads the pool's oracle at the given trailing offsets.
func (e *Engine) Observe(id PoolID, secondsAgos []uint64) ([]int64, []*big.Int, error) {
	entry, err := e.entry(id)
	if err != nil {
		return nil, nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.p.Observe(secondsAgos, e.clock())
}

// TimeWeightedAverageTick returns a pool's average tick over the trailing
// window.
func (e *Engine) TimeWeightedAverageTick(id PoolID, secondsAgo uint64) (int64, error) {
	entry, err := e.entry(id)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.p.TimeWeightedAverageTick(secondsAgo, e.clock())
}

// PoolIDs lists the initialized pools.
func (e *Engine) PoolIDs() []PoolID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]PoolID, 0, len(e.pools))
	for id := range e.pools {
		ids = append(ids, id)
	}
	return ids
}

// View runs fn with exclusive access to the pool. It exists for reads that
// need a consistent multi-field snapshot and for tests.
func (e *Engine) View(id PoolID, fn func(p *pool.Pool) error) error {
	entry, err := e.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.p)
}
