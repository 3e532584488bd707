// Package spread recalibrates pool spreads in reaction to liquidity
// changes, executed trades, and volatility signals.
package spread

import (
	"math"
	"time"

	"github.com/meridianx/venue-api/internal/cache"
	"github.com/meridianx/venue-api/internal/config"
	"github.com/meridianx/venue-api/internal/events"
	"github.com/meridianx/venue-api/internal/pool"
	"github.com/meridianx/venue-api/internal/pricing"
	"github.com/rs/zerolog/log"
)

const (
	currentSpreadKeyPrefix = "spread:current:"
	snapshotKeyPrefix      = "spread:data:"
	volatilityKeyPrefix    = "spread:volatility:"
	pricesKeyPrefix        = "spread:prices:"
	volumeKeyPrefix        = "spread:volume:"

	volatilityTTL = 60 * time.Second
	snapshotTTL   = 300 * time.Second
	volumeTTL     = 3600 * time.Second

	// Price history is bounded; volatility uses only the tail.
	priceWindowSize  = 1000
	volatilityWindow = 100

	// Relative change below which a recomputed spread is not republished.
	republishThreshold = 0.1
)

// Snapshot is the cached result of the last recalculation for a pool,
// kept for inspection and to explain the current spread.
type Snapshot struct {
	PoolID         string    `json:"pool_id"`
	SpreadBps      float64   `json:"spread_bps"`
	Volatility     float64   `json:"volatility"`
	InventoryRatio float64   `json:"inventory_ratio"`
	LiquidityDepth float64   `json:"liquidity_depth"`
	Trigger        string    `json:"trigger"`
	Timestamp      time.Time `json:"timestamp"`
}

// Controller recomputes pool spreads from volatility, inventory and
// depth signals. All writes to pool spread parameters go through the
// pool service; the controller's own state lives in the TTL cache.
type Controller struct {
	pools  *pool.Service
	prices pricing.Provider
	store  cache.Store
	bus    *events.Bus
	cfg    config.SpreadConfig
}

func NewController(pools *pool.Service, prices pricing.Provider, store cache.Store, bus *events.Bus, cfg config.SpreadConfig) *Controller {
	return &Controller{pools: pools, prices: prices, store: store, bus: bus, cfg: cfg}
}

// Register subscribes the controller to the signals it reacts to.
// Recalculation only ever runs from pool-keyed events, so the bus
// serializes all recalculations for one pool on a single worker.
// Asset-keyed volatility signals are re-keyed per pool via
// SpreadRecalculationDue instead of recalculating inline.
func (c *Controller) Register(bus *events.Bus) {
	bus.Subscribe(events.LiquidityAddedName, func(ev events.Event) {
		e := ev.(events.LiquidityAdded)
		c.Recalculate(e.PoolID, "liquidity_added")
	})
	bus.Subscribe(events.LiquidityRemovedName, func(ev events.Event) {
		e := ev.(events.LiquidityRemoved)
		c.Recalculate(e.PoolID, "liquidity_removed")
	})
	bus.Subscribe(events.OrderExecutedName, func(ev events.Event) {
		e := ev.(events.OrderExecuted)
		c.RecordTrade(e.PoolID, e.Amount, e.Price)
		c.Recalculate(e.PoolID, "order_executed")
	})
	bus.Subscribe(events.MarketVolatilityChangedName, func(ev events.Event) {
		e := ev.(events.MarketVolatilityChanged)
		c.onVolatilityChanged(e.AssetCode)
	})
	bus.Subscribe(events.SpreadRecalculationDueName, func(ev events.Event) {
		e := ev.(events.SpreadRecalculationDue)
		c.Recalculate(e.PoolID, e.Trigger)
	})
}

// onVolatilityChanged fans an asset-keyed signal out to the affected
// pools as pool-keyed events. Recalculating here directly would run on
// the asset's worker, racing pool-keyed recalculations for the same
// pool.
func (c *Controller) onVolatilityChanged(assetCode string) {
	pools, err := c.pools.ListActivePools()
	if err != nil {
		log.Error().Err(err).Msg("failed to list pools for volatility recalculation")
		return
	}
	for _, p := range pools {
		if p.BaseCurrency == assetCode || p.QuoteCurrency == assetCode {
			c.publish(events.SpreadRecalculationDue{
				PoolID:    p.PoolID,
				Trigger:   "volatility_change",
				Timestamp: time.Now(),
			})
		}
	}
}

// Recalculate recomputes the spread for a pool and republishes it when
// it moved more than the republish threshold relative to the current
// value. Critical inventory imbalance additionally triggers an
// automatic rebalance toward 50/50.
func (c *Controller) Recalculate(poolID, trigger string) {
	logger := log.With().Str("pool_id", poolID).Str("trigger", trigger).Logger()

	p, err := c.pools.GetPool(poolID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load pool for spread recalculation")
		return
	}

	volatility := c.Volatility(poolID)
	ratio := inventoryRatio(p)
	depth := c.liquidityDepth(p)

	spread := c.cfg.DefaultSpreadBps

	switch {
	case volatility > c.cfg.ExtremeVolatility:
		spread *= 3
	case volatility > c.cfg.HighVolatility:
		spread *= 2
	}

	imbalance := math.Abs(0.5 - ratio)
	switch {
	case imbalance > c.cfg.CriticalImbalance:
		spread *= 1.5
		c.publish(events.InventoryImbalanceDetected{
			PoolID:            poolID,
			BaseCurrencyRatio: ratio,
			Severity:          events.SeverityCritical,
			RecommendedAction: "rebalance_urgent",
			Timestamp:         time.Now(),
		})
		logger.Warn().Float64("inventory_ratio", ratio).Msg("critical inventory imbalance, rebalancing")
		if err := c.pools.Rebalance(poolID, 0.5); err != nil {
			logger.Error().Err(err).Msg("automatic rebalance failed")
		}
	case imbalance > c.cfg.ImbalanceThreshold:
		spread *= 1.25
		c.publish(events.InventoryImbalanceDetected{
			PoolID:            poolID,
			BaseCurrencyRatio: ratio,
			Severity:          events.SeverityModerate,
			RecommendedAction: "monitor",
			Timestamp:         time.Now(),
		})
	}

	switch {
	case depth < c.cfg.LowDepthUSD:
		spread *= 1.5
	case depth < c.cfg.MediumDepthUSD:
		spread *= 1.2
	}

	spread = math.Max(c.cfg.MinSpreadBps, math.Min(c.cfg.MaxSpreadBps, spread))

	current := cache.GetFloat(c.store, currentSpreadKeyPrefix+poolID, c.cfg.DefaultSpreadBps)
	if math.Abs(spread-current)/current > republishThreshold {
		c.apply(poolID, current, spread, trigger)
	}

	c.store.Set(snapshotKeyPrefix+poolID, Snapshot{
		PoolID:         poolID,
		SpreadBps:      spread,
		Volatility:     volatility,
		InventoryRatio: ratio,
		LiquidityDepth: depth,
		Trigger:        trigger,
		Timestamp:      time.Now(),
	}, snapshotTTL)
}

func (c *Controller) apply(poolID string, oldSpread, newSpread float64, reason string) {
	c.store.Set(currentSpreadKeyPrefix+poolID, newSpread, snapshotTTL)

	if err := c.pools.SetSpread(poolID, newSpread); err != nil {
		log.Error().Err(err).Str("pool_id", poolID).Msg("failed to persist adjusted spread")
		return
	}

	log.Info().
		Str("pool_id", poolID).
		Float64("old_spread_bps", oldSpread).
		Float64("new_spread_bps", newSpread).
		Str("reason", reason).
		Msg("spread adjusted")

	c.publish(events.SpreadAdjusted{
		PoolID:    poolID,
		OldSpread: oldSpread,
		NewSpread: newSpread,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

// RecordTrade folds an executed trade into the hourly volume bucket and
// the bounded price history used for volatility.
func (c *Controller) RecordTrade(poolID string, amount, price float64) {
	volumeKey := volumeKeyPrefix + poolID + ":" + time.Now().Format("2006-01-02-15")
	current := cache.GetFloat(c.store, volumeKey, 0)
	c.store.Set(volumeKey, current+amount*price, volumeTTL)

	pricesKey := pricesKeyPrefix + poolID
	prices := cache.GetFloats(c.store, pricesKey)
	prices = append(prices, price)
	if len(prices) > priceWindowSize {
		prices = prices[len(prices)-priceWindowSize:]
	}
	c.store.Set(pricesKey, prices, volumeTTL)
}

// HourlyVolume returns the reference-currency volume recorded for the
// pool in the current hour bucket.
func (c *Controller) HourlyVolume(poolID string) float64 {
	key := volumeKeyPrefix + poolID + ":" + time.Now().Format("2006-01-02-15")
	return cache.GetFloat(c.store, key, 0)
}

// CurrentSnapshot returns the cached recalculation result, if fresh.
func (c *Controller) CurrentSnapshot(poolID string) (Snapshot, bool) {
	v, ok := c.store.Get(snapshotKeyPrefix + poolID)
	if !ok {
		return Snapshot{}, false
	}
	snapshot, ok := v.(Snapshot)
	return snapshot, ok
}

// Volatility is the standard deviation of returns over the recent price
// history, cached briefly to avoid recomputation thrash.
func (c *Controller) Volatility(poolID string) float64 {
	cacheKey := volatilityKeyPrefix + poolID
	if v, ok := c.store.Get(cacheKey); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}

	prices := cache.GetFloats(c.store, pricesKeyPrefix+poolID)
	if len(prices) > volatilityWindow {
		prices = prices[len(prices)-volatilityWindow:]
	}

	volatility := stddevOfReturns(prices)
	c.store.Set(cacheKey, volatility, volatilityTTL)
	return volatility
}

func stddevOfReturns(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance)
}

// inventoryRatio is base/(base+quote) in raw reserve units. Mixing units
// this way matches the calibrated thresholds; normalizing by price would
// shift rebalancing behavior materially.
func inventoryRatio(p *pool.Pool) float64 {
	total := p.BaseReserve.Add(p.QuoteReserve)
	if total.IsZero() {
		return 0.5
	}
	return p.BaseReserve.Div(total).InexactFloat64()
}

func (c *Controller) liquidityDepth(p *pool.Pool) float64 {
	basePrice := c.prices.Price(p.BaseCurrency)
	quotePrice := c.prices.Price(p.QuoteCurrency)
	return p.BaseReserve.InexactFloat64()*basePrice + p.QuoteReserve.InexactFloat64()*quotePrice
}

func (c *Controller) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
