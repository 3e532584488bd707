package spread

import (
	"testing"
	"time"

	"github.com/meridianx/venue-api/internal/cache"
	"github.com/meridianx/venue-api/internal/config"
	"github.com/meridianx/venue-api/internal/events"
	"github.com/meridianx/venue-api/internal/pool"
	"github.com/meridianx/venue-api/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestController(t *testing.T, bus *events.Bus) (*Controller, *pool.Service, cache.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&pool.Pool{}, &pool.ProviderPosition{}))

	pools := pool.NewService(db, nil)
	store := cache.NewMemoryStore()
	t.Cleanup(store.Close)

	c := NewController(pools, pricing.NewStaticProvider(), store, bus, config.DefaultSpread())
	return c, pools, store
}

func seedPool(t *testing.T, pools *pool.Service, base, quote float64) *pool.Pool {
	t.Helper()
	p, err := pools.CreatePool("USDT", "USD", 30, 30)
	require.NoError(t, err)
	_, err = pools.AddLiquidity(p.PoolID, "seed",
		decimal.NewFromFloat(base), decimal.NewFromFloat(quote), decimal.Zero)
	require.NoError(t, err)
	return p
}

func TestCalmPoolKeepsDefaultSpread(t *testing.T) {
	c, pools, _ := newTestController(t, nil)

	// Balanced, deep, no price history: every multiplier is 1.
	p := seedPool(t, pools, 100000, 100000)

	c.Recalculate(p.PoolID, "liquidity_added")

	updated, err := pools.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, 30.0, updated.SpreadBps)

	snapshot, ok := c.CurrentSnapshot(p.PoolID)
	require.True(t, ok)
	assert.Equal(t, 30.0, snapshot.SpreadBps)
	assert.Equal(t, "liquidity_added", snapshot.Trigger)
}

func TestLowDepthWidensSpread(t *testing.T) {
	c, pools, _ := newTestController(t, nil)

	// $5,000 of depth is below the low-liquidity floor: 30 * 1.5 = 45.
	p := seedPool(t, pools, 2500, 2500)

	c.Recalculate(p.PoolID, "liquidity_removed")

	updated, err := pools.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, 45.0, updated.SpreadBps)
}

func TestSpreadNotRepublishedWithinThreshold(t *testing.T) {
	c, pools, store := newTestController(t, nil)

	// Depth between $10k and $50k applies the 1.2 medium multiplier:
	// 30 * 1.2 = 36, only 20% away from the cached 30, republished.
	// A second recalculation lands on 36 again, 0% away, not republished.
	p := seedPool(t, pools, 10000, 10000)

	c.Recalculate(p.PoolID, "order_executed")
	assert.Equal(t, 36.0, cache.GetFloat(store, currentSpreadKeyPrefix+p.PoolID, 0))

	// Make the persisted value detectably different from a republish.
	require.NoError(t, pools.SetSpread(p.PoolID, 999))
	c.Recalculate(p.PoolID, "order_executed")

	updated, err := pools.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, 999.0, updated.SpreadBps, "unchanged spread must not be republished")
}

func TestSpreadClampedToBounds(t *testing.T) {
	c, pools, _ := newTestController(t, nil)
	c.cfg.DefaultSpreadBps = 400

	// Low depth multiplier alone would push 400 * 1.5 = 600 past the cap.
	p := seedPool(t, pools, 2500, 2500)

	c.Recalculate(p.PoolID, "liquidity_removed")

	updated, err := pools.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, updated.SpreadBps)
}

func TestCriticalImbalanceRebalancesAndSignals(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	c, pools, _ := newTestController(t, bus)

	imbalances := make(chan events.InventoryImbalanceDetected, 1)
	bus.Subscribe(events.InventoryImbalanceDetectedName, func(ev events.Event) {
		imbalances <- ev.(events.InventoryImbalanceDetected)
	})

	// Raw-unit ratio 50/(50+99950) is far below 0.5: critical.
	p := seedPool(t, pools, 50, 99950)

	c.Recalculate(p.PoolID, "order_executed")

	select {
	case e := <-imbalances:
		assert.Equal(t, events.SeverityCritical, e.Severity)
		assert.Equal(t, "rebalance_urgent", e.RecommendedAction)
	case <-time.After(time.Second):
		t.Fatal("expected critical imbalance event")
	}

	// Rebalance(0.5) restored the raw-unit split.
	updated, err := pools.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.InDelta(t, 50000.0, updated.BaseReserve.InexactFloat64(), 1e-6)
	assert.InDelta(t, 50000.0, updated.QuoteReserve.InexactFloat64(), 1e-6)
}

func TestModerateImbalanceOnlyMonitors(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	c, pools, _ := newTestController(t, bus)

	imbalances := make(chan events.InventoryImbalanceDetected, 1)
	bus.Subscribe(events.InventoryImbalanceDetectedName, func(ev events.Event) {
		imbalances <- ev.(events.InventoryImbalanceDetected)
	})

	// Ratio 0.2: imbalance 0.3, moderate band.
	p := seedPool(t, pools, 20000, 80000)

	c.Recalculate(p.PoolID, "order_executed")

	select {
	case e := <-imbalances:
		assert.Equal(t, events.SeverityModerate, e.Severity)
		assert.Equal(t, "monitor", e.RecommendedAction)
	case <-time.After(time.Second):
		t.Fatal("expected moderate imbalance event")
	}

	// No rebalance for moderate imbalance.
	updated, err := pools.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.InDelta(t, 20000.0, updated.BaseReserve.InexactFloat64(), 1e-6)
}

func TestVolatilityFromRecordedTrades(t *testing.T) {
	c, pools, _ := newTestController(t, nil)
	p := seedPool(t, pools, 100000, 100000)

	assert.Equal(t, 0.0, stddevOfReturns(nil))
	assert.Equal(t, 0.0, stddevOfReturns([]float64{100}))

	// Flat prices: zero volatility.
	for i := 0; i < 10; i++ {
		c.RecordTrade(p.PoolID, 1, 100)
	}
	assert.Equal(t, 0.0, c.Volatility(p.PoolID))

	// returns = [0.1, -0.0909...], stddev ~ 0.0954
	assert.InDelta(t, 0.09545, stddevOfReturns([]float64{100, 110, 100}), 1e-4)
}

func TestVolatilityIsCached(t *testing.T) {
	c, pools, _ := newTestController(t, nil)
	p := seedPool(t, pools, 100000, 100000)

	c.RecordTrade(p.PoolID, 1, 100)
	c.RecordTrade(p.PoolID, 1, 100)
	require.Equal(t, 0.0, c.Volatility(p.PoolID))

	// New swings arrive but the cached value still serves.
	c.RecordTrade(p.PoolID, 1, 200)
	c.RecordTrade(p.PoolID, 1, 50)
	assert.Equal(t, 0.0, c.Volatility(p.PoolID))
}

func TestHourlyVolumeAccumulates(t *testing.T) {
	c, pools, _ := newTestController(t, nil)
	p := seedPool(t, pools, 100000, 100000)

	c.RecordTrade(p.PoolID, 2, 100)
	c.RecordTrade(p.PoolID, 3, 100)

	assert.Equal(t, 500.0, c.HourlyVolume(p.PoolID))
}

func TestPriceWindowIsBounded(t *testing.T) {
	c, pools, store := newTestController(t, nil)
	p := seedPool(t, pools, 100000, 100000)

	for i := 0; i < priceWindowSize+50; i++ {
		c.RecordTrade(p.PoolID, 1, float64(100+i))
	}

	prices := cache.GetFloats(store, pricesKeyPrefix+p.PoolID)
	assert.Len(t, prices, priceWindowSize)
	assert.Equal(t, float64(100+priceWindowSize+49), prices[len(prices)-1])
}

func TestVolatilityChangeRecalculatesMatchingPools(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	c, pools, _ := newTestController(t, bus)
	c.Register(bus)

	// Shallow pool so the recalculated spread moves off the default.
	p := seedPool(t, pools, 2500, 2500)

	bus.Publish(events.MarketVolatilityChanged{
		AssetCode:  "USDT",
		Volatility: 0.02,
		Timestamp:  time.Now(),
	})

	require.Eventually(t, func() bool {
		updated, err := pools.GetPool(p.PoolID)
		return err == nil && updated.SpreadBps == 45.0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestVolatilitySignalIsReKeyedPerPool(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	c, pools, _ := newTestController(t, bus)
	c.Register(bus)

	p := seedPool(t, pools, 2500, 2500)

	rekeyed := make(chan events.SpreadRecalculationDue, 1)
	bus.Subscribe(events.SpreadRecalculationDueName, func(ev events.Event) {
		rekeyed <- ev.(events.SpreadRecalculationDue)
	})

	// Asset-keyed signal: the handler must not recalculate inline but
	// hop onto the pool's ordered queue.
	bus.Publish(events.MarketVolatilityChanged{
		AssetCode:  "USDT",
		Volatility: 0.02,
		Timestamp:  time.Now(),
	})

	select {
	case e := <-rekeyed:
		assert.Equal(t, p.PoolID, e.PoolID)
		assert.Equal(t, p.PoolID, e.Key(), "recalculation must queue on the pool key")
		assert.Equal(t, "volatility_change", e.Trigger)
	case <-time.After(time.Second):
		t.Fatal("expected a pool-keyed recalculation event")
	}

	require.Eventually(t, func() bool {
		snapshot, ok := c.CurrentSnapshot(p.PoolID)
		return ok && snapshot.Trigger == "volatility_change"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestImbalanceAtCriticalBoundaryStaysModerate(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	c, pools, _ := newTestController(t, bus)

	imbalances := make(chan events.InventoryImbalanceDetected, 1)
	bus.Subscribe(events.InventoryImbalanceDetectedName, func(ev events.Event) {
		imbalances <- ev.(events.InventoryImbalanceDetected)
	})

	// Ratio 0.1 sits exactly on the critical threshold; the comparison
	// is strictly greater, so this is the top of the moderate band.
	p := seedPool(t, pools, 10000, 90000)

	c.Recalculate(p.PoolID, "order_executed")

	select {
	case e := <-imbalances:
		assert.Equal(t, events.SeverityModerate, e.Severity)
		assert.Equal(t, "monitor", e.RecommendedAction)
	case <-time.After(time.Second):
		t.Fatal("expected moderate imbalance event")
	}

	updated, err := pools.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, 37.5, updated.SpreadBps)
	assert.InDelta(t, 10000.0, updated.BaseReserve.InexactFloat64(), 1e-6, "no rebalance at the boundary")
}
