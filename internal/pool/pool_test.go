package pool

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Pool{}, &ProviderPosition{}))
	return NewService(db, nil)
}

func seedPool(t *testing.T, s *Service, base, quote float64) *Pool {
	t.Helper()
	p, err := s.CreatePool("BTC", "USD", 30, 30)
	require.NoError(t, err)
	_, err = s.AddLiquidity(p.PoolID, "seed-provider",
		decimal.NewFromFloat(base), decimal.NewFromFloat(quote), decimal.Zero)
	require.NoError(t, err)
	p, err = s.GetPool(p.PoolID)
	require.NoError(t, err)
	return p
}

func TestFirstDepositMintsGeometricMean(t *testing.T) {
	s := newTestService(t)
	p, err := s.CreatePool("BTC", "USD", 30, 30)
	require.NoError(t, err)

	shares, err := s.AddLiquidity(p.PoolID, "alice",
		decimal.NewFromInt(4), decimal.NewFromInt(100), decimal.Zero)
	require.NoError(t, err)

	// sqrt(4 * 100) = 20
	assert.InDelta(t, 20.0, shares.InexactFloat64(), 1e-9)

	p, err = s.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.True(t, p.TotalShares.Equal(shares))
}

func TestProportionalDepositMintsProportionalShares(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	initialShares := p.TotalShares

	// Deposit 10% of each reserve at the current ratio.
	shares, err := s.AddLiquidity(p.PoolID, "bob",
		decimal.NewFromInt(1), decimal.NewFromInt(50000), decimal.Zero)
	require.NoError(t, err)

	expected := initialShares.Mul(decimal.NewFromFloat(0.1))
	assert.InDelta(t, expected.InexactFloat64(), shares.InexactFloat64(), 1e-6)
}

func TestDepositRejectedWhenRatioDeviates(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	// Pool ratio is 50000 quote per base; offering 60000 is a 20% miss.
	_, err := s.AddLiquidity(p.PoolID, "bob",
		decimal.NewFromInt(1), decimal.NewFromInt(60000), decimal.Zero)
	assert.ErrorIs(t, err, ErrRatioDeviation)
}

func TestRemoveLiquidityReturnsProportionalReserves(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	position, err := s.GetPosition(p.PoolID, "seed-provider")
	require.NoError(t, err)

	half := position.Shares.Div(decimal.NewFromInt(2))
	baseOut, quoteOut, err := s.RemoveLiquidity(p.PoolID, "seed-provider", half)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, baseOut.InexactFloat64(), 1e-9)
	assert.InDelta(t, 250000.0, quoteOut.InexactFloat64(), 1e-6)

	p, err = s.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, p.BaseReserve.InexactFloat64(), 1e-9)
	assert.InDelta(t, 250000.0, p.QuoteReserve.InexactFloat64(), 1e-6)
}

func TestRemoveLiquidityInsufficientShares(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	position, err := s.GetPosition(p.PoolID, "seed-provider")
	require.NoError(t, err)

	_, _, err = s.RemoveLiquidity(p.PoolID, "seed-provider",
		position.Shares.Mul(decimal.NewFromInt(2)))
	assert.ErrorIs(t, err, ErrInsufficientShares)

	_, _, err = s.RemoveLiquidity(p.PoolID, "stranger", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestFullWithdrawalRemovesPosition(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	position, err := s.GetPosition(p.PoolID, "seed-provider")
	require.NoError(t, err)

	_, _, err = s.RemoveLiquidity(p.PoolID, "seed-provider", position.Shares)
	require.NoError(t, err)

	_, err = s.GetPosition(p.PoolID, "seed-provider")
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestSwapConstantProduct(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	// Swap 5000 USD into the pool at 30 bps fee.
	// inputWithFee = 5000 * 0.997 = 4985
	// out = 10 * 4985 / (500000 + 4985) = 0.098715803...
	result, err := s.ExecuteSwap(p.PoolID, "USD",
		decimal.NewFromInt(5000), decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, "BTC", result.OutputCurrency)
	assert.InDelta(t, 0.098715803, result.OutputAmount.InexactFloat64(), 1e-7)
	assert.InDelta(t, 15.0, result.FeeAmount.InexactFloat64(), 1e-9)

	p, err = s.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.InDelta(t, 505000.0, p.QuoteReserve.InexactFloat64(), 1e-6)
	assert.InDelta(t, 10-0.098715803, p.BaseReserve.InexactFloat64(), 1e-7)
}

func TestSwapInvariantNeverDecreases(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	kBefore := p.BaseReserve.Mul(p.QuoteReserve)

	_, err := s.ExecuteSwap(p.PoolID, "USD", decimal.NewFromInt(25000), decimal.Zero)
	require.NoError(t, err)
	_, err = s.ExecuteSwap(p.PoolID, "BTC", decimal.NewFromFloat(0.3), decimal.Zero)
	require.NoError(t, err)

	p, err = s.GetPool(p.PoolID)
	require.NoError(t, err)
	kAfter := p.BaseReserve.Mul(p.QuoteReserve)

	// Fees accrue to the reserves, so k grows with every swap.
	assert.True(t, kAfter.GreaterThan(kBefore),
		"k after %s should exceed k before %s", kAfter, kBefore)
}

func TestSwapSlippageExceeded(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	_, err := s.ExecuteSwap(p.PoolID, "USD",
		decimal.NewFromInt(5000), decimal.NewFromFloat(0.1))
	assert.ErrorIs(t, err, ErrSlippageExceeded)

	// Reserves untouched after the rejection.
	p, err = s.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.InDelta(t, 500000.0, p.QuoteReserve.InexactFloat64(), 1e-6)
}

func TestSwapRejectsUnknownCurrencyAndInactivePool(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	_, err := s.ExecuteSwap(p.PoolID, "ETH", decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, ErrUnknownCurrency)

	require.NoError(t, s.SetActive(p.PoolID, false))
	_, err = s.ExecuteSwap(p.PoolID, "USD", decimal.NewFromInt(1), decimal.Zero)
	assert.ErrorIs(t, err, ErrPoolInactive)
}

func TestRebalanceRestoresTargetRatio(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 800, 200)

	require.NoError(t, s.Rebalance(p.PoolID, 0.5))

	p, err := s.GetPool(p.PoolID)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, p.BaseReserve.InexactFloat64(), 1e-9)
	assert.InDelta(t, 500.0, p.QuoteReserve.InexactFloat64(), 1e-9)
}

func TestDistributeAndClaimRewards(t *testing.T) {
	s := newTestService(t)
	p := seedPool(t, s, 10, 500000)

	// Second provider with a third of the total stake.
	_, err := s.AddLiquidity(p.PoolID, "bob",
		decimal.NewFromInt(5), decimal.NewFromInt(250000), decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, s.DistributeRewards(p.PoolID, "USD", decimal.NewFromInt(300)))

	rewards, err := s.ClaimRewards(p.PoolID, "seed-provider")
	require.NoError(t, err)
	assert.InDelta(t, 200.0, rewards["USD"].InexactFloat64(), 1e-6)

	rewards, err = s.ClaimRewards(p.PoolID, "bob")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, rewards["USD"].InexactFloat64(), 1e-6)

	// Claims clear the pending balance.
	rewards, err = s.ClaimRewards(p.PoolID, "bob")
	require.NoError(t, err)
	assert.Empty(t, rewards)
}

func TestDistributeRewardsNoProviders(t *testing.T) {
	s := newTestService(t)
	p, err := s.CreatePool("BTC", "USD", 30, 30)
	require.NoError(t, err)

	err = s.DistributeRewards(p.PoolID, "USD", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrNoProviders)
}
