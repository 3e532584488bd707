package pool

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meridianx/venue-api/internal/events"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrPoolNotFound       = errors.New("pool not found")
	ErrPoolInactive       = errors.New("pool is not active")
	ErrPositionNotFound   = errors.New("provider position not found")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrSlippageExceeded   = errors.New("slippage tolerance exceeded")
	ErrRatioDeviation     = errors.New("input amounts deviate too much from pool ratio")
	ErrNoProviders        = errors.New("no liquidity providers in pool")
	ErrUnknownCurrency    = errors.New("currency not in pool")
)

// ratioTolerance bounds how far a deposit may deviate from the current
// reserve ratio before it is rejected as mispriced.
var ratioTolerance = decimal.NewFromFloat(0.01)

// Service owns all pool mutations. Swaps and liquidity changes on a
// given pool are serialized through a per-pool mutex: swap math reads a
// single pre-swap snapshot of both reserves, so concurrent writers would
// corrupt the invariant. Reads go straight to the database and are
// advisory.
type Service struct {
	db  *Database
	bus *events.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(gormDB *gorm.DB, bus *events.Bus) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		bus:   bus,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) poolLock(poolID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[poolID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[poolID] = l
	}
	return l
}

func (s *Service) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// CreatePool activates a new pool for the pair with empty reserves.
func (s *Service) CreatePool(baseCurrency, quoteCurrency string, feeRateBps, spreadBps float64) (*Pool, error) {
	pool := &Pool{
		PoolID:        "POOL_" + uuid.New().String(),
		BaseCurrency:  baseCurrency,
		QuoteCurrency: quoteCurrency,
		BaseReserve:   decimal.Zero,
		QuoteReserve:  decimal.Zero,
		TotalShares:   decimal.Zero,
		FeeRateBps:    feeRateBps,
		SpreadBps:     spreadBps,
		IsActive:      true,
		Volume24h:     decimal.Zero,
		Fees24h:       decimal.Zero,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.db.CreatePool(pool); err != nil {
		return nil, err
	}

	log.Info().
		Str("pool_id", pool.PoolID).
		Str("pair", baseCurrency+"/"+quoteCurrency).
		Float64("fee_rate_bps", feeRateBps).
		Msg("liquidity pool created")

	return pool, nil
}

func (s *Service) GetPool(poolID string) (*Pool, error) {
	return s.db.GetPool(poolID)
}

// GetPoolsForPair returns all pools for the pair, active or not.
func (s *Service) GetPoolsForPair(baseCurrency, quoteCurrency string) ([]Pool, error) {
	return s.db.GetPoolsForPair(baseCurrency, quoteCurrency)
}

// GetPoolByPair returns the first active pool for the pair, or nil.
func (s *Service) GetPoolByPair(baseCurrency, quoteCurrency string) (*Pool, error) {
	pools, err := s.db.GetPoolsForPair(baseCurrency, quoteCurrency)
	if err != nil {
		return nil, err
	}
	for i := range pools {
		if pools[i].IsActive {
			return &pools[i], nil
		}
	}
	return nil, nil
}

func (s *Service) ListActivePools() ([]Pool, error) {
	return s.db.ListActivePools()
}

func (s *Service) GetPosition(poolID, providerID string) (*ProviderPosition, error) {
	return s.db.GetPosition(poolID, providerID)
}

// AddLiquidity deposits base and quote amounts and mints shares. The
// first deposit mints the geometric mean of the amounts; later deposits
// mint proportionally to the smaller contribution ratio, which protects
// existing providers from mispriced deposits.
func (s *Service) AddLiquidity(poolID, providerID string, baseAmount, quoteAmount, minShares decimal.Decimal) (decimal.Decimal, error) {
	if !baseAmount.IsPositive() || !quoteAmount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := s.db.GetPool(poolID)
	if err != nil {
		return decimal.Zero, err
	}
	if !pool.IsActive {
		return decimal.Zero, ErrPoolInactive
	}

	if !pool.TotalShares.IsZero() {
		currentRatio := pool.QuoteReserve.Div(pool.BaseReserve)
		inputRatio := quoteAmount.Div(baseAmount)
		deviation := inputRatio.Sub(currentRatio).Abs().Div(currentRatio)
		if deviation.GreaterThan(ratioTolerance) {
			return decimal.Zero, ErrRatioDeviation
		}
	}

	shares := sharesForDeposit(pool, baseAmount, quoteAmount)
	if shares.LessThan(minShares) {
		return decimal.Zero, ErrSlippageExceeded
	}

	pool.BaseReserve = pool.BaseReserve.Add(baseAmount)
	pool.QuoteReserve = pool.QuoteReserve.Add(quoteAmount)
	pool.TotalShares = pool.TotalShares.Add(shares)
	pool.UpdatedAt = time.Now()

	position, err := s.db.GetPosition(poolID, providerID)
	if errors.Is(err, ErrPositionNotFound) {
		position = &ProviderPosition{
			PoolID:     poolID,
			ProviderID: providerID,
			Shares:     decimal.Zero,
			CreatedAt:  time.Now(),
		}
	} else if err != nil {
		return decimal.Zero, err
	}
	position.Shares = position.Shares.Add(shares)
	position.DepositedBase = position.DepositedBase.Add(baseAmount)
	position.DepositedQuote = position.DepositedQuote.Add(quoteAmount)
	position.UpdatedAt = time.Now()

	if err := s.db.savePoolAndPosition(pool, position, false); err != nil {
		return decimal.Zero, err
	}

	log.Info().
		Str("pool_id", poolID).
		Str("provider_id", providerID).
		Str("shares_minted", shares.String()).
		Msg("liquidity added")

	s.publish(events.LiquidityAdded{
		PoolID:       poolID,
		ProviderID:   providerID,
		BaseAmount:   baseAmount.String(),
		QuoteAmount:  quoteAmount.String(),
		SharesMinted: shares.String(),
		Timestamp:    time.Now(),
	})

	return shares, nil
}

// RemoveLiquidity burns shares and withdraws the proportional reserves.
// The position row is removed when its shares reach zero.
func (s *Service) RemoveLiquidity(poolID, providerID string, shares decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if !shares.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}

	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := s.db.GetPool(poolID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !pool.IsActive {
		return decimal.Zero, decimal.Zero, ErrPoolInactive
	}

	position, err := s.db.GetPosition(poolID, providerID)
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			return decimal.Zero, decimal.Zero, ErrInsufficientShares
		}
		return decimal.Zero, decimal.Zero, err
	}
	if position.Shares.LessThan(shares) {
		return decimal.Zero, decimal.Zero, ErrInsufficientShares
	}

	shareRatio := shares.Div(pool.TotalShares)
	baseOut := pool.BaseReserve.Mul(shareRatio)
	quoteOut := pool.QuoteReserve.Mul(shareRatio)

	pool.BaseReserve = pool.BaseReserve.Sub(baseOut)
	pool.QuoteReserve = pool.QuoteReserve.Sub(quoteOut)
	pool.TotalShares = pool.TotalShares.Sub(shares)
	pool.UpdatedAt = time.Now()

	position.Shares = position.Shares.Sub(shares)
	position.UpdatedAt = time.Now()
	removePosition := position.Shares.IsZero()

	if err := s.db.savePoolAndPosition(pool, position, removePosition); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	log.Info().
		Str("pool_id", poolID).
		Str("provider_id", providerID).
		Str("shares_burned", shares.String()).
		Str("base_out", baseOut.String()).
		Str("quote_out", quoteOut.String()).
		Msg("liquidity removed")

	s.publish(events.LiquidityRemoved{
		PoolID:       poolID,
		ProviderID:   providerID,
		SharesBurned: shares.String(),
		BaseAmount:   baseOut.String(),
		QuoteAmount:  quoteOut.String(),
		Timestamp:    time.Now(),
	})

	return baseOut, quoteOut, nil
}

// ExecuteSwap trades inputAmount of inputCurrency against the pool using
// the constant-product invariant. The fee is deducted from the input
// before the output calculation and accrues to the reserves. Fails with
// ErrSlippageExceeded when the realized output is below minOutput.
func (s *Service) ExecuteSwap(poolID, inputCurrency string, inputAmount, minOutput decimal.Decimal) (*SwapResult, error) {
	if !inputAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := s.db.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if !pool.IsActive {
		return nil, ErrPoolInactive
	}

	var inputReserve, outputReserve decimal.Decimal
	var outputCurrency string
	switch inputCurrency {
	case pool.BaseCurrency:
		inputReserve, outputReserve = pool.BaseReserve, pool.QuoteReserve
		outputCurrency = pool.QuoteCurrency
	case pool.QuoteCurrency:
		inputReserve, outputReserve = pool.QuoteReserve, pool.BaseReserve
		outputCurrency = pool.BaseCurrency
	default:
		return nil, ErrUnknownCurrency
	}
	if inputReserve.IsZero() || outputReserve.IsZero() {
		return nil, ErrPoolInactive
	}

	feeRate := decimal.NewFromFloat(pool.FeeRateBps / 10000.0)
	inputWithFee := inputAmount.Mul(decimal.NewFromInt(1).Sub(feeRate))

	// Constant product: dy = y * dx' / (x + dx')
	outputAmount := outputReserve.Mul(inputWithFee).Div(inputReserve.Add(inputWithFee))
	if outputAmount.LessThan(minOutput) {
		return nil, ErrSlippageExceeded
	}

	feeAmount := inputAmount.Mul(feeRate)

	spotPrice := outputReserve.Div(inputReserve)
	executionPrice := outputAmount.Div(inputAmount)
	priceImpact := spotPrice.Sub(executionPrice).Div(spotPrice).Abs()

	// The only operation that moves both reserves in one step.
	if inputCurrency == pool.BaseCurrency {
		pool.BaseReserve = pool.BaseReserve.Add(inputAmount)
		pool.QuoteReserve = pool.QuoteReserve.Sub(outputAmount)
		pool.Volume24h = pool.Volume24h.Add(outputAmount)
		pool.Fees24h = pool.Fees24h.Add(feeAmount.Mul(spotPrice))
	} else {
		pool.QuoteReserve = pool.QuoteReserve.Add(inputAmount)
		pool.BaseReserve = pool.BaseReserve.Sub(outputAmount)
		pool.Volume24h = pool.Volume24h.Add(inputAmount)
		pool.Fees24h = pool.Fees24h.Add(feeAmount)
	}
	pool.UpdatedAt = time.Now()

	if err := s.db.UpdatePool(pool); err != nil {
		return nil, err
	}

	log.Debug().
		Str("pool_id", poolID).
		Str("input_currency", inputCurrency).
		Str("input_amount", inputAmount.String()).
		Str("output_amount", outputAmount.String()).
		Str("fee_amount", feeAmount.String()).
		Str("price_impact", priceImpact.String()).
		Msg("swap executed")

	return &SwapResult{
		OutputCurrency: outputCurrency,
		OutputAmount:   outputAmount,
		FeeAmount:      feeAmount,
		PriceImpact:    priceImpact,
	}, nil
}

// Rebalance restores the reserves toward targetRatio = base/(base+quote)
// via an internal transfer, not an external trade. Ratios are computed
// on raw reserve units; see the inventory-ratio note on the spread
// controller.
func (s *Service) Rebalance(poolID string, targetRatio float64) error {
	if targetRatio <= 0 || targetRatio >= 1 {
		return ErrInvalidAmount
	}

	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := s.db.GetPool(poolID)
	if err != nil {
		return err
	}
	if !pool.IsActive {
		return ErrPoolInactive
	}

	total := pool.BaseReserve.Add(pool.QuoteReserve)
	if total.IsZero() {
		return nil
	}

	target := decimal.NewFromFloat(targetRatio)
	oldRatio := pool.BaseReserve.Div(total)

	pool.BaseReserve = total.Mul(target)
	pool.QuoteReserve = total.Sub(pool.BaseReserve)
	pool.UpdatedAt = time.Now()

	if err := s.db.UpdatePool(pool); err != nil {
		return err
	}

	log.Warn().
		Str("pool_id", poolID).
		Str("old_ratio", oldRatio.String()).
		Float64("target_ratio", targetRatio).
		Msg("pool rebalanced")

	return nil
}

// DistributeRewards splits the reward pro-rata across provider positions.
func (s *Service) DistributeRewards(poolID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := s.db.GetPool(poolID)
	if err != nil {
		return err
	}
	if pool.TotalShares.IsZero() {
		return ErrNoProviders
	}

	positions, err := s.db.ListPositions(poolID)
	if err != nil {
		return err
	}

	for i := range positions {
		position := &positions[i]
		if !position.Shares.IsPositive() {
			continue
		}

		rewards, err := position.Rewards()
		if err != nil {
			return err
		}
		portion := amount.Mul(position.Shares.Div(pool.TotalShares))
		rewards[currency] = rewards[currency].Add(portion)
		if err := position.SetRewards(rewards); err != nil {
			return err
		}
		position.UpdatedAt = time.Now()
		if err := s.db.SavePosition(position); err != nil {
			return err
		}
	}

	log.Info().
		Str("pool_id", poolID).
		Str("currency", currency).
		Str("amount", amount.String()).
		Int("providers", len(positions)).
		Msg("rewards distributed")

	return nil
}

// ClaimRewards returns and clears the provider's pending rewards.
func (s *Service) ClaimRewards(poolID, providerID string) (map[string]decimal.Decimal, error) {
	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	position, err := s.db.GetPosition(poolID, providerID)
	if err != nil {
		return nil, err
	}

	rewards, err := position.Rewards()
	if err != nil {
		return nil, err
	}
	if len(rewards) == 0 {
		return rewards, nil
	}

	if err := position.SetRewards(map[string]decimal.Decimal{}); err != nil {
		return nil, err
	}
	position.UpdatedAt = time.Now()
	if err := s.db.SavePosition(position); err != nil {
		return nil, err
	}

	return rewards, nil
}

// SetSpread persists a new spread into the pool's parameters.
func (s *Service) SetSpread(poolID string, spreadBps float64) error {
	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := s.db.GetPool(poolID)
	if err != nil {
		return err
	}
	pool.SpreadBps = spreadBps
	pool.UpdatedAt = time.Now()
	return s.db.UpdatePool(pool)
}

// SetActive flips the pool's active flag. Pools are never deleted.
func (s *Service) SetActive(poolID string, active bool) error {
	lock := s.poolLock(poolID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := s.db.GetPool(poolID)
	if err != nil {
		return err
	}
	pool.IsActive = active
	pool.UpdatedAt = time.Now()
	return s.db.UpdatePool(pool)
}

func sharesForDeposit(pool *Pool, baseAmount, quoteAmount decimal.Decimal) decimal.Decimal {
	if pool.TotalShares.IsZero() {
		// First provider: geometric mean of the deposit.
		product := baseAmount.InexactFloat64() * quoteAmount.InexactFloat64()
		return decimal.NewFromFloat(math.Sqrt(product))
	}

	baseRatio := baseAmount.Div(pool.BaseReserve)
	quoteRatio := quoteAmount.Div(pool.QuoteReserve)

	// Minting on the smaller ratio prevents share inflation from
	// lopsided deposits.
	ratio := baseRatio
	if quoteRatio.LessThan(baseRatio) {
		ratio = quoteRatio
	}
	return pool.TotalShares.Mul(ratio)
}
