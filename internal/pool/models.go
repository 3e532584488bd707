package pool

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Pool holds the reserve state for one trading-pair liquidity pool.
// Reserves, shares and fee accruals are exact decimals; spread and fee
// rate are quoted in basis points. Pools are never deleted, only
// deactivated.
type Pool struct {
	gorm.Model    `json:"-"`
	PoolID        string          `gorm:"uniqueIndex" json:"pool_id"`
	BaseCurrency  string          `gorm:"index:idx_pool_pair" json:"base_currency"`
	QuoteCurrency string          `gorm:"index:idx_pool_pair" json:"quote_currency"`
	BaseReserve   decimal.Decimal `gorm:"type:decimal(38,18)" json:"base_reserve"`
	QuoteReserve  decimal.Decimal `gorm:"type:decimal(38,18)" json:"quote_reserve"`
	TotalShares   decimal.Decimal `gorm:"type:decimal(38,18)" json:"total_shares"`
	FeeRateBps    float64         `json:"fee_rate_bps"`
	SpreadBps     float64         `json:"spread_bps"`
	IsActive      bool            `json:"is_active"`
	Volume24h     decimal.Decimal `gorm:"type:decimal(38,18)" json:"volume_24h"`
	Fees24h       decimal.Decimal `gorm:"type:decimal(38,18)" json:"fees_24h"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SpotPrice returns quoteReserve/baseReserve. The second return is false
// when the pool has no base reserve and the price is undefined.
func (p *Pool) SpotPrice() (decimal.Decimal, bool) {
	if p.BaseReserve.IsZero() {
		return decimal.Zero, false
	}
	return p.QuoteReserve.Div(p.BaseReserve), true
}

// ProviderPosition tracks one provider's stake in one pool. Pending
// rewards are kept per currency as decimal strings in a JSON column and
// cleared on claim. The row is removed when shares reach zero.
type ProviderPosition struct {
	gorm.Model     `json:"-"`
	PoolID         string          `gorm:"index:idx_position,unique" json:"pool_id"`
	ProviderID     string          `gorm:"index:idx_position,unique" json:"provider_id"`
	Shares         decimal.Decimal `gorm:"type:decimal(38,18)" json:"shares"`
	DepositedBase  decimal.Decimal `gorm:"type:decimal(38,18)" json:"deposited_base"`
	DepositedQuote decimal.Decimal `gorm:"type:decimal(38,18)" json:"deposited_quote"`
	PendingRewards datatypes.JSON  `json:"pending_rewards,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Rewards decodes the pending rewards column into currency → amount.
func (pp *ProviderPosition) Rewards() (map[string]decimal.Decimal, error) {
	rewards := make(map[string]decimal.Decimal)
	if len(pp.PendingRewards) == 0 {
		return rewards, nil
	}

	raw := make(map[string]string)
	if err := json.Unmarshal(pp.PendingRewards, &raw); err != nil {
		return nil, err
	}
	for currency, amount := range raw {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}
		rewards[currency] = d
	}
	return rewards, nil
}

// SetRewards encodes the pending rewards map into the JSON column.
func (pp *ProviderPosition) SetRewards(rewards map[string]decimal.Decimal) error {
	raw := make(map[string]string, len(rewards))
	for currency, amount := range rewards {
		raw[currency] = amount.String()
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	pp.PendingRewards = datatypes.JSON(encoded)
	return nil
}

// SwapResult reports the outcome of an executed swap. PriceImpact is the
// realized deviation from spot as a fraction of spot.
type SwapResult struct {
	OutputCurrency string          `json:"output_currency"`
	OutputAmount   decimal.Decimal `json:"output_amount"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	PriceImpact    decimal.Decimal `json:"price_impact"`
}
