// Package pricing abstracts reference-currency (USD) price lookups for
// the router and spread controller.
package pricing

// Provider returns the USD price for an asset code. Implementations may
// be backed by an oracle or an aggregated external feed; prices are
// advisory inputs to routing and spread math, not settlement values.
type Provider interface {
	Price(assetCode string) float64
}

// StaticProvider serves prices from a fixed table. It stands in for a
// live oracle in development and tests.
type StaticProvider struct {
	prices       map[string]float64
	defaultPrice float64
}

// NewStaticProvider returns a provider with the development price table.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		prices: map[string]float64{
			"BTC":  50000,
			"ETH":  3000,
			"USD":  1,
			"USDT": 1,
			"USDC": 1,
		},
		defaultPrice: 100,
	}
}

// NewStaticProviderWithTable returns a provider over a caller-supplied
// table. Unknown assets resolve to defaultPrice.
func NewStaticProviderWithTable(table map[string]float64, defaultPrice float64) *StaticProvider {
	return &StaticProvider{prices: table, defaultPrice: defaultPrice}
}

func (p *StaticProvider) Price(assetCode string) float64 {
	if price, ok := p.prices[assetCode]; ok {
		return price
	}
	return p.defaultPrice
}
