// Package router computes execution plans for placed orders, choosing
// between a single pool and a split across several pools based on a
// price-impact cost model.
package router

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/meridianx/venue-api/internal/events"
	"github.com/meridianx/venue-api/internal/pool"
	"github.com/meridianx/venue-api/internal/pricing"
	"github.com/meridianx/venue-api/internal/types"
	"github.com/rs/zerolog/log"
)

const (
	// Pools below this reference-currency liquidity are not candidates.
	minPoolLiquidityUSD = 1000.0
	// Impact ceiling used to derive the largest order a pool can absorb.
	maxPriceImpact = 0.05
	// At most this many pools are considered per plan.
	maxRoutes = 5
	// A single pool absorbing the full size below this impact wins
	// outright, no split analysis.
	noSplitImpact = 0.02
	// A split must beat the single-pool cost by this margin.
	splitAdvantage = 0.01
	// Each allocation is capped at this share of the pool's max size.
	allocationCap = 0.80
	// Allocations worth less than this in reference currency are skipped.
	minSplitChunkUSD = 100.0
)

var ErrNoEligiblePools = errors.New("no pools with sufficient liquidity for pair")

// Allocation is one leg of a routing plan.
type Allocation struct {
	PoolID         string  `json:"pool_id"`
	ChildOrderID   string  `json:"child_order_id,omitempty"`
	Amount         float64 `json:"amount"`
	EstimatedPrice float64 `json:"estimated_price"`
	FeeTier        float64 `json:"fee_tier"`
}

// Plan is the routing decision for one order. TotalAllocated may fall
// short of the requested amount when liquidity runs out mid-split.
type Plan struct {
	OrderID        string       `json:"order_id"`
	SplitRequired  bool         `json:"split_required"`
	Allocations    []Allocation `json:"allocations"`
	TotalAllocated float64      `json:"total_allocated"`
}

// OrderStore is the order-side surface the router mutates: routing
// metadata on single-pool plans, child orders on splits, rejection on
// permanent failure. Implemented by the trading service.
type OrderStore interface {
	UpdateOrderRouting(orderID, poolID string, estimatedPrice float64) error
	CreateChildOrder(parent *types.Order, childOrderID, poolID string, amount, estimatedPrice float64) error
	RejectOrder(orderID, reason string) error
}

// candidate carries the per-pool cost model outputs used for ranking.
type candidate struct {
	pool           pool.Pool
	spotPrice      float64
	priceImpact    float64
	feeTier        float64
	effectivePrice float64
	maxOrderSize   float64
	liquidityUSD   float64
}

type Router struct {
	pools  *pool.Service
	prices pricing.Provider
	orders OrderStore
	bus    *events.Bus
}

func NewRouter(pools *pool.Service, prices pricing.Provider, orders OrderStore, bus *events.Bus) *Router {
	return &Router{pools: pools, prices: prices, orders: orders, bus: bus}
}

// Route computes and records the execution plan for the order. A pair
// with no eligible pool is a permanent condition: the order is rejected
// and RoutingFailed emitted, no retry.
func (r *Router) Route(order *types.Order) (*Plan, error) {
	logger := log.With().Str("order_id", order.OrderID).Str("pair", order.Pair()).Logger()

	candidates, err := r.rankCandidates(order)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		reason := fmt.Sprintf("no pools with sufficient liquidity for %s", order.Pair())
		logger.Warn().Msg("routing failed, rejecting order")
		if err := r.orders.RejectOrder(order.OrderID, reason); err != nil {
			logger.Error().Err(err).Msg("failed to reject unroutable order")
		}
		r.publish(events.RoutingFailed{
			OrderID:   order.OrderID,
			Reason:    reason,
			Timestamp: time.Now(),
		})
		return nil, ErrNoEligiblePools
	}

	// The absorb check only decides single vs split; execution always
	// goes to the best-ranked pool, whose effective price already folds
	// in impact and fees.
	if absorbsWithoutSplit(candidates, order.Amount) {
		return r.routeSingle(order, candidates[0])
	}
	if len(candidates) < 2 {
		return r.routeSingle(order, candidates[0])
	}

	// Split cost may cover only a partial fill; a cheap partial beats an
	// expensive full-size hit on one pool.
	singleCost := order.Amount * candidates[0].effectivePrice
	splitCost := estimateSplitCost(candidates, order.Amount)
	if splitCost >= singleCost*(1-splitAdvantage) {
		return r.routeSingle(order, candidates[0])
	}

	return r.routeSplit(order, candidates)
}

func (r *Router) rankCandidates(order *types.Order) ([]candidate, error) {
	pools, err := r.pools.GetPoolsForPair(order.BaseCurrency, order.QuoteCurrency)
	if err != nil {
		return nil, err
	}

	basePrice := r.prices.Price(order.BaseCurrency)
	quotePrice := r.prices.Price(order.QuoteCurrency)
	orderValueUSD := order.Amount * basePrice

	candidates := make([]candidate, 0, len(pools))
	for _, p := range pools {
		if !p.IsActive {
			continue
		}
		liquidityUSD := p.BaseReserve.InexactFloat64()*basePrice +
			p.QuoteReserve.InexactFloat64()*quotePrice
		if liquidityUSD < minPoolLiquidityUSD {
			continue
		}
		spot, ok := p.SpotPrice()
		if !ok {
			continue
		}

		impact := orderValueUSD / liquidityUSD
		impact = math.Min(1, impact*impact*2)
		fee := p.FeeRateBps / 10000.0

		spotPrice := spot.InexactFloat64()
		var effective float64
		if order.Side == types.SideBuy {
			effective = spotPrice * (1 + impact) * (1 + fee)
		} else {
			effective = spotPrice * (1 - impact) * (1 - fee)
		}

		candidates = append(candidates, candidate{
			pool:           p,
			spotPrice:      spotPrice,
			priceImpact:    impact,
			feeTier:        fee,
			effectivePrice: effective,
			maxOrderSize:   math.Sqrt(maxPriceImpact/2) * liquidityUSD / basePrice,
			liquidityUSD:   liquidityUSD,
		})
	}

	// Buys want the lowest effective price, sells the highest.
	sort.SliceStable(candidates, func(i, j int) bool {
		if order.Side == types.SideBuy {
			return candidates[i].effectivePrice < candidates[j].effectivePrice
		}
		return candidates[i].effectivePrice > candidates[j].effectivePrice
	})
	if len(candidates) > maxRoutes {
		candidates = candidates[:maxRoutes]
	}
	return candidates, nil
}

// absorbsWithoutSplit reports whether any ranked pool takes the full
// order below the no-split impact threshold.
func absorbsWithoutSplit(candidates []candidate, amount float64) bool {
	for _, c := range candidates {
		if c.maxOrderSize >= amount && c.priceImpact < noSplitImpact {
			return true
		}
	}
	return false
}

// estimateSplitCost greedily fills ranked pools up to the allocation cap
// and prices each leg at that pool's effective price.
func estimateSplitCost(candidates []candidate, amount float64) float64 {
	remaining := amount
	cost := 0.0
	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		alloc := math.Min(remaining, c.maxOrderSize*allocationCap)
		if alloc <= 0 {
			continue
		}
		cost += alloc * c.effectivePrice
		remaining -= alloc
	}
	return cost
}

func (r *Router) routeSingle(order *types.Order, c candidate) (*Plan, error) {
	if err := r.orders.UpdateOrderRouting(order.OrderID, c.pool.PoolID, c.effectivePrice); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("pool_id", c.pool.PoolID).
		Float64("estimated_price", c.effectivePrice).
		Float64("price_impact", c.priceImpact).
		Msg("order routed to single pool")

	r.publish(events.OrderRouted{
		OrderID:        order.OrderID,
		PoolID:         c.pool.PoolID,
		Amount:         order.Amount,
		EstimatedPrice: c.effectivePrice,
		FeeTier:        c.feeTier,
		Timestamp:      time.Now(),
	})

	return &Plan{
		OrderID:       order.OrderID,
		SplitRequired: false,
		Allocations: []Allocation{{
			PoolID:         c.pool.PoolID,
			Amount:         order.Amount,
			EstimatedPrice: c.effectivePrice,
			FeeTier:        c.feeTier,
		}},
		TotalAllocated: order.Amount,
	}, nil
}

func (r *Router) routeSplit(order *types.Order, candidates []candidate) (*Plan, error) {
	basePrice := r.prices.Price(order.BaseCurrency)

	plan := &Plan{OrderID: order.OrderID, SplitRequired: true}
	remaining := order.Amount
	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		alloc := math.Min(remaining, c.maxOrderSize*allocationCap)
		if alloc*basePrice < minSplitChunkUSD {
			continue
		}

		childOrderID := fmt.Sprintf("%s-%d", order.OrderID, len(plan.Allocations)+1)
		if err := r.orders.CreateChildOrder(order, childOrderID, c.pool.PoolID, alloc, c.effectivePrice); err != nil {
			return nil, err
		}

		plan.Allocations = append(plan.Allocations, Allocation{
			PoolID:         c.pool.PoolID,
			ChildOrderID:   childOrderID,
			Amount:         alloc,
			EstimatedPrice: c.effectivePrice,
			FeeTier:        c.feeTier,
		})
		plan.TotalAllocated += alloc
		remaining -= alloc
	}

	log.Info().
		Str("order_id", order.OrderID).
		Int("routes", len(plan.Allocations)).
		Float64("total_allocated", plan.TotalAllocated).
		Float64("requested", order.Amount).
		Msg("order split across pools")

	splits := make([]events.OrderSplitAllocation, 0, len(plan.Allocations))
	for _, a := range plan.Allocations {
		splits = append(splits, events.OrderSplitAllocation{
			PoolID:         a.PoolID,
			ChildOrderID:   a.ChildOrderID,
			Amount:         a.Amount,
			EstimatedPrice: a.EstimatedPrice,
			FeeTier:        a.FeeTier,
		})
	}
	r.publish(events.OrderSplit{
		OrderID:     order.OrderID,
		Splits:      splits,
		TotalAmount: plan.TotalAllocated,
		Timestamp:   time.Now(),
	})

	return plan, nil
}

func (r *Router) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}
