// Package matching executes routing plans against liquidity pools,
// turning plan allocations into swaps and collecting fills.
package matching

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meridianx/venue-api/internal/events"
	"github.com/meridianx/venue-api/internal/pool"
	"github.com/meridianx/venue-api/internal/router"
	"github.com/meridianx/venue-api/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrNoFills = errors.New("no allocation could be filled")

type Engine struct {
	pools *pool.Service
	bus   *events.Bus
}

func NewEngine(pools *pool.Service, bus *events.Bus) *Engine {
	return &Engine{pools: pools, bus: bus}
}

// ExecutePlan runs every allocation in the plan as a pool swap. A
// failing allocation is skipped so the remaining legs still fill; the
// execution reports partial status when any leg was lost. Fails with
// ErrNoFills when nothing filled at all.
func (e *Engine) ExecutePlan(order *types.Order, plan *router.Plan) (*types.Execution, error) {
	executionID := "EXEC_" + uuid.New().String()
	logger := log.With().Str("order_id", order.OrderID).Str("execution_id", executionID).Logger()

	execution := &types.Execution{
		ExecutionID: executionID,
		OrderID:     order.OrderID,
		Side:        order.Side,
		CreatedAt:   time.Now(),
	}

	var failed int
	for _, alloc := range plan.Allocations {
		fill, err := e.executeAllocation(order, alloc, executionID)
		if err != nil {
			failed++
			logger.Warn().Err(err).
				Str("pool_id", alloc.PoolID).
				Float64("amount", alloc.Amount).
				Msg("allocation failed, trying remaining legs")
			continue
		}
		execution.Fills = append(execution.Fills, *fill)
	}

	if len(execution.Fills) == 0 {
		return nil, fmt.Errorf("executing plan for order %s: %w", order.OrderID, ErrNoFills)
	}

	totalAmount := 0.0
	totalValue := 0.0
	for _, f := range execution.Fills {
		totalAmount += f.Amount
		totalValue += f.Amount * f.Price
	}
	execution.TotalAmount = totalAmount
	execution.AveragePrice = totalValue / totalAmount
	execution.Status = types.ExecutionStatusCompleted
	if failed > 0 || totalAmount < plan.TotalAllocated {
		execution.Status = types.ExecutionStatusPartial
	}

	logger.Info().
		Int("fills", len(execution.Fills)).
		Float64("total_amount", execution.TotalAmount).
		Float64("average_price", execution.AveragePrice).
		Str("status", execution.Status).
		Msg("plan executed")

	return execution, nil
}

// executeAllocation performs one swap. Buys spend quote to receive the
// allocated base amount; sells spend the allocated base for quote.
func (e *Engine) executeAllocation(order *types.Order, alloc router.Allocation, executionID string) (*types.PoolFill, error) {
	p, err := e.pools.GetPool(alloc.PoolID)
	if err != nil {
		return nil, err
	}

	var inputCurrency string
	var inputAmount decimal.Decimal
	if order.Side == types.SideBuy {
		inputCurrency = order.QuoteCurrency
		inputAmount = decimal.NewFromFloat(alloc.Amount * alloc.EstimatedPrice)
	} else {
		inputCurrency = order.BaseCurrency
		inputAmount = decimal.NewFromFloat(alloc.Amount)
	}

	result, err := e.pools.ExecuteSwap(alloc.PoolID, inputCurrency, inputAmount, decimal.Zero)
	if err != nil {
		return nil, err
	}

	var baseAmount, price float64
	if order.Side == types.SideBuy {
		baseAmount = result.OutputAmount.InexactFloat64()
		price = inputAmount.InexactFloat64() / baseAmount
	} else {
		baseAmount = alloc.Amount
		price = result.OutputAmount.InexactFloat64() / baseAmount
	}

	e.publish(events.OrderExecuted{
		OrderID:       order.OrderID,
		PoolID:        alloc.PoolID,
		BaseCurrency:  order.BaseCurrency,
		QuoteCurrency: order.QuoteCurrency,
		Amount:        baseAmount,
		Price:         price,
		Timestamp:     time.Now(),
	})

	return &types.PoolFill{
		FillID:      "FILL_" + uuid.New().String(),
		ExecutionID: executionID,
		PoolID:      alloc.PoolID,
		Price:       price,
		Amount:      baseAmount,
		FeeRate:     p.FeeRateBps / 10000.0,
		FeeAmount:   result.FeeAmount.InexactFloat64(),
		PriceImpact: result.PriceImpact.InexactFloat64(),
	}, nil
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
