// Package settlement drives the multi-step order settlement saga. Each
// step commits against an external collaborator and registers a
// serializable compensation; a failing step unwinds the committed steps
// in reverse order.
package settlement

import (
	"github.com/google/uuid"
	"github.com/meridianx/venue-api/internal/router"
	"github.com/meridianx/venue-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger is the fund-movement collaborator.
type Ledger interface {
	Deposit(accountID, currency string, amount decimal.Decimal, reference string) error
	Withdraw(accountID, currency string, amount decimal.Decimal, reference string) error
	Transfer(fromAccountID, toAccountID, currency string, amount decimal.Decimal, reference string) error
}

// OrderService is the order-status collaborator.
type OrderService interface {
	MarkCompleted(orderID string) error
	MarkCancelled(orderID string) error
}

// Matcher executes the routing plan against the venue's pools.
type Matcher interface {
	ExecutePlan(order *types.Order, plan *router.Plan) (*types.Execution, error)
}

// Result is the saga outcome. Exactly one of CompletedSteps (success)
// or CompensatedSteps (failure) is populated.
type Result struct {
	SagaID           string           `json:"saga_id"`
	Success          bool             `json:"success"`
	CompletedSteps   []string         `json:"completed_steps,omitempty"`
	CompensatedSteps []string         `json:"compensated_steps,omitempty"`
	Execution        *types.Execution `json:"execution,omitempty"`
	Error            string           `json:"error,omitempty"`
}

type Saga struct {
	db      *Database
	ledger  Ledger
	orders  OrderService
	matcher Matcher
}

func NewSaga(gormDB *gorm.DB, ledger Ledger, orders OrderService, matcher Matcher) *Saga {
	return &Saga{
		db:      NewDatabase(gormDB),
		ledger:  ledger,
		orders:  orders,
		matcher: matcher,
	}
}

// step is one saga step: a forward action plus the compensation
// registered once the action commits.
type step struct {
	kind         StepKind
	run          func() error
	compensation *Compensation
}

// Execute settles the order against the plan. counterpartyID is the
// account on the other side of the trade. The saga persists its cursor
// and compensation stack after every committed step; on a step failure
// it unwinds in strict reverse order, best-effort.
func (s *Saga) Execute(order *types.Order, plan *router.Plan, counterpartyID string) *Result {
	sagaID := "SAGA_" + uuid.New().String()
	logger := log.With().Str("saga_id", sagaID).Str("order_id", order.OrderID).Logger()

	buyer, seller := order.ClientID, counterpartyID
	if order.Side == types.SideSell {
		buyer, seller = counterpartyID, order.ClientID
	}

	quoteAmount := decimal.NewFromFloat(planCost(order, plan))
	baseAmount := decimal.NewFromFloat(order.Amount)

	record := &SagaExecution{
		SagaID:  sagaID,
		OrderID: order.OrderID,
		State:   SagaStateRunning,
	}
	if err := s.db.CreateSaga(record); err != nil {
		logger.Error().Err(err).Msg("failed to create saga record")
		return &Result{SagaID: sagaID, Success: false, Error: err.Error()}
	}

	result := &Result{SagaID: sagaID}

	steps := []step{
		{
			kind: StepLockBuyerFunds,
			run: func() error {
				return s.ledger.Withdraw(buyer, order.QuoteCurrency, quoteAmount, sagaID)
			},
			compensation: &Compensation{
				Step:      StepLockBuyerFunds,
				ToAccount: buyer,
				Currency:  order.QuoteCurrency,
				Amount:    quoteAmount.String(),
			},
		},
		{
			kind: StepMatchOrder,
			run: func() error {
				execution, err := s.matcher.ExecutePlan(order, plan)
				if err != nil {
					return err
				}
				result.Execution = execution
				return nil
			},
			compensation: &Compensation{
				Step:    StepMatchOrder,
				OrderID: order.OrderID,
			},
		},
		{
			kind: StepTransferAssets,
			run: func() error {
				return s.ledger.Transfer(seller, buyer, order.BaseCurrency, baseAmount, sagaID)
			},
			compensation: &Compensation{
				Step:        StepTransferAssets,
				FromAccount: buyer,
				ToAccount:   seller,
				Currency:    order.BaseCurrency,
				Amount:      baseAmount.String(),
			},
		},
		{
			kind: StepTransferPayment,
			run: func() error {
				return s.ledger.Transfer(buyer, seller, order.QuoteCurrency, quoteAmount, sagaID)
			},
			compensation: &Compensation{
				Step:        StepTransferPayment,
				FromAccount: seller,
				ToAccount:   buyer,
				Currency:    order.QuoteCurrency,
				Amount:      quoteAmount.String(),
			},
		},
		{
			kind: StepUpdateOrderStatus,
			run: func() error {
				return s.orders.MarkCompleted(order.OrderID)
			},
		},
	}

	var completed []string
	var stack []Compensation

	for i, st := range steps {
		logger.Debug().Str("step", st.kind.String()).Msg("executing saga step")
		if err := st.run(); err != nil {
			logger.Warn().Err(err).Str("step", st.kind.String()).Msg("saga step failed, compensating")
			record.LastError = err.Error()
			result.Error = err.Error()
			result.CompensatedSteps = s.unwind(record, stack, logger)
			result.Success = false
			return result
		}

		completed = append(completed, st.kind.String())
		if st.compensation != nil {
			stack = append(stack, *st.compensation)
		}

		record.StepCursor = i + 1
		if err := record.SetCompletedSteps(completed); err != nil {
			logger.Error().Err(err).Msg("failed to encode completed steps")
		}
		if err := record.SetCompensationStack(stack); err != nil {
			logger.Error().Err(err).Msg("failed to encode compensation stack")
		}
		if err := s.db.SaveSaga(record); err != nil {
			logger.Error().Err(err).Msg("failed to persist saga progress")
		}
	}

	record.State = SagaStateCompleted
	if err := s.db.SaveSaga(record); err != nil {
		logger.Error().Err(err).Msg("failed to persist saga completion")
	}

	logger.Info().Strs("completed_steps", completed).Msg("saga completed")

	result.Success = true
	result.CompletedSteps = completed
	return result
}

// unwind runs the compensation stack in reverse-of-commit order. A
// failing compensation is logged and skipped; the remaining ones still
// run.
func (s *Saga) unwind(record *SagaExecution, stack []Compensation, logger zerolog.Logger) []string {
	record.State = SagaStateCompensating
	if err := s.db.SaveSaga(record); err != nil {
		logger.Error().Err(err).Msg("failed to persist compensating state")
	}

	compensated := make([]string, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		comp := stack[i]
		if err := s.compensate(comp, record.SagaID); err != nil {
			logger.Error().Err(err).
				Str("step", comp.Step.String()).
				Msg("compensation failed, continuing unwind")
			continue
		}
		compensated = append(compensated, comp.Step.String())
	}

	record.State = SagaStateCompensated
	if err := s.db.SaveSaga(record); err != nil {
		logger.Error().Err(err).Msg("failed to persist compensated state")
	}

	logger.Info().Strs("compensated_steps", compensated).Msg("saga unwound")
	return compensated
}

func (s *Saga) compensate(comp Compensation, reference string) error {
	switch comp.Step {
	case StepLockBuyerFunds:
		amount, err := decimal.NewFromString(comp.Amount)
		if err != nil {
			return err
		}
		return s.ledger.Deposit(comp.ToAccount, comp.Currency, amount, reference)
	case StepMatchOrder:
		return s.orders.MarkCancelled(comp.OrderID)
	case StepTransferAssets, StepTransferPayment:
		amount, err := decimal.NewFromString(comp.Amount)
		if err != nil {
			return err
		}
		return s.ledger.Transfer(comp.FromAccount, comp.ToAccount, comp.Currency, amount, reference)
	default:
		return nil
	}
}

// RecoverPending unwinds sagas a previous process left Running or
// Compensating. Called once on startup before new orders are accepted.
func (s *Saga) RecoverPending() error {
	pending, err := s.db.ListUnfinished()
	if err != nil {
		return err
	}

	for i := range pending {
		record := &pending[i]
		logger := log.With().
			Str("saga_id", record.SagaID).
			Str("order_id", record.OrderID).
			Str("state", record.State).
			Logger()

		stack, err := record.CompensationStack()
		if err != nil {
			logger.Error().Err(err).Msg("failed to decode compensation stack, skipping")
			continue
		}

		logger.Warn().Int("steps_to_unwind", len(stack)).Msg("recovering interrupted saga")
		if record.LastError == "" {
			record.LastError = "interrupted by process restart"
		}
		s.unwind(record, stack, logger)
	}
	return nil
}

// GetSaga exposes the durable record, mainly for inspection endpoints.
func (s *Saga) GetSaga(sagaID string) (*SagaExecution, error) {
	return s.db.GetSaga(sagaID)
}

// planCost is the quote-currency value of the plan's allocations, or
// the order's routed price when the plan carries no allocations.
func planCost(order *types.Order, plan *router.Plan) float64 {
	if plan == nil || len(plan.Allocations) == 0 {
		return order.Amount * order.RoutedPrice
	}
	cost := 0.0
	for _, a := range plan.Allocations {
		cost += a.Amount * a.EstimatedPrice
	}
	return cost
}
