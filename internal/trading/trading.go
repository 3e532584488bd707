// Package trading owns the order lifecycle: placement with idempotency,
// routing, saga-backed execution, and status reads.
package trading

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meridianx/venue-api/internal/events"
	"github.com/meridianx/venue-api/internal/router"
	"github.com/meridianx/venue-api/internal/settlement"
	"github.com/meridianx/venue-api/internal/types"
	"github.com/meridianx/venue-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const idempotencyTTL = 24 * time.Hour

var (
	ErrInvalidSide     = errors.New("side must be BUY or SELL")
	ErrOrderNotPending = errors.New("order is not pending execution")
)

type Service struct {
	db     *Database
	bus    *events.Bus
	router *router.Router
	saga   *settlement.Saga
}

func NewService(gormDB *gorm.DB, bus *events.Bus) *Service {
	return &Service{db: NewDatabase(gormDB), bus: bus}
}

// BindExecution attaches the routing and settlement pipeline. Split from
// the constructor because the router needs this service as its order
// store before the pipeline exists.
func (s *Service) BindExecution(r *router.Router, saga *settlement.Saga) {
	s.router = r
	s.saga = saga
}

// PlaceOrder validates and persists a new order. A non-empty
// idempotencyKey replayed within its window returns the original order.
func (s *Service) PlaceOrder(clientID string, req PlaceOrderRequest, idempotencyKey string) (*types.Order, error) {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return nil, ErrInvalidSide
	}

	if idempotencyKey != "" {
		existing, err := s.db.GetIdempotentOrder(clientID, idempotencyKey)
		if err != nil && !errors.Is(err, ErrIdempotencyExpired) {
			return nil, err
		}
		if existing != nil {
			log.Debug().
				Str("client_id", clientID).
				Str("order_id", existing.OrderID).
				Msg("idempotent order replay")
			return existing, nil
		}
	}

	order := &types.Order{
		OrderID:       "ORD_" + uuid.New().String(),
		ClientID:      clientID,
		Side:          req.Side,
		BaseCurrency:  req.BaseCurrency,
		QuoteCurrency: req.QuoteCurrency,
		Amount:        req.Amount,
		LimitPrice:    req.LimitPrice,
		Status:        types.OrderStatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if idempotencyKey != "" {
		record := &IdempotencyRecord{
			ClientID:  clientID,
			Key:       idempotencyKey,
			OrderID:   order.OrderID,
			ExpiresAt: time.Now().Add(idempotencyTTL),
		}
		if err := s.db.CreateOrderIdempotent(order, record); err != nil {
			return nil, err
		}
	} else if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("client_id", clientID).
		Str("side", order.Side).
		Str("pair", order.Pair()).
		Float64("amount", order.Amount).
		Msg("order placed")

	s.publish(events.OrderPlaced{
		OrderID:       order.OrderID,
		ClientID:      clientID,
		Side:          order.Side,
		BaseCurrency:  order.BaseCurrency,
		QuoteCurrency: order.QuoteCurrency,
		Amount:        order.Amount,
		Timestamp:     time.Now(),
	})

	return order, nil
}

func (s *Service) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func (s *Service) GetOrder(clientID, orderID string) (*types.Order, error) {
	return s.db.GetOrderForClient(clientID, orderID)
}

func (s *Service) GetChildOrders(parentOrderID string) ([]types.Order, error) {
	return s.db.GetChildOrders(parentOrderID)
}

func (s *Service) GetExecution(orderID string) (*types.Execution, error) {
	return s.db.GetExecutionForOrder(orderID)
}

// ExecuteOrder routes a pending order and settles it against the
// counterparty through the saga. The saga result is returned even on
// settlement failure; the order status reflects the outcome.
func (s *Service) ExecuteOrder(orderID, counterpartyID string) (*settlement.Result, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != types.OrderStatusPending {
		return nil, fmt.Errorf("order %s in status %s: %w", orderID, order.Status, ErrOrderNotPending)
	}

	plan, err := s.router.Route(order)
	if err != nil {
		return nil, err
	}

	result := s.saga.Execute(order, plan, counterpartyID)
	if result.Execution != nil {
		if err := s.db.CreateExecution(result.Execution); err != nil {
			log.Error().Err(err).
				Str("order_id", orderID).
				Str("execution_id", result.Execution.ExecutionID).
				Msg("failed to persist execution")
		}
	}
	return result, nil
}

// UpdateOrderRouting records the chosen pool on a single-pool plan.
func (s *Service) UpdateOrderRouting(orderID, poolID string, estimatedPrice float64) error {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return err
	}
	order.PoolID = poolID
	order.RoutedPrice = estimatedPrice
	order.Status = types.OrderStatusRouted
	order.UpdatedAt = time.Now()
	return s.db.UpdateOrder(order)
}

// CreateChildOrder materializes one split allocation as a child order.
func (s *Service) CreateChildOrder(parent *types.Order, childOrderID, poolID string, amount, estimatedPrice float64) error {
	child := &types.Order{
		OrderID:       childOrderID,
		ParentOrderID: parent.OrderID,
		ClientID:      parent.ClientID,
		Side:          parent.Side,
		BaseCurrency:  parent.BaseCurrency,
		QuoteCurrency: parent.QuoteCurrency,
		Amount:        amount,
		PoolID:        poolID,
		RoutedPrice:   estimatedPrice,
		Status:        types.OrderStatusRouted,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	return s.db.CreateOrder(child)
}

func (s *Service) RejectOrder(orderID, reason string) error {
	return s.setStatus(orderID, types.OrderStatusRejected, reason)
}

func (s *Service) MarkCompleted(orderID string) error {
	return s.setStatus(orderID, types.OrderStatusCompleted, "")
}

func (s *Service) MarkCancelled(orderID string) error {
	return s.setStatus(orderID, types.OrderStatusCancelled, "")
}

func (s *Service) setStatus(orderID, status, reason string) error {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return err
	}
	order.Status = status
	order.RejectReason = reason
	order.UpdatedAt = time.Now()
	return s.db.UpdateOrder(order)
}

// GinHandlers contains the HTTP handlers for order endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// PlaceOrderHandler handles POST /orders. Supports the Idempotency-Key
// header for safe retries.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		clientID := c.GetString("clientID")
		order, err := h.service.PlaceOrder(clientID, req, c.GetHeader("Idempotency-Key"))
		if errors.Is(err, ErrInvalidSide) {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET /orders/:order_id, scoped to the caller.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		order, err := h.service.GetOrder(clientID, c.Param("order_id"))
		if errors.Is(err, ErrOrderNotFound) {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, order, err)
	}
}

// GetChildOrdersHandler handles GET /orders/:order_id/children.
func (h *GinHandlers) GetChildOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		// Scope check before exposing children.
		if _, err := h.service.GetOrder(clientID, c.Param("order_id")); err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.Handle(c, nil, err)
			return
		}
		children, err := h.service.GetChildOrders(c.Param("order_id"))
		response.Handle(c, children, err)
	}
}

type executeOrderRequest struct {
	CounterpartyID string `json:"counterparty_id" binding:"required"`
}

// ExecuteOrderHandler handles POST /internal/orders/:order_id/execute.
func (h *GinHandlers) ExecuteOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req executeOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		result, err := h.service.ExecuteOrder(c.Param("order_id"), req.CounterpartyID)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			response.NotFound(c, "Order not found")
		case errors.Is(err, ErrOrderNotPending):
			response.BadRequest(c, err.Error())
		case errors.Is(err, router.ErrNoEligiblePools):
			response.Unprocessable(c, response.ErrCodeNoLiquidity, err.Error())
		default:
			response.Handle(c, result, err)
		}
	}
}

// GetExecutionHandler handles GET /internal/orders/:order_id/execution.
func (h *GinHandlers) GetExecutionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		execution, err := h.service.GetExecution(c.Param("order_id"))
		if err == nil && execution == nil {
			response.NotFound(c, "No execution for order")
			return
		}
		response.Handle(c, execution, err)
	}
}
