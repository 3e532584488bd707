package pool

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/meridianx/venue-api/pkg/response"
	"github.com/shopspring/decimal"
)

// GinHandlers contains the HTTP handlers for pool endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// handlePoolError maps pool sentinel errors to HTTP responses.
func handlePoolError(c *gin.Context, data interface{}, err error) {
	switch {
	case err == nil:
		response.Success(c, data)
	case errors.Is(err, ErrPoolNotFound), errors.Is(err, ErrPositionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrRatioDeviation),
		errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrPoolInactive),
		errors.Is(err, ErrUnknownCurrency):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrSlippageExceeded):
		response.Unprocessable(c, response.ErrCodeValidationFailed, err.Error())
	default:
		response.Handle(c, nil, err)
	}
}

type createPoolRequest struct {
	BaseCurrency  string  `json:"base_currency" binding:"required"`
	QuoteCurrency string  `json:"quote_currency" binding:"required"`
	FeeRateBps    float64 `json:"fee_rate_bps"`
	SpreadBps     float64 `json:"spread_bps"`
}

// CreatePoolHandler handles POST /pools.
func (h *GinHandlers) CreatePoolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPoolRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if req.FeeRateBps == 0 {
			req.FeeRateBps = 30
		}
		if req.SpreadBps == 0 {
			req.SpreadBps = 30
		}

		pool, err := h.service.CreatePool(req.BaseCurrency, req.QuoteCurrency, req.FeeRateBps, req.SpreadBps)
		handlePoolError(c, pool, err)
	}
}

// ListPoolsHandler handles GET /pools.
func (h *GinHandlers) ListPoolsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pools, err := h.service.ListActivePools()
		handlePoolError(c, pools, err)
	}
}

// GetPoolHandler handles GET /pools/:pool_id.
func (h *GinHandlers) GetPoolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pool, err := h.service.GetPool(c.Param("pool_id"))
		handlePoolError(c, pool, err)
	}
}

type addLiquidityRequest struct {
	BaseAmount  decimal.Decimal `json:"base_amount" binding:"required"`
	QuoteAmount decimal.Decimal `json:"quote_amount" binding:"required"`
	MinShares   decimal.Decimal `json:"min_shares"`
}

// AddLiquidityHandler handles POST /pools/:pool_id/liquidity.
func (h *GinHandlers) AddLiquidityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addLiquidityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		providerID := c.GetString("clientID")
		shares, err := h.service.AddLiquidity(c.Param("pool_id"), providerID,
			req.BaseAmount, req.QuoteAmount, req.MinShares)
		handlePoolError(c, gin.H{"shares_minted": shares}, err)
	}
}

type removeLiquidityRequest struct {
	Shares decimal.Decimal `json:"shares" binding:"required"`
}

// RemoveLiquidityHandler handles POST /pools/:pool_id/liquidity/remove.
func (h *GinHandlers) RemoveLiquidityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req removeLiquidityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		providerID := c.GetString("clientID")
		baseOut, quoteOut, err := h.service.RemoveLiquidity(c.Param("pool_id"), providerID, req.Shares)
		handlePoolError(c, gin.H{
			"base_amount":  baseOut,
			"quote_amount": quoteOut,
		}, err)
	}
}

// GetPositionHandler handles GET /pools/:pool_id/position for the
// calling provider.
func (h *GinHandlers) GetPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID := c.GetString("clientID")
		position, err := h.service.GetPosition(c.Param("pool_id"), providerID)
		handlePoolError(c, position, err)
	}
}

// ClaimRewardsHandler handles POST /pools/:pool_id/rewards/claim.
func (h *GinHandlers) ClaimRewardsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID := c.GetString("clientID")
		rewards, err := h.service.ClaimRewards(c.Param("pool_id"), providerID)
		handlePoolError(c, gin.H{"rewards": rewards}, err)
	}
}
