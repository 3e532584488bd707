package trading

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord ties a client-supplied idempotency key to the order
// it created. Replays within the expiry window return the original
// order instead of creating a new one.
type IdempotencyRecord struct {
	gorm.Model `json:"-"`
	ClientID   string    `gorm:"index:idx_idempotency,unique" json:"client_id"`
	Key        string    `gorm:"index:idx_idempotency,unique" json:"key"`
	OrderID    string    `json:"order_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// PlaceOrderRequest is the order-placement payload.
type PlaceOrderRequest struct {
	Side          string  `json:"side" binding:"required"`
	BaseCurrency  string  `json:"base_currency" binding:"required"`
	QuoteCurrency string  `json:"quote_currency" binding:"required"`
	Amount        float64 `json:"amount" binding:"required,gt=0"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
}
