package types

import (
	"time"

	"gorm.io/gorm"
)

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Execution statuses.
const (
	ExecutionStatusPending   = "PENDING"
	ExecutionStatusCompleted = "COMPLETED"
	ExecutionStatusPartial   = "PARTIAL"
	ExecutionStatusFailed    = "FAILED"
)

// Order lifecycle statuses.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusRouted    = "ROUTED"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

type Order struct {
	gorm.Model    `json:"-"`
	OrderID       string    `gorm:"uniqueIndex" json:"order_id"`
	ParentOrderID string    `gorm:"index" json:"parent_order_id,omitempty"`
	ClientID      string    `json:"client_id"`
	Side          string    `json:"side"` // BUY or SELL
	BaseCurrency  string    `json:"base_currency"`
	QuoteCurrency string    `json:"quote_currency"`
	Amount        float64   `json:"amount"` // in base currency units
	LimitPrice    float64   `json:"limit_price,omitempty"`
	PoolID        string    `json:"pool_id,omitempty"` // routing metadata
	RoutedPrice   float64   `json:"routed_price,omitempty"`
	Status        string    `json:"status"`
	RejectReason  string    `json:"reject_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Pair returns the trading pair in BASE/QUOTE notation.
func (o *Order) Pair() string {
	return o.BaseCurrency + "/" + o.QuoteCurrency
}

type PoolFill struct {
	gorm.Model  `json:"-"`
	FillID      string    `gorm:"uniqueIndex" json:"fill_id"`
	ExecutionID string    `gorm:"index" json:"execution_id"`
	PoolID      string    `json:"pool_id"`
	Price       float64   `json:"price"`
	Amount      float64   `json:"amount"` // in base currency units
	FeeRate     float64   `json:"fee_rate"`
	FeeAmount   float64   `json:"fee_amount"`
	PriceImpact float64   `json:"price_impact"`
	CreatedAt   time.Time `json:"created_at"`
}

type Execution struct {
	gorm.Model   `json:"-"`
	ExecutionID  string     `gorm:"uniqueIndex" json:"execution_id"`
	OrderID      string     `gorm:"index" json:"order_id"`
	TotalAmount  float64    `json:"total_amount"`
	AveragePrice float64    `json:"average_price"`
	Side         string     `json:"side"`
	Status       string     `json:"status"` // PENDING, COMPLETED, FAILED
	Fills        []PoolFill `json:"fills,omitempty" gorm:"foreignKey:ExecutionID;references:ExecutionID"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
