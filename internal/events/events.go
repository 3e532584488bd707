package events

import "time"

// Name identifies an event type on the bus.
type Name string

const (
	OrderPlacedName                Name = "order_placed"
	OrderRoutedName                Name = "order_routed"
	OrderSplitName                 Name = "order_split"
	RoutingFailedName              Name = "routing_failed"
	LiquidityAddedName             Name = "liquidity_added"
	LiquidityRemovedName           Name = "liquidity_removed"
	OrderExecutedName              Name = "order_executed"
	MarketVolatilityChangedName    Name = "market_volatility_changed"
	SpreadAdjustedName             Name = "spread_adjusted"
	SpreadRecalculationDueName     Name = "spread_recalculation_due"
	InventoryImbalanceDetectedName Name = "inventory_imbalance_detected"
)

// Event is a venue signal. Key returns the ordering key: events sharing
// a key are delivered to handlers in emission order.
type Event interface {
	EventName() Name
	Key() string
}

type OrderPlaced struct {
	OrderID       string    `json:"order_id"`
	ClientID      string    `json:"client_id"`
	Side          string    `json:"side"`
	BaseCurrency  string    `json:"base_currency"`
	QuoteCurrency string    `json:"quote_currency"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e OrderPlaced) EventName() Name { return OrderPlacedName }
func (e OrderPlaced) Key() string { return e.OrderID }

type OrderRouted struct {
	OrderID        string    `json:"order_id"`
	PoolID         string    `json:"pool_id"`
	Amount         float64   `json:"amount"`
	EstimatedPrice float64   `json:"estimated_price"`
	FeeTier        float64   `json:"fee_tier"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e OrderRouted) EventName() Name { return OrderRoutedName }
func (e OrderRouted) Key() string { return e.PoolID }

type OrderSplitAllocation struct {
	PoolID         string  `json:"pool_id"`
	ChildOrderID   string  `json:"child_order_id"`
	Amount         float64 `json:"amount"`
	EstimatedPrice float64 `json:"estimated_price"`
	FeeTier        float64 `json:"fee_tier"`
}

type OrderSplit struct {
	OrderID     string                 `json:"order_id"`
	Splits      []OrderSplitAllocation `json:"splits"`
	TotalAmount float64                `json:"total_amount"`
	Timestamp   time.Time              `json:"timestamp"`
}

func (e OrderSplit) EventName() Name { return OrderSplitName }
func (e OrderSplit) Key() string { return e.OrderID }

type RoutingFailed struct {
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e RoutingFailed) EventName() Name { return RoutingFailedName }
func (e RoutingFailed) Key() string { return e.OrderID }

type LiquidityAdded struct {
	PoolID       string    `json:"pool_id"`
	ProviderID   string    `json:"provider_id"`
	BaseAmount   string    `json:"base_amount"`
	QuoteAmount  string    `json:"quote_amount"`
	SharesMinted string    `json:"shares_minted"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e LiquidityAdded) EventName() Name { return LiquidityAddedName }
func (e LiquidityAdded) Key() string { return e.PoolID }

type LiquidityRemoved struct {
	PoolID       string    `json:"pool_id"`
	ProviderID   string    `json:"provider_id"`
	SharesBurned string    `json:"shares_burned"`
	BaseAmount   string    `json:"base_amount"`
	QuoteAmount  string    `json:"quote_amount"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e LiquidityRemoved) EventName() Name { return LiquidityRemovedName }
func (e LiquidityRemoved) Key() string { return e.PoolID }

type OrderExecuted struct {
	OrderID       string    `json:"order_id"`
	PoolID        string    `json:"pool_id"`
	BaseCurrency  string    `json:"base_currency"`
	QuoteCurrency string    `json:"quote_currency"`
	Amount        float64   `json:"amount"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e OrderExecuted) EventName() Name { return OrderExecutedName }
func (e OrderExecuted) Key() string { return e.PoolID }

type MarketVolatilityChanged struct {
	AssetCode  string    `json:"asset_code"`
	Volatility float64   `json:"volatility"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e MarketVolatilityChanged) EventName() Name { return MarketVolatilityChangedName }
func (e MarketVolatilityChanged) Key() string { return e.AssetCode }

type SpreadAdjusted struct {
	PoolID    string    `json:"pool_id"`
	OldSpread float64   `json:"old_spread"`
	NewSpread float64   `json:"new_spread"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e SpreadAdjusted) EventName() Name { return SpreadAdjustedName }
func (e SpreadAdjusted) Key() string { return e.PoolID }

// SpreadRecalculationDue re-keys a cross-pool signal (such as a market
// volatility change) onto one pool's ordered queue, so every spread
// recalculation for that pool runs on the same worker.
type SpreadRecalculationDue struct {
	PoolID    string    `json:"pool_id"`
	Trigger   string    `json:"trigger"`
	Timestamp time.Time `json:"timestamp"`
}

func (e SpreadRecalculationDue) EventName() Name { return SpreadRecalculationDueName }
func (e SpreadRecalculationDue) Key() string { return e.PoolID }

// Imbalance severities carried by InventoryImbalanceDetected.
const (
	SeverityModerate = "moderate"
	SeverityCritical = "critical"
)

type InventoryImbalanceDetected struct {
	PoolID            string    `json:"pool_id"`
	BaseCurrencyRatio float64   `json:"base_currency_ratio"`
	Severity          string    `json:"severity"`
	RecommendedAction string    `json:"recommended_action"`
	Timestamp         time.Time `json:"timestamp"`
}

func (e InventoryImbalanceDetected) EventName() Name { return InventoryImbalanceDetectedName }
func (e InventoryImbalanceDetected) Key() string { return e.PoolID }
