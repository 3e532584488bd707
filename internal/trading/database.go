package trading

import (
	"errors"
	"time"

	"github.com/meridianx/venue-api/internal/types"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrIdempotencyExpired = errors.New("idempotency record expired")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

// CreateOrderIdempotent creates the order and its idempotency record in
// one transaction so a crash between the two cannot leave a replayable
// key without an order.
func (d *Database) CreateOrderIdempotent(order *types.Order, record *IdempotencyRecord) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderForClient(clientID, orderID string) (*types.Order, error) {
	var order types.Order
	err := d.db.Where("order_id = ? AND client_id = ?", orderID, clientID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

func (d *Database) GetChildOrders(parentOrderID string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("parent_order_id = ?", parentOrderID).Order("id ASC").Find(&orders).Error
	return orders, err
}

// GetIdempotentOrder resolves an unexpired idempotency key to its
// original order.
func (d *Database) GetIdempotentOrder(clientID, key string) (*types.Order, error) {
	var record IdempotencyRecord
	err := d.db.Where("client_id = ? AND key = ?", clientID, key).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, ErrIdempotencyExpired
	}
	return d.GetOrder(record.OrderID)
}

func (d *Database) CreateExecution(execution *types.Execution) error {
	return d.db.Create(execution).Error
}

func (d *Database) GetExecutionForOrder(orderID string) (*types.Execution, error) {
	var execution types.Execution
	err := d.db.Preload("Fills").Where("order_id = ?", orderID).
		Order("id DESC").First(&execution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &execution, nil
}
