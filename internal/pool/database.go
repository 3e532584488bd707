package pool

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreatePool(pool *Pool) error {
	return d.db.Create(pool).Error
}

func (d *Database) GetPool(poolID string) (*Pool, error) {
	var pool Pool
	if err := d.db.Where("pool_id = ?", poolID).First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return &pool, nil
}

func (d *Database) UpdatePool(pool *Pool) error {
	return d.db.Save(pool).Error
}

func (d *Database) GetPoolsForPair(baseCurrency, quoteCurrency string) ([]Pool, error) {
	var pools []Pool
	if err := d.db.
		Where("base_currency = ? AND quote_currency = ?", baseCurrency, quoteCurrency).
		Find(&pools).Error; err != nil {
		return nil, err
	}
	return pools, nil
}

func (d *Database) ListActivePools() ([]Pool, error) {
	var pools []Pool
	if err := d.db.Where("is_active = ?", true).Find(&pools).Error; err != nil {
		return nil, err
	}
	return pools, nil
}

func (d *Database) GetPosition(poolID, providerID string) (*ProviderPosition, error) {
	var position ProviderPosition
	if err := d.db.
		Where("pool_id = ? AND provider_id = ?", poolID, providerID).
		First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return &position, nil
}

func (d *Database) SavePosition(position *ProviderPosition) error {
	return d.db.Save(position).Error
}

func (d *Database) DeletePosition(position *ProviderPosition) error {
	return d.db.Unscoped().Delete(position).Error
}

func (d *Database) ListPositions(poolID string) ([]ProviderPosition, error) {
	var positions []ProviderPosition
	if err := d.db.Where("pool_id = ?", poolID).Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (d *Database) ListProviderPositions(providerID string) ([]ProviderPosition, error) {
	var positions []ProviderPosition
	if err := d.db.Where("provider_id = ?", providerID).Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// savePoolAndPosition persists a pool mutation and the affected position
// in one transaction so reserve and share accounting cannot diverge.
func (d *Database) savePoolAndPosition(pool *Pool, position *ProviderPosition, deletePosition bool) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Save(pool).Error; err != nil {
		tx.Rollback()
		return err
	}

	if position != nil {
		var err error
		if deletePosition {
			err = tx.Unscoped().Delete(position).Error
		} else {
			err = tx.Save(position).Error
		}
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit().Error
}
