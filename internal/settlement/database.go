package settlement

import (
	"errors"

	"gorm.io/gorm"
)

var ErrSagaNotFound = errors.New("saga not found")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateSaga(saga *SagaExecution) error {
	return d.db.Create(saga).Error
}

func (d *Database) SaveSaga(saga *SagaExecution) error {
	return d.db.Save(saga).Error
}

func (d *Database) GetSaga(sagaID string) (*SagaExecution, error) {
	var saga SagaExecution
	if err := d.db.Where("saga_id = ?", sagaID).First(&saga).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}
	return &saga, nil
}

// ListUnfinished returns sagas a previous process left mid-flight.
func (d *Database) ListUnfinished() ([]SagaExecution, error) {
	var sagas []SagaExecution
	err := d.db.
		Where("state IN ?", []string{SagaStateRunning, SagaStateCompensating}).
		Order("id ASC").
		Find(&sagas).Error
	return sagas, err
}
