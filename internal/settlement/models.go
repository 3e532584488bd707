package settlement

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StepKind enumerates the saga's closed set of steps.
type StepKind int

const (
	StepLockBuyerFunds StepKind = iota
	StepMatchOrder
	StepTransferAssets
	StepTransferPayment
	StepUpdateOrderStatus
)

func (k StepKind) String() string {
	switch k {
	case StepLockBuyerFunds:
		return "lock_buyer_funds"
	case StepMatchOrder:
		return "match_order"
	case StepTransferAssets:
		return "transfer_assets"
	case StepTransferPayment:
		return "transfer_payment"
	case StepUpdateOrderStatus:
		return "update_order_status"
	default:
		return "unknown"
	}
}

// Saga states.
const (
	SagaStateRunning      = "RUNNING"
	SagaStateCompleted    = "COMPLETED"
	SagaStateCompensating = "COMPENSATING"
	SagaStateCompensated  = "COMPENSATED"
)

// Compensation is a serializable reversal descriptor for one committed
// step. It carries plain parameters rather than a closure so an unwind
// can run after a process restart.
type Compensation struct {
	Step        StepKind `json:"step"`
	FromAccount string   `json:"from_account,omitempty"`
	ToAccount   string   `json:"to_account,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Amount      string   `json:"amount,omitempty"`
	OrderID     string   `json:"order_id,omitempty"`
}

// SagaExecution is the durable progress record for one saga run. The
// step cursor and compensation stack are persisted after every step
// commit so a restart can resume or unwind.
type SagaExecution struct {
	gorm.Model     `json:"-"`
	SagaID         string         `gorm:"uniqueIndex" json:"saga_id"`
	OrderID        string         `gorm:"index" json:"order_id"`
	State          string         `gorm:"index" json:"state"`
	StepCursor     int            `json:"step_cursor"`
	CompletedSteps datatypes.JSON `json:"completed_steps,omitempty"`
	Compensations  datatypes.JSON `json:"compensations,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (s *SagaExecution) CompletedStepNames() ([]string, error) {
	if len(s.CompletedSteps) == 0 {
		return nil, nil
	}
	var steps []string
	if err := json.Unmarshal(s.CompletedSteps, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (s *SagaExecution) SetCompletedSteps(steps []string) error {
	encoded, err := json.Marshal(steps)
	if err != nil {
		return err
	}
	s.CompletedSteps = datatypes.JSON(encoded)
	return nil
}

func (s *SagaExecution) CompensationStack() ([]Compensation, error) {
	if len(s.Compensations) == 0 {
		return nil, nil
	}
	var stack []Compensation
	if err := json.Unmarshal(s.Compensations, &stack); err != nil {
		return nil, err
	}
	return stack, nil
}

func (s *SagaExecution) SetCompensationStack(stack []Compensation) error {
	encoded, err := json.Marshal(stack)
	if err != nil {
		return err
	}
	s.Compensations = datatypes.JSON(encoded)
	return nil
}
