package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Balance is the current holding of one account in one currency.
type Balance struct {
	gorm.Model `json:"-"`
	AccountID  string          `gorm:"index:idx_balance,unique" json:"account_id"`
	Currency   string          `gorm:"index:idx_balance,unique" json:"currency"`
	Amount     decimal.Decimal `gorm:"type:decimal(38,18)" json:"amount"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Entry directions.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// Entry is an immutable journal row. Every balance mutation writes one
// entry per affected account in the same transaction, so the journal
// replays to the balances.
type Entry struct {
	gorm.Model `json:"-"`
	EntryID    string          `gorm:"uniqueIndex" json:"entry_id"`
	AccountID  string          `gorm:"index" json:"account_id"`
	Currency   string          `json:"currency"`
	Direction  string          `json:"direction"`
	Amount     decimal.Decimal `gorm:"type:decimal(38,18)" json:"amount"`
	Reference  string          `gorm:"index" json:"reference"`
	CreatedAt  time.Time       `json:"created_at"`
}
