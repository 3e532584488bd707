// Package ledger keeps account balances and the journal of movements
// behind them. Settlement holds and releases go through this package;
// nothing else writes balances.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetBalance returns the account's balance in the currency, zero when no
// row exists yet.
func (s *Service) GetBalance(accountID, currency string) (decimal.Decimal, error) {
	var balance Balance
	err := s.db.Where("account_id = ? AND currency = ?", accountID, currency).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Amount, nil
}

// Deposit credits the account. Reference ties the journal entry back to
// the operation that caused it, typically an order or saga id.
func (s *Service) Deposit(accountID, currency string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return credit(tx, accountID, currency, amount, reference)
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("account_id", accountID).
		Str("currency", currency).
		Str("amount", amount.String()).
		Str("reference", reference).
		Msg("ledger deposit")
	return nil
}

// Withdraw debits the account, failing with ErrInsufficientFunds when
// the balance cannot cover the amount.
func (s *Service) Withdraw(accountID, currency string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return debit(tx, accountID, currency, amount, reference)
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("account_id", accountID).
		Str("currency", currency).
		Str("amount", amount.String()).
		Str("reference", reference).
		Msg("ledger withdrawal")
	return nil
}

// Transfer moves amount from one account to another atomically.
func (s *Service) Transfer(fromAccountID, toAccountID, currency string, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := debit(tx, fromAccountID, currency, amount, reference); err != nil {
			return err
		}
		return credit(tx, toAccountID, currency, amount, reference)
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("from_account_id", fromAccountID).
		Str("to_account_id", toAccountID).
		Str("currency", currency).
		Str("amount", amount.String()).
		Str("reference", reference).
		Msg("ledger transfer")
	return nil
}

// Entries returns the journal rows sharing a reference, oldest first.
func (s *Service) Entries(reference string) ([]Entry, error) {
	var entries []Entry
	err := s.db.Where("reference = ?", reference).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func credit(tx *gorm.DB, accountID, currency string, amount decimal.Decimal, reference string) error {
	balance, err := balanceForUpdate(tx, accountID, currency)
	if err != nil {
		return err
	}

	balance.Amount = balance.Amount.Add(amount)
	balance.UpdatedAt = time.Now()
	if err := tx.Save(balance).Error; err != nil {
		return err
	}

	return tx.Create(&Entry{
		EntryID:   "ENT_" + uuid.New().String(),
		AccountID: accountID,
		Currency:  currency,
		Direction: DirectionCredit,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	}).Error
}

func debit(tx *gorm.DB, accountID, currency string, amount decimal.Decimal, reference string) error {
	balance, err := balanceForUpdate(tx, accountID, currency)
	if err != nil {
		return err
	}
	if balance.Amount.LessThan(amount) {
		return ErrInsufficientFunds
	}

	balance.Amount = balance.Amount.Sub(amount)
	balance.UpdatedAt = time.Now()
	if err := tx.Save(balance).Error; err != nil {
		return err
	}

	return tx.Create(&Entry{
		EntryID:   "ENT_" + uuid.New().String(),
		AccountID: accountID,
		Currency:  currency,
		Direction: DirectionDebit,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now(),
	}).Error
}

func balanceForUpdate(tx *gorm.DB, accountID, currency string) (*Balance, error) {
	var balance Balance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND currency = ?", accountID, currency).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Balance{
			AccountID: accountID,
			Currency:  currency,
			Amount:    decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
