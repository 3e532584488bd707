package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Balance{}, &Entry{}))
	return NewService(db)
}

func TestDepositAndBalance(t *testing.T) {
	s := newTestService(t)

	require.NoError(t, s.Deposit("alice", "USD", decimal.NewFromInt(1000), "seed"))
	require.NoError(t, s.Deposit("alice", "USD", decimal.NewFromInt(250), "seed"))

	balance, err := s.GetBalance("alice", "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(1250)))
}

func TestBalanceDefaultsToZero(t *testing.T) {
	s := newTestService(t)

	balance, err := s.GetBalance("nobody", "USD")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	s := newTestService(t)

	require.NoError(t, s.Deposit("alice", "USD", decimal.NewFromInt(100), "seed"))

	err := s.Withdraw("alice", "USD", decimal.NewFromInt(200), "ORD_1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Balance untouched after the failed debit.
	balance, err := s.GetBalance("alice", "USD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
}

func TestTransferMovesFunds(t *testing.T) {
	s := newTestService(t)

	require.NoError(t, s.Deposit("alice", "BTC", decimal.NewFromInt(2), "seed"))

	require.NoError(t, s.Transfer("alice", "bob", "BTC",
		decimal.NewFromFloat(0.5), "ORD_1"))

	aliceBalance, err := s.GetBalance("alice", "BTC")
	require.NoError(t, err)
	bobBalance, err := s.GetBalance("bob", "BTC")
	require.NoError(t, err)

	assert.True(t, aliceBalance.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, bobBalance.Equal(decimal.NewFromFloat(0.5)))
}

func TestTransferInsufficientFundsRollsBack(t *testing.T) {
	s := newTestService(t)

	require.NoError(t, s.Deposit("alice", "BTC", decimal.NewFromInt(1), "seed"))

	err := s.Transfer("alice", "bob", "BTC", decimal.NewFromInt(5), "ORD_1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bobBalance, err := s.GetBalance("bob", "BTC")
	require.NoError(t, err)
	assert.True(t, bobBalance.IsZero())
}

func TestJournalEntriesWrittenPerMovement(t *testing.T) {
	s := newTestService(t)

	require.NoError(t, s.Deposit("alice", "USD", decimal.NewFromInt(1000), "seed"))
	require.NoError(t, s.Transfer("alice", "bob", "USD",
		decimal.NewFromInt(300), "ORD_7"))

	entries, err := s.Entries("ORD_7")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, DirectionDebit, entries[0].Direction)
	assert.Equal(t, "alice", entries[0].AccountID)
	assert.Equal(t, DirectionCredit, entries[1].Direction)
	assert.Equal(t, "bob", entries[1].AccountID)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	s := newTestService(t)

	assert.ErrorIs(t, s.Deposit("alice", "USD", decimal.Zero, "x"), ErrInvalidAmount)
	assert.ErrorIs(t, s.Withdraw("alice", "USD", decimal.NewFromInt(-1), "x"), ErrInvalidAmount)
	assert.ErrorIs(t, s.Transfer("alice", "bob", "USD", decimal.Zero, "x"), ErrInvalidAmount)
}
