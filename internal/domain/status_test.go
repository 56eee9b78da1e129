package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountStatusValid(t *testing.T) {
	assert.True(t, AccountActive.Valid())
	assert.True(t, AccountFrozen.Valid())
	assert.True(t, AccountClosed.Valid())
	assert.False(t, AccountStatus("SUSPENDED").Valid())
	assert.False(t, AccountStatus("").Valid())
}

func TestTransactionStatusTerminal(t *testing.T) {
	assert.False(t, TransactionPending.Terminal())
	assert.True(t, TransactionCompleted.Terminal())
	assert.True(t, TransactionFailed.Terminal())
	assert.True(t, TransactionReversed.Terminal())
}

func TestParseTransactionStatus(t *testing.T) {
	s, err := ParseTransactionStatus("COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, TransactionCompleted, s)

	_, err = ParseTransactionStatus("completed")
	assert.Error(t, err)

	_, err = ParseTransactionStatus("DONE")
	assert.Error(t, err)
}

func TestEntryTypeSign(t *testing.T) {
	assert.Equal(t, int64(1), EntryCredit.Sign())
	assert.Equal(t, int64(-1), EntryDebit.Sign())
}

func TestInsufficientFundsErrorMatching(t *testing.T) {
	err := &InsufficientFundsError{AccountID: uuid.New(), Balance: 100, Requested: 500}
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Contains(t, err.Error(), "balance 100")
	assert.Contains(t, err.Error(), "requested 500")

	var target *InsufficientFundsError
	require.True(t, errors.As(error(err), &target))
	assert.Equal(t, int64(100), target.Balance)
}

func TestAccountNotActiveErrorMatching(t *testing.T) {
	err := &AccountNotActiveError{AccountID: uuid.New(), Status: AccountFrozen}
	assert.True(t, errors.Is(err, ErrAccountNotActive))
	assert.Contains(t, err.Error(), "FROZEN")
}
