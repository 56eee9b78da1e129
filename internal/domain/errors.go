package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors for the caller-visible failure modes of the transfer
// protocol. Store backends translate their driver errors into these so
// the service and transport layers can switch on errors.Is.
var (
	ErrInvalidRequest = errors.New("invalid transfer request")

	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransferInFlight: a transaction with the same idempotency key is
	// still PENDING; the caller should poll and retry later.
	ErrTransferInFlight = errors.New("transfer with this idempotency key is still processing")

	// ErrKeyBelongsToFailed: the key maps to a FAILED transaction, which
	// is a dead end. The caller must issue a fresh request with a new key.
	ErrKeyBelongsToFailed = errors.New("previous transfer with this idempotency key failed; retry with a new key")

	// ErrKeyBelongsToReversed: the key maps to a REVERSED transaction; a
	// new request with a new key is required.
	ErrKeyBelongsToReversed = errors.New("transfer with this idempotency key was reversed; retry with a new key")

	// ErrTransferFailed: the atomic unit could not commit. Nothing was
	// written; the ledger is unchanged.
	ErrTransferFailed = errors.New("transfer could not be committed")

	// ErrLedgerImmutable: an update or delete was attempted against a
	// ledger entry. This is a programming-contract violation, never a
	// user-retriable condition.
	ErrLedgerImmutable = errors.New("ledger entries are immutable and cannot be modified or deleted")

	ErrForbidden = errors.New("forbidden: system principal required")
)

// InsufficientFundsError carries the numbers the caller needs to
// self-correct. It matches ErrInsufficientFunds under errors.Is.
type InsufficientFundsError struct {
	AccountID uuid.UUID
	Balance   int64
	Requested int64
}

var ErrInsufficientFunds = errors.New("insufficient funds")

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: balance %d, requested %d",
		e.AccountID, e.Balance, e.Requested)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// AccountNotActiveError names the offending account and its state. It
// matches ErrAccountNotActive under errors.Is.
type AccountNotActiveError struct {
	AccountID uuid.UUID
	Status    AccountStatus
}

var ErrAccountNotActive = errors.New("account not active")

func (e *AccountNotActiveError) Error() string {
	return fmt.Sprintf("account %s is %s; both accounts must be ACTIVE", e.AccountID, e.Status)
}

func (e *AccountNotActiveError) Is(target error) bool {
	return target == ErrAccountNotActive
}
