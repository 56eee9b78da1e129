// Package store defines the persistence port for the ledger and the
// sentinel errors shared by every backend implementation.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kautilya-labs/khata/internal/domain"
)

// Sentinel errors shared across all backend implementations. Backends
// translate their driver-specific errors (pgconn.PgError 23505, sqlite
// UNIQUE violations) into these.
var (
	// ErrDuplicateKey: the idempotency-key unique constraint fired on
	// insert. The caller lost the race and should re-read the winner's
	// row rather than treat this as a generic failure.
	ErrDuplicateKey = errors.New("idempotency key already exists")

	ErrInvalidAmount = errors.New("amount must be positive")
)

// ExecuteTransferParams describes one atomic transfer unit.
type ExecuteTransferParams struct {
	FromAccount    uuid.UUID
	ToAccount      uuid.UUID
	Amount         int64
	IdempotencyKey string

	// EnforceBalance gates the sender-balance check inside the unit. The
	// system funding path sets it false: the system account is the fixed
	// point of money creation for the whole ledger.
	EnforceBalance bool
}

// Store is the ledger persistence port. Balances are never stored;
// GetBalance re-aggregates from the entries on every call.
type Store interface {
	CreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error)

	// GetBalance returns sum(CREDIT) - sum(DEBIT) over the account's
	// committed entries, 0 when no entries exist. Entries from an
	// in-flight transfer are never visible.
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetTransactionByKey(ctx context.Context, idempotencyKey string) (*domain.Transaction, error)

	GetEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)
	GetEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)

	// ExecuteTransfer runs the atomic unit: lock both accounts, re-check
	// their status, re-derive the sender balance (when EnforceBalance),
	// insert the PENDING transaction, append the DEBIT and CREDIT
	// entries, flip to COMPLETED, commit. On any failure the whole unit
	// rolls back and no partial entries or dangling PENDING row survive.
	ExecuteTransfer(ctx context.Context, p ExecuteTransferParams) (*domain.Transaction, error)

	// UpdateEntry and DeleteEntry exist only to make the immutability
	// contract explicit: they fail unconditionally with
	// domain.ErrLedgerImmutable, regardless of caller privilege.
	UpdateEntry(ctx context.Context, entryID uuid.UUID, amount int64) error
	DeleteEntry(ctx context.Context, entryID uuid.UUID) error

	// LedgerTotals returns the global credit and debit sums. The
	// conservation invariant requires them to be equal at all times.
	LedgerTotals(ctx context.Context) (credit int64, debit int64, err error)

	Close()
}
