// Package service holds the transfer orchestrator: precondition checks,
// the idempotency guard, the atomic transfer unit, and the post-commit
// notification trigger.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kautilya-labs/khata/internal/domain"
	"github.com/kautilya-labs/khata/internal/notify"
	"github.com/kautilya-labs/khata/internal/store"
)

// Notifier receives post-commit notifications. Satisfied by
// *notify.Dispatcher; tests substitute their own.
type Notifier interface {
	Enqueue(n notify.Notification)
}

type TransferService struct {
	store    store.Store
	notifier Notifier
	log      *zap.Logger
}

func NewTransferService(st store.Store, notifier Notifier, log *zap.Logger) *TransferService {
	return &TransferService{store: st, notifier: notifier, log: log}
}

// TransferParams is one inbound transfer request plus the authenticated
// identity supplied by the auth collaborator.
type TransferParams struct {
	FromAccount    uuid.UUID
	ToAccount      uuid.UUID
	Amount         int64
	IdempotencyKey string
	Requester      domain.Requester
}

// FundingParams is the system funding variant: money originates from the
// requester's system account.
type FundingParams struct {
	ToAccount      uuid.UUID
	Amount         int64
	IdempotencyKey string
	Requester      domain.Requester
}

// Transfer executes the transfer protocol. Preconditions are checked in a
// fixed order, each with a distinct failure mode; the writes then run as
// one atomic unit inside the store. Notification happens after commit and
// never affects the outcome.
func (s *TransferService) Transfer(ctx context.Context, p TransferParams) (*domain.TransferResult, error) {
	if p.FromAccount == uuid.Nil || p.ToAccount == uuid.Nil || p.IdempotencyKey == "" || p.Amount <= 0 {
		return nil, fmt.Errorf("%w: fromAccount, toAccount, amount and idempotencyKey are required and amount must be positive", domain.ErrInvalidRequest)
	}
	if p.FromAccount == p.ToAccount {
		return nil, fmt.Errorf("%w: cannot transfer to the same account", domain.ErrInvalidRequest)
	}

	from, err := s.store.GetAccount(ctx, p.FromAccount)
	if err != nil {
		return nil, err
	}
	to, err := s.store.GetAccount(ctx, p.ToAccount)
	if err != nil {
		return nil, err
	}

	if result, err := s.checkIdempotencyKey(ctx, p.IdempotencyKey); result != nil || err != nil {
		return result, err
	}

	for _, acc := range []*domain.Account{from, to} {
		if acc.Status != domain.AccountActive {
			return nil, &domain.AccountNotActiveError{AccountID: acc.ID, Status: acc.Status}
		}
	}

	// Advisory pre-check; the authoritative check re-runs under lock
	// inside the atomic unit.
	balance, err := s.store.GetBalance(ctx, p.FromAccount)
	if err != nil {
		return nil, err
	}
	if balance < p.Amount {
		return nil, &domain.InsufficientFundsError{AccountID: p.FromAccount, Balance: balance, Requested: p.Amount}
	}

	result, err := s.execute(ctx, store.ExecuteTransferParams{
		FromAccount:    p.FromAccount,
		ToAccount:      p.ToAccount,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
		EnforceBalance: true,
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.log.Info("transfer completed",
			zap.String("transaction_id", result.Transaction.ID.String()),
			zap.String("from", p.FromAccount.String()),
			zap.String("to", p.ToAccount.String()),
			zap.Int64("amount", p.Amount))
		s.notifier.Enqueue(notify.Notification{
			RecipientEmail: p.Requester.Email,
			RecipientName:  p.Requester.Name,
			Amount:         p.Amount,
			ToAccount:      p.ToAccount,
			TransactionID:  result.Transaction.ID,
		})
	}
	return result, nil
}

// FundFromSystem is the privileged funding path: it debits the requester's
// system account without a balance check. The system account is the fixed
// point of money creation; every unit in the ledger traces back to one of
// these debits. Idempotency and atomicity match the main path exactly.
func (s *TransferService) FundFromSystem(ctx context.Context, p FundingParams) (*domain.TransferResult, error) {
	if !p.Requester.System {
		return nil, domain.ErrForbidden
	}
	if p.ToAccount == uuid.Nil || p.IdempotencyKey == "" || p.Amount <= 0 {
		return nil, fmt.Errorf("%w: toAccount, amount and idempotencyKey are required and amount must be positive", domain.ErrInvalidRequest)
	}

	if _, err := s.store.GetAccount(ctx, p.ToAccount); err != nil {
		return nil, err
	}

	systemAccounts, err := s.store.GetAccountsByOwner(ctx, p.Requester.UserID)
	if err != nil {
		return nil, err
	}
	if len(systemAccounts) == 0 {
		return nil, fmt.Errorf("system account: %w", domain.ErrAccountNotFound)
	}
	systemAccount := systemAccounts[0]

	if systemAccount.ID == p.ToAccount {
		return nil, fmt.Errorf("%w: cannot fund the system account from itself", domain.ErrInvalidRequest)
	}

	if result, err := s.checkIdempotencyKey(ctx, p.IdempotencyKey); result != nil || err != nil {
		return result, err
	}

	result, err := s.execute(ctx, store.ExecuteTransferParams{
		FromAccount:    systemAccount.ID,
		ToAccount:      p.ToAccount,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
		EnforceBalance: false,
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		s.log.Info("system funding completed",
			zap.String("transaction_id", result.Transaction.ID.String()),
			zap.String("to", p.ToAccount.String()),
			zap.Int64("amount", p.Amount))
	}
	return result, nil
}

// GetTransfer loads a transaction with its entry pair.
func (s *TransferService) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.TransferResult, error) {
	txn, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetEntriesByTransaction(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	return &domain.TransferResult{Transaction: *txn, Entries: entries}, nil
}

// checkIdempotencyKey is the guard's replay logic: a nil, nil return means
// the key is unused and the protocol proceeds. The switch is exhaustive
// over the transaction state machine; an unknown status is an internal
// error, never a silent fall-through.
func (s *TransferService) checkIdempotencyKey(ctx context.Context, key string) (*domain.TransferResult, error) {
	existing, err := s.store.GetTransactionByKey(ctx, key)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.replay(ctx, existing)
}

func (s *TransferService) replay(ctx context.Context, existing *domain.Transaction) (*domain.TransferResult, error) {
	switch existing.Status {
	case domain.TransactionCompleted:
		entries, err := s.store.GetEntriesByTransaction(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		return &domain.TransferResult{Transaction: *existing, Entries: entries, Replayed: true}, nil
	case domain.TransactionPending:
		return nil, domain.ErrTransferInFlight
	case domain.TransactionFailed:
		return nil, domain.ErrKeyBelongsToFailed
	case domain.TransactionReversed:
		return nil, domain.ErrKeyBelongsToReversed
	}
	return nil, fmt.Errorf("transaction %s has unknown status %q", existing.ID, existing.Status)
}

// execute runs the atomic unit and translates its outcomes. A duplicate
// key on insert means a concurrent request won the race: re-read the
// winner's row and resolve it through the replay logic instead of failing.
func (s *TransferService) execute(ctx context.Context, p store.ExecuteTransferParams) (*domain.TransferResult, error) {
	txn, err := s.store.ExecuteTransfer(ctx, p)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			winner, readErr := s.store.GetTransactionByKey(ctx, p.IdempotencyKey)
			if readErr != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrTransferFailed, readErr)
			}
			return s.replay(ctx, winner)
		case errors.Is(err, domain.ErrAccountNotFound),
			errors.Is(err, domain.ErrAccountNotActive),
			errors.Is(err, domain.ErrInsufficientFunds),
			errors.Is(err, store.ErrInvalidAmount):
			return nil, err
		default:
			// The unit rolled back: no partial entries, no dangling
			// PENDING row.
			s.log.Error("atomic transfer unit failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
		}
	}

	entries, err := s.store.GetEntriesByTransaction(ctx, txn.ID)
	if err != nil {
		// The transfer committed; failing the response now would invite a
		// retry against a spent key. Return the transaction without legs.
		s.log.Warn("entry readback failed after commit", zap.Error(err))
		entries = nil
	}
	return &domain.TransferResult{Transaction: *txn, Entries: entries}, nil
}
