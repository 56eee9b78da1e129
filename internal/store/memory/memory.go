// Package memory is a mutex-guarded in-memory ledger store. It exists for
// unit tests and local experiments; it honors the exact same contract as
// the SQL backends, including idempotency-key uniqueness and entry
// immutability.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kautilya-labs/khata/internal/domain"
	"github.com/kautilya-labs/khata/internal/store"
)

// Compile-time check: *Store must satisfy store.Store.
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	accounts     map[uuid.UUID]domain.Account
	transactions map[uuid.UUID]domain.Transaction
	byKey        map[string]uuid.UUID
	entries      []domain.LedgerEntry

	// BeforeCommit, when set, runs inside the atomic unit after both
	// entries are staged and before they become visible. Test hook for
	// forcing a rollback mid-protocol.
	BeforeCommit func() error
}

func New() *Store {
	return &Store{
		accounts:     make(map[uuid.UUID]domain.Account),
		transactions: make(map[uuid.UUID]domain.Transaction),
		byKey:        make(map[string]uuid.UUID),
	}
}

func (s *Store) Close() {}

func (s *Store) CreateAccount(_ context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := domain.Account{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    domain.AccountActive,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[acc.ID] = acc
	return &acc, nil
}

// SetAccountStatus is the administrative status transition. Not part of
// store.Store; tests reach it directly.
func (s *Store) SetAccountStatus(id uuid.UUID, status domain.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	acc.Status = status
	s.accounts[id] = acc
	return nil
}

// InsertTransaction places a transaction row directly, bypassing the
// transfer protocol. Not part of store.Store; tests use it to seed
// PENDING, FAILED and REVERSED rows for replay scenarios.
func (s *Store) InsertTransaction(txn domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byKey[txn.IdempotencyKey]; exists {
		return store.ErrDuplicateKey
	}
	s.transactions[txn.ID] = txn
	s.byKey[txn.IdempotencyKey] = txn.ID
	return nil
}

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &acc, nil
}

func (s *Store) GetAccountsByOwner(_ context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []domain.Account
	for _, acc := range s.accounts {
		if acc.OwnerID == ownerID {
			accounts = append(accounts, acc)
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

func (s *Store) GetBalance(_ context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return 0, domain.ErrAccountNotFound
	}
	return s.balanceLocked(accountID), nil
}

func (s *Store) balanceLocked(accountID uuid.UUID) int64 {
	var balance int64
	for _, e := range s.entries {
		if e.AccountID == accountID {
			balance += e.Type.Sign() * e.Amount
		}
	}
	return balance
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &t, nil
}

func (s *Store) GetTransactionByKey(_ context.Context, idempotencyKey string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[idempotencyKey]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	t := s.transactions[id]
	return &t, nil
}

func (s *Store) GetEntriesByAccount(_ context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	var entries []domain.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			entries = append(entries, e)
		}
	}
	// Newest first, matching the SQL backends.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *Store) GetEntriesByTransaction(_ context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []domain.LedgerEntry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ExecuteTransfer holds the store lock for the whole unit, which is the
// in-memory equivalent of row locks plus a database transaction: nothing
// becomes visible until every step has succeeded.
func (s *Store) ExecuteTransfer(ctx context.Context, p store.ExecuteTransferParams) (*domain.Transaction, error) {
	if p.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []uuid.UUID{p.FromAccount, p.ToAccount} {
		acc, ok := s.accounts[id]
		if !ok {
			return nil, domain.ErrAccountNotFound
		}
		if acc.Status != domain.AccountActive {
			return nil, &domain.AccountNotActiveError{AccountID: id, Status: acc.Status}
		}
	}

	if _, exists := s.byKey[p.IdempotencyKey]; exists {
		return nil, store.ErrDuplicateKey
	}

	if p.EnforceBalance {
		if balance := s.balanceLocked(p.FromAccount); balance < p.Amount {
			return nil, &domain.InsufficientFundsError{AccountID: p.FromAccount, Balance: balance, Requested: p.Amount}
		}
	}

	now := time.Now().UTC()
	txn := domain.Transaction{
		ID:             uuid.New(),
		FromAccount:    p.FromAccount,
		ToAccount:      p.ToAccount,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
		Status:         domain.TransactionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	pair := []domain.LedgerEntry{
		{ID: uuid.New(), AccountID: p.FromAccount, TransactionID: txn.ID, Type: domain.EntryDebit, Amount: p.Amount, CreatedAt: now},
		{ID: uuid.New(), AccountID: p.ToAccount, TransactionID: txn.ID, Type: domain.EntryCredit, Amount: p.Amount, CreatedAt: now},
	}

	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(); err != nil {
			// Rollback: nothing was published, so nothing to undo.
			return nil, err
		}
	}

	txn.Status = domain.TransactionCompleted
	txn.UpdatedAt = time.Now().UTC()
	s.transactions[txn.ID] = txn
	s.byKey[txn.IdempotencyKey] = txn.ID
	s.entries = append(s.entries, pair...)
	return &txn, nil
}

func (s *Store) UpdateEntry(_ context.Context, _ uuid.UUID, _ int64) error {
	return domain.ErrLedgerImmutable
}

func (s *Store) DeleteEntry(_ context.Context, _ uuid.UUID) error {
	return domain.ErrLedgerImmutable
}

func (s *Store) LedgerTotals(_ context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var credit, debit int64
	for _, e := range s.entries {
		switch e.Type {
		case domain.EntryCredit:
			credit += e.Amount
		case domain.EntryDebit:
			debit += e.Amount
		}
	}
	return credit, debit, nil
}
