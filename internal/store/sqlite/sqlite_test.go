package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kautilya-labs/khata/internal/domain"
	"github.com/kautilya-labs/khata/internal/store"
)

func setupTestDb(t *testing.T) (*Store, func()) {
	s, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	cleanup := func() {
		s.Close()
	}
	return s, cleanup
}

func createAccount(t *testing.T, s *Store) *domain.Account {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), uuid.New(), "INR")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return acc
}

func transfer(t *testing.T, s *Store, from, to uuid.UUID, amount int64, key string, enforce bool) (*domain.Transaction, error) {
	t.Helper()
	return s.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
		FromAccount:    from,
		ToAccount:      to,
		Amount:         amount,
		IdempotencyKey: key,
		EnforceBalance: enforce,
	})
}

func TestCreateAndGetAccount(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	acc := createAccount(t, s)
	got, err := s.GetAccount(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Status != domain.AccountActive {
		t.Errorf("Expected status ACTIVE, got %s", got.Status)
	}
	if got.Currency != "INR" {
		t.Errorf("Expected currency INR, got %s", got.Currency)
	}

	if _, err := s.GetAccount(context.Background(), uuid.New()); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestFundingAndTransferScenario(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()
	ctx := context.Background()

	system := createAccount(t, s)
	a := createAccount(t, s)
	b := createAccount(t, s)

	// Fund A with 1000 through the unchecked system path.
	if _, err := transfer(t, s, system.ID, a.ID, 1000, "k0", false); err != nil {
		t.Fatalf("Funding failed: %v", err)
	}

	// Transfer 400 from A to B.
	txn, err := transfer(t, s, a.ID, b.ID, 400, "k1", true)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if txn.Status != domain.TransactionCompleted {
		t.Errorf("Expected COMPLETED, got %s", txn.Status)
	}

	balA, err := s.GetBalance(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balA != 600 {
		t.Errorf("Expected balance(A) = 600, got %d", balA)
	}
	balB, _ := s.GetBalance(ctx, b.ID)
	if balB != 400 {
		t.Errorf("Expected balance(B) = 400, got %d", balB)
	}

	entries, err := s.GetEntriesByTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("GetEntriesByTransaction failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected exactly 2 entries, got %d", len(entries))
	}

	credit, debit, err := s.LedgerTotals(ctx)
	if err != nil {
		t.Fatalf("LedgerTotals failed: %v", err)
	}
	if credit != debit {
		t.Errorf("Conservation violated: credit=%d debit=%d", credit, debit)
	}
}

func TestInsufficientFundsLeavesNoTrace(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	a := createAccount(t, s)
	b := createAccount(t, s)

	_, err := transfer(t, s, a.ID, b.ID, 500, "k-broke", true)
	var insufficient *domain.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientFundsError, got %v", err)
	}
	if insufficient.Balance != 0 || insufficient.Requested != 500 {
		t.Errorf("Expected balance=0 requested=500, got %+v", insufficient)
	}

	if _, err := s.GetTransactionByKey(context.Background(), "k-broke"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("Expected no transaction row, got %v", err)
	}
}

func TestDuplicateIdempotencyKeyRejected(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	system := createAccount(t, s)
	a := createAccount(t, s)

	if _, err := transfer(t, s, system.ID, a.ID, 100, "dup", false); err != nil {
		t.Fatalf("First transfer failed: %v", err)
	}
	_, err := transfer(t, s, system.ID, a.ID, 100, "dup", false)
	if !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	// Still exactly one pair of entries.
	credit, debit, _ := s.LedgerTotals(context.Background())
	if credit != 100 || debit != 100 {
		t.Errorf("Expected totals 100/100, got %d/%d", credit, debit)
	}
}

func TestFrozenAccountRejected(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	a := createAccount(t, s)
	b := createAccount(t, s)

	if _, err := s.db.Exec("UPDATE accounts SET status = 'FROZEN' WHERE id = ?", a.ID.String()); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	_, err := transfer(t, s, a.ID, b.ID, 100, "k-frozen", false)
	if !errors.Is(err, domain.ErrAccountNotActive) {
		t.Fatalf("Expected ErrAccountNotActive, got %v", err)
	}
	var notActive *domain.AccountNotActiveError
	if !errors.As(err, &notActive) || notActive.Status != domain.AccountFrozen {
		t.Errorf("Expected FROZEN detail, got %v", err)
	}
}

func TestLedgerImmutableAtStoreLayer(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	if err := s.UpdateEntry(context.Background(), uuid.New(), 1); !errors.Is(err, domain.ErrLedgerImmutable) {
		t.Errorf("Expected ErrLedgerImmutable from UpdateEntry, got %v", err)
	}
	if err := s.DeleteEntry(context.Background(), uuid.New()); !errors.Is(err, domain.ErrLedgerImmutable) {
		t.Errorf("Expected ErrLedgerImmutable from DeleteEntry, got %v", err)
	}
}

func TestLedgerImmutableAtDatabaseLevel(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	system := createAccount(t, s)
	a := createAccount(t, s)
	txn, err := transfer(t, s, system.ID, a.ID, 100, "k-immutable", false)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	// Raw SQL bypassing the store must still be rejected by the triggers.
	_, err = s.db.Exec("UPDATE ledger_entries SET amount = 999 WHERE transaction_id = ?", txn.ID.String())
	if err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("Expected trigger abort on UPDATE, got %v", err)
	}
	_, err = s.db.Exec("DELETE FROM ledger_entries WHERE transaction_id = ?", txn.ID.String())
	if err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("Expected trigger abort on DELETE, got %v", err)
	}

	entries, err := s.GetEntriesByTransaction(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("GetEntriesByTransaction failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected entries untouched, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Amount != 100 {
			t.Errorf("Expected amount 100, got %d", e.Amount)
		}
	}
}

func TestGetTransactionByKey(t *testing.T) {
	s, cleanup := setupTestDb(t)
	defer cleanup()

	system := createAccount(t, s)
	a := createAccount(t, s)
	txn, err := transfer(t, s, system.ID, a.ID, 250, "lookup-key", false)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	got, err := s.GetTransactionByKey(context.Background(), "lookup-key")
	if err != nil {
		t.Fatalf("GetTransactionByKey failed: %v", err)
	}
	if got.ID != txn.ID {
		t.Errorf("Expected id %s, got %s", txn.ID, got.ID)
	}
	if got.Status != domain.TransactionCompleted {
		t.Errorf("Expected COMPLETED, got %s", got.Status)
	}

	if _, err := s.GetTransactionByKey(context.Background(), "missing"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("Expected ErrTransactionNotFound, got %v", err)
	}
}
