package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kautilya-labs/khata/internal/domain"
	"github.com/kautilya-labs/khata/internal/store"
)

func newTestStore(t *testing.T) (*Store, *domain.Account, *domain.Account) {
	t.Helper()
	s := New()
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, uuid.New(), "INR")
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, uuid.New(), "INR")
	require.NoError(t, err)
	return s, a, b
}

// fund credits an account through the unchecked path, as the system
// funding protocol would.
func fund(t *testing.T, s *Store, from, to uuid.UUID, amount int64) *domain.Transaction {
	t.Helper()
	txn, err := s.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
		FromAccount:    from,
		ToAccount:      to,
		Amount:         amount,
		IdempotencyKey: "fund-" + uuid.NewString(),
		EnforceBalance: false,
	})
	require.NoError(t, err)
	return txn
}

func TestBalanceStartsAtZero(t *testing.T) {
	s, a, _ := newTestStore(t)

	balance, err := s.GetBalance(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	_, err = s.GetBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestBalanceIsDerivedFromEntries(t *testing.T) {
	s, a, b := newTestStore(t)
	ctx := context.Background()

	fund(t, s, a.ID, b.ID, 300)
	fund(t, s, b.ID, a.ID, 120)

	balA, err := s.GetBalance(ctx, a.ID)
	require.NoError(t, err)
	balB, err := s.GetBalance(ctx, b.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(-180), balA)
	assert.Equal(t, int64(180), balB)

	// Conservation: global credit equals global debit.
	credit, debit, err := s.LedgerTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, credit, debit)
}

func TestExecuteTransferWritesBalancedPair(t *testing.T) {
	s, a, b := newTestStore(t)
	ctx := context.Background()

	txn := fund(t, s, a.ID, b.ID, 500)
	assert.Equal(t, domain.TransactionCompleted, txn.Status)

	entries, err := s.GetEntriesByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byType := map[domain.EntryType]domain.LedgerEntry{}
	for _, e := range entries {
		byType[e.Type] = e
	}
	assert.Equal(t, a.ID, byType[domain.EntryDebit].AccountID)
	assert.Equal(t, b.ID, byType[domain.EntryCredit].AccountID)
	assert.Equal(t, int64(500), byType[domain.EntryDebit].Amount)
	assert.Equal(t, int64(500), byType[domain.EntryCredit].Amount)
}

func TestExecuteTransferEnforcesBalance(t *testing.T) {
	s, a, b := newTestStore(t)

	_, err := s.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
		FromAccount:    a.ID,
		ToAccount:      b.ID,
		Amount:         500,
		IdempotencyKey: "k1",
		EnforceBalance: true,
	})
	require.Error(t, err)

	var insufficient *domain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(0), insufficient.Balance)
	assert.Equal(t, int64(500), insufficient.Requested)

	// Nothing durable: the key is still unused and no entries exist.
	_, err = s.GetTransactionByKey(context.Background(), "k1")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	credit, debit, _ := s.LedgerTotals(context.Background())
	assert.Zero(t, credit)
	assert.Zero(t, debit)
}

func TestExecuteTransferRejectsInactiveAccounts(t *testing.T) {
	s, a, b := newTestStore(t)
	require.NoError(t, s.SetAccountStatus(a.ID, domain.AccountFrozen))

	_, err := s.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
		FromAccount:    a.ID,
		ToAccount:      b.ID,
		Amount:         100,
		IdempotencyKey: "k-frozen",
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotActive)
}

func TestExecuteTransferRejectsNonPositiveAmount(t *testing.T) {
	s, a, b := newTestStore(t)

	for _, amount := range []int64{0, -50} {
		_, err := s.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
			FromAccount:    a.ID,
			ToAccount:      b.ID,
			Amount:         amount,
			IdempotencyKey: "k-bad",
		})
		assert.ErrorIs(t, err, store.ErrInvalidAmount)
	}
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	s, a, b := newTestStore(t)

	fundTxn := fund(t, s, a.ID, b.ID, 100)

	_, err := s.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
		FromAccount:    a.ID,
		ToAccount:      b.ID,
		Amount:         100,
		IdempotencyKey: fundTxn.IdempotencyKey,
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestConcurrentSameKeyProducesOneTransaction(t *testing.T) {
	s2, a2, b2 := newTestStore(t)
	sys := fundAccount(t, s2)
	fund(t, s2, sys, a2.ID, 10000)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		dupes     int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := s2.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
				FromAccount:    a2.ID,
				ToAccount:      b2.ID,
				Amount:         400,
				IdempotencyKey: "contested",
				EnforceBalance: true,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, store.ErrDuplicateKey):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, workers-1, dupes)

	txn, err := s2.GetTransactionByKey(context.Background(), "contested")
	require.NoError(t, err)
	entries, err := s2.GetEntriesByTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func fundAccount(t *testing.T, s *Store) uuid.UUID {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), uuid.New(), "INR")
	require.NoError(t, err)
	return acc.ID
}

func TestRollbackLeavesNothingBehind(t *testing.T) {
	s, a, b := newTestStore(t)
	boom := errors.New("boom")
	s.BeforeCommit = func() error { return boom }

	_, err := s.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
		FromAccount:    a.ID,
		ToAccount:      b.ID,
		Amount:         100,
		IdempotencyKey: "k-rollback",
	})
	require.ErrorIs(t, err, boom)

	// No dangling PENDING row, no stray entries.
	_, err = s.GetTransactionByKey(context.Background(), "k-rollback")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	credit, debit, _ := s.LedgerTotals(context.Background())
	assert.Zero(t, credit)
	assert.Zero(t, debit)

	// The key is reusable once the hook is cleared.
	s.BeforeCommit = nil
	sys := fundAccount(t, s)
	fund(t, s, sys, a.ID, 100)
	_, err = s.ExecuteTransfer(context.Background(), store.ExecuteTransferParams{
		FromAccount:    a.ID,
		ToAccount:      b.ID,
		Amount:         100,
		IdempotencyKey: "k-rollback",
		EnforceBalance: true,
	})
	assert.NoError(t, err)
}

func TestEntriesAreImmutable(t *testing.T) {
	s, a, b := newTestStore(t)
	txn := fund(t, s, a.ID, b.ID, 100)

	entries, err := s.GetEntriesByTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	assert.ErrorIs(t, s.UpdateEntry(context.Background(), entries[0].ID, 999), domain.ErrLedgerImmutable)
	assert.ErrorIs(t, s.DeleteEntry(context.Background(), entries[0].ID), domain.ErrLedgerImmutable)

	after, err := s.GetEntriesByTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, entries, after)
}

func TestGetEntriesByAccountNewestFirst(t *testing.T) {
	s, a, b := newTestStore(t)
	first := fund(t, s, a.ID, b.ID, 100)
	second := fund(t, s, a.ID, b.ID, 200)

	entries, err := s.GetEntriesByAccount(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].TransactionID)
	assert.Equal(t, first.ID, entries[1].TransactionID)
}
