// Package postgres is the production ledger store, backed by pgx/v5.
//
// The atomic transfer unit runs one database transaction at repeatable
// read, with both account rows locked FOR UPDATE in id order so the
// balance derivation and the entry writes cannot interleave with a
// concurrent transfer against the same account.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kautilya-labs/khata/internal/domain"
	"github.com/kautilya-labs/khata/internal/store"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// Compile-time check: *Store must satisfy store.Store.
var _ store.Store = (*Store)(nil)

type Store struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// InitSchema applies the embedded schema. Safe to run repeatedly.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema init failed: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	acc := domain.Account{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Status:   domain.AccountActive,
		Currency: currency,
	}
	err := s.db.QueryRow(ctx,
		"INSERT INTO accounts (id, owner_id, status, currency) VALUES ($1, $2, $3, $4) RETURNING created_at",
		acc.ID, acc.OwnerID, acc.Status, acc.Currency,
	).Scan(&acc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("account insert failed: %w", err)
	}
	return &acc, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var (
		acc    domain.Account
		status string
	)
	err := s.db.QueryRow(ctx,
		"SELECT id, owner_id, status, currency, created_at FROM accounts WHERE id = $1",
		id,
	).Scan(&acc.ID, &acc.OwnerID, &status, &acc.Currency, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if acc.Status, err = domain.ParseAccountStatus(status); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Store) GetAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, owner_id, status, currency, created_at FROM accounts WHERE owner_id = $1 ORDER BY created_at",
		ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var (
			acc    domain.Account
			status string
		)
		if err := rows.Scan(&acc.ID, &acc.OwnerID, &status, &acc.Currency, &acc.CreatedAt); err != nil {
			return nil, err
		}
		if acc.Status, err = domain.ParseAccountStatus(status); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// GetBalance re-aggregates the account's entries on every call. Only
// committed entries are visible; pgx runs this at read committed.
func (s *Store) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}
	var balance int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries WHERE account_id = $1`,
		accountID,
	).Scan(&balance)
	return balance, err
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.scanTransaction(s.db.QueryRow(ctx, selectTransaction+" WHERE id = $1", id))
}

func (s *Store) GetTransactionByKey(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	return s.scanTransaction(s.db.QueryRow(ctx, selectTransaction+" WHERE idempotency_key = $1", idempotencyKey))
}

const selectTransaction = "SELECT id, from_account, to_account, amount, idempotency_key, status, created_at, updated_at FROM transactions"

func (s *Store) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t      domain.Transaction
		status string
	)
	err := row.Scan(&t.ID, &t.FromAccount, &t.ToAccount, &t.Amount, &t.IdempotencyKey, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Status, err = domain.ParseTransactionStatus(status); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.queryEntries(ctx, selectEntries+" WHERE account_id = $1 ORDER BY created_at DESC", accountID)
}

func (s *Store) GetEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	return s.queryEntries(ctx, selectEntries+" WHERE transaction_id = $1 ORDER BY type", transactionID)
}

const selectEntries = "SELECT id, account_id, transaction_id, type, amount, created_at FROM ledger_entries"

func (s *Store) queryEntries(ctx context.Context, sql string, arg any) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e   domain.LedgerEntry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.TransactionID, &typ, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = domain.EntryType(typ)
		if !e.Type.Valid() {
			return nil, fmt.Errorf("unknown entry type %q", typ)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ExecuteTransfer runs the whole transfer as one database transaction with
// deterministic lock ordering (lower account id first) to prevent
// deadlocks between crossing transfers.
func (s *Store) ExecuteTransfer(ctx context.Context, p store.ExecuteTransferParams) (*domain.Transaction, error) {
	if p.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Acquire row locks in id order.
	first, second := p.FromAccount, p.ToAccount
	if second.String() < first.String() {
		first, second = second, first
	}
	statuses := map[uuid.UUID]domain.AccountStatus{}
	for _, id := range []uuid.UUID{first, second} {
		var raw string
		err = tx.QueryRow(ctx, "SELECT status FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		status, err := domain.ParseAccountStatus(raw)
		if err != nil {
			return nil, err
		}
		statuses[id] = status
	}
	for _, id := range []uuid.UUID{p.FromAccount, p.ToAccount} {
		if st := statuses[id]; st != domain.AccountActive {
			return nil, &domain.AccountNotActiveError{AccountID: id, Status: st}
		}
	}

	if p.EnforceBalance {
		var balance int64
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE -amount END), 0)
			 FROM ledger_entries WHERE account_id = $1`,
			p.FromAccount,
		).Scan(&balance)
		if err != nil {
			return nil, fmt.Errorf("balance derivation failed: %w", err)
		}
		if balance < p.Amount {
			return nil, &domain.InsufficientFundsError{AccountID: p.FromAccount, Balance: balance, Requested: p.Amount}
		}
	}

	// First durable step: the PENDING transaction row. The unique index on
	// idempotency_key is the arbiter for racing duplicates.
	txn := domain.Transaction{
		ID:             uuid.New(),
		FromAccount:    p.FromAccount,
		ToAccount:      p.ToAccount,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey,
		Status:         domain.TransactionPending,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO transactions (id, from_account, to_account, amount, idempotency_key, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		txn.ID, txn.FromAccount, txn.ToAccount, txn.Amount, txn.IdempotencyKey, txn.Status,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, store.ErrDuplicateKey
		}
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}

	// Both legs in one statement: the pair is born together or not at all.
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, transaction_id, type, amount)
		 VALUES ($1, $2, $3, 'DEBIT', $4), ($5, $6, $3, 'CREDIT', $4)`,
		uuid.New(), p.FromAccount, txn.ID, p.Amount, uuid.New(), p.ToAccount)
	if err != nil {
		return nil, fmt.Errorf("ledger entry insert failed: %w", err)
	}

	err = tx.QueryRow(ctx,
		"UPDATE transactions SET status = $1, updated_at = now() WHERE id = $2 RETURNING updated_at",
		domain.TransactionCompleted, txn.ID,
	).Scan(&txn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("status flip failed: %w", err)
	}
	txn.Status = domain.TransactionCompleted

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return &txn, nil
}

// UpdateEntry always fails: entries are immutable. The schema trigger
// backs this up against raw SQL.
func (s *Store) UpdateEntry(ctx context.Context, entryID uuid.UUID, amount int64) error {
	return domain.ErrLedgerImmutable
}

// DeleteEntry always fails: entries are immutable.
func (s *Store) DeleteEntry(ctx context.Context, entryID uuid.UUID) error {
	return domain.ErrLedgerImmutable
}

func (s *Store) LedgerTotals(ctx context.Context) (int64, int64, error) {
	var credit, debit int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN type = 'DEBIT' THEN amount ELSE 0 END), 0)
		 FROM ledger_entries`,
	).Scan(&credit, &debit)
	return credit, debit, err
}
