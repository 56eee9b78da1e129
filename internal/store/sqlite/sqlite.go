// Package sqlite is a single-node ledger store for development and tests,
// backed by mattn/go-sqlite3 through database/sql. Same contract as the
// postgres store; sqlite's single-writer model plus a one-connection pool
// gives the atomic unit full serialization.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/kautilya-labs/khata/internal/domain"
	"github.com/kautilya-labs/khata/internal/store"
)

// Compile-time check: *Store must satisfy store.Store.
var _ store.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// One connection: sqlite has a single writer anyway, and this keeps
	// an in-memory database from fragmenting across pool connections.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'ACTIVE'
		           CHECK (status IN ('ACTIVE', 'FROZEN', 'CLOSED')),
		currency   TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id              TEXT PRIMARY KEY,
		from_account    TEXT NOT NULL REFERENCES accounts(id),
		to_account      TEXT NOT NULL REFERENCES accounts(id),
		amount          INTEGER NOT NULL CHECK (amount > 0),
		idempotency_key TEXT NOT NULL UNIQUE,
		status          TEXT NOT NULL
		                CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED', 'REVERSED')),
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id             TEXT PRIMARY KEY,
		account_id     TEXT NOT NULL REFERENCES accounts(id),
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		type           TEXT NOT NULL CHECK (type IN ('DEBIT', 'CREDIT')),
		amount         INTEGER NOT NULL CHECK (amount > 0),
		created_at     TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries(transaction_id);

	-- Append-only: reject mutation at the database level.
	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
	BEFORE UPDATE ON ledger_entries
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries are immutable and cannot be modified or deleted');
	END;

	CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
	BEFORE DELETE ON ledger_entries
	BEGIN
		SELECT RAISE(ABORT, 'ledger entries are immutable and cannot be modified or deleted');
	END;
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema init failed: %w", err)
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Account, error) {
	acc := domain.Account{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Status:    domain.AccountActive,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, owner_id, status, currency, created_at) VALUES (?, ?, ?, ?, ?)",
		acc.ID.String(), acc.OwnerID.String(), string(acc.Status), acc.Currency, acc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("account insert failed: %w", err)
	}
	return &acc, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		"SELECT id, owner_id, status, currency, created_at FROM accounts WHERE id = ?", id.String()))
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		acc            domain.Account
		id, owner, sts string
	)
	err := row.Scan(&id, &owner, &sts, &acc.Currency, &acc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if acc.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if acc.OwnerID, err = uuid.Parse(owner); err != nil {
		return nil, err
	}
	if acc.Status, err = domain.ParseAccountStatus(sts); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Store) GetAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner_id, status, currency, created_at FROM accounts WHERE owner_id = ? ORDER BY created_at",
		ownerID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var (
			acc            domain.Account
			id, owner, sts string
		)
		if err := rows.Scan(&id, &owner, &sts, &acc.Currency, &acc.CreatedAt); err != nil {
			return nil, err
		}
		if acc.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if acc.OwnerID, err = uuid.Parse(owner); err != nil {
			return nil, err
		}
		if acc.Status, err = domain.ParseAccountStatus(sts); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}
	var balance int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE -amount END), 0)
		 FROM ledger_entries WHERE account_id = ?`,
		accountID.String()).Scan(&balance)
	return balance, err
}

const selectTransaction = "SELECT id, from_account, to_account, amount, idempotency_key, status, created_at, updated_at FROM transactions"

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, selectTransaction+" WHERE id = ?", id.String()))
}

func (s *Store) GetTransactionByKey(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	return scanTransaction(s.db.QueryRowContext(ctx, selectTransaction+" WHERE idempotency_key = ?", idempotencyKey))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t            domain.Transaction
		id, from, to string
		status       string
	)
	err := row.Scan(&id, &from, &to, &t.Amount, &t.IdempotencyKey, &status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if t.FromAccount, err = uuid.Parse(from); err != nil {
		return nil, err
	}
	if t.ToAccount, err = uuid.Parse(to); err != nil {
		return nil, err
	}
	if t.Status, err = domain.ParseTransactionStatus(status); err != nil {
		return nil, err
	}
	return &t, nil
}

const selectEntries = "SELECT id, account_id, transaction_id, type, amount, created_at FROM ledger_entries"

func (s *Store) GetEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.queryEntries(ctx, selectEntries+" WHERE account_id = ? ORDER BY created_at DESC", accountID.String())
}

func (s *Store) GetEntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	return s.queryEntries(ctx, selectEntries+" WHERE transaction_id = ? ORDER BY type", transactionID.String())
}

func (s *Store) queryEntries(ctx context.Context, query string, arg any) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e             domain.LedgerEntry
			id, acct, txn string
			typ           string
		)
		if err := rows.Scan(&id, &acct, &txn, &typ, &e.Amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if e.AccountID, err = uuid.Parse(acct); err != nil {
			return nil, err
		}
		if e.TransactionID, err = uuid.Parse(txn); err != nil {
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

// ExecuteTransfer runs the atomic unit as one sqlite transaction. The
// UNIQUE constraint on idempotency_key arbitrates racing duplicates.
func (s *Store) ExecuteTransfer(ctx context.Context, p store.ExecuteTransferParams) (*domain.Transaction, error) {
	if p.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []uuid.UUID{p.FromAccount, p.ToAccount} {
		var raw string
		err := tx.QueryRowContext(ctx, "SELECT status FROM accounts WHERE id = ?", id.String()).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		status, err := domain.ParseAccountStatus(raw)
		if err != nil {
			return nil, err
		}
		if status != domain.AccountActive {
			return nil, &domain.AccountNotActiveError{AccountID: id, Status: status}
		}
	}

	if p.EnforceBalance {
		var balance int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE -amount END), 0)
			 FROM ledger_entries WHERE account_id = ?`,
			p.FromAccount.String()).Scan(&balance)
		if err != nil {
			return nil, fmt.Errorf("balance derivation failed: %w", err)
		}
		if balance < p.Amount {
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
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, from_account, to_account, amount, idempotency_key, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID.String(), txn.FromAccount.String(), txn.ToAccount.String(),
		txn.Amount, txn.IdempotencyKey, string(txn.Status), txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateKey
		}
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, account_id, transaction_id, type, amount, created_at)
		 VALUES (?, ?, ?, 'DEBIT', ?, ?), (?, ?, ?, 'CREDIT', ?, ?)`,
		uuid.NewString(), p.FromAccount.String(), txn.ID.String(), p.Amount, now,
		uuid.NewString(), p.ToAccount.String(), txn.ID.String(), p.Amount, now)
	if err != nil {
		return nil, fmt.Errorf("ledger entry insert failed: %w", err)
	}

	txn.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		"UPDATE transactions SET status = ?, updated_at = ? WHERE id = ?",
		string(domain.TransactionCompleted), txn.UpdatedAt, txn.ID.String())
	if err != nil {
		return nil, fmt.Errorf("status flip failed: %w", err)
	}
	txn.Status = domain.TransactionCompleted

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return &txn, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (s *Store) UpdateEntry(ctx context.Context, entryID uuid.UUID, amount int64) error {
	return domain.ErrLedgerImmutable
}

func (s *Store) DeleteEntry(ctx context.Context, entryID uuid.UUID) error {
	return domain.ErrLedgerImmutable
}

func (s *Store) LedgerTotals(ctx context.Context) (int64, int64, error) {
	var credit, debit int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN type = 'DEBIT' THEN amount ELSE 0 END), 0)
		 FROM ledger_entries`).Scan(&credit, &debit)
	return credit, debit, err
}
