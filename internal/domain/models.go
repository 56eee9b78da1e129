package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is a user's position in the ledger. Balance is intentionally
// absent: it is always derived as sum(CREDIT) - sum(DEBIT) over the
// account's ledger entries, never stored.
type Account struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   uuid.UUID     `json:"owner_id"`
	Status    AccountStatus `json:"status"`
	Currency  string        `json:"currency"`
	CreatedAt time.Time     `json:"created_at"`
}

// LedgerEntry is one leg of a double-entry pair. Entries are immutable
// once written; the store rejects every update or delete.
type LedgerEntry struct {
	ID            uuid.UUID `json:"id"`
	AccountID     uuid.UUID `json:"account_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Type          EntryType `json:"type"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction is the record of intent to move money between two accounts.
// The status field is the single source of truth for what a retrying
// client is told.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	FromAccount    uuid.UUID         `json:"from_account"`
	ToAccount      uuid.UUID         `json:"to_account"`
	Amount         int64             `json:"amount"`
	IdempotencyKey string            `json:"idempotency_key"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Requester is the authenticated identity supplied by the auth
// collaborator. The ledger core trusts it without re-validating
// credentials.
type Requester struct {
	UserID uuid.UUID
	Email  string
	Name   string
	System bool
}

// TransferResult is what the orchestrator hands back to the transport
// layer. Replayed marks an idempotent replay of an already COMPLETED
// transaction, in which case Entries are loaded from storage rather
// than freshly written.
type TransferResult struct {
	Transaction Transaction   `json:"transaction"`
	Entries     []LedgerEntry `json:"entries"`
	Replayed    bool          `json:"-"`
}
