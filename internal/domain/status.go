package domain

import "fmt"

// AccountStatus is the lifecycle state of an account. Transfers require
// both endpoints to be ACTIVE.
type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED"
)

// Valid reports whether s is one of the known account states.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountFrozen, AccountClosed:
		return true
	}
	return false
}

// TransactionStatus is the transfer state machine: PENDING moves to
// COMPLETED on the success path or FAILED on the error path. REVERSED is
// terminal and reachable only through an explicit compensating operation.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionReversed  TransactionStatus = "REVERSED"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionPending, TransactionCompleted, TransactionFailed, TransactionReversed:
		return true
	}
	return false
}

// Terminal reports whether the status can never change again.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionCompleted, TransactionFailed, TransactionReversed:
		return true
	case TransactionPending:
		return false
	}
	return false
}

// EntryType is the side of a double-entry pair.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

func (t EntryType) Valid() bool {
	return t == EntryDebit || t == EntryCredit
}

// Sign is the contribution of an entry of this type to a balance:
// +amount for CREDIT, -amount for DEBIT.
func (t EntryType) Sign() int64 {
	if t == EntryCredit {
		return 1
	}
	return -1
}

func (t EntryType) String() string { return string(t) }

func (s TransactionStatus) String() string { return string(s) }

func (s AccountStatus) String() string { return string(s) }

// ParseTransactionStatus validates a status read back from storage.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	s := TransactionStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
	return s, nil
}

// ParseAccountStatus validates a status read back from storage.
func ParseAccountStatus(raw string) (AccountStatus, error) {
	s := AccountStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown account status %q", raw)
	}
	return s, nil
}
